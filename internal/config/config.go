package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

func init() {
	// Load .env file if it exists (silent fail if not)
	_ = godotenv.Load()
}

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Server     ServerConfig
	App        AppConfig
	Cache      CacheConfig
	AccountsDB AccountsDBConfig
	ShopDB     ShopDBConfig
	Plugin     PluginConfig
	Queue      QueueConfig
	RateLimit  RateLimitConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"SERVER_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Name        string `envconfig:"APP_NAME" default:"rustshop-api"`
	Environment string `envconfig:"APP_ENV" default:"development"`
	Debug       bool   `envconfig:"APP_DEBUG" default:"false"`
	Currency    string `envconfig:"APP_CURRENCY" default:"RUB"`
	AdminKey    string `envconfig:"ADMIN_KEY" default:""` // Admin API login key
}

// CacheConfig holds cache settings.
type CacheConfig struct {
	Type string        `envconfig:"CACHE_TYPE" default:"memory"` // memory or redis
	TTL  time.Duration `envconfig:"CACHE_TTL" default:"5m"`

	RedisHost     string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort     int    `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
}

// AccountsDBConfig holds the accounts store settings (users + ledger).
// The accounts store may live in a different database than the shop store,
// which is why order creation compensates a debit instead of rolling it back.
type AccountsDBConfig struct {
	Type string `envconfig:"ACCOUNTS_DB_TYPE" default:"sqlite"` // sqlite or mysql
	Path string `envconfig:"ACCOUNTS_DB_PATH" default:"./data/accounts.db"`
	// MySQL settings
	Host     string `envconfig:"ACCOUNTS_DB_HOST" default:"localhost"`
	Port     int    `envconfig:"ACCOUNTS_DB_PORT" default:"3306"`
	Name     string `envconfig:"ACCOUNTS_DB_NAME" default:"rustshop"`
	User     string `envconfig:"ACCOUNTS_DB_USER" default:"root"`
	Password string `envconfig:"ACCOUNTS_DB_PASS" default:""`
}

// ShopDBConfig holds the shop store settings (catalog, orders, queue, servers).
type ShopDBConfig struct {
	Path string `envconfig:"SHOP_DB_PATH" default:"./data/shop.db"`
}

// PluginConfig holds the game-server protocol settings.
type PluginConfig struct {
	// GlobalAPIKey is the legacy all-servers credential. Empty plus no
	// per-server key means the protocol endpoints are open (private network
	// deployments only).
	GlobalAPIKey string `envconfig:"PLUGIN_API_KEY" default:""`
}

// QueueConfig holds delivery queue settings.
type QueueConfig struct {
	// ReclaimAfter is how long an entry may sit in delivering before the
	// sweeper returns it to pending. Zero disables the sweeper.
	ReclaimAfter  time.Duration `envconfig:"QUEUE_RECLAIM_AFTER" default:"10m"`
	SweepInterval time.Duration `envconfig:"QUEUE_SWEEP_INTERVAL" default:"1m"`
}

// RateLimitConfig holds fixed-window rate limiter settings.
type RateLimitConfig struct {
	Enabled bool          `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
	Limit   int           `envconfig:"RATE_LIMIT_REQUESTS" default:"60"`
	Window  time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
}

// DSN returns the MySQL data source name for the accounts store.
func (d *AccountsDBConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// Address returns the server address in host:port format.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RedisAddress returns the Redis address in host:port format.
func (c *CacheConfig) RedisAddress() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// IsDevelopment returns true if running in development mode.
func (a *AppConfig) IsDevelopment() bool {
	return a.Environment == "development"
}

// IsProduction returns true if running in production mode.
func (a *AppConfig) IsProduction() bool {
	return a.Environment == "production"
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
