package repository

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// ShopStore is the SQLite-backed store for the catalog, orders, the delivery
// queue and the server registry. One store struct implements the Product,
// Order, Queue and Server repository interfaces; they share a connection
// pool configured for SQLite's single-writer model.
type ShopStore struct {
	db *sql.DB
}

// NewShopStore opens (and if needed creates) the shop database.
func NewShopStore(dbPath string) (*ShopStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create shop db directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open shop sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := createShopTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create shop tables: %w", err)
	}

	log.Printf("[ShopStore] Initialized with database: %s", dbPath)
	return &ShopStore{db: db}, nil
}

func createShopTables(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		category TEXT,
		price TEXT NOT NULL DEFAULT '0',
		is_active INTEGER NOT NULL DEFAULT 1,
		server_id TEXT,
		command_template TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		steam_id TEXT NOT NULL,
		status TEXT NOT NULL,
		subtotal TEXT NOT NULL,
		total TEXT NOT NULL,
		currency TEXT NOT NULL,
		server_id TEXT,
		note TEXT,
		created_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS order_items (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		product_name TEXT NOT NULL,
		quantity INTEGER NOT NULL DEFAULT 1,
		unit_price TEXT NOT NULL,
		command_template TEXT,
		created_at TEXT NOT NULL,
		FOREIGN KEY (order_id) REFERENCES orders(id)
	);
	CREATE TABLE IF NOT EXISTS cart_entries (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		steam_id TEXT NOT NULL,
		order_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		product_name TEXT NOT NULL,
		quantity INTEGER NOT NULL DEFAULT 1,
		command_template TEXT NOT NULL,
		server_id TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		delivered_at TEXT,
		FOREIGN KEY (order_id) REFERENCES orders(id)
	);
	CREATE TABLE IF NOT EXISTS servers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		region TEXT,
		address TEXT,
		api_key TEXT UNIQUE NOT NULL,
		current_players INTEGER NOT NULL DEFAULT 0,
		max_players INTEGER NOT NULL DEFAULT 0,
		map_name TEXT,
		last_seen_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS order_items_order_idx ON order_items(order_id);
	CREATE INDEX IF NOT EXISTS orders_user_idx ON orders(user_id);
	CREATE INDEX IF NOT EXISTS orders_created_idx ON orders(created_at);
	CREATE INDEX IF NOT EXISTS cart_entries_steam_status_idx ON cart_entries(steam_id, status);
	CREATE INDEX IF NOT EXISTS cart_entries_status_updated_idx ON cart_entries(status, updated_at);
	CREATE INDEX IF NOT EXISTS cart_entries_user_idx ON cart_entries(user_id);
	`
	_, err := db.Exec(query)
	return err
}

// Close closes the database connection.
func (s *ShopStore) Close() error {
	return s.db.Close()
}

// Ensure ShopStore implements all shop-side repository interfaces
var (
	_ ProductRepository = (*ShopStore)(nil)
	_ OrderRepository   = (*ShopStore)(nil)
	_ QueueRepository   = (*ShopStore)(nil)
	_ ServerRepository  = (*ShopStore)(nil)
)
