package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"rustshop-api/internal/cache"
	"rustshop-api/internal/config"
	"rustshop-api/internal/handler"
	"rustshop-api/internal/middleware"
	"rustshop-api/internal/repository"
	"rustshop-api/internal/router"
	"rustshop-api/internal/service"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Starting RustShop API...")

	// Load configuration
	cfg := config.MustLoad()
	log.Printf("Environment: %s", cfg.App.Environment)

	// Initialize accounts repository based on config. The accounts store
	// (users + ledger) may live in a different database than the shop store.
	var accounts repository.AccountRepository
	switch cfg.AccountsDB.Type {
	case "mysql":
		mysqlRepo, err := repository.NewMySQLAccountRepository(cfg.AccountsDB.DSN())
		if err != nil {
			log.Fatalf("Failed to initialize MySQL accounts store: %v", err)
		}
		accounts = mysqlRepo
		log.Println("MySQL accounts repository initialized")
	default: // sqlite
		sqliteRepo, err := repository.NewSQLiteAccountRepository(cfg.AccountsDB.Path)
		if err != nil {
			log.Fatalf("Failed to initialize SQLite accounts store: %v", err)
		}
		accounts = sqliteRepo
		log.Println("SQLite accounts repository initialized")
	}
	defer accounts.Close()

	// Shop store: catalog, orders, delivery queue, server registry.
	shop, err := repository.NewShopStore(cfg.ShopDB.Path)
	if err != nil {
		log.Fatalf("Failed to initialize shop store: %v", err)
	}
	defer shop.Close()
	log.Println("Shop store initialized")

	// Initialize cache based on config
	var appCache cache.Cache
	switch cfg.Cache.Type {
	case "redis":
		redisCache, err := cache.NewRedisCache(cache.RedisCacheConfig{
			Addr:     cfg.Cache.RedisAddress(),
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		if err != nil {
			log.Fatalf("Failed to initialize Redis cache: %v", err)
		}
		defer redisCache.Close()
		appCache = redisCache
	default: // memory
		memCache := cache.NewMemoryCache()
		defer memCache.Close()
		appCache = memCache
		log.Println("Memory cache initialized")
	}

	// Initialize services
	ledger := service.NewLedgerService(accounts)
	queue := service.NewQueueService(shop)
	orders := service.NewOrderService(ledger, shop, shop, queue, cfg.App.Currency)
	registry := service.NewRegistryService(shop, cfg.Plugin.GlobalAPIKey)
	sessions := service.NewSessionService(appCache)

	// Sweeper returns stuck deliveries to the queue
	if cfg.Queue.ReclaimAfter > 0 {
		sweeper := service.NewSweeper(shop, service.SweeperConfig{
			ReclaimAfter:  cfg.Queue.ReclaimAfter,
			SweepInterval: cfg.Queue.SweepInterval,
		})
		sweeper.Start()
		defer sweeper.Stop()
	}

	// Initialize handlers
	healthHandler := handler.New()
	pluginHandler := handler.NewPluginHandler(queue, registry)
	shopHandler := handler.NewShopHandler(orders, ledger, queue, registry, shop, shop, appCache, cfg.App.Currency)
	adminHandler := handler.NewAdminHandler(ledger, registry, queue, sessions, accounts, shop, appCache)

	// Create middleware with injected dependencies (NO GLOBALS!)
	pluginAuth := middleware.NewPluginAuth(middleware.PluginAuthConfig{Registry: registry})
	identity := middleware.NewIdentity(middleware.IdentityConfig{Sessions: sessions, Accounts: accounts})
	adminAuth := middleware.NewAdminAuth(cfg.App.AdminKey)
	rateLimit := middleware.NewRateLimit(middleware.RateLimitConfig{
		Cache:  appCache,
		Limit:  cfg.RateLimit,
		Logger: log.Default(),
	})

	// Create router
	r := router.New(router.Config{
		Handler:       healthHandler,
		PluginHandler: pluginHandler,
		ShopHandler:   shopHandler,
		AdminHandler:  adminHandler,
		PluginAuth:    pluginAuth,
		Identity:      identity,
		AdminAuth:     adminAuth,
		RateLimit:     rateLimit,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server listening on %s", cfg.Server.Address())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
	fmt.Println("Goodbye!")
}
