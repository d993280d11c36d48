package router

import (
	"net/http"

	"rustshop-api/internal/handler"
	"rustshop-api/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// Config holds the configuration for creating a router.
type Config struct {
	Handler       *handler.Handler
	PluginHandler *handler.PluginHandler
	ShopHandler   *handler.ShopHandler
	AdminHandler  *handler.AdminHandler
	PluginAuth    func(http.Handler) http.Handler
	Identity      func(http.Handler) http.Handler
	AdminAuth     func(http.Handler) http.Handler
	RateLimit     func(http.Handler) http.Handler
}

// New creates and configures the HTTP router.
func New(cfg Config) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware stack (applies to ALL routes)
	r.Use(middleware.Recovery)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-API-Key", "X-Token", "X-Admin-Key"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api", func(r chi.Router) {
		// PUBLIC routes (no auth required)
		if cfg.Handler != nil {
			r.Get("/status", cfg.Handler.Status)
			r.Get("/health", cfg.Handler.Health)
		}
		if cfg.ShopHandler != nil {
			r.Get("/servers", cfg.ShopHandler.Servers)
			r.Get("/products", cfg.ShopHandler.Products)
		}

		// Game-server protocol (API key auth + rate limit)
		if cfg.PluginHandler != nil {
			r.Route("/plugin", func(r chi.Router) {
				if cfg.RateLimit != nil {
					r.Use(cfg.RateLimit)
				}
				if cfg.PluginAuth != nil {
					r.Use(cfg.PluginAuth)
				}
				r.Get("/pending", cfg.PluginHandler.Pending)
				r.Post("/claim", cfg.PluginHandler.Claim)
				r.Post("/update", cfg.PluginHandler.Update)
				r.Post("/heartbeat", cfg.PluginHandler.Heartbeat)
			})
		}

		// Storefront routes (session auth)
		if cfg.ShopHandler != nil {
			r.Group(func(r chi.Router) {
				if cfg.Identity != nil {
					r.Use(cfg.Identity)
				}
				r.Group(func(r chi.Router) {
					if cfg.RateLimit != nil {
						r.Use(cfg.RateLimit)
					}
					r.Post("/orders", cfg.ShopHandler.CreateOrder)
				})
				r.Get("/me", cfg.ShopHandler.Me)
				r.Get("/me/orders", cfg.ShopHandler.MyOrders)
				r.Get("/me/cart", cfg.ShopHandler.MyCart)
				r.Get("/me/balance/history", cfg.ShopHandler.BalanceHistory)
				r.Get("/me/balance/topup", cfg.ShopHandler.TopUpOptions)
			})
		}

		// Admin routes (admin key auth)
		if cfg.AdminHandler != nil {
			r.Route("/admin", func(r chi.Router) {
				if cfg.AdminAuth != nil {
					r.Use(cfg.AdminAuth)
				}
				r.Get("/stats", cfg.AdminHandler.GetStats)

				r.Post("/users", cfg.AdminHandler.CreateUser)
				r.Get("/users/{steam_id}", cfg.AdminHandler.GetUser)
				r.Post("/users/{steam_id}/session", cfg.AdminHandler.IssueSession)
				r.Post("/users/{steam_id}/balance", cfg.AdminHandler.AdjustBalance)

				r.Post("/servers", cfg.AdminHandler.CreateServer)
				r.Put("/servers/{id}", cfg.AdminHandler.UpdateServer)
				r.Delete("/servers/{id}", cfg.AdminHandler.DeleteServer)

				r.Post("/products", cfg.AdminHandler.CreateProduct)
				r.Put("/products/{id}", cfg.AdminHandler.UpdateProduct)
				r.Delete("/products/{id}", cfg.AdminHandler.DeleteProduct)

				r.Post("/entries/{id}/cancel", cfg.AdminHandler.CancelEntry)
			})
		}
	})

	return r
}
