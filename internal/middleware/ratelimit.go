package middleware

import (
	"fmt"
	"log"
	"net"
	"net/http"

	"rustshop-api/internal/cache"
	"rustshop-api/internal/config"
	"rustshop-api/pkg/apierror"
)

// RateLimitConfig holds dependencies for the rate limit middleware.
type RateLimitConfig struct {
	Cache  cache.Cache
	Limit  config.RateLimitConfig
	Logger *log.Logger
}

// NewRateLimit creates a fixed-window rate limiter keyed by API key when
// present, otherwise by client IP. Counters live in the shared cache so the
// limit holds across instances when Redis is configured.
func NewRateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Limit.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key == "" {
				key = clientIP(r)
			}

			count, err := cfg.Cache.Increment(r.Context(), "ratelimit:"+key, cfg.Limit.Window)
			if err != nil {
				// A broken counter backend must not take the API down.
				if cfg.Logger != nil {
					cfg.Logger.Printf("rate limit counter error: %v", err)
				}
				next.ServeHTTP(w, r)
				return
			}

			if count > int64(cfg.Limit.Limit) {
				w.Header().Set("Retry-After", fmt.Sprintf("%d", int(cfg.Limit.Window.Seconds())))
				writeError(w, apierror.TooManyRequests("rate limit exceeded"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP extracts the caller address, preferring X-Forwarded-For when the
// API sits behind a proxy.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
