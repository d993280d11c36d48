package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"rustshop-api/internal/model"
	"rustshop-api/internal/repository"
	"rustshop-api/internal/service"
	"rustshop-api/pkg/apierror"
)

// ScopeKey is the context key for the authenticated plugin scope.
const ScopeKey contextKey = "plugin_scope"

// UserKey is the context key for the authenticated storefront user.
const UserKey contextKey = "session_user"

// PluginAuthConfig holds dependencies for the plugin auth middleware.
type PluginAuthConfig struct {
	Registry *service.RegistryService
}

// NewPluginAuth creates the credential middleware for game-server endpoints.
// The key is read from the X-API-Key header, falling back to the api_key
// query parameter for plugins that cannot set headers.
// NO GLOBAL STATE - the registry service is passed via closure.
func NewPluginAuth(cfg PluginAuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}

			scope, err := cfg.Registry.Authenticate(r.Context(), key)
			if err != nil {
				if errors.Is(err, service.ErrInvalidCredential) {
					writeError(w, apierror.Unauthorized("invalid API key"))
					return
				}
				writeError(w, apierror.InternalError("credential check failed"))
				return
			}

			ctx := context.WithValue(r.Context(), ScopeKey, scope)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetScope retrieves the plugin scope from request context.
func GetScope(ctx context.Context) *service.Scope {
	if scope, ok := ctx.Value(ScopeKey).(*service.Scope); ok {
		return scope
	}
	return nil
}

// IdentityConfig holds dependencies for the session identity middleware.
type IdentityConfig struct {
	Sessions *service.SessionService
	Accounts repository.AccountRepository
}

// NewIdentity creates the middleware for storefront endpoints. It resolves
// the session token from the X-Token header (or Authorization: Bearer) to a
// user account and rejects banned users.
func NewIdentity(cfg IdentityConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get("X-Token")
			if token == "" {
				auth := r.Header.Get("Authorization")
				if strings.HasPrefix(auth, "Bearer ") {
					token = strings.TrimPrefix(auth, "Bearer ")
				}
			}
			if token == "" {
				writeError(w, apierror.Unauthorized("authentication required"))
				return
			}

			session, err := cfg.Sessions.Resolve(r.Context(), token)
			if err != nil {
				writeError(w, apierror.Unauthorized("invalid or expired session"))
				return
			}

			user, err := cfg.Accounts.GetUser(r.Context(), session.UserID)
			if err != nil {
				writeError(w, apierror.Unauthorized("unknown account"))
				return
			}
			if user.IsBanned {
				writeError(w, apierror.Forbidden("account is banned"))
				return
			}

			ctx := context.WithValue(r.Context(), UserKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUser retrieves the authenticated user from request context.
func GetUser(ctx context.Context) *model.User {
	if user, ok := ctx.Value(UserKey).(*model.User); ok {
		return user
	}
	return nil
}

// NewAdminAuth creates the middleware guarding the admin API. Requests must
// carry the configured key in the X-Admin-Key header. When no key is
// configured the admin API is disabled entirely.
func NewAdminAuth(adminKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if adminKey == "" {
				writeError(w, apierror.Forbidden("admin API is not configured"))
				return
			}

			key := r.Header.Get("X-Admin-Key")
			if subtle.ConstantTimeCompare([]byte(key), []byte(adminKey)) != 1 {
				writeError(w, apierror.Unauthorized("invalid admin key"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// writeError writes an API error response.
func writeError(w http.ResponseWriter, err *apierror.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.StatusCode)
	w.Write(err.ToJSON())
}
