package handler

import (
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"rustshop-api/internal/cache"
	"rustshop-api/internal/model"
	"rustshop-api/internal/repository"
	"rustshop-api/internal/service"
	"rustshop-api/pkg/apierror"
	"rustshop-api/pkg/response"
	"rustshop-api/pkg/uid"
)

// AdminHandler handles the admin surface: balance adjustments, server and
// catalog management, queue intervention and stats.
type AdminHandler struct {
	ledger    *service.LedgerService
	registry  *service.RegistryService
	queue     *service.QueueService
	sessions  *service.SessionService
	accounts  repository.AccountRepository
	products  repository.ProductRepository
	cache     cache.Cache
	startTime time.Time
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(
	ledger *service.LedgerService,
	registry *service.RegistryService,
	queue *service.QueueService,
	sessions *service.SessionService,
	accounts repository.AccountRepository,
	products repository.ProductRepository,
	c cache.Cache,
) *AdminHandler {
	return &AdminHandler{
		ledger:    ledger,
		registry:  registry,
		queue:     queue,
		sessions:  sessions,
		accounts:  accounts,
		products:  products,
		cache:     c,
		startTime: time.Now(),
	}
}

// CreateUserRequest is the body of POST /api/admin/users.
type CreateUserRequest struct {
	SteamID  string `json:"steam_id"`
	Nickname string `json:"nickname"`
}

// CreateUser handles POST /api/admin/users
//
// Account provisioning normally happens through the storefront's Steam
// login flow; this endpoint covers manual onboarding and test setups.
func (h *AdminHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if apiErr := decodeJSON(r, &req); apiErr != nil {
		response.Error(w, apiErr)
		return
	}
	if !validSteamID(req.SteamID) {
		response.Error(w, apierror.BadRequest("steam_id must be a 17-digit SteamID64"))
		return
	}
	if req.Nickname == "" {
		req.Nickname = req.SteamID
	}

	user := &model.User{
		SteamID:   req.SteamID,
		Nickname:  req.Nickname,
		Balance:   decimal.Zero,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.accounts.CreateUser(r.Context(), user); err != nil {
		response.Error(w, err)
		return
	}

	response.Created(w, user)
}

// GetUser handles GET /api/admin/users/{steam_id}
func (h *AdminHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	steamID := chi.URLParam(r, "steam_id")
	user, err := h.accounts.GetUserBySteamID(r.Context(), steamID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			response.Error(w, apierror.NotFound("user not found"))
			return
		}
		response.Error(w, err)
		return
	}

	txns, err := h.ledger.History(r.Context(), user.ID, 20)
	if err != nil {
		response.Error(w, err)
		return
	}

	response.OK(w, map[string]interface{}{
		"user":         user,
		"transactions": txns,
	})
}

// IssueSession handles POST /api/admin/users/{steam_id}/session
//
// Issues a storefront session for the user, standing in for the Steam
// login callback in deployments that front this API with their own auth.
func (h *AdminHandler) IssueSession(w http.ResponseWriter, r *http.Request) {
	steamID := chi.URLParam(r, "steam_id")
	user, err := h.accounts.GetUserBySteamID(r.Context(), steamID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			response.Error(w, apierror.NotFound("user not found"))
			return
		}
		response.Error(w, err)
		return
	}

	token, err := h.sessions.Create(r.Context(), user)
	if err != nil {
		response.Error(w, err)
		return
	}

	response.Created(w, map[string]interface{}{
		"token":   token,
		"user_id": user.ID,
	})
}

// AdjustBalanceRequest is the body of POST /api/admin/users/{steam_id}/balance.
type AdjustBalanceRequest struct {
	Amount      decimal.Decimal `json:"amount"` // signed: negative debits
	Description string          `json:"description,omitempty"`
	AdminID     int64           `json:"admin_id,omitempty"`
}

// AdjustBalance handles POST /api/admin/users/{steam_id}/balance
func (h *AdminHandler) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	steamID := chi.URLParam(r, "steam_id")
	user, err := h.accounts.GetUserBySteamID(r.Context(), steamID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			response.Error(w, apierror.NotFound("user not found"))
			return
		}
		response.Error(w, err)
		return
	}

	var req AdjustBalanceRequest
	if apiErr := decodeJSON(r, &req); apiErr != nil {
		response.Error(w, apiErr)
		return
	}
	if req.Amount.IsZero() {
		response.Error(w, apierror.BadRequest("amount must be non-zero"))
		return
	}

	txn, err := h.ledger.AdminAdjust(r.Context(), user.ID, req.Amount, req.Description, req.AdminID)
	if err != nil {
		response.Error(w, err)
		return
	}

	response.Created(w, txn)
}

// ServerRequest is the body of server create/update calls.
type ServerRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Region      string `json:"region,omitempty"`
	Address     string `json:"address,omitempty"`
	MaxPlayers  int    `json:"max_players,omitempty"`
	MapName     string `json:"map_name,omitempty"`
}

// CreateServer handles POST /api/admin/servers
//
// The generated API key is returned exactly once, in this response.
func (h *AdminHandler) CreateServer(w http.ResponseWriter, r *http.Request) {
	var req ServerRequest
	if apiErr := decodeJSON(r, &req); apiErr != nil {
		response.Error(w, apiErr)
		return
	}
	if req.Name == "" {
		response.Error(w, apierror.BadRequest("name is required"))
		return
	}

	server, err := h.registry.Register(r.Context(), &model.Server{
		Name:        req.Name,
		Description: req.Description,
		Region:      req.Region,
		Address:     req.Address,
		MaxPlayers:  req.MaxPlayers,
		MapName:     req.MapName,
	})
	if err != nil {
		response.Error(w, err)
		return
	}

	h.invalidateListings(r)

	response.Created(w, map[string]interface{}{
		"server":  server,
		"api_key": server.APIKey,
	})
}

// UpdateServer handles PUT /api/admin/servers/{id}
func (h *AdminHandler) UpdateServer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	server, err := h.registry.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrServerNotFound) {
			response.Error(w, apierror.NotFound("server not found"))
			return
		}
		response.Error(w, err)
		return
	}

	var req ServerRequest
	if apiErr := decodeJSON(r, &req); apiErr != nil {
		response.Error(w, apiErr)
		return
	}
	if req.Name != "" {
		server.Name = req.Name
	}
	server.Description = req.Description
	server.Region = req.Region
	server.Address = req.Address
	if req.MaxPlayers > 0 {
		server.MaxPlayers = req.MaxPlayers
	}
	if req.MapName != "" {
		server.MapName = req.MapName
	}

	if err := h.registry.Update(r.Context(), server); err != nil {
		response.Error(w, err)
		return
	}

	h.invalidateListings(r)
	response.OK(w, server)
}

// DeleteServer handles DELETE /api/admin/servers/{id}
func (h *AdminHandler) DeleteServer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.registry.Remove(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrServerNotFound) {
			response.Error(w, apierror.NotFound("server not found"))
			return
		}
		response.Error(w, err)
		return
	}

	h.invalidateListings(r)
	response.NoContent(w)
}

// ProductRequest is the body of product create/update calls.
type ProductRequest struct {
	Name            string          `json:"name"`
	Description     string          `json:"description,omitempty"`
	Category        string          `json:"category,omitempty"`
	Price           decimal.Decimal `json:"price"`
	IsActive        *bool           `json:"is_active,omitempty"`
	ServerID        *string         `json:"server_id,omitempty"`
	CommandTemplate string          `json:"command_template"`
}

// CreateProduct handles POST /api/admin/products
func (h *AdminHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req ProductRequest
	if apiErr := decodeJSON(r, &req); apiErr != nil {
		response.Error(w, apiErr)
		return
	}
	if req.Name == "" || req.CommandTemplate == "" {
		response.Error(w, apierror.BadRequest("name and command_template are required"))
		return
	}
	if req.Price.IsNegative() {
		response.Error(w, apierror.BadRequest("price must not be negative"))
		return
	}

	now := time.Now().UTC()
	product := &model.Product{
		ID:              uid.New(),
		Name:            req.Name,
		Description:     req.Description,
		Category:        req.Category,
		Price:           req.Price,
		IsActive:        true,
		ServerID:        req.ServerID,
		CommandTemplate: req.CommandTemplate,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.IsActive != nil {
		product.IsActive = *req.IsActive
	}

	if err := h.products.CreateProduct(r.Context(), product); err != nil {
		response.Error(w, err)
		return
	}

	h.invalidateListings(r)
	response.Created(w, product)
}

// UpdateProduct handles PUT /api/admin/products/{id}
func (h *AdminHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	product, err := h.products.GetProduct(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			response.Error(w, apierror.NotFound("product not found"))
			return
		}
		response.Error(w, err)
		return
	}

	var req ProductRequest
	if apiErr := decodeJSON(r, &req); apiErr != nil {
		response.Error(w, apiErr)
		return
	}
	if req.Name != "" {
		product.Name = req.Name
	}
	product.Description = req.Description
	product.Category = req.Category
	if req.Price.IsNegative() {
		response.Error(w, apierror.BadRequest("price must not be negative"))
		return
	}
	if !req.Price.IsZero() {
		product.Price = req.Price
	}
	if req.IsActive != nil {
		product.IsActive = *req.IsActive
	}
	product.ServerID = req.ServerID
	if req.CommandTemplate != "" {
		product.CommandTemplate = req.CommandTemplate
	}
	product.UpdatedAt = time.Now().UTC()

	if err := h.products.UpdateProduct(r.Context(), product); err != nil {
		response.Error(w, err)
		return
	}

	h.invalidateListings(r)
	response.OK(w, product)
}

// DeleteProduct handles DELETE /api/admin/products/{id}
func (h *AdminHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.products.DeleteProduct(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			response.Error(w, apierror.NotFound("product not found"))
			return
		}
		response.Error(w, err)
		return
	}

	h.invalidateListings(r)
	response.NoContent(w)
}

// CancelEntry handles POST /api/admin/entries/{id}/cancel
//
// Only pending entries can be cancelled; anything already claimed has to
// run its course through the acknowledge path.
func (h *AdminHandler) CancelEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.queue.Cancel(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, repository.ErrEntryNotFound):
			response.Error(w, apierror.NotFound("cart entry not found"))
		case errors.Is(err, repository.ErrInvalidTransition):
			response.Error(w, apierror.Conflict("only pending entries can be cancelled"))
		default:
			response.Error(w, err)
		}
		return
	}

	response.OK(w, map[string]interface{}{
		"entry_id": id,
		"status":   string(model.EntryCancelled),
	})
}

// GetStats handles GET /api/admin/stats
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := make(map[string]interface{})

	stats["uptime_seconds"] = int64(time.Since(h.startTime).Seconds())
	stats["uptime_human"] = time.Since(h.startTime).Round(time.Second).String()
	stats["server_time"] = time.Now().Format(time.RFC3339)

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	stats["memory"] = map[string]interface{}{
		"alloc_mb":      float64(memStats.Alloc) / 1024 / 1024,
		"sys_mb":        float64(memStats.Sys) / 1024 / 1024,
		"heap_alloc_mb": float64(memStats.HeapAlloc) / 1024 / 1024,
		"num_gc":        memStats.NumGC,
		"goroutines":    runtime.NumGoroutine(),
	}

	stats["runtime"] = map[string]interface{}{
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"cpus":       runtime.NumCPU(),
	}

	response.OK(w, stats)
}

// invalidateListings drops the cached public listings after a catalog or
// registry mutation.
func (h *AdminHandler) invalidateListings(r *http.Request) {
	_ = h.cache.Delete(r.Context(), "listing:products")
	_ = h.cache.Delete(r.Context(), "listing:servers:")
}
