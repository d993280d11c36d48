package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"rustshop-api/internal/cache"
	"rustshop-api/internal/middleware"
	"rustshop-api/internal/model"
	"rustshop-api/internal/repository"
	"rustshop-api/internal/service"
	"rustshop-api/pkg/apierror"
	"rustshop-api/pkg/response"
)

const listingCacheTTL = 30 * time.Second

// ShopHandler handles the storefront and account surface.
type ShopHandler struct {
	orders   *service.OrderService
	ledger   *service.LedgerService
	queue    *service.QueueService
	registry *service.RegistryService
	products repository.ProductRepository
	history  repository.OrderRepository
	cache    cache.Cache
	currency string
}

// NewShopHandler creates a new storefront handler.
func NewShopHandler(
	orders *service.OrderService,
	ledger *service.LedgerService,
	queue *service.QueueService,
	registry *service.RegistryService,
	products repository.ProductRepository,
	history repository.OrderRepository,
	c cache.Cache,
	currency string,
) *ShopHandler {
	return &ShopHandler{
		orders:   orders,
		ledger:   ledger,
		queue:    queue,
		registry: registry,
		products: products,
		history:  history,
		cache:    c,
		currency: currency,
	}
}

// OrderLineRequest is one cart line in a create-order request.
type OrderLineRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// CreateOrderRequest is the body of POST /api/orders.
type CreateOrderRequest struct {
	Items    []OrderLineRequest `json:"items"`
	ServerID *string            `json:"server_id,omitempty"`
	Note     string             `json:"note,omitempty"`
}

// CreateOrder handles POST /api/orders
func (h *ShopHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		response.Error(w, apierror.Unauthorized("authentication required"))
		return
	}

	var req CreateOrderRequest
	if apiErr := decodeJSON(r, &req); apiErr != nil {
		response.Error(w, apiErr)
		return
	}

	input := service.CreateOrderInput{
		ServerID: req.ServerID,
		Note:     req.Note,
	}
	for _, line := range req.Items {
		input.Lines = append(input.Lines, service.LineInput{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
		})
	}

	order, err := h.orders.CreateOrder(r.Context(), user, input)
	if err != nil {
		var shortfall *service.ShortfallError
		switch {
		case errors.As(err, &shortfall):
			response.Error(w, apierror.PaymentRequired("insufficient balance").WithData(map[string]interface{}{
				"balance":   shortfall.Balance,
				"total":     shortfall.Total,
				"shortfall": shortfall.Shortfall,
			}))
		case errors.Is(err, service.ErrEmptyCart),
			errors.Is(err, service.ErrInvalidCartItem),
			errors.Is(err, service.ErrInactiveProduct),
			errors.Is(err, service.ErrServerRestricted):
			response.Error(w, apierror.BadRequest(err.Error()))
		case errors.Is(err, repository.ErrProductNotFound):
			response.Error(w, apierror.NotFound("product not found"))
		case errors.Is(err, service.ErrOrderFailed):
			response.Error(w, apierror.InternalError(err.Error()))
		default:
			response.Error(w, err)
		}
		return
	}

	response.Created(w, order)
}

// Me handles GET /api/me
func (h *ShopHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		response.Error(w, apierror.Unauthorized("authentication required"))
		return
	}
	response.OK(w, user)
}

// MyOrders handles GET /api/me/orders
func (h *ShopHandler) MyOrders(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		response.Error(w, apierror.Unauthorized("authentication required"))
		return
	}

	orders, err := h.history.OrdersByUser(r.Context(), user.ID, parseLimit(r, 20, 100))
	if err != nil {
		response.Error(w, err)
		return
	}
	if orders == nil {
		orders = []model.Order{}
	}
	response.List(w, orders, len(orders))
}

// MyCart handles GET /api/me/cart
//
// Shows the user their delivery queue. An optional status filter narrows
// the view (pending, delivering, delivered, cancelled).
func (h *ShopHandler) MyCart(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		response.Error(w, apierror.Unauthorized("authentication required"))
		return
	}

	status := model.EntryStatus(r.URL.Query().Get("status"))
	switch status {
	case "", model.EntryPending, model.EntryDelivering, model.EntryDelivered, model.EntryCancelled:
	default:
		response.Error(w, apierror.BadRequest("unknown status filter"))
		return
	}

	entries, err := h.queue.UserEntries(r.Context(), user.ID, status, parseLimit(r, 50, 200))
	if err != nil {
		response.Error(w, err)
		return
	}
	if entries == nil {
		entries = []model.CartEntry{}
	}
	response.List(w, entries, len(entries))
}

// BalanceHistory handles GET /api/me/balance/history
func (h *ShopHandler) BalanceHistory(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		response.Error(w, apierror.Unauthorized("authentication required"))
		return
	}

	txns, err := h.ledger.History(r.Context(), user.ID, parseLimit(r, 50, 200))
	if err != nil {
		response.Error(w, err)
		return
	}
	if txns == nil {
		txns = []model.BalanceTransaction{}
	}
	response.List(w, txns, len(txns))
}

// TopUpOption is one preset top-up amount offered by the storefront.
type TopUpOption struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
	Bonus    string `json:"bonus,omitempty"`
}

// TopUpOptions handles GET /api/me/balance/topup
//
// The payment gateway lives outside this API; actual credits arrive via
// the admin surface once a payment clears.
func (h *ShopHandler) TopUpOptions(w http.ResponseWriter, r *http.Request) {
	options := []TopUpOption{
		{Amount: "100", Currency: h.currency},
		{Amount: "250", Currency: h.currency},
		{Amount: "500", Currency: h.currency, Bonus: "25"},
		{Amount: "1000", Currency: h.currency, Bonus: "100"},
	}
	response.List(w, options, len(options))
}

// ServerView is the public listing shape for a registered server.
type ServerView struct {
	model.Server
	Online      bool `json:"online"`
	FillPercent int  `json:"fill_percent"`
}

// Servers handles GET /api/servers
func (h *ShopHandler) Servers(w http.ResponseWriter, r *http.Request) {
	region := r.URL.Query().Get("region")

	data, err := h.cache.GetOrSet(r.Context(), "listing:servers:"+region, listingCacheTTL, func() ([]byte, error) {
		servers, err := h.registry.List(r.Context(), region)
		if err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		views := make([]ServerView, 0, len(servers))
		for i := range servers {
			views = append(views, ServerView{
				Server:      servers[i],
				Online:      servers[i].Online(now),
				FillPercent: servers[i].FillPercent(),
			})
		}
		return json.Marshal(views)
	})
	if err != nil {
		response.Error(w, err)
		return
	}

	var views []ServerView
	if err := json.Unmarshal(data, &views); err != nil {
		response.Error(w, err)
		return
	}
	response.List(w, views, len(views))
}

// Products handles GET /api/products
func (h *ShopHandler) Products(w http.ResponseWriter, r *http.Request) {
	data, err := h.cache.GetOrSet(r.Context(), "listing:products", listingCacheTTL, func() ([]byte, error) {
		products, err := h.products.ListProducts(r.Context(), true)
		if err != nil {
			return nil, err
		}
		return json.Marshal(products)
	})
	if err != nil {
		response.Error(w, err)
		return
	}

	var products []model.Product
	if err := json.Unmarshal(data, &products); err != nil {
		response.Error(w, err)
		return
	}
	response.List(w, products, len(products))
}
