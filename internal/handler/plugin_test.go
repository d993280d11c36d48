package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rustshop-api/internal/handler"
	"rustshop-api/internal/middleware"
	"rustshop-api/internal/model"
	"rustshop-api/internal/repository"
	"rustshop-api/internal/router"
	"rustshop-api/internal/service"
)

const (
	testGlobalKey = "global-test-key"
	testSteamID   = "76561198000000001"
)

// envelope mirrors the wire format so tests assert on what plugins
// actually receive.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Count   *int            `json:"count"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type protocolFixture struct {
	mux      http.Handler
	accounts repository.AccountRepository
	shop     *repository.ShopStore
	ledger   *service.LedgerService
	orders   *service.OrderService
	registry *service.RegistryService
	user     *model.User
	product  *model.Product
}

func newProtocolFixture(t *testing.T) *protocolFixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	accounts, err := repository.NewSQLiteAccountRepository(filepath.Join(dir, "accounts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { accounts.Close() })

	shop, err := repository.NewShopStore(filepath.Join(dir, "shop.db"))
	require.NoError(t, err)
	t.Cleanup(func() { shop.Close() })

	ledger := service.NewLedgerService(accounts)
	queue := service.NewQueueService(shop)
	registry := service.NewRegistryService(shop, testGlobalKey)
	orders := service.NewOrderService(ledger, shop, shop, queue, "RUB")

	mux := router.New(router.Config{
		PluginHandler: handler.NewPluginHandler(queue, registry),
		PluginAuth:    middleware.NewPluginAuth(middleware.PluginAuthConfig{Registry: registry}),
	})

	f := &protocolFixture{
		mux:      mux,
		accounts: accounts,
		shop:     shop,
		ledger:   ledger,
		orders:   orders,
		registry: registry,
	}

	f.user = &model.User{SteamID: testSteamID, Nickname: "tester"}
	require.NoError(t, accounts.CreateUser(ctx, f.user))

	f.product = &model.Product{
		ID:              "prod-wood",
		Name:            "Wood x1000",
		Price:           decimal.RequireFromString("100"),
		IsActive:        true,
		CommandTemplate: "inventory.giveto {steamid} wood 1000",
	}
	require.NoError(t, shop.CreateProduct(ctx, f.product))

	return f
}

func (f *protocolFixture) request(t *testing.T, method, path, key string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

// placeOrder funds the user and buys one unit of the fixture product,
// producing a single pending entry.
func (f *protocolFixture) placeOrder(t *testing.T) *model.Order {
	t.Helper()
	ctx := context.Background()
	_, err := f.ledger.Credit(ctx, f.user.ID, decimal.RequireFromString("500"), model.TxTopUp, "test top-up", nil)
	require.NoError(t, err)

	order, err := f.orders.CreateOrder(ctx, f.user, service.CreateOrderInput{
		Lines: []service.LineInput{{ProductID: f.product.ID, Quantity: 1}},
	})
	require.NoError(t, err)
	return order
}

func decodeEntries(t *testing.T, env envelope) []model.CartEntry {
	t.Helper()
	var entries []model.CartEntry
	require.NoError(t, json.Unmarshal(env.Data, &entries))
	return entries
}

func TestPluginRejectsMissingKey(t *testing.T) {
	f := newProtocolFixture(t)

	rec, env := f.request(t, http.MethodGet, "/api/plugin/pending?steam_id="+testSteamID, "", nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)
}

func TestPluginRejectsWrongKey(t *testing.T) {
	f := newProtocolFixture(t)

	rec, _ := f.request(t, http.MethodGet, "/api/plugin/pending?steam_id="+testSteamID, "not-the-key", nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPendingValidatesSteamID(t *testing.T) {
	f := newProtocolFixture(t)

	rec, env := f.request(t, http.MethodGet, "/api/plugin/pending?steam_id=bogus", testGlobalKey, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "BAD_REQUEST", env.Error.Code)
}

func TestDeliveryFlow(t *testing.T) {
	f := newProtocolFixture(t)

	server, err := f.registry.Register(context.Background(), &model.Server{Name: "main"})
	require.NoError(t, err)
	order := f.placeOrder(t)

	// Discovery with a per-server key sees the unscoped entry.
	rec, env := f.request(t, http.MethodGet, "/api/plugin/pending?steam_id="+testSteamID, server.APIKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, env.Count)
	assert.Equal(t, 1, *env.Count)

	pending := decodeEntries(t, env)
	require.Len(t, pending, 1)
	assert.Equal(t, order.ID, pending[0].OrderID)
	assert.Equal(t, f.product.CommandTemplate, pending[0].CommandTemplate)

	// Claim moves it to delivering and hands it to the caller.
	rec, env = f.request(t, http.MethodPost, "/api/plugin/claim", server.APIKey,
		map[string]string{"steam_id": testSteamID})
	require.Equal(t, http.StatusOK, rec.Code)
	claimed := decodeEntries(t, env)
	require.Len(t, claimed, 1)
	assert.Equal(t, model.EntryDelivering, claimed[0].Status)

	// Acknowledge as delivered.
	rec, env = f.request(t, http.MethodPost, "/api/plugin/update", server.APIKey,
		map[string]string{"entry_id": claimed[0].ID, "status": "delivered"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)

	// Nothing left to discover.
	rec, env = f.request(t, http.MethodGet, "/api/plugin/pending?steam_id="+testSteamID, server.APIKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, env.Count)
	assert.Equal(t, 0, *env.Count)

	// Repeating the delivered acknowledgement is a no-op, not an error.
	rec, _ = f.request(t, http.MethodPost, "/api/plugin/update", server.APIKey,
		map[string]string{"entry_id": claimed[0].ID, "status": "delivered"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestFailedDeliveryReturnsToQueue(t *testing.T) {
	f := newProtocolFixture(t)
	f.placeOrder(t)

	_, env := f.request(t, http.MethodPost, "/api/plugin/claim", testGlobalKey,
		map[string]string{"steam_id": testSteamID})
	claimed := decodeEntries(t, env)
	require.Len(t, claimed, 1)

	rec, _ := f.request(t, http.MethodPost, "/api/plugin/update", testGlobalKey,
		map[string]string{"entry_id": claimed[0].ID, "status": "failed", "error": "player offline"})
	require.Equal(t, http.StatusOK, rec.Code)

	// The entry is claimable again with the failure recorded.
	_, env = f.request(t, http.MethodGet, "/api/plugin/pending?steam_id="+testSteamID, testGlobalKey, nil)
	pending := decodeEntries(t, env)
	require.Len(t, pending, 1)
	assert.Equal(t, model.EntryPending, pending[0].Status)
	assert.Equal(t, 1, pending[0].AttemptCount)
	assert.Equal(t, "player offline", pending[0].LastError)
}

func TestUpdateUnknownEntry(t *testing.T) {
	f := newProtocolFixture(t)

	rec, env := f.request(t, http.MethodPost, "/api/plugin/update", testGlobalKey,
		map[string]string{"entry_id": "CE-DOESNOTEXIST", "status": "delivered"})

	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestUpdateRejectsBadStatus(t *testing.T) {
	f := newProtocolFixture(t)

	rec, _ := f.request(t, http.MethodPost, "/api/plugin/update", testGlobalKey,
		map[string]string{"entry_id": "CE-ANY", "status": "vaporized"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClaimRejectsUnknownFields(t *testing.T) {
	f := newProtocolFixture(t)

	rec, _ := f.request(t, http.MethodPost, "/api/plugin/claim", testGlobalKey,
		json.RawMessage(`{"steam_id":"`+testSteamID+`","surprise":true}`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScopedKeyDoesNotSeeForeignEntries(t *testing.T) {
	f := newProtocolFixture(t)
	ctx := context.Background()

	srvA, err := f.registry.Register(ctx, &model.Server{Name: "srv-a"})
	require.NoError(t, err)
	srvB, err := f.registry.Register(ctx, &model.Server{Name: "srv-b"})
	require.NoError(t, err)

	// The product is pinned to srv-a, so the order's entry carries that scope.
	f.product.ServerID = &srvA.ID
	require.NoError(t, f.shop.UpdateProduct(ctx, f.product))

	_, err = f.ledger.Credit(ctx, f.user.ID, decimal.RequireFromString("500"), model.TxTopUp, "test top-up", nil)
	require.NoError(t, err)
	_, err = f.orders.CreateOrder(ctx, f.user, service.CreateOrderInput{
		Lines:    []service.LineInput{{ProductID: f.product.ID, Quantity: 1}},
		ServerID: &srvA.ID,
	})
	require.NoError(t, err)

	_, env := f.request(t, http.MethodGet, "/api/plugin/pending?steam_id="+testSteamID, srvB.APIKey, nil)
	require.NotNil(t, env.Count)
	assert.Equal(t, 0, *env.Count)

	_, env = f.request(t, http.MethodGet, "/api/plugin/pending?steam_id="+testSteamID, srvA.APIKey, nil)
	require.NotNil(t, env.Count)
	assert.Equal(t, 1, *env.Count)
}

func TestHeartbeatUpdatesTelemetry(t *testing.T) {
	f := newProtocolFixture(t)

	server, err := f.registry.Register(context.Background(), &model.Server{Name: "main", MaxPlayers: 200})
	require.NoError(t, err)

	rec, env := f.request(t, http.MethodPost, "/api/plugin/heartbeat", server.APIKey,
		map[string]interface{}{"current_players": 57, "map_name": "procedural_4k"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)

	stored, err := f.registry.Get(context.Background(), server.ID)
	require.NoError(t, err)
	assert.Equal(t, 57, stored.CurrentPlayers)
	assert.Equal(t, 200, stored.MaxPlayers)
	assert.Equal(t, "procedural_4k", stored.MapName)
	assert.NotNil(t, stored.LastSeenAt)
}

func TestHeartbeatRejectsGlobalKey(t *testing.T) {
	f := newProtocolFixture(t)

	rec, env := f.request(t, http.MethodPost, "/api/plugin/heartbeat", testGlobalKey,
		map[string]interface{}{"current_players": 10})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)
}
