package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rustshop-api/internal/model"
	"rustshop-api/internal/repository"
)

type orderFixture struct {
	accounts repository.AccountRepository
	shop     *repository.ShopStore
	ledger   *LedgerService
	queue    *QueueService
	orders   *OrderService
	user     *model.User
	wood     *model.Product
	vip      *model.Product
}

func newOrderFixture(t *testing.T) *orderFixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	accounts, err := repository.NewSQLiteAccountRepository(filepath.Join(dir, "accounts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { accounts.Close() })

	shop, err := repository.NewShopStore(filepath.Join(dir, "shop.db"))
	require.NoError(t, err)
	t.Cleanup(func() { shop.Close() })

	f := &orderFixture{
		accounts: accounts,
		shop:     shop,
		ledger:   NewLedgerService(accounts),
		queue:    NewQueueService(shop),
	}
	f.orders = NewOrderService(f.ledger, shop, shop, f.queue, "RUB")

	f.user = &model.User{SteamID: "76561198000000001", Nickname: "tester"}
	require.NoError(t, accounts.CreateUser(ctx, f.user))

	f.wood = &model.Product{
		ID:              "prod-wood",
		Name:            "Wood x1000",
		Price:           decimal.RequireFromString("100"),
		IsActive:        true,
		CommandTemplate: "inventory.giveto {steamid} wood 1000",
	}
	require.NoError(t, shop.CreateProduct(ctx, f.wood))

	f.vip = &model.Product{
		ID:              "prod-vip",
		Name:            "VIP 30 days",
		Price:           decimal.RequireFromString("150"),
		IsActive:        true,
		CommandTemplate: "oxide.usergroup add {steamid} vip",
	}
	require.NoError(t, shop.CreateProduct(ctx, f.vip))

	return f
}

func (f *orderFixture) fund(t *testing.T, amount string) {
	t.Helper()
	_, err := f.ledger.Credit(context.Background(), f.user.ID,
		decimal.RequireFromString(amount), model.TxTopUp, "test top-up", nil)
	require.NoError(t, err)
}

func (f *orderFixture) balance(t *testing.T) decimal.Decimal {
	t.Helper()
	balance, err := f.ledger.Balance(context.Background(), f.user.ID)
	require.NoError(t, err)
	return balance
}

func TestCreateOrderDebitsAndEnqueues(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	f.fund(t, "500")

	order, err := f.orders.CreateOrder(ctx, f.user, CreateOrderInput{
		Lines: []LineInput{
			{ProductID: "prod-wood", Quantity: 2},
			{ProductID: "prod-vip", Quantity: 1},
		},
	})
	require.NoError(t, err)

	assert.True(t, order.Total.Equal(decimal.RequireFromString("350")), "total = %s", order.Total)
	assert.Equal(t, model.OrderPaid, order.Status)
	assert.Equal(t, "RUB", order.Currency)
	require.Len(t, order.Items, 2)
	assert.True(t, order.Items[0].UnitPrice.Equal(f.wood.Price))

	assert.True(t, f.balance(t).Equal(decimal.RequireFromString("150")))

	// One delivery task per purchased line, pending, with the frozen command.
	entries, err := f.queue.Discover(ctx, f.user.SteamID, nil)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	templates := []string{entries[0].CommandTemplate, entries[1].CommandTemplate}
	assert.Contains(t, templates, f.wood.CommandTemplate)
	assert.Contains(t, templates, f.vip.CommandTemplate)
	for _, e := range entries {
		assert.Equal(t, order.ID, e.OrderID)
		assert.Equal(t, model.EntryPending, e.Status)
	}

	// The order is readable back with its items.
	got, err := f.shop.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, got.Items, 2)
}

func TestCreateOrderShortfall(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	f.fund(t, "100")

	_, err := f.orders.CreateOrder(ctx, f.user, CreateOrderInput{
		Lines: []LineInput{{ProductID: "prod-vip", Quantity: 1}},
	})

	var shortfall *ShortfallError
	require.ErrorAs(t, err, &shortfall)
	assert.True(t, shortfall.Balance.Equal(decimal.RequireFromString("100")))
	assert.True(t, shortfall.Total.Equal(decimal.RequireFromString("150")))
	assert.True(t, shortfall.Shortfall.Equal(decimal.RequireFromString("50")))

	// Nothing was written anywhere.
	assert.True(t, f.balance(t).Equal(decimal.RequireFromString("100")))

	orders, err := f.shop.OrdersByUser(ctx, f.user.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, orders)

	entries, err := f.queue.Discover(ctx, f.user.SteamID, nil)
	require.NoError(t, err)
	assert.Empty(t, entries)

	history, err := f.ledger.History(ctx, f.user.ID, 10)
	require.NoError(t, err)
	assert.Len(t, history, 1, "only the top-up")
}

// failingOrders simulates an order store outage after the debit succeeded.
type failingOrders struct {
	repository.OrderRepository
}

func (f *failingOrders) CreateOrder(ctx context.Context, order *model.Order) error {
	return errors.New("disk full")
}

func TestCreateOrderCompensatesFailedWrite(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	f.fund(t, "500")

	broken := NewOrderService(f.ledger, f.shop, &failingOrders{f.shop}, f.queue, "RUB")

	_, err := broken.CreateOrder(ctx, f.user, CreateOrderInput{
		Lines: []LineInput{{ProductID: "prod-wood", Quantity: 1}},
	})
	assert.ErrorIs(t, err, ErrOrderFailed)

	// The debit was compensated by a refund credit.
	assert.True(t, f.balance(t).Equal(decimal.RequireFromString("500")))

	history, err := f.ledger.History(ctx, f.user.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, model.TxRefund, history[0].Type)
	assert.Contains(t, history[0].Description, "refund: order creation failed")
	assert.Equal(t, model.TxPurchase, history[1].Type)

	entries, err := f.queue.Discover(ctx, f.user.SteamID, nil)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// failingQueue simulates a queue write outage after the order was persisted.
type failingQueue struct {
	repository.QueueRepository
}

func (f *failingQueue) InsertEntries(ctx context.Context, entries []model.CartEntry) error {
	return errors.New("disk full")
}

func TestCreateOrderCompensatesFailedEnqueue(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	f.fund(t, "500")

	broken := NewOrderService(f.ledger, f.shop, f.shop, NewQueueService(&failingQueue{f.shop}), "RUB")

	_, err := broken.CreateOrder(ctx, f.user, CreateOrderInput{
		Lines: []LineInput{{ProductID: "prod-wood", Quantity: 1}},
	})
	assert.ErrorIs(t, err, ErrOrderFailed)

	assert.True(t, f.balance(t).Equal(decimal.RequireFromString("500")))

	// The half-created order was cleaned up.
	orders, err := f.shop.OrdersByUser(ctx, f.user.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestCreateOrderValidation(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	f.fund(t, "1000")

	_, err := f.orders.CreateOrder(ctx, f.user, CreateOrderInput{})
	assert.ErrorIs(t, err, ErrEmptyCart)

	_, err = f.orders.CreateOrder(ctx, f.user, CreateOrderInput{
		Lines: []LineInput{{ProductID: "prod-wood", Quantity: 0}},
	})
	assert.ErrorIs(t, err, ErrInvalidCartItem)

	_, err = f.orders.CreateOrder(ctx, f.user, CreateOrderInput{
		Lines: []LineInput{{ProductID: "prod-nope", Quantity: 1}},
	})
	assert.ErrorIs(t, err, repository.ErrProductNotFound)

	f.wood.IsActive = false
	require.NoError(t, f.shop.UpdateProduct(ctx, f.wood))
	_, err = f.orders.CreateOrder(ctx, f.user, CreateOrderInput{
		Lines: []LineInput{{ProductID: "prod-wood", Quantity: 1}},
	})
	assert.ErrorIs(t, err, ErrInactiveProduct)

	serverA := "srv-a"
	serverB := "srv-b"
	f.vip.ServerID = &serverA
	require.NoError(t, f.shop.UpdateProduct(ctx, f.vip))
	_, err = f.orders.CreateOrder(ctx, f.user, CreateOrderInput{
		Lines:    []LineInput{{ProductID: "prod-vip", Quantity: 1}},
		ServerID: &serverB,
	})
	assert.ErrorIs(t, err, ErrServerRestricted)

	// No validation failure touched the ledger.
	assert.True(t, f.balance(t).Equal(decimal.RequireFromString("1000")))
}
