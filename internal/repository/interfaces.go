package repository

import (
	"context"
	"errors"
	"time"

	"rustshop-api/internal/model"
)

// Sentinel errors shared by all backend implementations.
var (
	ErrUserNotFound      = errors.New("user not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrProductNotFound   = errors.New("product not found")
	ErrOrderNotFound     = errors.New("order not found")
	ErrEntryNotFound     = errors.New("cart entry not found")
	ErrServerNotFound    = errors.New("server not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// AccountRepository owns users and the balance ledger. It may live in a
// different database than the shop store, so callers must never assume the
// two share a storage transaction.
type AccountRepository interface {
	// GetUser returns a user by internal id.
	GetUser(ctx context.Context, id int64) (*model.User, error)

	// GetUserBySteamID returns a user by their 17-digit Steam id.
	GetUserBySteamID(ctx context.Context, steamID string) (*model.User, error)

	// CreateUser inserts a new user with a zero balance and fills in its id.
	CreateUser(ctx context.Context, user *model.User) error

	// ApplyTransaction appends a ledger entry and adjusts the balance in one
	// storage transaction. A negative amount fails with ErrInsufficientFunds
	// when the balance cannot cover it, unless allowNegative is set (admin
	// debit override). The returned transaction carries its assigned id.
	ApplyTransaction(ctx context.Context, txn *model.BalanceTransaction, allowNegative bool) (*model.BalanceTransaction, error)

	// Transactions returns the user's ledger entries, newest first.
	Transactions(ctx context.Context, userID int64, limit int) ([]model.BalanceTransaction, error)

	// Close closes the underlying connection.
	Close() error
}

// ProductRepository is the catalog collaborator consumed by the order
// processor: prices are always re-read here, never trusted from the client.
type ProductRepository interface {
	GetProduct(ctx context.Context, id string) (*model.Product, error)
	ListProducts(ctx context.Context, activeOnly bool) ([]model.Product, error)
	CreateProduct(ctx context.Context, p *model.Product) error
	UpdateProduct(ctx context.Context, p *model.Product) error
	DeleteProduct(ctx context.Context, id string) error
}

// OrderRepository persists immutable orders and their frozen line items.
type OrderRepository interface {
	// CreateOrder inserts the order and all of its items in one transaction.
	CreateOrder(ctx context.Context, order *model.Order) error

	// DeleteOrder removes an order and its items. Only the order processor's
	// compensation path calls this, after a failed enqueue.
	DeleteOrder(ctx context.Context, id string) error

	GetOrder(ctx context.Context, id string) (*model.Order, error)
	OrdersByUser(ctx context.Context, userID int64, limit int) ([]model.Order, error)
}

// QueueRepository owns cart entries and their status machine. All claim-side
// transitions are guarded updates so concurrent claimers cannot both win the
// same entry.
type QueueRepository interface {
	// InsertEntries creates pending entries in one transaction.
	InsertEntries(ctx context.Context, entries []model.CartEntry) error

	// PendingBySteamID returns pending entries visible to the given scope,
	// oldest first. A nil scope sees every pending entry; a non-nil scope
	// sees unscoped entries plus entries scoped to that server.
	PendingBySteamID(ctx context.Context, steamID string, serverScope *string) ([]model.CartEntry, error)

	// ClaimPending atomically transitions the visible pending set to
	// delivering and returns the entries that this caller won.
	ClaimPending(ctx context.Context, steamID string, serverScope *string) ([]model.CartEntry, error)

	GetEntry(ctx context.Context, id string) (*model.CartEntry, error)
	EntriesByUser(ctx context.Context, userID int64, status model.EntryStatus, limit int) ([]model.CartEntry, error)

	// SetDelivering re-marks an already claimed entry; used when a client
	// reports a still-in-progress outcome.
	SetDelivering(ctx context.Context, id string) error

	// SetDelivered stamps the delivery timestamp. Terminal and idempotent:
	// re-delivering a delivered entry is a no-op, not an error.
	SetDelivered(ctx context.Context, id string, now time.Time) error

	// ReturnFailed records the delivery error, increments the attempt count
	// and sets the entry back to pending so a future claim can retry it.
	ReturnFailed(ctx context.Context, id string, deliveryErr string) error

	// Cancel transitions a pending entry to cancelled (administrative only).
	Cancel(ctx context.Context, id string) error

	// ReclaimStale returns delivering entries not updated since the cutoff
	// back to pending, counting the recovery as an attempt.
	ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// ServerRepository owns registered game servers and their credentials.
type ServerRepository interface {
	GetServer(ctx context.Context, id string) (*model.Server, error)

	// GetServerByAPIKey resolves a per-server credential. ErrServerNotFound
	// means the credential is invalid, never an empty result.
	GetServerByAPIKey(ctx context.Context, apiKey string) (*model.Server, error)

	ListServers(ctx context.Context, region string) ([]model.Server, error)
	CreateServer(ctx context.Context, s *model.Server) error
	UpdateServer(ctx context.Context, s *model.Server) error
	DeleteServer(ctx context.Context, id string) error

	// Heartbeat records liveness and capacity telemetry.
	Heartbeat(ctx context.Context, id string, currentPlayers, maxPlayers int, mapName string, now time.Time) error
}
