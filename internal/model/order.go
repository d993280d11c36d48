package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an order. Orders are immutable
// except for status.
type OrderStatus string

const (
	OrderPaid OrderStatus = "paid"
)

// Order is the immutable record of a completed purchase.
type Order struct {
	ID        string          `json:"id"` // ORD-YYYYMMDD-XXXX
	UserID    int64           `json:"user_id"`
	SteamID   string          `json:"steam_id"`
	Status    OrderStatus     `json:"status"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Total     decimal.Decimal `json:"total"`
	Currency  string          `json:"currency"`
	ServerID  *string         `json:"server_id,omitempty"`
	Note      string          `json:"note,omitempty"`
	Items     []OrderItem     `json:"items,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// OrderItem is a frozen line item: name, unit price and command template
// are copied from the catalog at purchase time.
type OrderItem struct {
	ID              string          `json:"id"` // OI-XXXXXXXXXXXX
	OrderID         string          `json:"order_id"`
	ProductID       string          `json:"product_id"`
	ProductName     string          `json:"product_name"`
	Quantity        int             `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	CommandTemplate string          `json:"command_template,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// LineTotal returns unit price multiplied by quantity.
func (i *OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}
