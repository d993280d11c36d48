package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is a catalog item. The delivery command template is snapshotted
// onto orders and cart entries at purchase time, so later edits here never
// change what was already paid for.
type Product struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Description     string          `json:"description,omitempty"`
	Category        string          `json:"category,omitempty"`
	Price           decimal.Decimal `json:"price"`
	IsActive        bool            `json:"is_active"`
	ServerID        *string         `json:"server_id,omitempty"` // nil means purchasable for any server
	CommandTemplate string          `json:"command_template,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// RestrictedTo reports whether the product is bound to a different server
// than serverID and therefore cannot be purchased for it.
func (p *Product) RestrictedTo(serverID string) bool {
	return p.ServerID != nil && *p.ServerID != serverID
}
