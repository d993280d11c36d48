package model

import "time"

// EntryStatus is the delivery state of a cart entry.
//
//	pending -> delivering -> delivered
//	pending -> delivering -> (failed outcome) -> pending   retryable
//	pending -> cancelled                                   administrative only
//
// A failed delivery never parks an entry in a dead state: the queue records
// the error, bumps the attempt count and returns the entry to pending, so
// the discovery filter stays a plain status = 'pending' check.
type EntryStatus string

const (
	EntryPending    EntryStatus = "pending"
	EntryDelivering EntryStatus = "delivering"
	EntryDelivered  EntryStatus = "delivered"
	EntryCancelled  EntryStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed from s.
func (s EntryStatus) Terminal() bool {
	return s == EntryDelivered || s == EntryCancelled
}

// CartEntry is one queued delivery task for a single purchased line item.
// A single order with three distinct products yields three entries.
type CartEntry struct {
	ID              string      `json:"id"` // CE-XXXXXXXXXXXX
	UserID          int64       `json:"user_id"`
	SteamID         string      `json:"steam_id"`
	OrderID         string      `json:"order_id"`
	ProductID       string      `json:"product_id"`
	ProductName     string      `json:"product_name"`
	Quantity        int         `json:"quantity"`
	CommandTemplate string      `json:"command_template"`
	ServerID        *string     `json:"server_id,omitempty"` // nil means any server may claim
	Status          EntryStatus `json:"status"`
	AttemptCount    int         `json:"attempt_count"`
	LastError       string      `json:"last_error,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
	DeliveredAt     *time.Time  `json:"delivered_at,omitempty"`
}
