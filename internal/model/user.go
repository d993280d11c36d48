package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is a storefront account authenticated via Steam.
// Balance is only ever mutated through the ledger.
type User struct {
	ID          int64           `json:"id"`
	SteamID     string          `json:"steam_id"`
	Nickname    string          `json:"nickname"`
	AvatarURL   string          `json:"avatar_url,omitempty"`
	ProfileURL  string          `json:"profile_url,omitempty"`
	Balance     decimal.Decimal `json:"balance"`
	IsBanned    bool            `json:"is_banned"`
	CreatedAt   time.Time       `json:"created_at"`
	LastLoginAt *time.Time      `json:"last_login_at,omitempty"`
}

// TransactionType tags a ledger entry with its origin.
type TransactionType string

const (
	TxPurchase    TransactionType = "purchase"
	TxRefund      TransactionType = "refund"
	TxTopUp       TransactionType = "topup"
	TxAdminCredit TransactionType = "admin_credit"
	TxAdminDebit  TransactionType = "admin_debit"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TxPurchase, TxRefund, TxTopUp, TxAdminCredit, TxAdminDebit:
		return true
	}
	return false
}

// BalanceTransaction is one append-only ledger entry. The user's balance
// always equals the sum of Amount over all of their transactions.
type BalanceTransaction struct {
	ID          int64           `json:"id"`
	UserID      int64           `json:"user_id"`
	Amount      decimal.Decimal `json:"amount"` // signed: debits are negative
	Type        TransactionType `json:"type"`
	Description string          `json:"description,omitempty"`
	AdminID     *int64          `json:"admin_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}
