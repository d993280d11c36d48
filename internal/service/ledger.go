package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"rustshop-api/internal/model"
	"rustshop-api/internal/repository"

	"github.com/shopspring/decimal"
)

// ErrNonPositiveAmount is returned when a credit or debit amount is zero or
// negative.
var ErrNonPositiveAmount = errors.New("amount must be positive")

// LedgerService is the only component allowed to mutate balances. Every
// change goes through the append-only transaction log, so the balance always
// equals the sum of the user's transaction deltas.
type LedgerService struct {
	accounts repository.AccountRepository
}

// NewLedgerService creates a new ledger service.
func NewLedgerService(accounts repository.AccountRepository) *LedgerService {
	return &LedgerService{accounts: accounts}
}

// Credit appends a positive transaction and increases the balance.
func (s *LedgerService) Credit(ctx context.Context, userID int64, amount decimal.Decimal, typ model.TransactionType, description string, adminID *int64) (*model.BalanceTransaction, error) {
	if !amount.IsPositive() {
		return nil, ErrNonPositiveAmount
	}
	if !typ.Valid() {
		return nil, fmt.Errorf("invalid transaction type %q", typ)
	}

	txn, err := s.accounts.ApplyTransaction(ctx, &model.BalanceTransaction{
		UserID:      userID,
		Amount:      amount,
		Type:        typ,
		Description: description,
		AdminID:     adminID,
	}, false)
	if err != nil {
		return nil, fmt.Errorf("credit user %d: %w", userID, err)
	}

	log.Printf("[LedgerService] Credited user=%d amount=%s type=%s", userID, amount.String(), typ)
	return txn, nil
}

// Debit appends a negative purchase transaction. The balance check and write
// happen in one storage transaction, so it fails with ErrInsufficientFunds
// at commit time even if the balance looked sufficient moments earlier.
func (s *LedgerService) Debit(ctx context.Context, userID int64, amount decimal.Decimal, description string) (*model.BalanceTransaction, error) {
	if !amount.IsPositive() {
		return nil, ErrNonPositiveAmount
	}

	txn, err := s.accounts.ApplyTransaction(ctx, &model.BalanceTransaction{
		UserID:      userID,
		Amount:      amount.Neg(),
		Type:        model.TxPurchase,
		Description: description,
	}, false)
	if err != nil {
		return nil, fmt.Errorf("debit user %d: %w", userID, err)
	}

	log.Printf("[LedgerService] Debited user=%d amount=%s", userID, amount.String())
	return txn, nil
}

// AdminAdjust applies a signed admin adjustment. A negative amount is an
// explicit override and may take the balance below zero.
func (s *LedgerService) AdminAdjust(ctx context.Context, userID int64, amount decimal.Decimal, description string, adminID int64) (*model.BalanceTransaction, error) {
	if amount.IsZero() {
		return nil, ErrNonPositiveAmount
	}

	typ := model.TxAdminCredit
	if amount.IsNegative() {
		typ = model.TxAdminDebit
	}

	txn, err := s.accounts.ApplyTransaction(ctx, &model.BalanceTransaction{
		UserID:      userID,
		Amount:      amount,
		Type:        typ,
		Description: description,
		AdminID:     &adminID,
	}, true)
	if err != nil {
		return nil, fmt.Errorf("admin adjust user %d: %w", userID, err)
	}

	log.Printf("[LedgerService] Admin adjustment user=%d amount=%s admin=%d", userID, amount.String(), adminID)
	return txn, nil
}

// History returns the user's transactions, newest first.
func (s *LedgerService) History(ctx context.Context, userID int64, limit int) ([]model.BalanceTransaction, error) {
	return s.accounts.Transactions(ctx, userID, limit)
}

// Balance returns the user's current spendable balance.
func (s *LedgerService) Balance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	user, err := s.accounts.GetUser(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return user.Balance, nil
}
