package repository

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rustshop-api/internal/model"
)

func newTestAccounts(t *testing.T) *SQLiteAccountRepository {
	t.Helper()

	repo, err := NewSQLiteAccountRepository(filepath.Join(t.TempDir(), "accounts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	return repo
}

func newTestUser(t *testing.T, repo *SQLiteAccountRepository) *model.User {
	t.Helper()

	user := &model.User{
		SteamID:  "76561198000000001",
		Nickname: "tester",
	}
	require.NoError(t, repo.CreateUser(context.Background(), user))
	require.NotZero(t, user.ID)
	return user
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestApplyTransactionBalanceMatchesLedger(t *testing.T) {
	repo := newTestAccounts(t)
	ctx := context.Background()
	user := newTestUser(t, repo)

	_, err := repo.ApplyTransaction(ctx, &model.BalanceTransaction{
		UserID: user.ID, Amount: money("500"), Type: model.TxTopUp,
	}, false)
	require.NoError(t, err)

	_, err = repo.ApplyTransaction(ctx, &model.BalanceTransaction{
		UserID: user.ID, Amount: money("-350"), Type: model.TxPurchase,
	}, false)
	require.NoError(t, err)

	got, err := repo.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(money("150")), "balance = %s", got.Balance)

	// The balance always equals the sum of the transaction deltas.
	txns, err := repo.Transactions(ctx, user.ID, 0)
	require.NoError(t, err)
	require.Len(t, txns, 2)

	sum := decimal.Zero
	for _, txn := range txns {
		sum = sum.Add(txn.Amount)
	}
	assert.True(t, sum.Equal(got.Balance))

	// Newest first.
	assert.Equal(t, model.TxPurchase, txns[0].Type)
	assert.Equal(t, model.TxTopUp, txns[1].Type)
}

func TestApplyTransactionInsufficientFunds(t *testing.T) {
	repo := newTestAccounts(t)
	ctx := context.Background()
	user := newTestUser(t, repo)

	_, err := repo.ApplyTransaction(ctx, &model.BalanceTransaction{
		UserID: user.ID, Amount: money("100"), Type: model.TxTopUp,
	}, false)
	require.NoError(t, err)

	_, err = repo.ApplyTransaction(ctx, &model.BalanceTransaction{
		UserID: user.ID, Amount: money("-150"), Type: model.TxPurchase,
	}, false)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	// The rejected debit leaves no trace: no balance change, no ledger row.
	got, err := repo.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(money("100")))

	txns, err := repo.Transactions(ctx, user.ID, 0)
	require.NoError(t, err)
	assert.Len(t, txns, 1)
}

func TestApplyTransactionAllowNegative(t *testing.T) {
	repo := newTestAccounts(t)
	ctx := context.Background()
	user := newTestUser(t, repo)

	adminID := int64(7)
	_, err := repo.ApplyTransaction(ctx, &model.BalanceTransaction{
		UserID: user.ID, Amount: money("-50"), Type: model.TxAdminDebit, AdminID: &adminID,
	}, true)
	require.NoError(t, err)

	got, err := repo.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(money("-50")))

	txns, err := repo.Transactions(ctx, user.ID, 0)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	require.NotNil(t, txns[0].AdminID)
	assert.Equal(t, adminID, *txns[0].AdminID)
}

func TestApplyTransactionUnknownUser(t *testing.T) {
	repo := newTestAccounts(t)

	_, err := repo.ApplyTransaction(context.Background(), &model.BalanceTransaction{
		UserID: 999, Amount: money("10"), Type: model.TxTopUp,
	}, false)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestGetUserBySteamID(t *testing.T) {
	repo := newTestAccounts(t)
	ctx := context.Background()
	user := newTestUser(t, repo)

	got, err := repo.GetUserBySteamID(ctx, user.SteamID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
	assert.True(t, got.Balance.Equal(decimal.Zero))

	_, err = repo.GetUserBySteamID(ctx, "76561198999999999")
	assert.ErrorIs(t, err, ErrUserNotFound)
}
