package service

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rustshop-api/internal/model"
	"rustshop-api/internal/repository"
)

func newTestLedger(t *testing.T) (*LedgerService, *model.User) {
	t.Helper()

	accounts, err := repository.NewSQLiteAccountRepository(filepath.Join(t.TempDir(), "accounts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { accounts.Close() })

	user := &model.User{SteamID: "76561198000000001", Nickname: "tester"}
	require.NoError(t, accounts.CreateUser(context.Background(), user))

	return NewLedgerService(accounts), user
}

func TestLedgerRejectsNonPositiveAmounts(t *testing.T) {
	ledger, user := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.Credit(ctx, user.ID, decimal.Zero, model.TxTopUp, "", nil)
	assert.ErrorIs(t, err, ErrNonPositiveAmount)

	_, err = ledger.Credit(ctx, user.ID, decimal.RequireFromString("-5"), model.TxTopUp, "", nil)
	assert.ErrorIs(t, err, ErrNonPositiveAmount)

	_, err = ledger.Debit(ctx, user.ID, decimal.Zero, "")
	assert.ErrorIs(t, err, ErrNonPositiveAmount)

	_, err = ledger.AdminAdjust(ctx, user.ID, decimal.Zero, "", 1)
	assert.ErrorIs(t, err, ErrNonPositiveAmount)
}

func TestLedgerDebitStoresNegativeDelta(t *testing.T) {
	ledger, user := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.Credit(ctx, user.ID, decimal.RequireFromString("200"), model.TxTopUp, "top-up", nil)
	require.NoError(t, err)

	txn, err := ledger.Debit(ctx, user.ID, decimal.RequireFromString("75"), "purchase")
	require.NoError(t, err)
	assert.True(t, txn.Amount.Equal(decimal.RequireFromString("-75")), "ledger stores the signed delta")
	assert.Equal(t, model.TxPurchase, txn.Type)

	balance, err := ledger.Balance(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.RequireFromString("125")))
}

func TestAdminAdjustPicksTypeBySign(t *testing.T) {
	ledger, user := newTestLedger(t)
	ctx := context.Background()

	credit, err := ledger.AdminAdjust(ctx, user.ID, decimal.RequireFromString("50"), "compensation", 7)
	require.NoError(t, err)
	assert.Equal(t, model.TxAdminCredit, credit.Type)

	// An admin debit may take the balance below zero.
	debit, err := ledger.AdminAdjust(ctx, user.ID, decimal.RequireFromString("-80"), "chargeback", 7)
	require.NoError(t, err)
	assert.Equal(t, model.TxAdminDebit, debit.Type)

	balance, err := ledger.Balance(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.RequireFromString("-30")))
}
