package service_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fleetsutra/fastag/internal/clock"
	walletdomain "github.com/fleetsutra/fastag/internal/wallet/domain"
	walletservice "github.com/fleetsutra/fastag/internal/wallet/service"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:wallet_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&walletdomain.Wallet{}, &walletdomain.LedgerEntry{}))

	// The refund idempotency guard rides on this partial unique index.
	require.NoError(t, db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_wallet_ledger_txn_entry
		 ON wallet_ledger (local_txn_id, entry_type)
		 WHERE local_txn_id IS NOT NULL`,
	).Error)
	return db
}

func newTestService(t *testing.T, db *gorm.DB) walletdomain.Service {
	t.Helper()

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	return walletservice.NewService(walletservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewSystem(),
	})
}

func TestEnsureWalletIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newTestService(t, db)

	first, err := svc.EnsureWallet(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(0), first.BalancePaise)

	second, err := svc.EnsureWallet(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, db.Raw(`SELECT COUNT(1) FROM wallets WHERE user_id = 7`).Scan(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestCreditRefundIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newTestService(t, db)

	_, err := svc.EnsureWallet(ctx, 7)
	require.NoError(t, err)

	err = db.Transaction(func(tx *gorm.DB) error {
		applied, err := svc.CreditTx(ctx, tx, 7, "FT_refund_1", walletdomain.EntryRefund, 50000, "recharge failed: provider declined")
		require.NoError(t, err)
		assert.True(t, applied)
		return nil
	})
	require.NoError(t, err)

	// The replayed refund finds the ledger row and leaves the balance alone.
	err = db.Transaction(func(tx *gorm.DB) error {
		applied, err := svc.CreditTx(ctx, tx, 7, "FT_refund_1", walletdomain.EntryRefund, 50000, "recharge failed: provider declined")
		require.NoError(t, err)
		assert.False(t, applied)
		return nil
	})
	require.NoError(t, err)

	wallet, err := svc.GetByUser(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), wallet.BalancePaise)

	entries, err := svc.Ledger(ctx, 7, 10, time.Time{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestCreditsWithoutReferenceAccumulate(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newTestService(t, db)

	_, err := svc.EnsureWallet(ctx, 9)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		err = db.Transaction(func(tx *gorm.DB) error {
			applied, err := svc.CreditTx(ctx, tx, 9, "", walletdomain.EntryCredit, 1000, "manual adjustment")
			require.NoError(t, err)
			assert.True(t, applied)
			return nil
		})
		require.NoError(t, err)
	}

	wallet, err := svc.GetByUser(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), wallet.BalancePaise)
}

func TestDebitInsufficientBalance(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newTestService(t, db)

	_, err := svc.EnsureWallet(ctx, 7)
	require.NoError(t, err)

	err = db.Transaction(func(tx *gorm.DB) error {
		_, err := svc.DebitTx(ctx, tx, 7, "FT_debit_1", 100, "toll deduction")
		return err
	})
	assert.ErrorIs(t, err, walletdomain.ErrInsufficientBalance)
}

func TestDebitRecordsNegativeAmount(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newTestService(t, db)

	_, err := svc.EnsureWallet(ctx, 7)
	require.NoError(t, err)

	err = db.Transaction(func(tx *gorm.DB) error {
		applied, err := svc.CreditTx(ctx, tx, 7, "FT_credit_1", walletdomain.EntryCredit, 10000, "")
		require.NoError(t, err)
		require.True(t, applied)

		applied, err = svc.DebitTx(ctx, tx, 7, "FT_debit_1", 2500, "toll deduction")
		require.NoError(t, err)
		require.True(t, applied)
		return nil
	})
	require.NoError(t, err)

	wallet, err := svc.GetByUser(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7500), wallet.BalancePaise)

	entries, err := svc.Ledger(ctx, 7, 10, time.Time{})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	var debit *walletdomain.LedgerEntry
	for _, e := range entries {
		if e.EntryType == walletdomain.EntryDebit {
			debit = e
		}
	}
	require.NotNil(t, debit)
	assert.Equal(t, int64(-2500), debit.AmountPaise)
	assert.Equal(t, int64(7500), debit.BalanceAfterPaise)
}
