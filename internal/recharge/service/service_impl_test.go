package service_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/fleetsutra/fastag/internal/audit/domain"
	auditservice "github.com/fleetsutra/fastag/internal/audit/service"
	"github.com/fleetsutra/fastag/internal/clock"
	providerdomain "github.com/fleetsutra/fastag/internal/provider/domain"
	fundsdomain "github.com/fleetsutra/fastag/internal/providerfunds/domain"
	fundsservice "github.com/fleetsutra/fastag/internal/providerfunds/service"
	rechargeservice "github.com/fleetsutra/fastag/internal/recharge/service"
	tagdomain "github.com/fleetsutra/fastag/internal/tag/domain"
	tagservice "github.com/fleetsutra/fastag/internal/tag/service"
	txndomain "github.com/fleetsutra/fastag/internal/txn/domain"
	txnrepo "github.com/fleetsutra/fastag/internal/txn/repository"
	walletdomain "github.com/fleetsutra/fastag/internal/wallet/domain"
	walletservice "github.com/fleetsutra/fastag/internal/wallet/service"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeProvider struct {
	result *providerdomain.RechargeResult
	err    error
	calls  int
}

func (f *fakeProvider) Name() string { return "CYRUS" }

func (f *fakeProvider) RechargeTag(ctx context.Context, req providerdomain.RechargeRequest) (*providerdomain.RechargeResult, error) {
	f.calls++
	return f.result, f.err
}

func (f *fakeProvider) VerifyWebhook(payload []byte, headers http.Header) error { return nil }

type rechargeFixture struct {
	db       *gorm.DB
	node     *snowflake.Node
	clock    *clock.FakeClock
	provider *fakeProvider
	svc      rechargeservice.Service
	wallet   walletdomain.Service
	funds    fundsdomain.Service
	tags     tagdomain.Service
}

func setupRecharge(t *testing.T, provider *fakeProvider) *rechargeFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:recharge_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&txndomain.Txn{},
		&walletdomain.Wallet{},
		&walletdomain.LedgerEntry{},
		&fundsdomain.Balance{},
		&tagdomain.Tag{},
		&auditdomain.Entry{},
	))
	// The refund idempotency guard rides on this partial unique index.
	require.NoError(t, db.Exec(
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_wallet_ledger_txn_entry ON wallet_ledger (local_txn_id, entry_type) WHERE local_txn_id IS NOT NULL",
	).Error)

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	walletSvc := walletservice.NewService(walletservice.Params{DB: db, Log: log, GenID: node, Clock: clk})
	fundsSvc := fundsservice.NewService(fundsservice.Params{DB: db, Log: log, GenID: node, Clock: clk})
	tagSvc := tagservice.NewService(tagservice.Params{DB: db, Log: log, GenID: node, Clock: clk})
	auditSvc := auditservice.NewService(auditservice.Params{DB: db, Log: log, GenID: node, Clock: clk})

	svc := rechargeservice.NewService(rechargeservice.Params{
		DB:        db,
		Log:       log,
		Clock:     clk,
		TxnRepo:   txnrepo.Provide(),
		WalletSvc: walletSvc,
		FundsSvc:  fundsSvc,
		TagSvc:    tagSvc,
		AuditSvc:  auditSvc,
		Provider:  provider,
	})

	return &rechargeFixture{
		db:       db,
		node:     node,
		clock:    clk,
		provider: provider,
		svc:      svc,
		wallet:   walletSvc,
		funds:    fundsSvc,
		tags:     tagSvc,
	}
}

func (f *rechargeFixture) seedPaidTxn(t *testing.T, amountPaise int64) *txndomain.Txn {
	t.Helper()

	now := f.clock.Now()
	txn := &txndomain.Txn{
		ID:          f.node.Generate(),
		LocalTxnID:  txndomain.NewLocalTxnID(),
		UserID:      21,
		TagNumber:   "34161FA820328D5D0540F0A0",
		AmountPaise: amountPaise,
		Status:      txndomain.StatusPaid,
		Channel:     txndomain.ChannelRazorpay,
		PaidAt:      &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, f.db.Create(txn).Error)
	return txn
}

func (f *rechargeFixture) reload(t *testing.T, localTxnID string) *txndomain.Txn {
	t.Helper()

	var txn txndomain.Txn
	require.NoError(t, f.db.Where("local_txn_id = ?", localTxnID).First(&txn).Error)
	return &txn
}

func TestProcessCompletesRecharge(t *testing.T) {
	ctx := context.Background()
	tagBalance := int64(75000)
	f := setupRecharge(t, &fakeProvider{
		result: &providerdomain.RechargeResult{
			Success:         true,
			Status:          "SUCCESS",
			ProviderTxnID:   "cyr_123",
			TagBalancePaise: &tagBalance,
			Raw:             []byte(`{"status":"SUCCESS","transactionId":"cyr_123"}`),
		},
	})

	_, err := f.funds.TopUp(ctx, "CYRUS", 100000)
	require.NoError(t, err)
	_, err = f.tags.Link(ctx, 21, "34161FA820328D5D0540F0A0", "MH12AB1234", "")
	require.NoError(t, err)
	txn := f.seedPaidTxn(t, 50000)

	require.NoError(t, f.svc.Process(ctx, txn.LocalTxnID))
	assert.Equal(t, 1, f.provider.calls)

	got := f.reload(t, txn.LocalTxnID)
	assert.Equal(t, txndomain.StatusCompleted, got.Status)
	assert.Equal(t, "cyr_123", got.ProviderTxnID)
	assert.Equal(t, "SUCCESS", got.ProviderStatus)
	assert.NotEmpty(t, got.ProviderRaw)
	require.NotNil(t, got.CompletedAt)

	// The float reservation was spent, not released.
	balance, err := f.funds.Get(ctx, "CYRUS")
	require.NoError(t, err)
	assert.Equal(t, int64(50000), balance.BalancePaise)
	assert.Equal(t, int64(0), balance.ReservedPaise)

	tag, err := f.tags.Resolve(ctx, 21, "34161FA820328D5D0540F0A0")
	require.NoError(t, err)
	require.NotNil(t, tag.BalanceCachedPaise)
	assert.Equal(t, tagBalance, *tag.BalanceCachedPaise)
}

func TestProcessDeclineRefundsWallet(t *testing.T) {
	ctx := context.Background()
	f := setupRecharge(t, &fakeProvider{
		result: &providerdomain.RechargeResult{Status: "DECLINED", Message: "tag blacklisted"},
	})

	_, err := f.funds.TopUp(ctx, "CYRUS", 100000)
	require.NoError(t, err)
	txn := f.seedPaidTxn(t, 50000)

	require.NoError(t, f.svc.Process(ctx, txn.LocalTxnID))

	got := f.reload(t, txn.LocalTxnID)
	assert.Equal(t, txndomain.StatusFailed, got.Status)
	assert.Equal(t, "tag blacklisted", got.FailureReason)
	assert.Equal(t, "DECLINED", got.ProviderStatus)

	// The reservation was released back to the float.
	balance, err := f.funds.Get(ctx, "CYRUS")
	require.NoError(t, err)
	assert.Equal(t, int64(100000), balance.BalancePaise)
	assert.Equal(t, int64(0), balance.ReservedPaise)

	wallet, err := f.wallet.GetByUser(ctx, txn.UserID)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), wallet.BalancePaise)

	// A replayed failure cannot double-credit the wallet.
	applied, err := f.svc.FinalizeFailure(ctx, txn.LocalTxnID, "tag blacklisted", nil)
	require.NoError(t, err)
	assert.False(t, applied)

	wallet, err = f.wallet.GetByUser(ctx, txn.UserID)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), wallet.BalancePaise)

	var refunds int64
	require.NoError(t, f.db.Model(&walletdomain.LedgerEntry{}).
		Where("local_txn_id = ? AND entry_type = ?", txn.LocalTxnID, walletdomain.EntryRefund).
		Count(&refunds).Error)
	assert.Equal(t, int64(1), refunds)
}

func TestProcessProviderErrorFailsAndRefunds(t *testing.T) {
	ctx := context.Background()
	f := setupRecharge(t, &fakeProvider{err: errors.New("connection reset")})

	_, err := f.funds.TopUp(ctx, "CYRUS", 100000)
	require.NoError(t, err)
	txn := f.seedPaidTxn(t, 30000)

	require.NoError(t, f.svc.Process(ctx, txn.LocalTxnID))

	got := f.reload(t, txn.LocalTxnID)
	assert.Equal(t, txndomain.StatusFailed, got.Status)
	assert.Equal(t, "provider unavailable", got.FailureReason)

	wallet, err := f.wallet.GetByUser(ctx, txn.UserID)
	require.NoError(t, err)
	assert.Equal(t, int64(30000), wallet.BalancePaise)
}

func TestProcessHoldsInterimStatus(t *testing.T) {
	ctx := context.Background()
	f := setupRecharge(t, &fakeProvider{
		result: &providerdomain.RechargeResult{Status: "PENDING", Message: "request queued"},
	})

	_, err := f.funds.TopUp(ctx, "CYRUS", 100000)
	require.NoError(t, err)
	txn := f.seedPaidTxn(t, 50000)

	require.NoError(t, f.svc.Process(ctx, txn.LocalTxnID))
	assert.Equal(t, 1, f.provider.calls)

	// An interim verdict settles nothing: the transaction waits in
	// PROCESSING for the callback, the wallet is not refunded and the
	// reservation stays held.
	got := f.reload(t, txn.LocalTxnID)
	assert.Equal(t, txndomain.StatusProcessing, got.Status)

	balance, err := f.funds.Get(ctx, "CYRUS")
	require.NoError(t, err)
	assert.Equal(t, int64(50000), balance.ReservedPaise)

	_, err = f.wallet.GetByUser(ctx, txn.UserID)
	assert.ErrorIs(t, err, walletdomain.ErrWalletNotFound)

	// The callback then settles it.
	applied, err := f.svc.FinalizeSuccess(ctx, txn.LocalTxnID, &providerdomain.RechargeResult{
		Success:       true,
		Status:        "SUCCESS",
		ProviderTxnID: "cyr_late",
	})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, txndomain.StatusCompleted, f.reload(t, txn.LocalTxnID).Status)
}

func TestProcessParksOnInsufficientFloat(t *testing.T) {
	ctx := context.Background()
	f := setupRecharge(t, &fakeProvider{
		result: &providerdomain.RechargeResult{Success: true, Status: "SUCCESS", ProviderTxnID: "cyr_9"},
	})

	_, err := f.funds.TopUp(ctx, "CYRUS", 10000)
	require.NoError(t, err)
	txn := f.seedPaidTxn(t, 50000)

	require.NoError(t, f.svc.Process(ctx, txn.LocalTxnID))

	// Parked, and the provider was never called.
	got := f.reload(t, txn.LocalTxnID)
	assert.Equal(t, txndomain.StatusPendingProviderFunds, got.Status)
	assert.Equal(t, 0, f.provider.calls)

	balance, err := f.funds.Get(ctx, "CYRUS")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance.ReservedPaise)

	// A float top-up plus requeue lets the worker finish the recharge.
	_, err = f.funds.TopUp(ctx, "CYRUS", 100000)
	require.NoError(t, err)
	applied, err := f.svc.RequeueParked(ctx, txn.LocalTxnID)
	require.NoError(t, err)
	require.True(t, applied)

	require.NoError(t, f.svc.Process(ctx, txn.LocalTxnID))
	got = f.reload(t, txn.LocalTxnID)
	assert.Equal(t, txndomain.StatusCompleted, got.Status)
	assert.Equal(t, 1, f.provider.calls)
}

func TestProcessIsNoOpUnlessPaid(t *testing.T) {
	ctx := context.Background()
	f := setupRecharge(t, &fakeProvider{
		result: &providerdomain.RechargeResult{Success: true, Status: "SUCCESS", ProviderTxnID: "cyr_1"},
	})

	txn := f.seedPaidTxn(t, 50000)
	require.NoError(t, f.db.Model(&txndomain.Txn{}).
		Where("local_txn_id = ?", txn.LocalTxnID).
		Update("status", txndomain.StatusPending).Error)

	require.NoError(t, f.svc.Process(ctx, txn.LocalTxnID))
	assert.Equal(t, 0, f.provider.calls)
	assert.Equal(t, txndomain.StatusPending, f.reload(t, txn.LocalTxnID).Status)

	// Unknown references are also absorbed.
	require.NoError(t, f.svc.Process(ctx, "FT_unknown"))
}
