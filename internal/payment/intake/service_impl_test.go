package intake_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/fleetsutra/fastag/internal/audit/domain"
	auditservice "github.com/fleetsutra/fastag/internal/audit/service"
	"github.com/fleetsutra/fastag/internal/clock"
	"github.com/fleetsutra/fastag/internal/config"
	paymentdomain "github.com/fleetsutra/fastag/internal/payment/domain"
	"github.com/fleetsutra/fastag/internal/payment/intake"
	txndomain "github.com/fleetsutra/fastag/internal/txn/domain"
	txnrepo "github.com/fleetsutra/fastag/internal/txn/repository"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type recordingEnqueuer struct {
	enqueued []string
}

func (r *recordingEnqueuer) Enqueue(localTxnID string) {
	r.enqueued = append(r.enqueued, localTxnID)
}

type intakeFixture struct {
	db       *gorm.DB
	node     *snowflake.Node
	svc      paymentdomain.IntakeService
	enqueuer *recordingEnqueuer
	clock    *clock.FakeClock
}

func setupIntake(t *testing.T, cfg config.Config) *intakeFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:intake_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&txndomain.Txn{}, &auditdomain.Entry{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
	})

	enqueuer := &recordingEnqueuer{}
	svc := intake.NewService(intake.Params{
		DB:       db,
		Log:      zap.NewNop(),
		Cfg:      cfg,
		Clock:    clk,
		TxnRepo:  txnrepo.Provide(),
		AuditSvc: auditSvc,
		Enqueuer: enqueuer,
	})

	return &intakeFixture{db: db, node: node, svc: svc, enqueuer: enqueuer, clock: clk}
}

func (f *intakeFixture) seedPending(t *testing.T, channel txndomain.Channel, amountPaise int64) *txndomain.Txn {
	t.Helper()

	txn := &txndomain.Txn{
		ID:             f.node.Generate(),
		LocalTxnID:     txndomain.NewLocalTxnID(),
		UserID:         11,
		TagNumber:      "34161FA820328D5D0540F0A0",
		AmountPaise:    amountPaise,
		Status:         txndomain.StatusPending,
		Channel:        channel,
		PaymentOrderID: "order_" + txndomain.NewLocalTxnID(),
		CreatedAt:      f.clock.Now(),
		UpdatedAt:      f.clock.Now(),
	}
	require.NoError(t, f.db.Create(txn).Error)
	return txn
}

func TestConfirmAppliesAndEnqueues(t *testing.T) {
	ctx := context.Background()
	f := setupIntake(t, config.Config{})
	txn := f.seedPending(t, txndomain.ChannelRazorpay, 50000)

	raw := []byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1"}}}}`)
	outcome, err := f.svc.Confirm(ctx, &paymentdomain.Confirmation{
		Channel:        paymentdomain.ChannelRazorpay,
		PaymentOrderID: txn.PaymentOrderID,
		PaymentID:      "pay_1",
		AmountPaise:    50000,
		Raw:            raw,
	})
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeApplied, outcome)
	assert.Equal(t, []string{txn.LocalTxnID}, f.enqueuer.enqueued)

	var got txndomain.Txn
	require.NoError(t, f.db.Where("local_txn_id = ?", txn.LocalTxnID).First(&got).Error)
	assert.Equal(t, txndomain.StatusPaid, got.Status)
	assert.Equal(t, "pay_1", got.PaymentID)
	assert.Equal(t, paymentdomain.ChannelRazorpay, got.PaymentMethod)
	assert.JSONEq(t, string(raw), string(got.PaymentRaw))

	var auditCount int64
	require.NoError(t, f.db.Model(&auditdomain.Entry{}).
		Where("local_txn_id = ? AND event = ?", txn.LocalTxnID, auditdomain.EventPaymentConfirmed).
		Count(&auditCount).Error)
	assert.Equal(t, int64(1), auditCount)
}

func TestConfirmReplayIsDuplicate(t *testing.T) {
	ctx := context.Background()
	f := setupIntake(t, config.Config{})
	txn := f.seedPending(t, txndomain.ChannelRazorpay, 50000)

	conf := &paymentdomain.Confirmation{
		Channel:    paymentdomain.ChannelRazorpay,
		LocalTxnID: txn.LocalTxnID,
		PaymentID:  "pay_1",
	}

	outcome, err := f.svc.Confirm(ctx, conf)
	require.NoError(t, err)
	require.Equal(t, paymentdomain.OutcomeApplied, outcome)

	outcome, err = f.svc.Confirm(ctx, conf)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeDuplicate, outcome)

	// The worker only hears about the first application.
	assert.Len(t, f.enqueuer.enqueued, 1)
}

func TestConfirmUnknownReferenceIgnored(t *testing.T) {
	ctx := context.Background()
	f := setupIntake(t, config.Config{})

	outcome, err := f.svc.Confirm(ctx, &paymentdomain.Confirmation{
		Channel:    paymentdomain.ChannelBankUPI,
		LocalTxnID: "FT_does-not-exist",
	})
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeIgnored, outcome)
	assert.Empty(t, f.enqueuer.enqueued)
}

func TestConfirmAmountMismatchIgnored(t *testing.T) {
	ctx := context.Background()
	f := setupIntake(t, config.Config{})
	txn := f.seedPending(t, txndomain.ChannelRazorpay, 50000)

	outcome, err := f.svc.Confirm(ctx, &paymentdomain.Confirmation{
		Channel:     paymentdomain.ChannelRazorpay,
		LocalTxnID:  txn.LocalTxnID,
		AmountPaise: 49999,
	})
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeIgnored, outcome)

	var got txndomain.Txn
	require.NoError(t, f.db.Where("local_txn_id = ?", txn.LocalTxnID).First(&got).Error)
	assert.Equal(t, txndomain.StatusPending, got.Status)

	// Mismatches leave an audit trail for reconciliation review.
	var auditCount int64
	require.NoError(t, f.db.Model(&auditdomain.Entry{}).
		Where("local_txn_id = ?", txn.LocalTxnID).
		Count(&auditCount).Error)
	assert.Equal(t, int64(1), auditCount)
}

func TestConfirmPayeeMismatchOnDirectChannels(t *testing.T) {
	ctx := context.Background()
	cfg := config.Config{}
	cfg.UPI.PayeeVPA = "fleet@ybl"
	f := setupIntake(t, cfg)
	txn := f.seedPending(t, txndomain.ChannelDirectUPI, 50000)

	outcome, err := f.svc.Confirm(ctx, &paymentdomain.Confirmation{
		Channel:     paymentdomain.ChannelBankUPI,
		LocalTxnID:  txn.LocalTxnID,
		AmountPaise: 50000,
		PayeeVPA:    "someone-else@ybl",
	})
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeIgnored, outcome)

	// Matching payee goes through.
	outcome, err = f.svc.Confirm(ctx, &paymentdomain.Confirmation{
		Channel:     paymentdomain.ChannelBankUPI,
		LocalTxnID:  txn.LocalTxnID,
		PaymentID:   "utr_1",
		AmountPaise: 50000,
		PayeeVPA:    "fleet@ybl",
	})
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeApplied, outcome)
}

func TestConfirmDirectCreditRequiresAmount(t *testing.T) {
	ctx := context.Background()
	f := setupIntake(t, config.Config{})
	txn := f.seedPending(t, txndomain.ChannelDirectUPI, 50000)

	// A bank credit that never states its amount cannot be matched against
	// the transaction, so it stays PENDING for manual review.
	outcome, err := f.svc.Confirm(ctx, &paymentdomain.Confirmation{
		Channel:    paymentdomain.ChannelBankUPI,
		LocalTxnID: txn.LocalTxnID,
		PaymentID:  "utr_1",
	})
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeIgnored, outcome)

	var got txndomain.Txn
	require.NoError(t, f.db.Where("local_txn_id = ?", txn.LocalTxnID).First(&got).Error)
	assert.Equal(t, txndomain.StatusPending, got.Status)
	assert.Empty(t, f.enqueuer.enqueued)

	// A user claim carries no amount either, but the gateway order already
	// pins it, so the claim is allowed through.
	outcome, err = f.svc.Confirm(ctx, &paymentdomain.Confirmation{
		Channel:    paymentdomain.ChannelUserClaim,
		LocalTxnID: txn.LocalTxnID,
	})
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeApplied, outcome)
}

func TestConfirmNilConfirmation(t *testing.T) {
	f := setupIntake(t, config.Config{})

	outcome, err := f.svc.Confirm(context.Background(), nil)
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidEvent)
	assert.Equal(t, paymentdomain.OutcomeIgnored, outcome)
}
