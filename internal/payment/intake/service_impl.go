package intake

import (
	"context"
	"strings"

	auditdomain "github.com/fleetsutra/fastag/internal/audit/domain"
	"github.com/fleetsutra/fastag/internal/clock"
	"github.com/fleetsutra/fastag/internal/config"
	"github.com/fleetsutra/fastag/internal/observability/metrics"
	paymentdomain "github.com/fleetsutra/fastag/internal/payment/domain"
	txndomain "github.com/fleetsutra/fastag/internal/txn/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Enqueuer hands confirmed transactions to the recharge worker.
type Enqueuer interface {
	Enqueue(localTxnID string)
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Cfg      config.Config
	Clock    clock.Clock
	TxnRepo  txndomain.Repository
	AuditSvc auditdomain.Service
	Metrics  *metrics.Metrics `optional:"true"`
	Enqueuer Enqueuer         `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	cfg      config.Config
	txnRepo  txndomain.Repository
	auditSvc auditdomain.Service
	metrics  *metrics.Metrics
	enqueuer Enqueuer
	clock    clock.Clock
}

func NewService(p Params) paymentdomain.IntakeService {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("payment.intake"),
		cfg:      p.Cfg,
		txnRepo:  p.TxnRepo,
		auditSvc: p.AuditSvc,
		metrics:  p.Metrics,
		enqueuer: p.Enqueuer,
		clock:    p.Clock,
	}
}

// Confirm applies a payment confirmation. Replays, unknown references and
// mismatched credits are absorbed without error so webhook senders are
// never asked to retry something that cannot succeed.
func (s *Service) Confirm(ctx context.Context, conf *paymentdomain.Confirmation) (paymentdomain.Outcome, error) {
	if conf == nil {
		return paymentdomain.OutcomeIgnored, paymentdomain.ErrInvalidEvent
	}

	txn, err := s.lookup(ctx, conf)
	if err != nil {
		return paymentdomain.OutcomeIgnored, err
	}
	if txn == nil {
		s.log.Warn("confirmation for unknown transaction",
			zap.String("channel", conf.Channel),
			zap.String("local_txn_id", conf.LocalTxnID),
			zap.String("payment_order_id", conf.PaymentOrderID),
		)
		s.record(conf.Channel, metrics.OutcomeIgnored)
		return paymentdomain.OutcomeIgnored, nil
	}

	if !amountMatches(conf, txn) {
		s.log.Warn("confirmation amount mismatch",
			zap.String("local_txn_id", txn.LocalTxnID),
			zap.Int64("expected_paise", txn.AmountPaise),
			zap.Int64("received_paise", conf.AmountPaise),
		)
		s.auditSvc.Record(ctx, txn.LocalTxnID, auditdomain.EventPaymentConfirmed, &conf.AmountPaise, map[string]any{
			"channel":  conf.Channel,
			"rejected": "amount_mismatch",
		})
		s.record(conf.Channel, metrics.OutcomeIgnored)
		return paymentdomain.OutcomeIgnored, nil
	}

	if isDirectUPIChannel(conf.Channel) {
		expected := strings.ToLower(strings.TrimSpace(s.cfg.UPI.PayeeVPA))
		if expected != "" && conf.PayeeVPA != "" && conf.PayeeVPA != expected {
			s.log.Warn("confirmation payee mismatch",
				zap.String("local_txn_id", txn.LocalTxnID),
				zap.String("payee_vpa", conf.PayeeVPA),
			)
			s.record(conf.Channel, metrics.OutcomeIgnored)
			return paymentdomain.OutcomeIgnored, nil
		}
	}

	applied, err := s.txnRepo.MarkPaid(ctx, s.db, txn.LocalTxnID, conf.PaymentID, conf.Channel, conf.Raw, s.clock.Now())
	if err != nil {
		return paymentdomain.OutcomeIgnored, err
	}
	if !applied {
		s.record(conf.Channel, metrics.OutcomeDuplicate)
		return paymentdomain.OutcomeDuplicate, nil
	}

	s.auditSvc.Record(ctx, txn.LocalTxnID, auditdomain.EventPaymentConfirmed, &txn.AmountPaise, map[string]any{
		"channel":    conf.Channel,
		"payment_id": conf.PaymentID,
	})
	s.record(conf.Channel, metrics.OutcomeOK)
	s.log.Info("payment confirmed",
		zap.String("local_txn_id", txn.LocalTxnID),
		zap.String("channel", conf.Channel),
		zap.String("payment_id", conf.PaymentID),
	)

	if s.enqueuer != nil {
		s.enqueuer.Enqueue(txn.LocalTxnID)
	}
	return paymentdomain.OutcomeApplied, nil
}

func (s *Service) lookup(ctx context.Context, conf *paymentdomain.Confirmation) (*txndomain.Txn, error) {
	if ref := strings.TrimSpace(conf.LocalTxnID); ref != "" {
		return s.txnRepo.FindByLocalID(ctx, s.db, ref)
	}
	if orderID := strings.TrimSpace(conf.PaymentOrderID); orderID != "" {
		return s.txnRepo.FindByPaymentOrderID(ctx, s.db, orderID)
	}
	return nil, nil
}

// amountMatches checks the credited amount against the transaction. Direct
// bank credits settle money we never initiated, so they must state the exact
// amount; a statement row without one is never trusted. Gateway and
// user-claim confirmations may omit the amount because the order already
// pins it.
func amountMatches(conf *paymentdomain.Confirmation, txn *txndomain.Txn) bool {
	if isDirectUPIChannel(conf.Channel) {
		return conf.AmountPaise == txn.AmountPaise
	}
	return conf.AmountPaise == 0 || conf.AmountPaise == txn.AmountPaise
}

// isDirectUPIChannel reports whether the channel carries direct bank
// credits, where the payee VPA must match when configured.
func isDirectUPIChannel(channel string) bool {
	switch channel {
	case paymentdomain.ChannelBankUPI, paymentdomain.ChannelStatusPoll, paymentdomain.ChannelCSV:
		return true
	default:
		return false
	}
}

func (s *Service) record(channel, outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordWebhookEvent(channel, outcome)
}
