package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/fleetsutra/fastag/internal/observability/metrics"
	providerdomain "github.com/fleetsutra/fastag/internal/provider/domain"
	"github.com/fleetsutra/fastag/internal/recharge/service"
	"github.com/fleetsutra/fastag/pkg/money"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Outcome of a provider callback.
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Provider providerdomain.Client
	Recharge service.Service
	Metrics  *metrics.Metrics `optional:"true"`
}

// Service applies asynchronous provider callbacks. The conditional
// PROCESSING transitions make it idempotent against the worker's own
// synchronous result.
type Service struct {
	log      *zap.Logger
	provider providerdomain.Client
	recharge service.Service
	metrics  *metrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		log:      p.Log.Named("recharge.webhook"),
		provider: p.Provider,
		recharge: p.Recharge,
		metrics:  p.Metrics,
	}
}

type callback struct {
	MerchantTxnID string `json:"merchantTxnId"`
	LocalTxnID    string `json:"localTxnId"`
	Status        string `json:"status"`
	TransactionID string `json:"transactionId"`
	TxnID         string `json:"txnId"`
	Message       string `json:"message"`
	TagBalance    string `json:"tagBalance"`
}

// Verify delegates to the provider client's webhook signature check.
func (s *Service) Verify(payload []byte, headers http.Header) error {
	return s.provider.VerifyWebhook(payload, headers)
}

// Apply processes a verified provider callback.
func (s *Service) Apply(ctx context.Context, payload []byte) (string, error) {
	var cb callback
	if err := json.Unmarshal(payload, &cb); err != nil {
		return OutcomeIgnored, err
	}

	localTxnID := strings.TrimSpace(cb.MerchantTxnID)
	if localTxnID == "" {
		localTxnID = strings.TrimSpace(cb.LocalTxnID)
	}
	if localTxnID == "" {
		s.record(metrics.OutcomeIgnored)
		return OutcomeIgnored, nil
	}

	status := strings.ToUpper(strings.TrimSpace(cb.Status))
	result := &providerdomain.RechargeResult{
		Status:        status,
		ProviderTxnID: firstNonEmpty(cb.TransactionID, cb.TxnID),
		Message:       strings.TrimSpace(cb.Message),
		Raw:           json.RawMessage(payload),
	}

	var applied bool
	var err error
	switch {
	case providerdomain.IsSuccessStatus(status):
		result.Success = true
		if raw := strings.TrimSpace(cb.TagBalance); raw != "" {
			if paise, perr := money.ParsePaise(raw); perr == nil {
				result.TagBalancePaise = &paise
			}
		}
		applied, err = s.recharge.FinalizeSuccess(ctx, localTxnID, result)
	case providerdomain.IsFailureStatus(status):
		reason := result.Message
		if reason == "" {
			reason = "provider reported " + status
		}
		applied, err = s.recharge.FinalizeFailure(ctx, localTxnID, reason, result)
	default:
		// Interim callbacks (PENDING and friends) settle nothing. Refunding
		// on them would double-spend once the real verdict arrives.
		s.log.Info("provider callback with interim status",
			zap.String("local_txn_id", localTxnID),
			zap.String("provider_status", status),
		)
		s.record(metrics.OutcomeIgnored)
		return OutcomeIgnored, nil
	}
	if err != nil {
		return OutcomeIgnored, err
	}
	if !applied {
		s.record(metrics.OutcomeDuplicate)
		return OutcomeDuplicate, nil
	}
	s.record(metrics.OutcomeOK)
	return OutcomeApplied, nil
}

func (s *Service) record(outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordWebhookEvent(metrics.ChannelProvider, outcome)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
