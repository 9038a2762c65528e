package domain

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
)

var (
	ErrUnavailable      = errors.New("recharge provider unavailable")
	ErrInvalidConfig    = errors.New("invalid provider config")
	ErrInvalidSignature = errors.New("invalid provider webhook signature")
)

// RechargeRequest asks the provider to load value onto a tag.
type RechargeRequest struct {
	TagNumber     string
	AmountPaise   int64
	MerchantTxnID string
}

// RechargeResult is the provider's normalized answer. Transport-level
// failures surface as errors instead; Status carries the provider's own
// verdict and may be an interim value that settles via callback later.
type RechargeResult struct {
	Success         bool
	Status          string
	ProviderTxnID   string
	Message         string
	TagBalancePaise *int64
	Raw             json.RawMessage
}

var successStatuses = map[string]struct{}{
	"SUCCESS":   {},
	"COMPLETED": {},
	"OK":        {},
}

var failureStatuses = map[string]struct{}{
	"FAILED":    {},
	"FAILURE":   {},
	"DECLINED":  {},
	"REJECTED":  {},
	"ERROR":     {},
	"CANCELLED": {},
	"REVERSED":  {},
	"EXPIRED":   {},
}

// IsSuccessStatus reports whether the provider status means value was
// loaded onto the tag.
func IsSuccessStatus(status string) bool {
	_, ok := successStatuses[status]
	return ok
}

// IsFailureStatus reports whether the provider status is a final decline.
// Anything in neither class (PENDING, INPROGRESS, vendor oddities) is an
// interim verdict that must not trigger a refund.
func IsFailureStatus(status string) bool {
	_, ok := failureStatuses[status]
	return ok
}

// Client performs recharges against one provider.
type Client interface {
	Name() string
	RechargeTag(ctx context.Context, req RechargeRequest) (*RechargeResult, error)
	VerifyWebhook(payload []byte, headers http.Header) error
}
