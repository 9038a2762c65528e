package domain

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
)

// Intake channels delivering payment confirmations.
const (
	ChannelRazorpay   = "razorpay"
	ChannelBankUPI    = "bank_upi"
	ChannelStatusPoll = "status_poll"
	ChannelCSV        = "csv"
	ChannelUserClaim  = "user_claim"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrInvalidPayload   = errors.New("invalid webhook payload")
	ErrInvalidEvent     = errors.New("invalid webhook event")
	ErrEventIgnored     = errors.New("webhook event ignored")
	ErrInvalidConfig    = errors.New("invalid adapter config")
	ErrChannelNotFound  = errors.New("unknown intake channel")
)

// Confirmation is a normalized "money arrived" fact from any intake
// channel. Either LocalTxnID or PaymentOrderID correlates it to a
// transaction. AmountPaise of 0 means the channel did not report one.
type Confirmation struct {
	Channel        string
	LocalTxnID     string
	PaymentOrderID string
	PaymentID      string
	AmountPaise    int64
	PayeeVPA       string
	Raw            json.RawMessage
}

// Adapter verifies and parses one intake channel's webhook format.
type Adapter interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*Confirmation, error)
}

// AdapterConfig carries channel credentials into a factory.
type AdapterConfig struct {
	Config map[string]any
}

// AdapterFactory builds an Adapter for the channel it names.
type AdapterFactory interface {
	Channel() string
	NewAdapter(cfg AdapterConfig) (Adapter, error)
}

// Outcome reports what a confirmation did to the transaction.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

// IntakeService applies confirmations with the single PENDING -> PAID rule.
type IntakeService interface {
	Confirm(ctx context.Context, conf *Confirmation) (Outcome, error)
}
