package domain

import (
	"errors"
	"regexp"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Status is the recharge transaction lifecycle state.
type Status string

const (
	StatusPending              Status = "PENDING"
	StatusPaid                 Status = "PAID"
	StatusProcessing           Status = "PROCESSING"
	StatusCompleted            Status = "COMPLETED"
	StatusFailed               Status = "FAILED"
	StatusPendingProviderFunds Status = "PENDING_PROVIDER_FUNDS"
	StatusCancelled            Status = "CANCELLED"
)

// Channel is the payment intake path chosen at initiation.
type Channel string

const (
	ChannelRazorpay  Channel = "RAZORPAY"
	ChannelDirectUPI Channel = "UPI"
)

var (
	ErrNotFound       = errors.New("transaction not found")
	ErrInvalidAmount  = errors.New("amount must be positive")
	ErrInvalidTag     = errors.New("tag number is required")
	ErrInvalidUser    = errors.New("user id is required")
	ErrInvalidChannel = errors.New("unsupported payment channel")
)

// localTxnIDPattern matches the wire format of a local transaction
// reference, used to extract references from free-form remittance text.
var localTxnIDPattern = regexp.MustCompile(`FT_[A-Za-z0-9-]+`)

// NewLocalTxnID mints a new local transaction reference.
func NewLocalTxnID() string {
	return "FT_" + uuid.NewString()
}

// ExtractLocalTxnID pulls the first local transaction reference out of
// free-form text such as UPI remarks. Returns "" when none is present.
func ExtractLocalTxnID(text string) string {
	return localTxnIDPattern.FindString(text)
}

// Txn is a wallet recharge transaction. Status transitions are applied
// with conditional updates so concurrent confirmations and sweeps cannot
// double-apply.
type Txn struct {
	ID             snowflake.ID   `gorm:"primaryKey" json:"id"`
	LocalTxnID     string         `gorm:"column:local_txn_id;type:text;not null;uniqueIndex" json:"local_txn_id"`
	UserID         int64          `gorm:"not null;index" json:"user_id"`
	InitiatedBy    int64          `gorm:"column:initiated_by" json:"initiated_by,omitempty"`
	TagID          snowflake.ID   `gorm:"index" json:"tag_id,omitempty"`
	TagNumber      string         `gorm:"type:text;not null" json:"tag_number"`
	VehicleNo      string         `gorm:"type:text" json:"vehicle_no,omitempty"`
	AmountPaise    int64          `gorm:"not null" json:"amount_paise"`
	Status         Status         `gorm:"type:text;not null;default:PENDING;index:idx_txns_status_created_at,priority:1" json:"status"`
	Channel        Channel        `gorm:"type:text;not null" json:"channel"`
	PaymentOrderID string         `gorm:"column:payment_order_id;type:text;index" json:"payment_order_id,omitempty"`
	PaymentID      string         `gorm:"column:payment_id;type:text" json:"payment_id,omitempty"`
	PaymentMethod  string         `gorm:"column:payment_method;type:text" json:"payment_method,omitempty"`
	PaymentMeta    datatypes.JSON `gorm:"column:payment_meta;type:jsonb" json:"payment_meta,omitempty"`
	PaymentRaw     datatypes.JSON `gorm:"column:payment_raw;type:jsonb" json:"payment_raw,omitempty"`
	Provider       string         `gorm:"type:text" json:"provider,omitempty"`
	ProviderTxnID  string         `gorm:"column:provider_txn_id;type:text" json:"provider_txn_id,omitempty"`
	ProviderStatus string         `gorm:"column:provider_status;type:text" json:"provider_status,omitempty"`
	ProviderRaw    datatypes.JSON `gorm:"column:provider_raw;type:jsonb" json:"provider_raw,omitempty"`
	FailureReason  string         `gorm:"type:text" json:"failure_reason,omitempty"`
	PollAttempts   int            `gorm:"not null;default:0" json:"poll_attempts"`
	PollLastAt     *time.Time     `gorm:"column:poll_last_at" json:"poll_last_at,omitempty"`
	PaidAt         *time.Time     `json:"paid_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	CreatedAt      time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP;index:idx_txns_status_created_at,priority:2" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Txn) TableName() string { return "txns" }

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}
