package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Repository persists transactions. Transition methods use conditional
// updates and report whether the row actually moved, so callers can tell
// a fresh transition apart from a replay.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, txn *Txn) error
	FindByLocalID(ctx context.Context, db *gorm.DB, localTxnID string) (*Txn, error)
	FindByPaymentOrderID(ctx context.Context, db *gorm.DB, orderID string) (*Txn, error)
	ListByUser(ctx context.Context, db *gorm.DB, userID int64, limit int, before time.Time) ([]*Txn, error)

	MarkPaid(ctx context.Context, db *gorm.DB, localTxnID, paymentID, method string, raw []byte, paidAt time.Time) (bool, error)
	ClaimProcessing(ctx context.Context, db *gorm.DB, localTxnID string) (bool, error)
	Complete(ctx context.Context, db *gorm.DB, localTxnID, providerTxnID, providerStatus string, raw []byte, completedAt time.Time) (bool, error)
	Fail(ctx context.Context, db *gorm.DB, localTxnID, reason, providerStatus string, raw []byte) (bool, error)
	ParkProviderFunds(ctx context.Context, db *gorm.DB, localTxnID string) (bool, error)
	Requeue(ctx context.Context, db *gorm.DB, localTxnID string) (bool, error)

	SweepStale(ctx context.Context, db *gorm.DB, before time.Time) (int64, error)
	ListPollable(ctx context.Context, db *gorm.DB, q PollQuery) ([]*Txn, error)
	RecordPollAttempt(ctx context.Context, db *gorm.DB, localTxnID string, at time.Time) error
	OldestProcessingSince(ctx context.Context, db *gorm.DB) (*time.Time, error)
}

// PollQuery selects PENDING direct-UPI transactions eligible for a status
// check.
type PollQuery struct {
	Now         time.Time
	Lookback    time.Duration
	Throttle    time.Duration
	MaxAttempts int
	Limit       int
}
