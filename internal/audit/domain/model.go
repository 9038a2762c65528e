package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Well-known audit events emitted along the recharge lifecycle.
const (
	EventPaymentConfirmed = "payment.confirmed"
	EventRechargeClaimed  = "recharge.claimed"
	EventFundsReserved    = "funds.reserved"
	EventFundsParked      = "funds.parked"
	EventFundsReleased    = "funds.released"
	EventRechargeSuccess  = "recharge.success"
	EventRechargeFailed   = "recharge.failed"
	EventWalletRefunded   = "wallet.refunded"
	EventTxnRequeued      = "txn.requeued"
	EventTxnCancelled     = "txn.cancelled"
)

// Entry is one append-only audit record for a recharge transaction.
type Entry struct {
	ID          snowflake.ID   `gorm:"primaryKey" json:"id"`
	LocalTxnID  string         `gorm:"column:local_txn_id;type:text;not null;index" json:"local_txn_id"`
	Event       string         `gorm:"type:text;not null" json:"event"`
	AmountPaise *int64         `gorm:"column:amount_paise" json:"amount_paise,omitempty"`
	Detail      datatypes.JSON `gorm:"type:jsonb" json:"detail,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Entry) TableName() string { return "recharge_audits" }

// Service appends audit entries. Failures are logged, never propagated, so
// an audit outage cannot roll back money movement.
type Service interface {
	Record(ctx context.Context, localTxnID, event string, amountPaise *int64, detail map[string]any)
	RecordTx(ctx context.Context, tx *gorm.DB, localTxnID, event string, amountPaise *int64, detail map[string]any)
	List(ctx context.Context, localTxnID string) ([]*Entry, error)
}
