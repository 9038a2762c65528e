package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrInsufficientFunds = errors.New("insufficient provider funds")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrUnknownProvider   = errors.New("unknown provider")
)

// Balance tracks the float held with a recharge provider. Reserved covers
// in-flight recharges so concurrent workers cannot overspend the float.
type Balance struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id"`
	Provider      string       `gorm:"type:text;not null;uniqueIndex" json:"provider"`
	BalancePaise  int64        `gorm:"not null;default:0" json:"balance_paise"`
	ReservedPaise int64        `gorm:"not null;default:0" json:"reserved_paise"`
	UpdatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Balance) TableName() string { return "provider_balances" }

// Available is the float not yet claimed by an in-flight recharge.
func (b Balance) Available() int64 {
	return b.BalancePaise - b.ReservedPaise
}

// Service manages the provider float. Tx variants must run inside the
// caller's transaction with the balance row locked for the duration.
type Service interface {
	Get(ctx context.Context, provider string) (*Balance, error)
	TopUp(ctx context.Context, provider string, amountPaise int64) (*Balance, error)

	ReserveTx(ctx context.Context, tx *gorm.DB, provider string, amountPaise int64) (bool, error)
	CommitTx(ctx context.Context, tx *gorm.DB, provider string, amountPaise int64) error
	ReleaseTx(ctx context.Context, tx *gorm.DB, provider string, amountPaise int64) error
}
