package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// EntryType classifies a wallet ledger posting.
type EntryType string

const (
	EntryCredit EntryType = "CREDIT"
	EntryDebit  EntryType = "DEBIT"
	EntryRefund EntryType = "REFUND"
)

var (
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrInsufficientBalance = errors.New("insufficient wallet balance")
	ErrInvalidAmount       = errors.New("amount must be positive")
)

// Wallet holds a user's prepaid balance in paise.
type Wallet struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID       int64        `gorm:"not null;uniqueIndex" json:"user_id"`
	BalancePaise int64        `gorm:"not null;default:0" json:"balance_paise"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Wallet) TableName() string { return "wallets" }

// LedgerEntry is an immutable wallet posting. The (local_txn_id, entry_type)
// unique index makes per-transaction credits and refunds idempotent.
type LedgerEntry struct {
	ID                snowflake.ID `gorm:"primaryKey" json:"id"`
	WalletID          snowflake.ID `gorm:"not null;index" json:"wallet_id"`
	LocalTxnID        *string      `gorm:"column:local_txn_id;type:text" json:"local_txn_id,omitempty"`
	EntryType         EntryType    `gorm:"type:text;not null" json:"entry_type"`
	AmountPaise       int64        `gorm:"not null" json:"amount_paise"`
	BalanceAfterPaise int64        `gorm:"not null" json:"balance_after_paise"`
	Note              string       `gorm:"type:text" json:"note,omitempty"`
	CreatedAt         time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (LedgerEntry) TableName() string { return "wallet_ledger" }

// Service exposes wallet balance operations. Tx variants run inside the
// caller's transaction so wallet movement commits atomically with the
// transaction state change that caused it.
type Service interface {
	EnsureWallet(ctx context.Context, userID int64) (*Wallet, error)
	GetByUser(ctx context.Context, userID int64) (*Wallet, error)
	Ledger(ctx context.Context, userID int64, limit int, before time.Time) ([]*LedgerEntry, error)

	EnsureWalletTx(ctx context.Context, tx *gorm.DB, userID int64) (*Wallet, error)
	CreditTx(ctx context.Context, tx *gorm.DB, userID int64, localTxnID string, entryType EntryType, amountPaise int64, note string) (bool, error)
	DebitTx(ctx context.Context, tx *gorm.DB, userID int64, localTxnID string, amountPaise int64, note string) (bool, error)
}
