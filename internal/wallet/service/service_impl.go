package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fleetsutra/fastag/internal/clock"
	walletdomain "github.com/fleetsutra/fastag/internal/wallet/domain"
	"github.com/fleetsutra/fastag/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewService(p Params) walletdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("wallet.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) EnsureWallet(ctx context.Context, userID int64) (*walletdomain.Wallet, error) {
	return s.EnsureWalletTx(ctx, s.db, userID)
}

func (s *Service) EnsureWalletTx(ctx context.Context, tx *gorm.DB, userID int64) (*walletdomain.Wallet, error) {
	if userID == 0 {
		return nil, walletdomain.ErrWalletNotFound
	}

	now := s.clock.Now()
	res := tx.WithContext(ctx).Exec(
		`INSERT INTO wallets (id, user_id, balance_paise, created_at, updated_at)
		 VALUES (?, ?, 0, ?, ?)
		 ON CONFLICT (user_id) DO NOTHING`,
		s.genID.Generate(), userID, now, now,
	)
	if res.Error != nil {
		return nil, res.Error
	}

	var wallet walletdomain.Wallet
	if err := tx.WithContext(ctx).Where("user_id = ?", userID).First(&wallet).Error; err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (s *Service) GetByUser(ctx context.Context, userID int64) (*walletdomain.Wallet, error) {
	var wallet walletdomain.Wallet
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&wallet).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, walletdomain.ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (s *Service) Ledger(ctx context.Context, userID int64, limit int, before time.Time) ([]*walletdomain.LedgerEntry, error) {
	wallet, err := s.GetByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).
		Where("wallet_id = ?", wallet.ID).
		Order("created_at DESC").
		Limit(limit)
	if !before.IsZero() {
		query = query.Where("created_at < ?", before)
	}

	var entries []*walletdomain.LedgerEntry
	if err := query.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// CreditTx posts a credit inside the caller's transaction. The ledger
// conflict guard makes replays a no-op: applied=false means this
// (local_txn_id, entry_type) pair was already posted and the balance was
// not touched.
func (s *Service) CreditTx(ctx context.Context, tx *gorm.DB, userID int64, localTxnID string, entryType walletdomain.EntryType, amountPaise int64, note string) (bool, error) {
	if amountPaise <= 0 {
		return false, walletdomain.ErrInvalidAmount
	}

	wallet, err := s.lockWallet(ctx, tx, userID)
	if err != nil {
		return false, err
	}

	now := s.clock.Now()
	balanceAfter := wallet.BalancePaise + amountPaise

	inserted, err := s.insertLedger(ctx, tx, wallet.ID, localTxnID, entryType, amountPaise, balanceAfter, note, now)
	if err != nil || !inserted {
		return false, err
	}

	return true, s.setBalance(ctx, tx, wallet.ID, balanceAfter, now)
}

// DebitTx posts a debit inside the caller's transaction, failing when the
// balance would go negative.
func (s *Service) DebitTx(ctx context.Context, tx *gorm.DB, userID int64, localTxnID string, amountPaise int64, note string) (bool, error) {
	if amountPaise <= 0 {
		return false, walletdomain.ErrInvalidAmount
	}

	wallet, err := s.lockWallet(ctx, tx, userID)
	if err != nil {
		return false, err
	}
	if wallet.BalancePaise < amountPaise {
		return false, walletdomain.ErrInsufficientBalance
	}

	now := s.clock.Now()
	balanceAfter := wallet.BalancePaise - amountPaise

	inserted, err := s.insertLedger(ctx, tx, wallet.ID, localTxnID, walletdomain.EntryDebit, -amountPaise, balanceAfter, note, now)
	if err != nil || !inserted {
		return false, err
	}

	return true, s.setBalance(ctx, tx, wallet.ID, balanceAfter, now)
}

func (s *Service) lockWallet(ctx context.Context, tx *gorm.DB, userID int64) (*walletdomain.Wallet, error) {
	var wallet walletdomain.Wallet
	err := db.ForUpdate(tx.WithContext(ctx)).
		Where("user_id = ?", userID).
		First(&wallet).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, walletdomain.ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (s *Service) insertLedger(ctx context.Context, tx *gorm.DB, walletID snowflake.ID, localTxnID string, entryType walletdomain.EntryType, amountPaise, balanceAfter int64, note string, now time.Time) (bool, error) {
	var ref *string
	if trimmed := strings.TrimSpace(localTxnID); trimmed != "" {
		ref = &trimmed
	}

	res := tx.WithContext(ctx).Exec(
		`INSERT INTO wallet_ledger (
			id, wallet_id, local_txn_id, entry_type, amount_paise,
			balance_after_paise, note, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (local_txn_id, entry_type) WHERE local_txn_id IS NOT NULL DO NOTHING`,
		s.genID.Generate(), walletID, ref, entryType, amountPaise,
		balanceAfter, note, now,
	)
	if res.Error != nil {
		if db.IsDuplicateKeyErr(res.Error) {
			return false, nil
		}
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		s.log.Debug("duplicate ledger posting skipped",
			zap.String("local_txn_id", localTxnID),
			zap.String("entry_type", string(entryType)),
		)
		return false, nil
	}
	return true, nil
}

func (s *Service) setBalance(ctx context.Context, tx *gorm.DB, walletID snowflake.ID, balancePaise int64, now time.Time) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE wallets SET balance_paise = ?, updated_at = ? WHERE id = ?`,
		balancePaise, now, walletID,
	).Error
}
