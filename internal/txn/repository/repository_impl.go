package repository

import (
	"context"
	"errors"
	"time"

	"github.com/fleetsutra/fastag/internal/txn/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// jsonValue binds a raw payload as a JSON column value, or NULL when the
// channel never captured one.
func jsonValue(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return datatypes.JSON(raw)
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, txn *domain.Txn) error {
	return db.WithContext(ctx).Create(txn).Error
}

func (r *repo) FindByLocalID(ctx context.Context, db *gorm.DB, localTxnID string) (*domain.Txn, error) {
	var item domain.Txn
	err := db.WithContext(ctx).
		Where("local_txn_id = ?", localTxnID).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repo) FindByPaymentOrderID(ctx context.Context, db *gorm.DB, orderID string) (*domain.Txn, error) {
	var item domain.Txn
	err := db.WithContext(ctx).
		Where("payment_order_id = ?", orderID).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repo) ListByUser(ctx context.Context, db *gorm.DB, userID int64, limit int, before time.Time) ([]*domain.Txn, error) {
	query := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit)
	if !before.IsZero() {
		query = query.Where("created_at < ?", before)
	}

	var items []*domain.Txn
	if err := query.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// MarkPaid applies the single PENDING -> PAID transition and records the
// payment receipt. A replayed confirmation finds no PENDING row and
// reports applied=false.
func (r *repo) MarkPaid(ctx context.Context, db *gorm.DB, localTxnID, paymentID, method string, raw []byte, paidAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE txns
		 SET status = ?, payment_id = ?, payment_method = ?, payment_raw = ?, paid_at = ?, updated_at = ?
		 WHERE local_txn_id = ? AND status = ?`,
		domain.StatusPaid, paymentID, method, jsonValue(raw), paidAt.UTC(), paidAt.UTC(),
		localTxnID, domain.StatusPending,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ClaimProcessing moves PAID -> PROCESSING. Only one worker wins the claim.
func (r *repo) ClaimProcessing(ctx context.Context, db *gorm.DB, localTxnID string) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE txns
		 SET status = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE local_txn_id = ? AND status = ?`,
		domain.StatusProcessing, localTxnID, domain.StatusPaid,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) Complete(ctx context.Context, db *gorm.DB, localTxnID, providerTxnID, providerStatus string, raw []byte, completedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE txns
		 SET status = ?, provider_txn_id = ?, provider_status = ?, provider_raw = ?, completed_at = ?, updated_at = ?
		 WHERE local_txn_id = ? AND status = ?`,
		domain.StatusCompleted, providerTxnID, providerStatus, jsonValue(raw), completedAt.UTC(), completedAt.UTC(),
		localTxnID, domain.StatusProcessing,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) Fail(ctx context.Context, db *gorm.DB, localTxnID, reason, providerStatus string, raw []byte) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE txns
		 SET status = ?, failure_reason = ?, provider_status = ?, provider_raw = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE local_txn_id = ? AND status = ?`,
		domain.StatusFailed, reason, providerStatus, jsonValue(raw),
		localTxnID, domain.StatusProcessing,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ParkProviderFunds(ctx context.Context, db *gorm.DB, localTxnID string) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE txns
		 SET status = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE local_txn_id = ? AND status = ?`,
		domain.StatusPendingProviderFunds, localTxnID, domain.StatusProcessing,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Requeue returns a parked transaction to PAID so the worker can retry it
// after the provider float is topped up.
func (r *repo) Requeue(ctx context.Context, db *gorm.DB, localTxnID string) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE txns
		 SET status = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE local_txn_id = ? AND status = ?`,
		domain.StatusPaid, localTxnID, domain.StatusPendingProviderFunds,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// SweepStale cancels expired PENDING transactions. The status guard keeps
// the sweep from racing a confirmation that lands at the same instant.
func (r *repo) SweepStale(ctx context.Context, db *gorm.DB, before time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE txns
		 SET status = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE status = ? AND created_at < ?`,
		domain.StatusCancelled, domain.StatusPending, before.UTC(),
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repo) ListPollable(ctx context.Context, db *gorm.DB, q domain.PollQuery) ([]*domain.Txn, error) {
	now := q.Now.UTC()
	var items []*domain.Txn
	err := db.WithContext(ctx).
		Where("status = ?", domain.StatusPending).
		Where("channel = ?", domain.ChannelDirectUPI).
		Where("created_at > ?", now.Add(-q.Lookback)).
		Where("poll_attempts < ?", q.MaxAttempts).
		Where("poll_last_at IS NULL OR poll_last_at < ?", now.Add(-q.Throttle)).
		Order("created_at ASC").
		Limit(q.Limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) RecordPollAttempt(ctx context.Context, db *gorm.DB, localTxnID string, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE txns
		 SET poll_attempts = poll_attempts + 1, poll_last_at = ?
		 WHERE local_txn_id = ?`,
		at.UTC(), localTxnID,
	).Error
}

func (r *repo) OldestProcessingSince(ctx context.Context, db *gorm.DB) (*time.Time, error) {
	var item domain.Txn
	err := db.WithContext(ctx).
		Where("status = ?", domain.StatusProcessing).
		Order("updated_at ASC").
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	at := item.UpdatedAt
	return &at, nil
}
