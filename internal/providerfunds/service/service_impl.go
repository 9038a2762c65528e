package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/fleetsutra/fastag/internal/clock"
	fundsdomain "github.com/fleetsutra/fastag/internal/providerfunds/domain"
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

func NewService(p Params) fundsdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("providerfunds.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) Get(ctx context.Context, provider string) (*fundsdomain.Balance, error) {
	provider = normalizeProvider(provider)
	if provider == "" {
		return nil, fundsdomain.ErrUnknownProvider
	}

	var balance fundsdomain.Balance
	err := s.db.WithContext(ctx).
		Where("provider = ?", provider).
		First(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fundsdomain.ErrUnknownProvider
	}
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

// TopUp adds float for a provider, creating the row on first use.
func (s *Service) TopUp(ctx context.Context, provider string, amountPaise int64) (*fundsdomain.Balance, error) {
	provider = normalizeProvider(provider)
	if provider == "" {
		return nil, fundsdomain.ErrUnknownProvider
	}
	if amountPaise <= 0 {
		return nil, fundsdomain.ErrInvalidAmount
	}

	now := s.clock.Now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.WithContext(ctx).Exec(
			`INSERT INTO provider_balances (id, provider, balance_paise, reserved_paise, updated_at)
			 VALUES (?, ?, 0, 0, ?)
			 ON CONFLICT (provider) DO NOTHING`,
			s.genID.Generate(), provider, now,
		)
		if res.Error != nil {
			return res.Error
		}
		return tx.WithContext(ctx).Exec(
			`UPDATE provider_balances
			 SET balance_paise = balance_paise + ?, updated_at = ?
			 WHERE provider = ?`,
			amountPaise, now, provider,
		).Error
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("provider funds topped up",
		zap.String("provider", provider),
		zap.Int64("amount_paise", amountPaise),
	)
	return s.Get(ctx, provider)
}

// ReserveTx claims float for one recharge. Returns false without error when
// the available float cannot cover the amount.
func (s *Service) ReserveTx(ctx context.Context, tx *gorm.DB, provider string, amountPaise int64) (bool, error) {
	provider = normalizeProvider(provider)
	if amountPaise <= 0 {
		return false, fundsdomain.ErrInvalidAmount
	}

	var balance fundsdomain.Balance
	err := db.ForUpdate(tx.WithContext(ctx)).
		Where("provider = ?", provider).
		First(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if balance.Available() < amountPaise {
		return false, nil
	}

	res := tx.WithContext(ctx).Exec(
		`UPDATE provider_balances
		 SET reserved_paise = reserved_paise + ?, updated_at = ?
		 WHERE provider = ? AND balance_paise - reserved_paise >= ?`,
		amountPaise, s.clock.Now(), provider, amountPaise,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// CommitTx settles a reservation after a successful recharge: the float
// shrinks and the hold is released together.
func (s *Service) CommitTx(ctx context.Context, tx *gorm.DB, provider string, amountPaise int64) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE provider_balances
		 SET balance_paise = balance_paise - ?, reserved_paise = reserved_paise - ?, updated_at = ?
		 WHERE provider = ?`,
		amountPaise, amountPaise, s.clock.Now(), normalizeProvider(provider),
	).Error
}

// ReleaseTx returns a reservation to the pool after a failed recharge.
func (s *Service) ReleaseTx(ctx context.Context, tx *gorm.DB, provider string, amountPaise int64) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE provider_balances
		 SET reserved_paise = reserved_paise - ?, updated_at = ?
		 WHERE provider = ? AND reserved_paise >= ?`,
		amountPaise, s.clock.Now(), normalizeProvider(provider), amountPaise,
	).Error
}

func normalizeProvider(provider string) string {
	return strings.ToUpper(strings.TrimSpace(provider))
}
