package recon

import (
	"context"

	"github.com/fleetsutra/fastag/internal/clock"
	"github.com/fleetsutra/fastag/internal/config"
	"github.com/fleetsutra/fastag/internal/observability/metrics"
	txndomain "github.com/fleetsutra/fastag/internal/txn/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Sweeper cancels PENDING transactions that outlived the payment window
// and reports the age of the oldest in-flight recharge.
type Sweeper struct {
	db      *gorm.DB
	log     *zap.Logger
	cfg     config.Config
	clock   clock.Clock
	txnRepo txndomain.Repository
	metrics *metrics.Metrics
}

type SweeperParams struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Cfg     config.Config
	Clock   clock.Clock
	TxnRepo txndomain.Repository
	Metrics *metrics.Metrics `optional:"true"`
}

func NewSweeper(p SweeperParams) *Sweeper {
	return &Sweeper{
		db:      p.DB,
		log:     p.Log.Named("recon.sweeper"),
		cfg:     p.Cfg,
		clock:   p.Clock,
		txnRepo: p.TxnRepo,
		metrics: p.Metrics,
	}
}

func (s *Sweeper) RunOnce(ctx context.Context) error {
	now := s.clock.Now()
	cutoff := now.Add(-s.cfg.TxnTTL)

	swept, err := s.txnRepo.SweepStale(ctx, s.db, cutoff)
	if err != nil {
		return err
	}
	if swept > 0 {
		s.log.Info("cancelled stale pending transactions",
			zap.Int64("count", swept),
			zap.Time("cutoff", cutoff),
		)
	}

	oldest, err := s.txnRepo.OldestProcessingSince(ctx, s.db)
	if err != nil {
		return err
	}
	if s.metrics != nil {
		age := 0.0
		if oldest != nil {
			age = now.Sub(*oldest).Seconds()
		}
		s.metrics.SetProcessingOldestAge(age)
	}
	if oldest != nil && now.Sub(*oldest) > s.cfg.TxnTTL {
		s.log.Warn("recharge stuck in PROCESSING beyond the transaction window",
			zap.Time("oldest_updated_at", *oldest),
		)
	}
	return nil
}
