package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fleetsutra/fastag/internal/clock"
	"github.com/fleetsutra/fastag/internal/config"
	"github.com/fleetsutra/fastag/internal/observability/metrics"
	"github.com/fleetsutra/fastag/internal/recon"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("scheduler: invalid configuration")

const (
	JobStatusPoll = "upi_status_poll"
	JobCSVRecon   = "csv_recon"
	JobStaleSweep = "stale_sweep"

	jobTimeout = 5 * time.Minute
)

type Params struct {
	fx.In

	Log          *zap.Logger
	Holder       *config.ReconConfigHolder
	Clock        clock.Clock
	StatusPoller *recon.StatusPoller
	CSVPoller    *recon.CSVPoller
	Sweeper      *recon.Sweeper
	Metrics      *metrics.Metrics `optional:"true"`
}

// Scheduler drives the reconciliation jobs. Each job runs on its own
// ticker so the fast status poller never waits on the slower sweeps.
// Intervals are re-read from the config holder on every cycle, so a
// hot reload takes effect without a restart.
type Scheduler struct {
	log     *zap.Logger
	holder  *config.ReconConfigHolder
	clock   clock.Clock
	status  *recon.StatusPoller
	csv     *recon.CSVPoller
	sweeper *recon.Sweeper
	metrics *metrics.Metrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Holder == nil || p.Clock == nil || p.StatusPoller == nil || p.CSVPoller == nil || p.Sweeper == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:     p.Log.Named("scheduler"),
		holder:  p.Holder,
		clock:   p.Clock,
		status:  p.StatusPoller,
		csv:     p.CSVPoller,
		sweeper: p.Sweeper,
		metrics: p.Metrics,
	}, nil
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) error) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, jobTimeout)
	defer cancel()

	err := fn(ctx)
	elapsed := s.clock.Now().Sub(start).Seconds()

	outcome := metrics.OutcomeOK
	if err != nil {
		outcome = metrics.OutcomeError
	}
	if s.metrics != nil {
		s.metrics.RecordJobRun(name, outcome, elapsed)
	}
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", jobTimeout),
			zap.Error(err),
		)
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce runs every job a single time and joins their errors.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var err error
	err = errors.Join(err, s.runJob(ctx, JobStatusPoll, s.status.RunOnce))
	err = errors.Join(err, s.runJob(ctx, JobCSVRecon, s.csv.RunOnce))
	err = errors.Join(err, s.runJob(ctx, JobStaleSweep, s.sweeper.RunOnce))
	return err
}

// RunForever runs each job on its own ticker until ctx is cancelled.
func (s *Scheduler) RunForever(ctx context.Context) {
	jobs := []struct {
		Name     string
		Interval func() time.Duration
		Run      func(context.Context) error
	}{
		{JobStatusPoll, func() time.Duration { return s.holder.Get().Status.Interval }, s.status.RunOnce},
		{JobCSVRecon, func() time.Duration { return s.holder.Get().CSV.Interval }, s.csv.RunOnce},
		{JobStaleSweep, func() time.Duration { return s.holder.Get().Sweep.Interval }, s.sweeper.RunOnce},
	}

	var wg sync.WaitGroup
	for _, job := range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runLoop(ctx, job.Name, job.Interval, job.Run)
		}()
	}
	wg.Wait()
}

func (s *Scheduler) runLoop(ctx context.Context, name string, interval func() time.Duration, fn func(context.Context) error) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if err := s.runJob(ctx, name, fn); err != nil {
			s.log.Warn("job run failed",
				zap.String("job", name),
				zap.Error(err),
			)
		}

		next := interval()
		if next <= 0 {
			next = time.Minute
		}
		timer.Reset(next)
	}
}
