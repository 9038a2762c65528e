package recharge

import (
	"context"
	"sync"

	"github.com/fleetsutra/fastag/internal/recharge/service"
	"go.uber.org/zap"
)

// Dispatcher fans confirmed transactions out to recharge workers. The
// in-flight set deduplicates bursts of confirmations for the same
// reference; correctness still rests on the db-level PROCESSING claim.
// The backlog is unbounded: a PAID transaction has no other path to the
// provider, so an enqueue is never dropped.
type Dispatcher struct {
	svc service.Service
	log *zap.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	backlog  []string
	inflight map[string]struct{}
	stopped  bool
	workers  int
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

func NewDispatcher(svc service.Service, log *zap.Logger) *Dispatcher {
	d := &Dispatcher{
		svc:      svc,
		log:      log.Named("recharge.dispatcher"),
		inflight: map[string]struct{}{},
		workers:  4,
	}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// Enqueue hands a transaction to the workers. Never blocks and never
// drops; a reference already queued or being processed is deduplicated.
func (d *Dispatcher) Enqueue(localTxnID string) {
	if localTxnID == "" {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if _, busy := d.inflight[localTxnID]; busy {
		return
	}
	d.inflight[localTxnID] = struct{}{}
	d.backlog = append(d.backlog, localTxnID)
	d.cond.Signal()
}

func (d *Dispatcher) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	d.cancel = cancel
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.run(ctx)
	}
	go func() {
		<-ctx.Done()
		d.mu.Lock()
		d.stopped = true
		d.mu.Unlock()
		d.cond.Broadcast()
	}()
}

func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()
	for {
		localTxnID, ok := d.next()
		if !ok {
			return
		}
		if err := d.svc.Process(ctx, localTxnID); err != nil {
			d.log.Error("recharge processing failed",
				zap.String("local_txn_id", localTxnID),
				zap.Error(err),
			)
		}
		d.release(localTxnID)
	}
}

// next blocks until a reference is available or the dispatcher stops.
func (d *Dispatcher) next() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for len(d.backlog) == 0 && !d.stopped {
		d.cond.Wait()
	}
	if d.stopped {
		return "", false
	}
	localTxnID := d.backlog[0]
	d.backlog = d.backlog[1:]
	return localTxnID, true
}

func (d *Dispatcher) release(localTxnID string) {
	d.mu.Lock()
	delete(d.inflight, localTxnID)
	d.mu.Unlock()
}
