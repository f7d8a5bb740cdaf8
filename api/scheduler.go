/*
scheduler.go - Automated invoice reconciliation scheduler

PURPOSE:
  Periodically validates every stored invoice total against the sum of its
  lines and records the outcome, so a discrepancy introduced outside the
  assembler (manual edits, partial restores) is reported without anyone
  having to open the invoice.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Reports discrepancies, never corrects them
  - Records every sweep (including failed ones) for audit and the
    GET /api/reconciliation/latest endpoint

CONFIGURATION:
  - CheckInterval: How often to sweep (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewReconciliationScheduler(store, reconciler, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunReconciliation endpoint (manual sweep)
  - billing/reconcile.go: Reconciler
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/warp/fee-engine/billing"
	"github.com/warp/fee-engine/store/sqlite"
)

// ReconciliationScheduler runs invoice reconciliation on a fixed interval.
type ReconciliationScheduler struct {
	Store         *sqlite.Store
	Reconciler    *billing.Reconciler
	Logger        *slog.Logger
	CheckInterval time.Duration
	Enabled       bool

	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	lastRun *sqlite.RunRecord
}

// NewReconciliationScheduler creates a new scheduler.
func NewReconciliationScheduler(store *sqlite.Store, reconciler *billing.Reconciler, logger *slog.Logger) *ReconciliationScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReconciliationScheduler{
		Store:         store,
		Reconciler:    reconciler,
		Logger:        logger.With("component", "scheduler"),
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
	}
}

// Start begins the scheduler.
func (rs *ReconciliationScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled || rs.CheckInterval <= 0 {
		rs.Logger.Info("scheduler disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)

	go rs.run(rs.ticker.C, rs.stop)

	rs.Logger.Info("scheduler started", "interval", rs.CheckInterval.String())
}

// Stop stops the scheduler and waits for an in-flight sweep to finish.
func (rs *ReconciliationScheduler) Stop() {
	rs.mu.Lock()
	ticker, stop := rs.ticker, rs.stop
	rs.ticker = nil
	rs.mu.Unlock()

	if ticker != nil {
		ticker.Stop()
		close(stop)
		rs.wg.Wait()
		rs.Logger.Info("scheduler stopped")
	}
}

func (rs *ReconciliationScheduler) run(tick <-chan time.Time, stop <-chan struct{}) {
	defer rs.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	// Run immediately on start
	rs.RunNow(ctx)

	for {
		select {
		case <-tick:
			rs.RunNow(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunNow performs one sweep immediately and returns its record.
func (rs *ReconciliationScheduler) RunNow(ctx context.Context) *sqlite.RunRecord {
	run, err := reconcileAndRecord(ctx, rs.Store, rs.Reconciler)
	if err != nil {
		rs.Logger.ErrorContext(ctx, "reconciliation sweep failed", "error", err)
	}
	if run != nil {
		rs.mu.Lock()
		rs.lastRun = run
		rs.mu.Unlock()
	}
	return run
}

// LastRun returns the most recent sweep this scheduler performed, or nil.
func (rs *ReconciliationScheduler) LastRun() *sqlite.RunRecord {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.lastRun
}

// reconcileAndRecord sweeps every invoice and stores the outcome. A failed
// sweep is still recorded, with its error. The returned record is nil only
// when nothing could be stored.
func reconcileAndRecord(ctx context.Context, store *sqlite.Store, reconciler *billing.Reconciler) (*sqlite.RunRecord, error) {
	started := time.Now().UTC()
	record := sqlite.RunRecord{ID: "run-" + uuid.NewString(), StartedAt: started}

	result, runErr := reconciler.ReconcileAll(ctx)
	if runErr != nil {
		record.Error = runErr.Error()
		record.FinishedAt = time.Now().UTC()
	} else {
		record.StartedAt = result.StartedAt
		record.FinishedAt = result.FinishedAt
		record.Checked = result.Checked
		record.Discrepancies = result.Discrepancies
	}

	// Record even when ctx was cancelled mid-sweep.
	if err := store.SaveReconciliationRun(context.WithoutCancel(ctx), record); err != nil {
		return nil, err
	}
	return &record, runErr
}
