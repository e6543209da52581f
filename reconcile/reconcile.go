// Package reconcile implements the reconciliation loop (spec §6): the
// periodic driver that reports the core's view of slave-assigned tasks to
// the cluster-message driver so it can converge a diverged agent, plus the
// lighter implicit signal that asks the driver to report everything it
// knows without the core paging through its own state first.
package reconcile

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/taskforge/scheduler/clock"
	"github.com/taskforge/scheduler/driver"
	"github.com/taskforge/scheduler/state"
	"github.com/taskforge/scheduler/structs"

	"github.com/hashicorp/go-memdb"
)

// Config tunes both reconciliation tickers and their batching.
type Config struct {
	// ExplicitInterval is the period between explicit-reconciliation
	// passes; ExplicitInitialDelay defers the first one past startup so a
	// freshly elected scheduler isn't immediately flooded.
	ExplicitInterval     time.Duration
	ExplicitInitialDelay time.Duration

	// ImplicitInterval is the period between implicit-reconciliation
	// signals; ImplicitSpread is the maximum random jitter applied to
	// each firing so a fleet of schedulers doesn't signal in lockstep.
	ImplicitInterval time.Duration
	ImplicitSpread   time.Duration

	// BatchSize bounds how many tasks are reported to the driver per
	// explicit-reconciliation call; BatchDelay paces the gap between
	// batches via a rate limiter.
	BatchSize  int
	BatchDelay time.Duration
}

// DefaultConfig returns the reference tuning from spec.md §6's
// configuration-options subset.
func DefaultConfig() Config {
	return Config{
		ExplicitInterval:     60 * time.Minute,
		ExplicitInitialDelay: 10 * time.Minute,
		ImplicitInterval:     180 * time.Minute,
		ImplicitSpread:       30 * time.Minute,
		BatchSize:            500,
		BatchDelay:           100 * time.Millisecond,
	}
}

// slaveAssignedStatuses are the statuses eligible for explicit
// reconciliation: a task the driver is expected to still be tracking on an
// agent.
var slaveAssignedStatuses = structs.OccupyingStatuses

// Loop is the reconciliation driver (spec §6.1).
type Loop struct {
	cfg    Config
	state  *state.Manager
	driver driver.Driver
	clock  clock.Clock
	logger hclog.Logger
	rng    jitterFunc
}

// jitterFunc returns a random duration in [0, max); supplied so tests can
// pin it deterministically.
type jitterFunc func(max time.Duration) time.Duration

// New wires a Loop from its explicit collaborators.
func New(cfg Config, stateMgr *state.Manager, drv driver.Driver, clk clock.Clock, logger hclog.Logger) *Loop {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &Loop{
		cfg:    cfg,
		state:  stateMgr,
		driver: drv,
		clock:  clk,
		logger: logger.Named("reconcile"),
		rng:    defaultJitter,
	}
}

func defaultJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	// Deliberately coarse: the jitter only needs to de-sync schedulers,
	// not provide cryptographic randomness.
	return time.Duration(time.Now().UnixNano() % int64(max))
}

// Run starts both tickers and blocks until ctx is cancelled, at which point
// both goroutines exit and Run returns nil (spec §5.1: worker
// lifetimes are bounded by context cancellation, never self-managed).
func (l *Loop) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return l.runExplicit(gctx) })
	g.Go(func() error { return l.runImplicit(gctx) })
	return g.Wait()
}

func (l *Loop) runExplicit(ctx context.Context) error {
	if err := l.sleep(ctx, l.cfg.ExplicitInitialDelay); err != nil {
		return nil
	}
	for {
		if err := l.explicitPass(ctx); err != nil {
			l.logger.Warn("explicit reconciliation pass failed", "error", err)
		}
		if err := l.sleep(ctx, l.cfg.ExplicitInterval); err != nil {
			return nil
		}
	}
}

func (l *Loop) runImplicit(ctx context.Context) error {
	if err := l.sleep(ctx, l.rng(l.cfg.ImplicitSpread)); err != nil {
		return nil
	}
	for {
		if err := l.driver.ReconcileTasks(nil); err != nil {
			l.logger.Warn("implicit reconciliation signal failed", "error", err)
		}
		if err := l.sleep(ctx, l.cfg.ImplicitInterval+l.rng(l.cfg.ImplicitSpread)); err != nil {
			return nil
		}
	}
}

// explicitPass pages every slave-assigned task through the driver in
// BatchSize chunks, pacing the gap between chunks with a rate limiter built
// from BatchDelay (spec §6.1).
func (l *Loop) explicitPass(ctx context.Context) error {
	var tasks []*structs.Task
	err := l.state.Store().Read(func(txn *memdb.Txn) error {
		var err error
		tasks, err = state.TaskStore{}.BySlaveAssignedStatus(txn, slaveAssignedStatuses...)
		return err
	})
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return nil
	}

	limiter := rate.NewLimiter(rate.Every(l.cfg.BatchDelay), 1)
	for _, batch := range chunk(tasks, l.cfg.BatchSize) {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		reports := make([]driver.TaskStatusReport, len(batch))
		for i, t := range batch {
			reports[i] = driver.TaskStatusReport{TaskID: t.ID, Status: t.State}
		}
		if err := l.driver.ReconcileTasks(reports); err != nil {
			l.logger.Warn("reconcile batch failed", "batch_size", len(batch), "error", err)
		}
	}
	return nil
}

// sleep blocks for d or until ctx is cancelled, whichever comes first.
func (l *Loop) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
	timer := l.clock.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C():
		return nil
	}
}

func chunk(tasks []*structs.Task, size int) [][]*structs.Task {
	if size <= 0 {
		size = len(tasks)
	}
	var out [][]*structs.Task
	for len(tasks) > 0 {
		n := size
		if n > len(tasks) {
			n = len(tasks)
		}
		out = append(out, tasks[:n])
		tasks = tasks[n:]
	}
	return out
}
