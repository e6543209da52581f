// Command schedulerd is the explicit wiring entrypoint for the scheduler
// core (spec §9: dependency injection via explicit constructor wiring, no
// DI container, every collaborator passed to its consumer's constructor by
// hand). It owns the lifetime of the three periodic workers named in
// spec §5.1 — offer return-timers (self-starting inside the offer
// manager), the preemptor's search loop, and the reconciliation loop — and
// stops them all via one context cancelled on SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-memdb"
	"golang.org/x/sync/errgroup"

	"github.com/taskforge/scheduler/clock"
	"github.com/taskforge/scheduler/config"
	"github.com/taskforge/scheduler/driver"
	"github.com/taskforge/scheduler/event"
	"github.com/taskforge/scheduler/filter"
	"github.com/taskforge/scheduler/fsm"
	"github.com/taskforge/scheduler/idgen"
	"github.com/taskforge/scheduler/metrics"
	"github.com/taskforge/scheduler/offers"
	"github.com/taskforge/scheduler/preempt"
	"github.com/taskforge/scheduler/reconcile"
	"github.com/taskforge/scheduler/reservation"
	"github.com/taskforge/scheduler/sched"
	"github.com/taskforge/scheduler/state"
	"github.com/taskforge/scheduler/structs"
)

// Components is every constructed collaborator, returned by Wire so
// callers (main, and integration tests) can reach into the stack without
// re-deriving it.
type Components struct {
	Logger       hclog.Logger
	Clock        clock.Clock
	State        *state.Manager
	Offers       *offers.Manager
	Oracle       filter.LimitOracle
	Reservations *reservation.Map
	Scheduler    *sched.Scheduler
	Preemptor    *preempt.Preemptor
	PreemptLoop  *preempt.Loop
	Reconcile    *reconcile.Loop
}

// Wire constructs every component of the scheduler core from cfg, clk, and
// drv, with no container or reflection — each constructor call lists its
// collaborators explicitly (spec §9).
func Wire(cfg *config.Config, clk clock.Clock, drv driver.Driver, logger hclog.Logger) (*Components, error) {
	sink := event.NewSink(logger, 256)

	store, err := state.NewStore(clk, sink, logger)
	if err != nil {
		return nil, err
	}

	ids := idgen.Generator{}
	machine := &fsm.Machine{
		Retry:    fsm.DefaultRetryPolicy{},
		Flap:     fsm.DefaultFlapOracle{},
		IDs:      ids,
		Hostname: hostnameOrDefault(),
	}
	stateMgr := state.NewManager(store, machine, ids, clk, drv, logger)

	offerMgr := offers.NewManager(cfg.Offer, clk, drv, logger)
	oracle := filter.NewRadixLimitOracle()
	reservations := reservation.NewMap(clk)

	scheduler := sched.New(cfg.Schedule, offerMgr, stateMgr, oracle, reservations, nil, drv, logger)

	preemptor := preempt.New(cfg.Preemptor.Core, stateMgr, offerMgr, oracle, reservations, logger)

	var preemptLoop *preempt.Loop
	if cfg.Preemptor.Enabled {
		pendingSource := func() ([]*structs.Task, error) {
			var pending []*structs.Task
			err := stateMgr.Store().Read(func(txn *memdb.Txn) error {
				var err error
				pending, err = state.TaskStore{}.ByStatus(txn, structs.StatusPending)
				return err
			})
			return pending, err
		}
		preemptLoop = preempt.NewLoop(preemptor, clk, cfg.Preemptor.SearchInterval, cfg.Preemptor.Delay, pendingSource)
	}

	reconcileLoop := reconcile.New(cfg.Reconciliation, stateMgr, drv, clk, logger)

	return &Components{
		Logger:       logger,
		Clock:        clk,
		State:        stateMgr,
		Offers:       offerMgr,
		Oracle:       oracle,
		Reservations: reservations,
		Scheduler:    scheduler,
		Preemptor:    preemptor,
		PreemptLoop:  preemptLoop,
		Reconcile:    reconcileLoop,
	}, nil
}

// WireMetrics attaches a single metrics.Recorder to every component that
// reports instrumentation, once a sink has been chosen (main does this
// with a go-metrics sink; tests may skip it entirely and keep the no-op
// default each constructor already carries).
func (c *Components) WireMetrics(r metrics.Recorder) {
	c.Offers.SetMetrics(r)
	c.Scheduler.SetMetrics(r)
	c.Preemptor.SetMetrics(r)
}

// Run starts the preemptor's search loop and the reconciliation loop and
// blocks until ctx is cancelled (spec §5.1). Offer return-timers are
// already running — they start per-offer inside offers.Manager.AddOffer
// and need no separate driver here.
func (c *Components) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	if c.PreemptLoop != nil {
		g.Go(func() error { return c.PreemptLoop.Run(gctx) })
	}
	g.Go(func() error { return c.Reconcile.Run(gctx) })
	return g.Wait()
}

func hostnameOrDefault() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "unknown-host"
	}
	return h
}

func main() {
	configPath := flag.String("config", "", "path to scheduler.hcl; if unset, reference defaults are used")
	flag.Parse()

	logger := hclog.New(&hclog.LoggerOptions{Name: "schedulerd", Level: hclog.Info})

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logger.Error("load config failed", "path", *configPath, "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	// The cluster-message driver is an external collaborator (spec §1,
	// out of scope for the core); loggingDriver is a placeholder so this
	// binary runs standalone until a real transport is wired in.
	drv := loggingDriver{logger: logger.Named("driver")}

	components, err := Wire(cfg, clock.System(), drv, logger)
	if err != nil {
		logger.Error("wire components failed", "error", err)
		os.Exit(1)
	}

	rec, sink := metrics.NewInmem("schedulerd")
	_ = sink
	components.WireMetrics(rec)

	if err := components.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("worker exited", "error", err)
		os.Exit(1)
	}
}

// loggingDriver logs every call instead of dispatching it anywhere, so
// schedulerd can run end-to-end without a real cluster-message transport.
type loggingDriver struct {
	logger hclog.Logger
}

func (d loggingDriver) LaunchTask(offerID string, task *structs.Task) error {
	d.logger.Debug("launch task", "offer_id", offerID, "task_id", task.ID)
	return nil
}

func (d loggingDriver) KillTask(taskID string) error {
	d.logger.Debug("kill task", "task_id", taskID)
	return nil
}

func (d loggingDriver) DeclineOffer(offerID string, filterDuration int64) error {
	d.logger.Debug("decline offer", "offer_id", offerID, "filter_seconds", filterDuration)
	return nil
}

func (d loggingDriver) ReconcileTasks(statuses []driver.TaskStatusReport) error {
	d.logger.Debug("reconcile tasks", "count", len(statuses))
	return nil
}
