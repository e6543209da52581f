// Package sched implements the task scheduler (spec §4.5): the entry point
// that takes a batch of pending tasks and, for each, either consumes its
// standing reservation or walks the offer pool in configured order,
// handing the first fitting offer to the driver via the offer manager.
package sched

import (
	"strconv"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-memdb"
	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/hashstructure"

	"github.com/taskforge/scheduler/driver"
	"github.com/taskforge/scheduler/filter"
	"github.com/taskforge/scheduler/metrics"
	"github.com/taskforge/scheduler/offers"
	"github.com/taskforge/scheduler/reservation"
	"github.com/taskforge/scheduler/state"
	"github.com/taskforge/scheduler/structs"
)

// AgentReserver resolves a job-update-driven agent reservation for a
// task, if the task belongs to an active job update (spec §4.5: "the
// UpdateAgentReserver interface for tasks belonging to an active job
// update"). Supplied by the job-update component, out of this package's
// scope; callers that have no job-update collaborator pass nil.
type AgentReserver interface {
	Reservation(taskID string) (agentID string, ok bool)
}

// Config tunes batching and offer ordering for one Scheduler.
type Config struct {
	// BatchSize is the number of pending tasks grouped into one batch;
	// Schedule splits its input into batches of this size and processes
	// all of them in the same call (spec §4.5 step 1; default 5).
	BatchSize int

	// OrderPolicies is the offer-ordering composite applied when walking
	// the pool for a task with no standing reservation.
	OrderPolicies []offers.OrderPolicy
}

// DefaultConfig returns the reference tuning used by the scenario tests.
func DefaultConfig() Config {
	return Config{
		BatchSize:     5,
		OrderPolicies: []offers.OrderPolicy{offers.FIFO},
	}
}

// Scheduler is the task scheduler (spec §4.5).
type Scheduler struct {
	cfg Config

	offers         *offers.Manager
	state          *state.Manager
	oracle         filter.LimitOracle
	reservations   *reservation.Map
	updateReserver AgentReserver
	drv            driver.Driver
	logger         hclog.Logger
	metrics        metrics.Recorder
}

// SetMetrics wires a metrics.Recorder for schedule-pass latency. Defaults
// to a no-op recorder.
func (s *Scheduler) SetMetrics(r metrics.Recorder) { s.metrics = r }

// New wires a Scheduler from its explicit collaborators (spec §9: explicit
// constructor wiring, no DI container). updateReserver and reservations
// may be nil/zero if job updates and preemption are not wired into a
// given deployment.
func New(cfg Config, offerMgr *offers.Manager, stateMgr *state.Manager, oracle filter.LimitOracle, reservations *reservation.Map, updateReserver AgentReserver, drv driver.Driver, logger hclog.Logger) *Scheduler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	return &Scheduler{
		cfg:            cfg,
		offers:         offerMgr,
		state:          stateMgr,
		oracle:         oracle,
		reservations:   reservations,
		updateReserver: updateReserver,
		drv:            drv,
		logger:         logger.Named("scheduler"),
		metrics:        metrics.Nop{},
	}
}

// Schedule attempts to place every task in tasks, batched per cfg.BatchSize,
// in input order within each batch (spec §4.5). It returns the ids that
// transitioned to ASSIGNED; a per-task failure is aggregated into the
// returned error without aborting the rest of the batch (spec §7.1).
func (s *Scheduler) Schedule(tasks []*structs.Task) ([]string, error) {
	defer s.metrics.MeasureSince(metrics.SchedulePassTimer, time.Now())

	// Rebuild the limit-constraint oracle fresh for this pass from the
	// live occupying-task census (spec §4.1) rather than trusting whatever
	// snapshot was wired in at construction time. A rebuild failure falls
	// back to the constructor-supplied oracle rather than aborting the
	// whole batch.
	oracle := s.oracle
	if fresh, err := s.state.BuildLimitOracle(); err != nil {
		s.logger.Warn("rebuild limit oracle failed, using prior snapshot", "error", err)
	} else {
		oracle = fresh
	}

	var scheduled []string
	var result *multierror.Error

	for _, batch := range chunk(tasks, s.cfg.BatchSize) {
		for _, task := range batch {
			ok, err := s.scheduleOne(task, oracle)
			if err != nil {
				result = multierror.Append(result, err)
				continue
			}
			if ok {
				scheduled = append(scheduled, task.ID)
			}
		}
	}

	return scheduled, result.ErrorOrNil()
}

// scheduleOne implements spec §4.5 steps 2a-2c for a single task.
func (s *Scheduler) scheduleOne(task *structs.Task, oracle filter.LimitOracle) (bool, error) {
	if agentID, ok := s.reservedAgent(task.ID); ok {
		fit := s.buildFit(task, oracle)
		return s.offers.LaunchOnAgent(task, agentID, fit, s.launchHandler(task))
	}

	fit := s.buildFit(task, oracle)
	return s.offers.LaunchFirst(task, s.cfg.OrderPolicies, fit, s.launchHandler(task))
}

// reservedAgent consumes whichever standing reservation applies to
// taskID, preferring an active job update's reservation over a
// preemption-granted one (spec §4.5: both "use" the same consume-once
// semantics; a job update in flight takes precedence since it reflects a
// more specific, operator-driven placement decision).
func (s *Scheduler) reservedAgent(taskID string) (string, bool) {
	if s.updateReserver != nil {
		if agentID, ok := s.updateReserver.Reservation(taskID); ok {
			return agentID, true
		}
	}
	if s.reservations != nil {
		return s.reservations.Consume(taskID)
	}
	return "", false
}

// buildFit returns the stateful fit predicate the offer manager calls
// per candidate offer: it evaluates the scheduling filter and, on any
// veto, registers a static ban for (job, resource-signature) before
// reporting no-fit (spec §4.5 step 2b, §4.1).
func (s *Scheduler) buildFit(task *structs.Task, oracle filter.LimitOracle) offers.FitPredicate {
	groupKey := resourceSignature(task)

	return func(t *structs.Task, offer structs.Offer) (bool, string) {
		var attrs structs.HostAttributes
		err := s.state.Store().Read(func(txn *memdb.Txn) error {
			got, _, rerr := state.AttributeStore{}.Get(txn, offer.Host)
			attrs = got
			return rerr
		})
		if err != nil {
			s.logger.Warn("read host attributes failed, treating offer as unfit", "host", offer.Host, "error", err)
			return false, groupKey
		}

		vetoes := filter.Fit(t, offer.Resources, attrs, oracle)
		if len(vetoes) > 0 {
			s.offers.BanOffer(offer.ID, groupKey)
			return false, groupKey
		}
		return true, groupKey
	}
}

// launchHandler returns the callback the offer manager invokes once a
// fitting offer has been found and removed from the pool: assign the
// task's resources and port bindings, transition it to ASSIGNED, and hand
// the launch to the driver (spec §4.5 step 2b).
func (s *Scheduler) launchHandler(task *structs.Task) func(structs.Offer) error {
	return func(offer structs.Offer) error {
		assign := func(t *structs.Task) (map[string]int32, error) {
			return assignPorts(t, offer)
		}

		assigned, err := s.state.AssignTask(task.ID, offer.Host, offer.AgentID, assign)
		if err != nil {
			return err
		}

		if s.drv != nil {
			if err := s.drv.LaunchTask(offer.ID, assigned); err != nil {
				s.logger.Warn("launch task failed, relying on reconciliation to converge", "task_id", assigned.ID, "offer_id", offer.ID, "error", err)
			}
		}
		return nil
	}
}

// resourceSignature is the "(job, resource-signature)" static-ban key
// from spec §4.5 and §3: a stable hash over the task's resource request
// and constraint set, so two tasks of the same job requesting identical
// placement share a ban.
func resourceSignature(task *structs.Task) string {
	type signature struct {
		Req  structs.Resources
		Cons []structs.Constraint
	}
	h, err := hashstructure.Hash(signature{Req: task.Req, Cons: task.Cons}, nil)
	if err != nil {
		// hashstructure only fails on unsupported reflect kinds; Resources
		// and Constraint are plain value types, so this indicates a bug.
		panic("sched: hash resource signature: " + err.Error())
	}
	return task.Job.String() + ":" + strconv.FormatUint(h, 10)
}

// chunk splits tasks into contiguous batches of at most size elements.
func chunk(tasks []*structs.Task, size int) [][]*structs.Task {
	if size <= 0 {
		size = len(tasks)
	}
	var out [][]*structs.Task
	for i := 0; i < len(tasks); i += size {
		end := i + size
		if end > len(tasks) {
			end = len(tasks)
		}
		out = append(out, tasks[i:end])
	}
	return out
}
