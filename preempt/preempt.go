// Package preempt implements the preemptor (spec §4.6): the periodic
// driver that, given the pending-task backlog, searches for feasible
// victim sets on currently occupied agents and reserves the freed
// capacity for the displacing task.
package preempt

import (
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/taskforge/scheduler/filter"
	"github.com/taskforge/scheduler/fsm"
	"github.com/taskforge/scheduler/metrics"
	"github.com/taskforge/scheduler/offers"
	"github.com/taskforge/scheduler/reservation"
	"github.com/taskforge/scheduler/state"
	"github.com/taskforge/scheduler/structs"
)

// Config tunes batching and reservation lifetime for one Preemptor.
type Config struct {
	// MaxBatchSize bounds the number of preemption decisions made in one
	// FindSlots invocation (spec §4.6: "reservationMaxBatchSize").
	MaxBatchSize int

	// ReservationTTL is how long a granted (agent, task) reservation
	// remains valid for the task scheduler to consume (spec §4.6:
	// "bounded lifetime ... effectively until the next snapshot
	// contradicts it").
	ReservationTTL time.Duration
}

// DefaultConfig returns the reference tuning used by the scenario tests.
func DefaultConfig() Config {
	return Config{
		MaxBatchSize:   20,
		ReservationTTL: 10 * time.Minute,
	}
}

// Preemptor is the preemption driver (spec §4.6).
type Preemptor struct {
	cfg Config

	state        *state.Manager
	offers       *offers.Manager
	oracle       filter.LimitOracle
	reservations *reservation.Map
	logger       hclog.Logger
	metrics      metrics.Recorder
}

// SetMetrics wires a metrics.Recorder for the preemptions-issued counter.
// Defaults to a no-op recorder.
func (p *Preemptor) SetMetrics(r metrics.Recorder) { p.metrics = r }

// New wires a Preemptor from its explicit collaborators (spec §9).
func New(cfg Config, stateMgr *state.Manager, offerMgr *offers.Manager, oracle filter.LimitOracle, reservations *reservation.Map, logger hclog.Logger) *Preemptor {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 20
	}
	if cfg.ReservationTTL <= 0 {
		cfg.ReservationTTL = 10 * time.Minute
	}
	return &Preemptor{
		cfg:          cfg,
		state:        stateMgr,
		offers:       offerMgr,
		oracle:       oracle,
		reservations: reservations,
		logger:       logger.Named("preemptor"),
		metrics:      metrics.Nop{},
	}
}

// decision is one (pending task, agent, victim set) triple chosen by a
// FindSlots pass.
type decision struct {
	task    *structs.Task
	agentID string
	victims []*structs.Task
}

// FindSlots runs one preemption pass over pending (spec §4.6 steps 1-5):
// it builds a cluster snapshot, walks pending in priority-then-arrival
// order, and for each task still unplaced after reserving any feasible
// victim set, issues KILL for the victims and grants a bounded-lifetime
// reservation. Returns the number of preemption decisions made.
func (p *Preemptor) FindSlots(pending []*structs.Task) (int, error) {
	snap, err := p.buildSnapshot()
	if err != nil {
		return 0, err
	}

	oracle := p.oracle
	if fresh, err := p.state.BuildLimitOracle(); err != nil {
		p.logger.Warn("rebuild limit oracle failed, using prior snapshot", "error", err)
	} else {
		oracle = fresh
	}

	ordered := make([]*structs.Task, len(pending))
	copy(ordered, pending)
	sort.SliceStable(ordered, func(i, j int) bool {
		ti, tj := ordered[i].Tier, ordered[j].Tier
		if ti != tj {
			return tj.LowerThan(ti) // ordered[i] outranks ordered[j]
		}
		return arrivalMillis(ordered[i]) < arrivalMillis(ordered[j])
	})

	var result *multierror.Error
	count := 0
	for _, task := range ordered {
		if count >= p.cfg.MaxBatchSize {
			break
		}

		d, ok := p.findVictimSet(task, snap, oracle)
		if !ok {
			continue
		}

		if err := p.apply(d); err != nil {
			result = multierror.Append(result, err)
			continue
		}

		snap.reserve(d.agentID, d.victims)
		p.reservations.Reserve(d.task.ID, d.agentID, p.cfg.ReservationTTL)
		p.metrics.IncrCounter(metrics.PreemptionsIssued, 1)
		count++
	}

	return count, result.ErrorOrNil()
}

// apply issues the KILL side effects for one decision: every victim is
// transitioned PREEMPTING then KILLING (spec §4.6 step 4). A victim whose
// state has moved on since the snapshot was built (a stale CAS) stops the
// decision at that victim: victims earlier in the list have already been
// moved to KILLING and stay so, the remaining ones are left untouched, and
// the caller grants no reservation for the decision.
func (p *Preemptor) apply(d decision) error {
	for _, victim := range d.victims {
		prior := victim.State
		outcome, err := p.state.ChangeState(victim.ID, &prior, structs.StatusPreempting, "preempted to admit higher-priority task")
		if err != nil {
			return err
		}
		if outcome != fsm.Success {
			return fmt.Errorf("preempt: victim %s no longer in expected state %s (%s)", victim.ID, prior, outcome)
		}

		preempting := structs.StatusPreempting
		outcome, err = p.state.ChangeState(victim.ID, &preempting, structs.StatusKilling, "preempting")
		if err != nil {
			return err
		}
		if outcome != fsm.Success {
			return fmt.Errorf("preempt: victim %s failed PREEMPTING->KILLING transition (%s)", victim.ID, outcome)
		}
	}
	return nil
}

// arrivalMillis is the timestamp of a task's first recorded event (its
// insertion into PENDING), used as the tie-break after tier priority.
func arrivalMillis(t *structs.Task) int64 {
	if len(t.Events) == 0 {
		return 0
	}
	return t.Events[0].TimestampMillis
}
