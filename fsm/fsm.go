// Package fsm implements the task lifecycle state machine (spec §4.2): a
// pure-ish transition function that, given a task's current state and a
// requested target, yields an outcome and an ordered list of side effects
// for the state manager to apply inside its write transaction. The machine
// mutates the Task it is handed (appending events, bumping counters) but
// never touches storage, the driver, or the event sink directly.
package fsm

import (
	"fmt"
	"time"

	"github.com/taskforge/scheduler/structs"
)

// Outcome is the result category of a requested transition.
type Outcome int

const (
	Success Outcome = iota
	Illegal
	Noop
	InvalidCAS
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "SUCCESS"
	case Illegal:
		return "ILLEGAL"
	case Noop:
		return "NOOP"
	case InvalidCAS:
		return "INVALID_CAS"
	default:
		return "UNKNOWN"
	}
}

// SideEffect is one action the state manager must carry out, in the order
// the machine emits it.
type SideEffect int

const (
	IncrementFailures SideEffect = iota
	SaveState
	Reschedule
	TransitionToLost
	Kill
	DeleteTask
)

func (e SideEffect) String() string {
	switch e {
	case IncrementFailures:
		return "INCREMENT_FAILURES"
	case SaveState:
		return "SAVE_STATE"
	case Reschedule:
		return "RESCHEDULE"
	case TransitionToLost:
		return "TRANSITION_TO_LOST"
	case Kill:
		return "KILL"
	case DeleteTask:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// TransitionResult is the outcome of one requested transition.
type TransitionResult struct {
	Outcome     Outcome
	SideEffects []SideEffect
	// FinalState is the state the task ends up in when Outcome is Success
	// (it may differ from the requested target — e.g. the PARTITIONED
	// command-arrives-early-LOST case).
	FinalState structs.Status
	// Successor is populated when SideEffects contains Reschedule: the new
	// task to insert, already carrying the bumped failure count, the
	// ancestor id, and its starting state (PENDING or THROTTLED).
	Successor *structs.Task
}

// RetryPolicy decides whether a failed task may be rescheduled.
type RetryPolicy interface {
	AllowRetry(task *structs.Task) bool
}

// FlapOracle reports the flap penalty for a task about to be rescheduled.
// A zero duration means no penalty.
type FlapOracle interface {
	Penalty(task *structs.Task) (time.Duration, string)
}

// IDGenerator mints opaque ids for rescheduled successor tasks.
type IDGenerator interface {
	NewID() (string, error)
}

// Machine is the task state machine, parameterized over the collaborators
// the spec calls out: a retry policy, a flap-penalty oracle, an id
// generator for successor tasks, and the scheduler hostname used for event
// attribution (memoized once per process per spec §4.3).
type Machine struct {
	Retry    RetryPolicy
	Flap     FlapOracle
	IDs      IDGenerator
	Hostname string
}

// legalEdges enumerates every (from, to) pair the machine accepts as a
// direct request (spec §4.2's "Key transitions"). Agent-reported statuses
// and operator commands both funnel through this table; PARTITIONED has
// extra handling layered on top in Transition.
var legalEdges = map[structs.Status]map[structs.Status]bool{
	structs.StatusInit: {
		structs.StatusPending: true,
	},
	structs.StatusPending: {
		structs.StatusAssigned:  true,
		structs.StatusThrottled: true,
		structs.StatusKilled:    true,
	},
	structs.StatusThrottled: {
		structs.StatusPending: true,
		structs.StatusKilled:  true,
	},
	structs.StatusAssigned: {
		structs.StatusStarting: true,
		structs.StatusRunning:  true,
		structs.StatusKilling:  true,
		structs.StatusFailed:   true,
		structs.StatusLost:     true,
	},
	structs.StatusStarting: {
		structs.StatusRunning: true,
		structs.StatusKilling: true,
		structs.StatusFailed:  true,
		structs.StatusLost:    true,
	},
	structs.StatusRunning: {
		structs.StatusPartitioned: true,
		structs.StatusKilling:     true,
		structs.StatusFailed:      true,
		structs.StatusFinished:    true,
		structs.StatusPreempting:  true,
		structs.StatusLost:        true,
	},
	structs.StatusPartitioned: {
		structs.StatusRunning: true,
		structs.StatusLost:    true,
		// any other target is handled specially: see Transition.
	},
	structs.StatusPreempting: {
		structs.StatusKilling: true,
		structs.StatusLost:    true,
	},
	structs.StatusKilling: {
		structs.StatusKilled: true,
		structs.StatusLost:   true,
	},
	structs.StatusRestarting: {
		structs.StatusRunning: true,
		structs.StatusKilling: true,
		structs.StatusLost:    true,
	},
	structs.StatusDraining: {
		structs.StatusKilling: true,
		structs.StatusLost:    true,
	},
}

// Transition applies a requested transition to task. expectedPrior, if
// non-nil, must match task.State or the outcome is InvalidCAS (spec "CAS
// discipline"). now is the event timestamp; message is a human-readable
// audit note.
func (m *Machine) Transition(task *structs.Task, expectedPrior *structs.Status, target structs.Status, message string, now time.Time) TransitionResult {
	if task == nil {
		return TransitionResult{Outcome: InvalidCAS}
	}
	if expectedPrior != nil && *expectedPrior != task.State {
		return TransitionResult{Outcome: InvalidCAS}
	}
	if task.State.Terminal() {
		return TransitionResult{Outcome: Illegal}
	}

	if task.State == target {
		return TransitionResult{Outcome: Noop, FinalState: task.State}
	}

	// Spec §4.2: "if a command arrives while PARTITIONED, emit
	// TRANSITION_TO_LOST before applying" — any request other than the two
	// modeled PARTITIONED edges (back to RUNNING, or on to LOST) is
	// redirected: the task is declared LOST instead of honoring the
	// original command, since the agent that would have carried it out is
	// not known to be present.
	if task.State == structs.StatusPartitioned && target != structs.StatusRunning && target != structs.StatusLost {
		return m.applyPartitionRedirect(task, message, now)
	}

	edges, ok := legalEdges[task.State]
	if !ok || !edges[target] {
		return TransitionResult{Outcome: Illegal}
	}

	switch {
	case target == structs.StatusKilling:
		return m.applyKill(task, target, message, now)
	case task.State == structs.StatusKilling && target == structs.StatusKilled:
		return m.applyKilled(task, target, message, now)
	case target == structs.StatusFailed:
		return m.applyFailed(task, message, now)
	case (task.State == structs.StatusPending || task.State == structs.StatusThrottled) && target == structs.StatusKilled:
		return m.applyCancelPending(task, target, message, now)
	default:
		return m.applyPlainSave(task, target, message, now)
	}
}

func (m *Machine) applyPlainSave(task *structs.Task, target structs.Status, message string, now time.Time) TransitionResult {
	m.setState(task, target, message, now)
	effects := []SideEffect{SaveState}
	if target.Terminal() {
		effects = append(effects, DeleteTask)
	}
	return TransitionResult{Outcome: Success, SideEffects: effects, FinalState: target}
}

func (m *Machine) applyKill(task *structs.Task, target structs.Status, message string, now time.Time) TransitionResult {
	m.setState(task, target, message, now)
	return TransitionResult{Outcome: Success, SideEffects: []SideEffect{Kill, SaveState}, FinalState: target}
}

func (m *Machine) applyKilled(task *structs.Task, target structs.Status, message string, now time.Time) TransitionResult {
	m.setState(task, target, message, now)
	return TransitionResult{Outcome: Success, SideEffects: []SideEffect{SaveState, DeleteTask}, FinalState: target}
}

func (m *Machine) applyCancelPending(task *structs.Task, target structs.Status, message string, now time.Time) TransitionResult {
	m.setState(task, target, message, now)
	return TransitionResult{Outcome: Success, SideEffects: []SideEffect{SaveState, DeleteTask}, FinalState: target}
}

func (m *Machine) applyPartitionRedirect(task *structs.Task, message string, now time.Time) TransitionResult {
	m.setState(task, structs.StatusLost, fmt.Sprintf("command received while partitioned, declaring lost: %s", message), now)
	return TransitionResult{
		Outcome:     Success,
		SideEffects: []SideEffect{TransitionToLost, SaveState, DeleteTask},
		FinalState:  structs.StatusLost,
	}
}

// applyFailed implements RUNNING/ASSIGNED/STARTING -> FAILED: if the retry
// policy allows another attempt, the task is rescheduled (failures bumped
// first so the successor inherits the updated count, per spec), and the
// old task is deleted after its terminal FAILED state is saved. If retries
// are exhausted the task saves as terminal FAILED and is deleted, with no
// successor.
func (m *Machine) applyFailed(task *structs.Task, message string, now time.Time) TransitionResult {
	if !m.Retry.AllowRetry(task) {
		m.setState(task, structs.StatusFailed, message, now)
		return TransitionResult{Outcome: Success, SideEffects: []SideEffect{SaveState, DeleteTask}, FinalState: structs.StatusFailed}
	}

	task.Failures++

	successor, err := m.buildSuccessor(task, now)
	if err != nil {
		// Id generation failure is an invariant violation at the
		// storage/runtime boundary, not a scheduling decision; surface it
		// as Illegal so the caller treats it as a hard stop rather than
		// silently dropping the reschedule.
		task.Failures--
		return TransitionResult{Outcome: Illegal}
	}

	m.setState(task, structs.StatusFailed, message, now)

	return TransitionResult{
		Outcome:     Success,
		SideEffects: []SideEffect{IncrementFailures, Reschedule, SaveState, DeleteTask},
		FinalState:  structs.StatusFailed,
		Successor:   successor,
	}
}

func (m *Machine) buildSuccessor(task *structs.Task, now time.Time) (*structs.Task, error) {
	id, err := m.IDs.NewID()
	if err != nil {
		return nil, err
	}

	successor := task.Clone()
	successor.ID = id
	successor.AncestorID = task.ID
	successor.AssignedHost = ""
	successor.AssignedAgent = ""
	successor.AssignedPorts = nil
	successor.Events = nil

	state := structs.StatusPending
	msg := "rescheduled after failure"
	if penalty, reason := m.Flap.Penalty(successor); penalty > 0 {
		state = structs.StatusThrottled
		msg = fmt.Sprintf("throttled: %s", reason)
	}

	successor.State = structs.StatusInit
	m.setState(successor, state, msg, now)
	return successor, nil
}

// setState appends a transition event and, if the target is PARTITIONED,
// applies the partition-event compaction rule before appending (spec
// §4.2's "Partition-event compaction").
func (m *Machine) setState(task *structs.Task, target structs.Status, message string, now time.Time) {
	if target == structs.StatusPartitioned {
		task.Events = CompactPartitionEvents(task.Events)
		task.Partitions++
	}
	task.State = target
	task.Events = append(task.Events, structs.TransitionEvent{
		TimestampMillis: now.UnixMilli(),
		Status:          target,
		Message:         message,
		SchedulerHost:   m.Hostname,
	})
}

// CompactPartitionEvents implements spec §4.2's compaction rule: if the
// last two events, together with the one before them, form the cycle
// X -> PARTITIONED -> X, the last two are dropped (the existing X at
// events[n-3] remains) before the new PARTITIONED event is appended. The
// rule is reapplied while the remaining tail still ends in such a cycle.
// Idempotent: calling it again on its own output is a no-op.
func CompactPartitionEvents(events []structs.TransitionEvent) []structs.TransitionEvent {
	n := len(events)
	for n >= 3 {
		x, p, x2 := events[n-3], events[n-2], events[n-1]
		if p.Status != structs.StatusPartitioned || x2.Status != x.Status {
			break
		}
		n -= 2
	}
	if n == len(events) {
		return events
	}
	out := make([]structs.TransitionEvent, n)
	copy(out, events[:n])
	return out
}
