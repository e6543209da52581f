package fsm

import (
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/taskforge/scheduler/structs"
)

var allStatuses = []structs.Status{
	structs.StatusInit, structs.StatusPending, structs.StatusThrottled,
	structs.StatusAssigned, structs.StatusStarting, structs.StatusRunning,
	structs.StatusPartitioned, structs.StatusPreempting, structs.StatusRestarting,
	structs.StatusDraining, structs.StatusKilling, structs.StatusFinished,
	structs.StatusFailed, structs.StatusKilled, structs.StatusLost,
}

// TestMachine_TerminalReachesExactlyOneDeleteAndOneTerminalSave is the
// terminal-state-exactly-one-DELETE-and-one-terminal-SAVE_STATE universal
// property: driving a task through an arbitrary sequence of requested
// transitions (legal or not, always with the correct expectedPrior so CAS
// never itself vetoes the walk), the moment it reaches a terminal status it
// has accumulated exactly one DeleteTask side effect and its final
// transition's SideEffects include exactly one SaveState landing on that
// terminal status — never more, never a second Transition call succeeding
// afterward.
func TestMachine_TerminalReachesExactlyOneDeleteAndOneTerminalSave(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := &Machine{Retry: neverRetry{}, Flap: noPenalty{}, IDs: &seqIDs{}, Hostname: "h"}
		task := newTask(structs.StatusInit)
		now := time.Unix(0, 0)

		deletes := 0
		terminalSaves := 0
		reachedTerminal := false
		steps := rapid.IntRange(1, 30).Draw(t, "steps")

		for i := 0; i < steps; i++ {
			if reachedTerminal {
				// Once terminal, the real system never issues another
				// Transition call against the same record (it has been
				// deleted); stop driving the walk.
				break
			}

			target := rapid.SampledFrom(allStatuses).Draw(t, "target")
			prior := task.State
			now = now.Add(time.Second)

			res := m.Transition(task, &prior, target, "walk", now)
			if res.Outcome != Success {
				continue
			}

			for _, se := range res.SideEffects {
				if se == DeleteTask {
					deletes++
				}
			}
			if res.FinalState.Terminal() {
				for _, se := range res.SideEffects {
					if se == SaveState {
						terminalSaves++
					}
				}
				reachedTerminal = true
			}
		}

		if !reachedTerminal {
			return // walk ran out of steps before reaching a terminal state
		}
		if deletes != 1 {
			t.Fatalf("terminal task accumulated %d DELETE side effects, want exactly 1", deletes)
		}
		if terminalSaves != 1 {
			t.Fatalf("terminal transition carried %d SAVE_STATE side effects, want exactly 1", terminalSaves)
		}
	})
}

// TestMachine_ReachabilityFollowsTransitionTable is the FSM reachability
// universal property: whenever Transition reports Success, the resulting
// status is either the task's prior status unchanged (a Noop was already
// filtered out above), or reachable from the prior status via an edge
// legalEdges declares — except the documented PARTITIONED-redirect special
// case, which legalEdges does not enumerate on purpose.
func TestMachine_ReachabilityFollowsTransitionTable(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		prior := rapid.SampledFrom(allStatuses).Draw(t, "prior")
		target := rapid.SampledFrom(allStatuses).Draw(t, "target")

		m := &Machine{Retry: neverRetry{}, Flap: noPenalty{}, IDs: &seqIDs{}, Hostname: "h"}
		task := newTask(prior)

		res := m.Transition(task, &prior, target, "walk", time.Unix(0, 0))
		if res.Outcome != Success {
			return
		}

		if prior == structs.StatusPartitioned && res.FinalState == structs.StatusLost && target != structs.StatusLost {
			return // the documented redirect-to-LOST special case
		}

		edges, ok := legalEdges[prior]
		if !ok || !edges[res.FinalState] {
			t.Fatalf("transition %s -> %s succeeded but is not a declared edge", prior, res.FinalState)
		}
	})
}

// TestMachine_CASNeverMutatesOnMismatch is the CAS discipline property: a
// Transition call whose expectedPrior does not match the task's current
// state never mutates the task, regardless of target.
func TestMachine_CASNeverMutatesOnMismatch(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := &Machine{Retry: neverRetry{}, Flap: noPenalty{}, IDs: &seqIDs{}, Hostname: "h"}
		actual := rapid.SampledFrom(allStatuses).Draw(t, "actual")
		claimed := rapid.SampledFrom(allStatuses).Draw(t, "claimed")
		target := rapid.SampledFrom(allStatuses).Draw(t, "target")
		if actual == claimed {
			return // not a mismatch case
		}

		task := newTask(actual)
		before := len(task.Events)

		res := m.Transition(task, &claimed, target, "stale command", time.Unix(0, 0))

		if res.Outcome != InvalidCAS {
			t.Fatalf("expected InvalidCAS for mismatched expectedPrior, got %s", res.Outcome)
		}
		if task.State != actual {
			t.Fatalf("task state mutated on CAS mismatch: got %s, want unchanged %s", task.State, actual)
		}
		if len(task.Events) != before {
			t.Fatalf("task events mutated on CAS mismatch: got %d, want unchanged %d", len(task.Events), before)
		}
	})
}
