// Package state implements the storage collaborator (spec §6, a go-memdb
// backed reference implementation) and the state manager (spec §4.3): the
// single write-transaction boundary every task mutation passes through.
package state

import (
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-memdb"

	"github.com/taskforge/scheduler/clock"
	"github.com/taskforge/scheduler/driver"
	"github.com/taskforge/scheduler/event"
	"github.com/taskforge/scheduler/fsm"
	"github.com/taskforge/scheduler/structs"
)

// ResourceAssigner computes the concrete port bindings for task from
// whatever offer it is being assigned against; supplied by the task
// scheduler, which alone knows the offer's available port ranges.
type ResourceAssigner func(task *structs.Task) (map[string]int32, error)

// IDGenerator mints ids for inserted tasks.
type IDGenerator interface {
	NewID() (string, error)
}

// Manager is the state manager (spec §4.3): insertPending, changeState,
// assignTask, deleteTasks, all executed inside the Store's single write
// transaction, with the task FSM deciding legality and side effects.
type Manager struct {
	store   *Store
	machine *fsm.Machine
	ids     IDGenerator
	clock   clock.Clock
	driver  driver.Driver
	logger  hclog.Logger
}

// NewManager wires a Manager from its explicit collaborators (spec §9:
// explicit constructor wiring, no DI container).
func NewManager(store *Store, machine *fsm.Machine, ids IDGenerator, clk clock.Clock, drv driver.Driver, logger hclog.Logger) *Manager {
	return &Manager{
		store:   store,
		machine: machine,
		ids:     ids,
		clock:   clk,
		driver:  drv,
		logger:  logger.Named("state_manager"),
	}
}

// InsertPending inserts one new task per id in instanceIDs, cloned from
// template, transitioning each INIT->PENDING. Rejects with a *ConflictError
// if any requested instance is already active for the same job (spec
// §4.3).
func (m *Manager) InsertPending(template *structs.Task, instanceIDs []int32) ([]*structs.Task, error) {
	var inserted []*structs.Task

	err := m.store.Write(func(txn *memdb.Txn) error {
		for _, instanceID := range instanceIDs {
			key := structs.InstanceKey{Job: template.Job, InstanceID: instanceID}
			existing, err := TaskStore{}.ByInstance(txn, key)
			if err != nil {
				return err
			}
			if existing != nil && existing.Active() {
				return &ConflictError{Reason: fmt.Sprintf("instance %s already active", key)}
			}

			id, err := m.ids.NewID()
			if err != nil {
				return err
			}

			task := template.Clone()
			task.ID = id
			task.Inst = instanceID
			task.State = structs.StatusInit
			task.Events = nil
			task.AssignedHost = ""
			task.AssignedAgent = ""
			task.AssignedPorts = nil

			res := m.machine.Transition(task, nil, structs.StatusPending, "inserted", m.clock.Now())
			if res.Outcome != fsm.Success {
				return &InvariantError{Reason: fmt.Sprintf("insertPending: expected SUCCESS for INIT->PENDING, got %s", res.Outcome)}
			}
			if err := m.applySideEffects(txn, task, structs.StatusInit, res); err != nil {
				return err
			}
			inserted = append(inserted, task)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

// ChangeStateResult mirrors fsm.Outcome for the subset of outcomes
// changeState can report to its caller.
type ChangeStateResult = fsm.Outcome

// ChangeState applies a CAS'd transition to taskID (spec §4.3).
func (m *Manager) ChangeState(taskID string, expectedPrior *structs.Status, target structs.Status, auditMessage string) (ChangeStateResult, error) {
	outcome := fsm.InvalidCAS

	err := m.store.Write(func(txn *memdb.Txn) error {
		task, err := TaskStore{}.Get(txn, taskID)
		if err != nil {
			return err
		}
		if task == nil {
			outcome = fsm.InvalidCAS
			return nil
		}

		prev := task.State
		res := m.machine.Transition(task, expectedPrior, target, auditMessage, m.clock.Now())
		outcome = res.Outcome
		if res.Outcome != fsm.Success {
			return nil
		}
		return m.applySideEffects(txn, task, prev, res)
	})
	if err != nil {
		return outcome, err
	}
	return outcome, nil
}

// AssignTask binds task to (host, agentID), computing its port assignment
// via assign, and transitions it to ASSIGNED. Any outcome other than
// SUCCESS from the underlying FSM transition is an invariant violation
// (spec §4.3: "a programming error").
func (m *Manager) AssignTask(taskID, host, agentID string, assign ResourceAssigner) (*structs.Task, error) {
	var assigned *structs.Task

	err := m.store.Write(func(txn *memdb.Txn) error {
		task, err := TaskStore{}.Get(txn, taskID)
		if err != nil {
			return err
		}
		if task == nil {
			return &InvariantError{Reason: fmt.Sprintf("assignTask: task %s not found", taskID)}
		}

		ports, err := assign(task)
		if err != nil {
			return err
		}

		prev := task.State
		task.AssignedHost = host
		task.AssignedAgent = agentID
		task.AssignedPorts = ports

		res := m.machine.Transition(task, nil, structs.StatusAssigned, "assigned to offer", m.clock.Now())
		if res.Outcome != fsm.Success {
			return &InvariantError{Reason: fmt.Sprintf("assignTask: expected SUCCESS, got %s", res.Outcome)}
		}
		if err := m.applySideEffects(txn, task, prev, res); err != nil {
			return err
		}
		assigned = task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return assigned, nil
}

// DeleteTasks removes every task in ids that exists, publishing a single
// TasksDeleted event for the batch.
func (m *Manager) DeleteTasks(ids []string) error {
	return m.store.Write(func(txn *memdb.Txn) error {
		var deleted []*structs.Task
		for _, id := range ids {
			task, err := TaskStore{}.Get(txn, id)
			if err != nil {
				return err
			}
			if task == nil {
				continue
			}
			if err := (TaskStore{}).Delete(txn, id); err != nil {
				return err
			}
			deleted = append(deleted, task.Clone())
		}
		if len(deleted) > 0 {
			m.store.Emit(event.TasksDeleted{Tasks: deleted})
		}
		return nil
	})
}

// Store exposes the underlying storage collaborator for read-only queries
// callers (the scheduler, the preemptor) need directly.
func (m *Manager) Store() *Store { return m.store }

// applySideEffects executes an FSM TransitionResult's side effects against
// txn, emitting events to the Store's pending queue (published only once
// the enclosing Write commits). Event emission follows the side effects'
// documented order, but the underlying storage mutations are reordered
// where needed to avoid corrupting the tasks table's unique "instance"
// index: see the deletesTask handling below.
func (m *Manager) applySideEffects(txn *memdb.Txn, task *structs.Task, prev structs.Status, res fsm.TransitionResult) error {
	deletesTask := hasSideEffect(res.SideEffects, fsm.DeleteTask)

	// A Reschedule successor is task.Clone() (fsm.go's buildSuccessor), so
	// it shares task's (Job, Inst) pair and therefore its unique
	// "instance" index key — go-memdb does not enforce secondary-index
	// uniqueness itself. If task's row were still present when the
	// successor is upserted below, the successor would silently overwrite
	// task's slot in that index; the trailing DELETE would then remove
	// task's row by its own (now stale) index values and take the
	// successor's slot down with it, leaving the successor unreachable via
	// ByInstance even though it's still in the table by id. Removing
	// task's row up front, before anything else touches storage, means the
	// successor's insert never has anything to collide with.
	if deletesTask {
		if err := (TaskStore{}).Delete(txn, task.ID); err != nil {
			return err
		}
	}

	for _, se := range res.SideEffects {
		switch se {
		case fsm.IncrementFailures:
			// Already reflected in task.Failures by the machine; the
			// following SAVE_STATE/RESCHEDULE persist the bumped count.

		case fsm.Reschedule:
			if res.Successor == nil {
				return &InvariantError{Reason: "reschedule side effect emitted without a successor task"}
			}
			if err := (TaskStore{}).Upsert(txn, res.Successor); err != nil {
				return err
			}
			m.store.Emit(event.TaskStateChange{Task: res.Successor.Clone(), Previous: structs.StatusInit})

		case fsm.SaveState:
			// When task is also being deleted this same pass, persisting
			// it here would re-occupy the instance slot the Reschedule
			// successor (or a later DeleteTask) needs to own cleanly; skip
			// the physical write but still emit the audit event.
			if !deletesTask {
				if err := (TaskStore{}).Upsert(txn, task); err != nil {
					return err
				}
			}
			m.store.Emit(event.TaskStateChange{Task: task.Clone(), Previous: prev})

		case fsm.TransitionToLost:
			// Informational: the subsequent SAVE_STATE persists the LOST
			// status this side effect announced.

		case fsm.Kill:
			if m.driver != nil {
				if err := m.driver.KillTask(task.ID); err != nil {
					m.logger.Warn("kill task failed, relying on reconciliation to converge", "task_id", task.ID, "error", err)
				}
			}

		case fsm.DeleteTask:
			// task's row was already removed up front; this is a no-op
			// against storage but still publishes the deletion event in
			// its documented position in the side-effect order.
			if err := (TaskStore{}).Delete(txn, task.ID); err != nil {
				return err
			}
			m.store.Emit(event.TasksDeleted{Tasks: []*structs.Task{task.Clone()}})
		}
	}
	return nil
}

func hasSideEffect(effects []fsm.SideEffect, target fsm.SideEffect) bool {
	for _, e := range effects {
		if e == target {
			return true
		}
	}
	return false
}
