package state

import (
	"github.com/hashicorp/go-memdb"

	"github.com/taskforge/scheduler/structs"
)

// TaskStore is the typed CRUD + query surface over the "tasks" table (spec
// §6): by id, by job, by instance, by status set, by host, and by
// slave-assigned status set. It is a stateless view; every method takes
// the transaction it runs inside explicitly so callers control whether
// they are inside a Store.Write or Store.Read.
type TaskStore struct{}

// Get returns the task with id, or nil if absent.
func (TaskStore) Get(txn *memdb.Txn, id string) (*structs.Task, error) {
	raw, err := txn.First("tasks", "id", id)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	return raw.(*taskRow).Task, nil
}

// ByInstance returns the task occupying key, or nil if the instance is
// unoccupied.
func (TaskStore) ByInstance(txn *memdb.Txn, key structs.InstanceKey) (*structs.Task, error) {
	raw, err := txn.First("tasks", "instance", key.String())
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	return raw.(*taskRow).Task, nil
}

// ByJob returns every task belonging to job.
func (TaskStore) ByJob(txn *memdb.Txn, job structs.JobKey) ([]*structs.Task, error) {
	it, err := txn.Get("tasks", "job", job.String())
	if err != nil {
		return nil, err
	}
	return collectTasks(it), nil
}

// ByHost returns every task assigned to host.
func (TaskStore) ByHost(txn *memdb.Txn, host string) ([]*structs.Task, error) {
	it, err := txn.Get("tasks", "host", host)
	if err != nil {
		return nil, err
	}
	return collectTasks(it), nil
}

// ByStatus returns every task whose status is one of statuses.
func (TaskStore) ByStatus(txn *memdb.Txn, statuses ...structs.Status) ([]*structs.Task, error) {
	var out []*structs.Task
	for _, status := range statuses {
		it, err := txn.Get("tasks", "status", string(status))
		if err != nil {
			return nil, err
		}
		out = append(out, collectTasks(it)...)
	}
	return out, nil
}

// BySlaveAssignedStatus returns every slave-assigned task (AssignedAgent
// set) whose status is one of statuses — the set reconciliation pages
// through (spec §6).
func (TaskStore) BySlaveAssignedStatus(txn *memdb.Txn, statuses ...structs.Status) ([]*structs.Task, error) {
	it, err := txn.Get("tasks", "slave_assigned", true)
	if err != nil {
		return nil, err
	}
	wanted := make(map[structs.Status]bool, len(statuses))
	for _, s := range statuses {
		wanted[s] = true
	}
	var out []*structs.Task
	for raw := it.Next(); raw != nil; raw = it.Next() {
		task := raw.(*taskRow).Task
		if wanted[task.State] {
			out = append(out, task)
		}
	}
	return out, nil
}

// Upsert inserts or replaces the row for task.
func (TaskStore) Upsert(txn *memdb.Txn, task *structs.Task) error {
	return txn.Insert("tasks", newTaskRow(task))
}

// Delete removes the task with id, if present.
func (TaskStore) Delete(txn *memdb.Txn, id string) error {
	raw, err := txn.First("tasks", "id", id)
	if err != nil {
		return err
	}
	if raw == nil {
		return nil
	}
	return txn.Delete("tasks", raw)
}

func collectTasks(it memdb.ResultIterator) []*structs.Task {
	var out []*structs.Task
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, raw.(*taskRow).Task)
	}
	return out
}
