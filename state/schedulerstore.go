package state

import "github.com/hashicorp/go-memdb"

// SchedulerStore holds the single cluster-framework identifier (spec §3).
type SchedulerStore struct{}

// Get returns the stored framework id, or "" and false if it has never
// been set.
func (SchedulerStore) Get(txn *memdb.Txn) (string, bool, error) {
	raw, err := txn.First("scheduler", "id", schedulerRowID)
	if err != nil {
		return "", false, err
	}
	if raw == nil {
		return "", false, nil
	}
	return raw.(*schedulerRow).FrameworkID, true, nil
}

// Set persists id as the cluster-framework identifier.
func (SchedulerStore) Set(txn *memdb.Txn, id string) error {
	return txn.Insert("scheduler", &schedulerRow{ID: schedulerRowID, FrameworkID: id})
}
