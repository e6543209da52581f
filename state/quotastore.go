package state

import (
	"github.com/hashicorp/go-memdb"

	"github.com/taskforge/scheduler/structs"
)

// QuotaStore is the CRUD-by-role surface over per-role quota aggregates
// (spec §3: "Upsert semantics").
type QuotaStore struct{}

// Get returns the quota for role, or the zero value and false if unset.
func (QuotaStore) Get(txn *memdb.Txn, role string) (structs.Quota, bool, error) {
	raw, err := txn.First("quotas", "id", role)
	if err != nil {
		return structs.Quota{}, false, err
	}
	if raw == nil {
		return structs.Quota{}, false, nil
	}
	return raw.(*quotaRow).Quota, true, nil
}

// Upsert replaces the quota aggregate stored for q.Role.
func (QuotaStore) Upsert(txn *memdb.Txn, q structs.Quota) error {
	return txn.Insert("quotas", &quotaRow{Role: q.Role, Quota: q})
}

// Delete removes the quota aggregate for role, if present.
func (QuotaStore) Delete(txn *memdb.Txn, role string) error {
	raw, err := txn.First("quotas", "id", role)
	if err != nil {
		return err
	}
	if raw == nil {
		return nil
	}
	return txn.Delete("quotas", raw)
}
