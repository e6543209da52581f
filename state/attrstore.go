package state

import (
	"github.com/hashicorp/go-memdb"

	"github.com/taskforge/scheduler/structs"
)

// AttributeStore is the CRUD surface over per-host attribute records.
type AttributeStore struct{}

// Get returns the attribute record for host, or the zero value and false
// if absent.
func (AttributeStore) Get(txn *memdb.Txn, host string) (structs.HostAttributes, bool, error) {
	raw, err := txn.First("attributes", "id", host)
	if err != nil {
		return structs.HostAttributes{}, false, err
	}
	if raw == nil {
		return structs.HostAttributes{}, false, nil
	}
	return raw.(*attributeRow).Attrs, true, nil
}

// Save merges incoming with any previously stored record for the same
// host (spec §3's merge rule: an omitted mode preserves the previous one)
// and persists the result.
func (AttributeStore) Save(txn *memdb.Txn, incoming structs.HostAttributes) (structs.HostAttributes, error) {
	prev, ok, err := AttributeStore{}.Get(txn, incoming.Host)
	if err != nil {
		return structs.HostAttributes{}, err
	}
	merged := incoming
	if ok {
		merged = prev.Merge(incoming)
	}
	if err := txn.Insert("attributes", &attributeRow{Host: merged.Host, Attrs: merged}); err != nil {
		return structs.HostAttributes{}, err
	}
	return merged, nil
}

// All returns every stored host attribute record.
func (AttributeStore) All(txn *memdb.Txn) ([]structs.HostAttributes, error) {
	it, err := txn.Get("attributes", "id")
	if err != nil {
		return nil, err
	}
	var out []structs.HostAttributes
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, raw.(*attributeRow).Attrs)
	}
	return out, nil
}
