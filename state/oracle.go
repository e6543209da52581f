package state

import (
	"github.com/hashicorp/go-memdb"

	"github.com/taskforge/scheduler/filter"
	"github.com/taskforge/scheduler/structs"
)

// BuildLimitOracle rebuilds a limit-constraint oracle from every currently
// occupying task's assigned-host attributes (spec §4.1). Callers rebuild
// fresh at the start of each scheduling or preemption pass, the same
// snapshot discipline the preemptor already applies to agent occupancy, so
// the oracle always reflects the live cluster shape at the moment of the
// call rather than a stale count from process start.
func (m *Manager) BuildLimitOracle() (filter.LimitOracle, error) {
	oracle := filter.NewRadixLimitOracle()

	err := m.store.Read(func(txn *memdb.Txn) error {
		tasks, err := TaskStore{}.ByStatus(txn, structs.OccupyingStatuses...)
		if err != nil {
			return err
		}

		cache := make(map[string]structs.HostAttributes, len(tasks))
		for _, t := range tasks {
			if t.AssignedHost == "" {
				continue
			}
			attrs, ok := cache[t.AssignedHost]
			if !ok {
				got, _, aerr := AttributeStore{}.Get(txn, t.AssignedHost)
				if aerr != nil {
					return aerr
				}
				attrs = got
				cache[t.AssignedHost] = attrs
			}
			for name, attr := range attrs.Attributes {
				for _, v := range attr.Values.Slice() {
					oracle.Observe(t.Job, name, v)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return oracle, nil
}
