package sched

import (
	"fmt"

	"github.com/taskforge/scheduler/structs"
)

// assignPorts binds task's named ports to concrete agent ports drawn from
// offer's advertised port ranges, taken in the order the offer lists them.
// An unnamed NumPorts request counts toward the availability check but its
// ports are not included in the returned map. It is the ResourceAssigner the state manager
// invokes while holding the write transaction for AssignTask (spec §4.3).
func assignPorts(task *structs.Task, offer structs.Offer) (map[string]int32, error) {
	needed := len(task.Req.NamedPort)
	if needed == 0 && task.Req.NumPorts == 0 {
		return nil, nil
	}

	var available []int32
	for _, r := range offer.Ports {
		for p := r.Begin; p <= r.End; p++ {
			available = append(available, p)
		}
	}

	total := needed
	if int32(total) < task.Req.NumPorts {
		total = int(task.Req.NumPorts)
	}
	if len(available) < total {
		return nil, fmt.Errorf("sched: offer %s advertises %d ports, task needs %d", offer.ID, len(available), total)
	}

	bound := make(map[string]int32, needed)
	for i, name := range task.Req.NamedPort {
		bound[name] = available[i]
	}
	return bound, nil
}
