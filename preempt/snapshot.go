package preempt

import (
	"sort"

	"github.com/hashicorp/go-memdb"

	"github.com/taskforge/scheduler/filter"
	"github.com/taskforge/scheduler/state"
	"github.com/taskforge/scheduler/structs"
)

// agentOccupyingStatuses are the statuses eligible to be chosen as a
// preemption victim or counted against an agent's free capacity.
var agentOccupyingStatuses = structs.OccupyingStatuses

// agentState is one agent's view in a cluster snapshot: its advertised
// capacity, host (for attribute/constraint lookups), and currently active
// tasks.
type agentState struct {
	agentID  string
	host     string
	capacity structs.Resources
	attrs    structs.HostAttributes
	active   []*structs.Task
	reserved bool // already committed to a decision this pass
}

// snapshot is the cluster state snapshot of spec §4.6 step 1: per-agent
// active tasks grouped by tier, rebuilt fresh for every FindSlots call.
type snapshot struct {
	agents map[string]*agentState
	order  []string // stable agent iteration order, for tie-breaking
}

// buildSnapshot gathers every non-terminal task and its agent's
// advertised capacity/attributes into a fresh snapshot.
func (p *Preemptor) buildSnapshot() (*snapshot, error) {
	snap := &snapshot{agents: make(map[string]*agentState)}

	err := p.state.Store().Read(func(txn *memdb.Txn) error {
		tasks, err := state.TaskStore{}.ByStatus(txn, agentOccupyingStatuses...)
		if err != nil {
			return err
		}

		for _, task := range tasks {
			if task.AssignedAgent == "" {
				continue
			}
			as, ok := snap.agents[task.AssignedAgent]
			if !ok {
				host, capacity, _ := p.offers.Capacity(task.AssignedAgent)
				if host == "" {
					host = task.AssignedHost
				}
				attrs, _, aerr := state.AttributeStore{}.Get(txn, host)
				if aerr != nil {
					return aerr
				}
				as = &agentState{agentID: task.AssignedAgent, host: host, capacity: capacity, attrs: attrs}
				snap.agents[task.AssignedAgent] = as
				snap.order = append(snap.order, task.AssignedAgent)
			}
			as.active = append(as.active, task)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(snap.order)
	return snap, nil
}

// freeResources returns the portion of an agent's capacity not consumed
// by its currently active tasks.
func (as *agentState) freeResources() structs.Resources {
	used := structs.Resources{}
	for _, t := range as.active {
		used = used.Add(t.Req)
	}
	return as.capacity.Sub(used)
}

// findVictimSet implements spec §4.6 step 2-3: for task, walk agents in
// stable order looking for a subset of strictly-lower-tier active tasks
// whose release, combined with the agent's already-free capacity, admits
// task and satisfies its placement constraints. Victims are tried
// smallest-resource-first (the documented greedy approximation of
// "minimizing |V|, secondarily total resource waste" — see the Preemptor
// design note).
func (p *Preemptor) findVictimSet(task *structs.Task, snap *snapshot, oracle filter.LimitOracle) (decision, bool) {
	for _, agentID := range snap.order {
		as := snap.agents[agentID]
		if as.reserved {
			continue
		}

		candidates := make([]*structs.Task, 0, len(as.active))
		for _, t := range as.active {
			if t.Tier.LowerThan(task.Tier) {
				candidates = append(candidates, t)
			}
		}
		sort.SliceStable(candidates, func(i, j int) bool {
			return resourceSize(candidates[i].Req) < resourceSize(candidates[j].Req)
		})

		free := as.freeResources()
		var victims []*structs.Task
		for _, c := range candidates {
			if fits(task.Req, free) {
				break
			}
			free = free.Add(c.Req)
			victims = append(victims, c)
		}
		if !fits(task.Req, free) {
			continue
		}

		if len(filter.Fit(task, free, as.attrs, oracle)) > 0 {
			continue
		}

		return decision{task: task, agentID: agentID, victims: victims}, true
	}
	return decision{}, false
}

// reserve marks agentID as committed for the remainder of this pass and
// removes the victims from its active set, so a later pending task in
// the same batch sees the post-decision cluster shape rather than
// double-booking the same freed capacity.
func (snap *snapshot) reserve(agentID string, victims []*structs.Task) {
	as, ok := snap.agents[agentID]
	if !ok {
		return
	}
	as.reserved = true

	removed := make(map[string]bool, len(victims))
	for _, v := range victims {
		removed[v.ID] = true
	}
	remaining := as.active[:0]
	for _, t := range as.active {
		if !removed[t.ID] {
			remaining = append(remaining, t)
		}
	}
	as.active = remaining
}

func fits(req, available structs.Resources) bool {
	return available.CPU >= req.CPU &&
		available.MemoryMB >= req.MemoryMB &&
		available.DiskMB >= req.DiskMB &&
		available.NumPorts >= req.NumPorts
}

func resourceSize(r structs.Resources) float64 {
	return r.CPU*1000 + float64(r.MemoryMB) + float64(r.DiskMB)
}
