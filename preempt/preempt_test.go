package preempt

import (
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-memdb"
	"github.com/shoenig/test/must"

	"github.com/taskforge/scheduler/clock"
	"github.com/taskforge/scheduler/driver"
	"github.com/taskforge/scheduler/event"
	"github.com/taskforge/scheduler/filter"
	"github.com/taskforge/scheduler/fsm"
	"github.com/taskforge/scheduler/idgen"
	"github.com/taskforge/scheduler/offers"
	"github.com/taskforge/scheduler/reservation"
	"github.com/taskforge/scheduler/state"
	"github.com/taskforge/scheduler/structs"
)

type noRetry struct{}

func (noRetry) AllowRetry(*structs.Task) bool { return false }

type noFlap struct{}

func (noFlap) Penalty(*structs.Task) (time.Duration, string) { return 0, "" }

type nopDriver struct{}

func (nopDriver) LaunchTask(string, *structs.Task) error         { return nil }
func (nopDriver) KillTask(string) error                          { return nil }
func (nopDriver) DeclineOffer(string, int64) error               { return nil }
func (nopDriver) ReconcileTasks([]driver.TaskStatusReport) error { return nil }

func newTestStack(t *testing.T) (*state.Manager, *offers.Manager, *clock.Fake) {
	t.Helper()
	fc := clock.NewFake(time.Unix(0, 0))
	logger := hclog.NewNullLogger()
	sink := event.NewSink(logger, 16)
	store, err := state.NewStore(fc, sink, logger)
	must.NoError(t, err)

	machine := &fsm.Machine{Retry: noRetry{}, Flap: noFlap{}, IDs: idgen.Generator{}, Hostname: "test-host"}
	stateMgr := state.NewManager(store, machine, idgen.Generator{}, fc, nopDriver{}, logger)

	offerCfg := offers.DefaultConfig()
	offerMgr := offers.NewManager(offerCfg, fc, nopDriver{}, logger)

	return stateMgr, offerMgr, fc
}

func runningTask(t *testing.T, stateMgr *state.Manager, job structs.JobKey, inst int32, tier structs.Tier, req structs.Resources, host, agent string) *structs.Task {
	t.Helper()
	template := &structs.Task{Job: job, Tier: tier, Req: req}
	inserted, err := stateMgr.InsertPending(template, []int32{inst})
	must.NoError(t, err)

	assign := func(*structs.Task) (map[string]int32, error) { return nil, nil }
	assigned, err := stateMgr.AssignTask(inserted[0].ID, host, agent, assign)
	must.NoError(t, err)

	assignedState := structs.StatusAssigned
	_, err = stateMgr.ChangeState(assigned.ID, &assignedState, structs.StatusRunning, "started")
	must.NoError(t, err)

	return assigned
}

func TestPreemptor_FindSlots_PreemptsLowerTierVictim(t *testing.T) {
	stateMgr, offerMgr, _ := newTestStack(t)
	oracle := filter.NewRadixLimitOracle()
	reservations := reservation.NewMap(clock.NewFake(time.Unix(0, 0)))

	job := structs.JobKey{Role: "www", Environment: "prod", Name: "batch"}
	offerMgr.AddOffer(structs.Offer{ID: "o1", AgentID: "agent-1", Host: "host-1", Resources: structs.Resources{CPU: 4, MemoryMB: 4096}})
	offerMgr.CancelOffer("o1") // simulate: capacity known, fully consumed by the victim below

	victim := runningTask(t, stateMgr, job, 0, structs.TierPreemptible, structs.Resources{CPU: 4, MemoryMB: 4096}, "host-1", "agent-1")

	pendingJob := structs.JobKey{Role: "www", Environment: "prod", Name: "urgent"}
	pendingTemplate := &structs.Task{Job: pendingJob, Tier: structs.TierPreferred, Req: structs.Resources{CPU: 2, MemoryMB: 2048}}
	pending, err := stateMgr.InsertPending(pendingTemplate, []int32{0})
	must.NoError(t, err)

	p := New(DefaultConfig(), stateMgr, offerMgr, oracle, reservations, hclog.NewNullLogger())
	count, err := p.FindSlots(pending)
	must.NoError(t, err)
	must.Eq(t, 1, count)

	agentID, ok := reservations.Consume(pending[0].ID)
	must.True(t, ok)
	must.Eq(t, "agent-1", agentID)

	var killedState structs.Status
	err = stateMgr.Store().Read(func(txn *memdb.Txn) error {
		got, gerr := state.TaskStore{}.Get(txn, victim.ID)
		if gerr != nil {
			return gerr
		}
		killedState = got.State
		return nil
	})
	must.NoError(t, err)
	must.Eq(t, structs.StatusKilling, killedState)
}

func TestPreemptor_FindSlots_NoVictimWhenSameTier(t *testing.T) {
	stateMgr, offerMgr, _ := newTestStack(t)
	oracle := filter.NewRadixLimitOracle()
	reservations := reservation.NewMap(clock.NewFake(time.Unix(0, 0)))

	job := structs.JobKey{Role: "www", Environment: "prod", Name: "batch"}
	offerMgr.AddOffer(structs.Offer{ID: "o1", AgentID: "agent-1", Host: "host-1", Resources: structs.Resources{CPU: 4, MemoryMB: 4096}})
	offerMgr.CancelOffer("o1")
	runningTask(t, stateMgr, job, 0, structs.TierPreferred, structs.Resources{CPU: 4, MemoryMB: 4096}, "host-1", "agent-1")

	pendingJob := structs.JobKey{Role: "www", Environment: "prod", Name: "urgent"}
	pendingTemplate := &structs.Task{Job: pendingJob, Tier: structs.TierPreferred, Req: structs.Resources{CPU: 2, MemoryMB: 2048}}
	pending, err := stateMgr.InsertPending(pendingTemplate, []int32{0})
	must.NoError(t, err)

	p := New(DefaultConfig(), stateMgr, offerMgr, oracle, reservations, hclog.NewNullLogger())
	count, err := p.FindSlots(pending)
	must.NoError(t, err)
	must.Eq(t, 0, count)
}
