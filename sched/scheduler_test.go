package sched

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

type fakeSchedDriver struct {
	launched []string
	killed   []string
}

func (f *fakeSchedDriver) LaunchTask(offerID string, task *structs.Task) error {
	f.launched = append(f.launched, offerID)
	return nil
}
func (f *fakeSchedDriver) KillTask(taskID string) error {
	f.killed = append(f.killed, taskID)
	return nil
}
func (f *fakeSchedDriver) DeclineOffer(offerID string, filterDuration int64) error { return nil }
func (f *fakeSchedDriver) ReconcileTasks(statuses []driver.TaskStatusReport) error  { return nil }

func newTestStack(t *testing.T) (*state.Manager, *offers.Manager, *fakeSchedDriver, *clock.Fake) {
	t.Helper()
	fc := clock.NewFake(time.Unix(0, 0))
	logger := hclog.NewNullLogger()

	sink := event.NewSink(logger, 16)
	store, err := state.NewStore(fc, sink, logger)
	must.NoError(t, err)

	machine := &fsm.Machine{Retry: noRetry{}, Flap: noFlap{}, IDs: idgen.Generator{}, Hostname: "test-host"}
	drv := &fakeSchedDriver{}
	stateMgr := state.NewManager(store, machine, idgen.Generator{}, fc, drv, logger)

	offerCfg := offers.DefaultConfig()
	offerCfg.HoldDuration = time.Minute
	offerMgr := offers.NewManager(offerCfg, fc, drv, logger)

	return stateMgr, offerMgr, drv, fc
}

func TestScheduler_Schedule_HappyFill(t *testing.T) {
	stateMgr, offerMgr, drv, _ := newTestStack(t)
	oracle := filter.NewRadixLimitOracle()

	job := structs.JobKey{Role: "www", Environment: "prod", Name: "web"}
	template := &structs.Task{Job: job, Req: structs.Resources{CPU: 1, MemoryMB: 512}}
	inserted, err := stateMgr.InsertPending(template, []int32{0})
	must.NoError(t, err)
	must.Len(t, 1, inserted)

	offerMgr.AddOffer(structs.Offer{
		ID:        "offer-1",
		AgentID:   "agent-1",
		Host:      "host-1",
		Resources: structs.Resources{CPU: 2, MemoryMB: 1024},
	})

	sched := New(DefaultConfig(), offerMgr, stateMgr, oracle, nil, nil, drv, logger(t))
	scheduled, err := sched.Schedule(inserted)
	must.NoError(t, err)
	must.Eq(t, []string{inserted[0].ID}, scheduled)
	must.Eq(t, []string{"offer-1"}, drv.launched)
	must.Len(t, 0, offerMgr.GetOffers())
}

func TestScheduler_Schedule_VetoBansOffer(t *testing.T) {
	stateMgr, offerMgr, drv, _ := newTestStack(t)
	oracle := filter.NewRadixLimitOracle()

	job := structs.JobKey{Role: "www", Environment: "prod", Name: "web"}
	template := &structs.Task{Job: job, Req: structs.Resources{CPU: 4, MemoryMB: 512}}
	inserted, err := stateMgr.InsertPending(template, []int32{0})
	must.NoError(t, err)

	offerMgr.AddOffer(structs.Offer{
		ID:        "offer-1",
		AgentID:   "agent-1",
		Host:      "host-1",
		Resources: structs.Resources{CPU: 1, MemoryMB: 1024},
	})

	sched := New(DefaultConfig(), offerMgr, stateMgr, oracle, nil, nil, drv, logger(t))
	scheduled, err := sched.Schedule(inserted)
	must.NoError(t, err)
	must.Len(t, 0, scheduled)
	must.Len(t, 0, drv.launched)
	must.Eq(t, 1, offerMgr.BanCacheSize())

	// the offer is still pooled (not consumed by the failed attempt) but
	// now banned for this task's resource signature, so a second pass
	// with no new offers still does not place it.
	must.Len(t, 1, offerMgr.GetOffers())
}

func TestScheduler_Schedule_ReservationConsumedOnSuccess(t *testing.T) {
	stateMgr, offerMgr, drv, fc := newTestStack(t)
	oracle := filter.NewRadixLimitOracle()
	reservations := reservation.NewMap(fc)

	job := structs.JobKey{Role: "www", Environment: "prod", Name: "web"}
	template := &structs.Task{Job: job, Req: structs.Resources{CPU: 1, MemoryMB: 512}}
	inserted, err := stateMgr.InsertPending(template, []int32{0})
	must.NoError(t, err)

	offerMgr.AddOffer(structs.Offer{
		ID:        "offer-1",
		AgentID:   "agent-1",
		Host:      "host-1",
		Resources: structs.Resources{CPU: 2, MemoryMB: 1024},
	})
	reservations.Reserve(inserted[0].ID, "agent-1", time.Minute)

	sched := New(DefaultConfig(), offerMgr, stateMgr, oracle, reservations, nil, drv, logger(t))
	scheduled, err := sched.Schedule(inserted)
	must.NoError(t, err)
	must.Eq(t, []string{inserted[0].ID}, scheduled)
	must.Eq(t, 0, reservations.Len())
}

func TestScheduler_Schedule_LimitConstraintVetoesWhenOccupied(t *testing.T) {
	stateMgr, offerMgr, drv, _ := newTestStack(t)
	oracle := filter.NewRadixLimitOracle()

	job := structs.JobKey{Role: "www", Environment: "prod", Name: "web"}

	attrs := structs.HostAttributes{
		Host:       "host-1",
		Attributes: map[string]structs.Attribute{"rack": structs.NewAttribute("rack", "r1")},
	}
	err := stateMgr.Store().Write(func(txn *memdb.Txn) error {
		_, err := state.AttributeStore{}.Save(txn, attrs)
		return err
	})
	must.NoError(t, err)

	// Seed one already-running task of the same job on host-1, occupying
	// rack=r1's only slot under a limit of 1.
	existingTemplate := &structs.Task{Job: job, Req: structs.Resources{CPU: 1, MemoryMB: 256}}
	existingInserted, err := stateMgr.InsertPending(existingTemplate, []int32{0})
	must.NoError(t, err)
	assign := func(*structs.Task) (map[string]int32, error) { return nil, nil }
	_, err = stateMgr.AssignTask(existingInserted[0].ID, "host-1", "agent-1", assign)
	must.NoError(t, err)

	// A second instance of the same job, constrained to at most 1 sibling
	// per rack value, must be vetoed against the same rack.
	constrained := &structs.Task{
		Job:  job,
		Req:  structs.Resources{CPU: 1, MemoryMB: 256},
		Cons: []structs.Constraint{{Kind: structs.LimitConstraint, Attr: "rack", Limit: 1}},
	}
	inserted, err := stateMgr.InsertPending(constrained, []int32{1})
	must.NoError(t, err)

	offerMgr.AddOffer(structs.Offer{
		ID:        "offer-2",
		AgentID:   "agent-2",
		Host:      "host-1",
		Resources: structs.Resources{CPU: 2, MemoryMB: 1024},
	})

	sched := New(DefaultConfig(), offerMgr, stateMgr, oracle, nil, nil, drv, logger(t))
	scheduled, err := sched.Schedule(inserted)
	must.NoError(t, err)
	must.Len(t, 0, scheduled)
}

func logger(t *testing.T) hclog.Logger {
	t.Helper()
	return hclog.NewNullLogger()
}
