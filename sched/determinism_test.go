package sched

import (
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"pgregory.net/rapid"

	"github.com/taskforge/scheduler/clock"
	"github.com/taskforge/scheduler/event"
	"github.com/taskforge/scheduler/filter"
	"github.com/taskforge/scheduler/fsm"
	"github.com/taskforge/scheduler/offers"
	"github.com/taskforge/scheduler/state"
	"github.com/taskforge/scheduler/structs"
)

// seqGen mints predictable ids so two independently built stacks assign the
// same task the same id, letting their Schedule results be compared
// directly.
type seqGen struct{ n int }

func (g *seqGen) NewID() (string, error) {
	g.n++
	return fmt.Sprintf("task-%d", g.n), nil
}

// buildDeterministicStack wires a fresh Manager/offer pool pair and inserts
// taskCount pending tasks (one per instance) and offerCount pooled offers,
// all keyed off a deterministic id generator so two stacks built with the
// same counts produce identically-identified tasks.
func buildDeterministicStack(taskCount, offerCount int) (*state.Manager, *offers.Manager, *fakeSchedDriver, []*structs.Task) {
	fc := clock.NewFake(time.Unix(0, 0))
	logger := hclog.NewNullLogger()
	sink := event.NewSink(logger, 16)
	store, _ := state.NewStore(fc, sink, logger)

	machine := &fsm.Machine{Retry: noRetry{}, Flap: noFlap{}, IDs: &seqGen{}, Hostname: "test-host"}
	drv := &fakeSchedDriver{}
	stateMgr := state.NewManager(store, machine, &seqGen{}, fc, drv, logger)

	offerCfg := offers.DefaultConfig()
	offerCfg.HoldDuration = time.Minute
	offerMgr := offers.NewManager(offerCfg, fc, drv, logger)

	job := structs.JobKey{Role: "www", Environment: "prod", Name: "web"}
	var tasks []*structs.Task
	for i := 0; i < taskCount; i++ {
		template := &structs.Task{Job: job, Req: structs.Resources{CPU: 1, MemoryMB: 128}}
		inserted, _ := stateMgr.InsertPending(template, []int32{int32(i)})
		tasks = append(tasks, inserted...)
	}

	for i := 0; i < offerCount; i++ {
		offerMgr.AddOffer(structs.Offer{
			ID:               fmt.Sprintf("offer-%d", i),
			AgentID:          fmt.Sprintf("agent-%d", i),
			Host:             fmt.Sprintf("host-%d", i),
			Resources:        structs.Resources{CPU: 2, MemoryMB: 1024},
			ReceivedAtMillis: int64(i),
		})
	}

	return stateMgr, offerMgr, drv, tasks
}

// TestScheduler_Schedule_IsDeterministic is the deterministic-schedule
// universal property: a fixed task list and a fixed, non-random offer
// ordering policy always yield the same assignment set, run after run.
func TestScheduler_Schedule_IsDeterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		taskCount := rapid.IntRange(1, 8).Draw(t, "taskCount")
		offerCount := rapid.IntRange(0, 8).Draw(t, "offerCount")

		cfg := DefaultConfig()
		cfg.OrderPolicies = []offers.OrderPolicy{offers.FIFO}

		stateMgr1, offerMgr1, drv1, tasks1 := buildDeterministicStack(taskCount, offerCount)
		oracle1 := filter.NewRadixLimitOracle()
		sched1 := New(cfg, offerMgr1, stateMgr1, oracle1, nil, nil, drv1, hclog.NewNullLogger())
		scheduled1, err := sched1.Schedule(tasks1)
		if err != nil {
			t.Fatalf("first schedule: %v", err)
		}

		stateMgr2, offerMgr2, drv2, tasks2 := buildDeterministicStack(taskCount, offerCount)
		oracle2 := filter.NewRadixLimitOracle()
		sched2 := New(cfg, offerMgr2, stateMgr2, oracle2, nil, nil, drv2, hclog.NewNullLogger())
		scheduled2, err := sched2.Schedule(tasks2)
		if err != nil {
			t.Fatalf("second schedule: %v", err)
		}

		sort.Strings(scheduled1)
		sort.Strings(scheduled2)
		if len(scheduled1) != len(scheduled2) {
			t.Fatalf("assignment set sizes differ: %d vs %d", len(scheduled1), len(scheduled2))
		}
		for i := range scheduled1 {
			if scheduled1[i] != scheduled2[i] {
				t.Fatalf("assignment sets differ at %d: %s vs %s", i, scheduled1[i], scheduled2[i])
			}
		}
	})
}
