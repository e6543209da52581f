package offers

import (
	"math/rand"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/shoenig/test/must"

	"github.com/taskforge/scheduler/clock"
	"github.com/taskforge/scheduler/driver"
	"github.com/taskforge/scheduler/structs"
)

type fakeDriver struct {
	declined []string
	launched []string
}

func (f *fakeDriver) LaunchTask(offerID string, task *structs.Task) error {
	f.launched = append(f.launched, offerID)
	return nil
}
func (f *fakeDriver) KillTask(taskID string) error { return nil }
func (f *fakeDriver) DeclineOffer(offerID string, filterDuration int64) error {
	f.declined = append(f.declined, offerID)
	return nil
}
func (f *fakeDriver) ReconcileTasks(statuses []driver.TaskStatusReport) error { return nil }

func testManager(t *testing.T, fc *clock.Fake, drv *fakeDriver) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.HoldDuration = 10 * time.Second
	cfg.HoldJitter = 0
	return NewManager(cfg, fc, drv, hclog.NewNullLogger())
}

func TestManager_AddOffer_ExpiresAndDeclines(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	drv := &fakeDriver{}
	m := testManager(t, fc, drv)

	m.AddOffer(structs.Offer{ID: "o1", AgentID: "a1"})
	must.Len(t, 1, m.GetOffers())

	fc.Advance(11 * time.Second)
	must.Eq(t, []string{"o1"}, drv.declined)

	must.Len(t, 0, m.GetOffers())
}

func TestManager_AddOffer_ReplacesPriorFromSameAgent(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	drv := &fakeDriver{}
	m := testManager(t, fc, drv)

	m.AddOffer(structs.Offer{ID: "o1", AgentID: "a1"})
	m.AddOffer(structs.Offer{ID: "o2", AgentID: "a1"})

	offers := m.GetOffers()
	must.Len(t, 1, offers)
	must.Eq(t, "o2", offers[0].ID)

	// o1's timer must have been cancelled, not fired, when o2 replaced it.
	fc.Advance(11 * time.Second)
	must.Eq(t, []string{"o2"}, drv.declined)
}

func TestManager_CancelOffer_NoDecline(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	drv := &fakeDriver{}
	m := testManager(t, fc, drv)

	m.AddOffer(structs.Offer{ID: "o1", AgentID: "a1"})
	m.CancelOffer("o1")
	must.Len(t, 0, m.GetOffers())

	fc.Advance(time.Minute)
	must.Len(t, 0, drv.declined)
}

func TestManager_UnavailabilityImminent_DeclinesWithoutPooling(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	drv := &fakeDriver{}
	m := testManager(t, fc, drv)

	m.AddOffer(structs.Offer{
		ID:      "o1",
		AgentID: "a1",
		Unavailability: &structs.Unavailability{
			StartMillis: fc.Now().Add(5 * time.Second).UnixMilli(),
		},
	})

	must.Len(t, 0, m.GetOffers())
	must.Eq(t, []string{"o1"}, drv.declined)
}

func TestManager_BanOffer_IsBanned(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	m := testManager(t, fc, &fakeDriver{})

	must.False(t, m.IsBanned("o1", "job1"))
	m.BanOffer("o1", "job1")
	must.True(t, m.IsBanned("o1", "job1"))
	must.False(t, m.IsBanned("o1", "job2"))
}

func TestManager_LaunchFirst_SkipsBannedAndNonFitting(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	drv := &fakeDriver{}
	m := testManager(t, fc, drv)

	m.AddOffer(structs.Offer{ID: "o1", AgentID: "a1", Resources: structs.Resources{CPU: 1}})
	m.AddOffer(structs.Offer{ID: "o2", AgentID: "a2", Resources: structs.Resources{CPU: 4}})
	m.BanOffer("o2", "grp")

	task := &structs.Task{ID: "t1"}
	fit := func(task *structs.Task, offer structs.Offer) (bool, string) {
		return offer.Resources.CPU >= 4, "grp"
	}

	launched := ""
	ok, err := m.LaunchFirst(task, nil, fit, func(o structs.Offer) error {
		launched = o.ID
		return nil
	})
	must.NoError(t, err)
	must.False(t, ok) // o2 is banned for grp and o1 doesn't fit, so nothing launches
	must.Eq(t, "", launched)

	m.BanOffer("o2", "grp2")
	m.AddOffer(structs.Offer{ID: "o3", AgentID: "a3", Resources: structs.Resources{CPU: 8}})
	fit2 := func(task *structs.Task, offer structs.Offer) (bool, string) {
		return offer.Resources.CPU >= 4, "grp2"
	}
	ok, err = m.LaunchFirst(task, nil, fit2, func(o structs.Offer) error {
		launched = o.ID
		return nil
	})
	must.NoError(t, err)
	must.True(t, ok)
	must.Eq(t, "o3", launched)
	must.Len(t, 2, m.GetOffers()) // o1 and o2 still pooled, o3 removed on launch
}

func TestOrder_RevocableFirst(t *testing.T) {
	offers := []structs.Offer{
		{ID: "a", Revocable: false},
		{ID: "b", Revocable: true},
		{ID: "c", Revocable: false},
	}
	ordered := Order(offers, []OrderPolicy{RevocableFirst}, rand.New(rand.NewSource(1)))
	must.Eq(t, "b", ordered[0].ID)
}

func TestOrder_CompositeFIFOThenCPU(t *testing.T) {
	offers := []structs.Offer{
		{ID: "a", ReceivedAtMillis: 1, Resources: structs.Resources{CPU: 2}},
		{ID: "b", ReceivedAtMillis: 1, Resources: structs.Resources{CPU: 1}},
		{ID: "c", ReceivedAtMillis: 2, Resources: structs.Resources{CPU: 0}},
	}
	ordered := Order(offers, []OrderPolicy{FIFO, CPUAscending}, rand.New(rand.NewSource(1)))
	must.Eq(t, []string{"b", "a", "c"}, []string{ordered[0].ID, ordered[1].ID, ordered[2].ID})
}
