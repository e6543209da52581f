package offers

import (
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/taskforge/scheduler/clock"
	"github.com/taskforge/scheduler/structs"
)

// TestManager_NoGoroutineLeakAcrossOfferLifecycles exercises every path that
// ends a held offer's waitReturn goroutine: timer expiry, explicit cancel,
// and same-agent replacement. Every pooled offer spawns exactly one
// return-timer goroutine (the "exactly-one-return-timer-per-offer"
// invariant); this asserts none of them survive past the offer leaving the
// pool.
func TestManager_NoGoroutineLeakAcrossOfferLifecycles(t *testing.T) {
	defer goleak.VerifyNone(t)

	fc := clock.NewFake(time.Unix(0, 0))
	drv := &fakeDriver{}
	m := testManager(t, fc, drv)

	m.AddOffer(structs.Offer{ID: "o1", AgentID: "a1"})
	fc.Advance(11 * time.Second) // expires via timer

	m.AddOffer(structs.Offer{ID: "o2", AgentID: "a2"})
	m.CancelOffer("o2") // explicit cancel

	m.AddOffer(structs.Offer{ID: "o3", AgentID: "a3"})
	m.AddOffer(structs.Offer{ID: "o4", AgentID: "a3"}) // replaces o3's timer

	m.CancelOffer("o4")
}
