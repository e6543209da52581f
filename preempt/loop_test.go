package preempt

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/shoenig/test/must"
	"go.uber.org/goleak"

	"github.com/taskforge/scheduler/clock"
	"github.com/taskforge/scheduler/filter"
	"github.com/taskforge/scheduler/reservation"
	"github.com/taskforge/scheduler/structs"
)

func TestLoop_Run_PollsPendingSourceAfterDelay(t *testing.T) {
	defer goleak.VerifyNone(t)

	stateMgr, offerMgr, fc := newTestStack(t)
	oracle := filter.NewRadixLimitOracle()
	reservations := reservation.NewMap(fc)
	p := New(DefaultConfig(), stateMgr, offerMgr, oracle, reservations, hclog.NewNullLogger())

	var calls int32
	pending := func() ([]*structs.Task, error) {
		atomic.AddInt32(&calls, 1)
		return nil, nil
	}

	loop := NewLoop(p, fc, time.Minute, time.Minute, pending)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	fc.Advance(time.Minute) // fires the initial delay

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&calls) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	must.True(t, atomic.LoadInt32(&calls) >= 1)

	cancel()
	<-done
}
