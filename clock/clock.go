// Package clock provides the time abstraction every timer-driven component
// in the scheduler core is built against, so offer return-timers, static-ban
// expiry, and preemption-reservation lifetimes can be exercised deterministically
// in tests instead of racing the wall clock.
package clock

import (
	"time"

	"oss.indeed.com/go/libtime"
)

// Clock is the seam every timer-driven collaborator depends on instead of
// the time package directly.
type Clock interface {
	// Now returns the current wall-clock time.
	Now() time.Time

	// NowMillis returns the current time as Unix milliseconds, the unit
	// task events and offer/ban timestamps are recorded in.
	NowMillis() int64

	// NewTimer returns a Timer whose channel fires once after d elapses.
	NewTimer(d time.Duration) Timer
}

// Timer is a cancellable, one-shot alarm.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

// System returns the production Clock, backed by libtime's system clock.
func System() Clock {
	return systemClock{Clock: libtime.SystemClock()}
}

type systemClock struct {
	libtime.Clock
}

func (systemClock) NowMillis() int64 {
	return time.Now().UnixMilli()
}

func (systemClock) NewTimer(d time.Duration) Timer {
	t := time.NewTimer(d)
	return systemTimer{t}
}

type systemTimer struct {
	t *time.Timer
}

func (s systemTimer) C() <-chan time.Time { return s.t.C }
func (s systemTimer) Stop() bool          { return s.t.Stop() }
