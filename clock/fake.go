package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a manually advanceable Clock for deterministic tests of
// return-timers, ban expiry, and reservation lifetimes.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
	seq    uint64
}

// NewFake constructs a Fake clock starting at now.
func NewFake(now time.Time) *Fake {
	return &Fake{now: now}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) NowMillis() int64 {
	return f.Now().UnixMilli()
}

// Advance moves the fake clock forward by d, firing any timers whose
// deadline has been reached, in deadline order.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	due := f.dueLocked()
	f.mu.Unlock()

	for _, t := range due {
		t.fire()
	}
}

func (f *Fake) dueLocked() []*fakeTimer {
	var due []*fakeTimer
	remaining := f.timers[:0]
	for _, t := range f.timers {
		if !t.deadline.After(f.now) && !t.fired && !t.stopped {
			due = append(due, t)
		} else {
			remaining = append(remaining, t)
		}
	}
	f.timers = remaining
	sort.Slice(due, func(i, j int) bool {
		if due[i].deadline.Equal(due[j].deadline) {
			return due[i].seq < due[j].seq
		}
		return due[i].deadline.Before(due[j].deadline)
	})
	return due
}

func (f *Fake) NewTimer(d time.Duration) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	t := &fakeTimer{
		deadline: f.now.Add(d),
		seq:      f.seq,
		ch:       make(chan time.Time, 1),
	}
	f.timers = append(f.timers, t)
	return t
}

type fakeTimer struct {
	deadline time.Time
	seq      uint64
	ch       chan time.Time
	fired    bool
	stopped  bool
}

func (t *fakeTimer) fire() {
	t.fired = true
	select {
	case t.ch <- t.deadline:
	default:
	}
}

func (t *fakeTimer) C() <-chan time.Time { return t.ch }

func (t *fakeTimer) Stop() bool {
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}
