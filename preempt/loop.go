package preempt

import (
	"context"
	"time"

	"github.com/taskforge/scheduler/clock"
	"github.com/taskforge/scheduler/structs"
)

// PendingSource returns the current pending-task backlog for one search
// pass. Supplied by the wiring function, which knows how to query the
// state manager for PENDING tasks.
type PendingSource func() ([]*structs.Task, error)

// Loop is the preemptor's periodic driver (spec §5.1: one of the three
// periodic actors, parked on the injected clock and stopped by context
// cancellation).
type Loop struct {
	p        *Preemptor
	clock    clock.Clock
	interval time.Duration
	delay    time.Duration
	pending  PendingSource
}

// NewLoop wires a Loop from its explicit collaborators. delay defers the
// first search past startup; interval paces every subsequent one.
func NewLoop(p *Preemptor, clk clock.Clock, interval, delay time.Duration, pending PendingSource) *Loop {
	return &Loop{p: p, clock: clk, interval: interval, delay: delay, pending: pending}
}

// Run blocks, issuing one FindSlots pass every interval, until ctx is
// cancelled.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.sleep(ctx, l.delay); err != nil {
		return nil
	}
	for {
		pending, err := l.pending()
		if err != nil {
			l.p.logger.Warn("preemption loop: list pending failed", "error", err)
		} else if len(pending) > 0 {
			if _, err := l.p.FindSlots(pending); err != nil {
				l.p.logger.Warn("preemption search pass failed", "error", err)
			}
		}
		if err := l.sleep(ctx, l.interval); err != nil {
			return nil
		}
	}
}

func (l *Loop) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
	timer := l.clock.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C():
		return nil
	}
}
