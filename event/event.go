// Package event defines the typed, per-category event channels published by
// the state manager after a write transaction commits (spec §6, design
// note: "one typed event channel per event category ... delivery is
// synchronous in commit order").
package event

import (
	"github.com/hashicorp/go-hclog"

	"github.com/taskforge/scheduler/structs"
)

// TaskStateChange is published whenever a task's persisted status changes.
type TaskStateChange struct {
	Task     *structs.Task
	Previous structs.Status
}

// TasksDeleted is published whenever one or more tasks are removed from
// storage.
type TasksDeleted struct {
	Tasks []*structs.Task
}

// HostAttributesChanged is published whenever an agent's attribute record
// is merged with a new one.
type HostAttributesChanged struct {
	Attrs structs.HostAttributes
}

// SchedulerActive is published once the scheduler has finished leader
// election / startup and is actively serving.
type SchedulerActive struct{}

// Sink fans out committed events to one buffered channel per category.
// Subscribers register by reading the category channels they care about;
// channels are sized generously at construction and a full channel causes
// Publish to drop the event and log a warning rather than block the
// single write-transaction lane.
type Sink struct {
	logger hclog.Logger

	taskState chan TaskStateChange
	deleted   chan TasksDeleted
	attrs     chan HostAttributesChanged
	active    chan SchedulerActive
}

// NewSink constructs a Sink with the given per-category channel buffer
// size.
func NewSink(logger hclog.Logger, buffer int) *Sink {
	if buffer <= 0 {
		buffer = 64
	}
	return &Sink{
		logger:    logger.Named("event"),
		taskState: make(chan TaskStateChange, buffer),
		deleted:   make(chan TasksDeleted, buffer),
		attrs:     make(chan HostAttributesChanged, buffer),
		active:    make(chan SchedulerActive, buffer),
	}
}

// TaskStateChanges returns the subscriber channel for TaskStateChange.
func (s *Sink) TaskStateChanges() <-chan TaskStateChange { return s.taskState }

// TasksDeletedCh returns the subscriber channel for TasksDeleted.
func (s *Sink) TasksDeletedCh() <-chan TasksDeleted { return s.deleted }

// HostAttributesChangedCh returns the subscriber channel for
// HostAttributesChanged.
func (s *Sink) HostAttributesChangedCh() <-chan HostAttributesChanged { return s.attrs }

// SchedulerActiveCh returns the subscriber channel for SchedulerActive.
func (s *Sink) SchedulerActiveCh() <-chan SchedulerActive { return s.active }

// Publish delivers e on its category channel. Called only after the
// originating write transaction has committed, and always in commit order
// for events from the same transaction.
func (s *Sink) Publish(e any) {
	switch v := e.(type) {
	case TaskStateChange:
		select {
		case s.taskState <- v:
		default:
			s.logger.Warn("dropped task state change event, subscriber channel full", "task_id", v.Task.ID)
		}
	case TasksDeleted:
		select {
		case s.deleted <- v:
		default:
			s.logger.Warn("dropped tasks deleted event", "count", len(v.Tasks))
		}
	case HostAttributesChanged:
		select {
		case s.attrs <- v:
		default:
			s.logger.Warn("dropped host attributes changed event", "host", v.Attrs.Host)
		}
	case SchedulerActive:
		select {
		case s.active <- v:
		default:
			s.logger.Warn("dropped scheduler active event")
		}
	}
}
