package state

import (
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-memdb"

	"github.com/taskforge/scheduler/clock"
	"github.com/taskforge/scheduler/event"
)

// Store is the reference implementation of the storage collaborator (spec
// §6): a write(fn)/read(fn) boundary around an in-process, watchable,
// transactional store (go-memdb), standing in for the external durable
// KV/log engine the spec places out of scope (§1). Writes are serialized
// (spec §5's single-writer lane): mu is held for the full duration of the
// write transaction, so two callers on different goroutines — the
// scheduler's AssignTask and the preemptor's ChangeState, say — never
// share a single *memdb.Txn. Callers must not call Write again from inside
// a Write callback; nothing in this package needs to, and a re-entrant
// lane can't tell "same goroutine, nested" from "different goroutine,
// concurrent" apart.
type Store struct {
	mu      sync.Mutex
	db      *memdb.MemDB
	clock   clock.Clock
	sink    *event.Sink
	pending []any
	logger  hclog.Logger
}

// NewStore constructs a Store backed by a fresh in-memory database.
func NewStore(clk clock.Clock, sink *event.Sink, logger hclog.Logger) (*Store, error) {
	db, err := memdb.NewMemDB(newSchema())
	if err != nil {
		return nil, err
	}
	return &Store{
		db:     db,
		clock:  clk,
		sink:   sink,
		logger: logger.Named("store"),
	}, nil
}

// Write executes fn inside a single write transaction, holding mu for fn's
// entire duration so concurrent callers queue behind one another rather
// than racing over the same *memdb.Txn. If fn returns an error the
// transaction is aborted and no events fire. On success the transaction
// commits and every event queued via Emit during fn is published, in the
// order queued.
func (s *Store) Write(fn func(*memdb.Txn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn := s.db.Txn(true)
	err := fn(txn)
	if err != nil {
		txn.Abort()
		return err
	}

	pending := s.pending
	s.pending = nil
	txn.Commit()

	for _, e := range pending {
		s.sink.Publish(e)
	}
	return nil
}

// Read executes fn inside a read-only transaction on a go-memdb snapshot.
// It takes no lock, so it may run concurrently with other reads and with a
// writer; fn sees the state as of the last committed write.
func (s *Store) Read(fn func(*memdb.Txn) error) error {
	txn := s.db.Txn(false)
	defer txn.Abort()
	return fn(txn)
}

// Emit queues an event to be published once the enclosing Write's
// transaction commits. Must only be called from within a Write callback —
// the callback's goroutine already holds mu for the duration of the call,
// so no additional locking is needed (or safe: mu is not re-entrant).
func (s *Store) Emit(e any) {
	s.pending = append(s.pending, e)
}

// Tasks returns the TaskStore view over this Store.
func (s *Store) Tasks() TaskStore { return TaskStore{} }

// Attributes returns the AttributeStore view over this Store.
func (s *Store) Attributes() AttributeStore { return AttributeStore{} }

// Quotas returns the QuotaStore view over this Store.
func (s *Store) Quotas() QuotaStore { return QuotaStore{} }

// Scheduler returns the SchedulerStore view over this Store.
func (s *Store) Scheduler() SchedulerStore { return SchedulerStore{} }
