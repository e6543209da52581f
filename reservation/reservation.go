// Package reservation implements the preemption reservation map (spec
// §4.6): a bounded-lifetime record that a specific agent has been cleared
// for a specific pending task, for the task scheduler to consume on its
// next pass (spec §4.5 step a).
package reservation

import (
	"sync"
	"time"

	"github.com/taskforge/scheduler/clock"
)

// Grant is one agent reservation for a task.
type Grant struct {
	TaskID          string
	AgentID         string
	ExpiresAtMillis int64
}

// Map is the reservation table the preemptor writes to and the task
// scheduler consumes from.
type Map struct {
	mu     sync.Mutex
	clock  clock.Clock
	byTask map[string]Grant
}

// NewMap constructs an empty reservation Map.
func NewMap(clk clock.Clock) *Map {
	return &Map{clock: clk, byTask: make(map[string]Grant)}
}

// Reserve records that agentID has been cleared for taskID, valid for ttl
// from now. A later call for the same taskID replaces any prior grant.
func (m *Map) Reserve(taskID, agentID string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byTask[taskID] = Grant{
		TaskID:          taskID,
		AgentID:         agentID,
		ExpiresAtMillis: m.clock.Now().Add(ttl).UnixMilli(),
	}
}

// Consume removes and returns taskID's reservation if one exists and has
// not expired. A scheduler that fails to place the task against the
// returned agent must not call Consume again for the same grant — the
// reservation is already gone (spec §4.5: "on failure, drop the
// reservation").
func (m *Map) Consume(taskID string) (agentID string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	grant, found := m.byTask[taskID]
	delete(m.byTask, taskID)
	if !found {
		return "", false
	}
	if grant.ExpiresAtMillis <= m.clock.NowMillis() {
		return "", false
	}
	return grant.AgentID, true
}

// Release drops taskID's reservation without consuming it, used when a
// later preemptor pass supersedes an earlier grant for the same task.
func (m *Map) Release(taskID string) {
	m.mu.Lock()
	delete(m.byTask, taskID)
	m.mu.Unlock()
}

// Len reports the number of currently held (not necessarily unexpired)
// reservations, for metrics and tests.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byTask)
}
