// Package structs defines the data model for tasks, host attributes, offers,
// static bans, and quotas (spec §3). It holds no behavior beyond small,
// side-effect-free helpers (cloning, key derivation) — transitions live in
// package fsm, matching, filtering, and scheduling live in their own packages.
package structs

import (
	"fmt"

	"github.com/mitchellh/copystructure"
)

// Status is a task's position in the lifecycle FSM (spec §4.2).
type Status string

const (
	StatusInit        Status = "INIT"
	StatusPending     Status = "PENDING"
	StatusThrottled   Status = "THROTTLED"
	StatusAssigned    Status = "ASSIGNED"
	StatusStarting    Status = "STARTING"
	StatusRunning     Status = "RUNNING"
	StatusPartitioned Status = "PARTITIONED"
	StatusPreempting  Status = "PREEMPTING"
	StatusRestarting  Status = "RESTARTING"
	StatusDraining    Status = "DRAINING"
	StatusKilling     Status = "KILLING"
	StatusFinished    Status = "FINISHED"
	StatusFailed      Status = "FAILED"
	StatusKilled      Status = "KILLED"
	StatusLost        Status = "LOST"
)

// OccupyingStatuses are the statuses in which a task still holds its
// assigned agent's resources: a candidate for preemption, for counting
// against an agent's free capacity, and for the limit-constraint oracle's
// active-sibling census.
var OccupyingStatuses = []Status{
	StatusAssigned,
	StatusStarting,
	StatusRunning,
	StatusPartitioned,
	StatusPreempting,
	StatusRestarting,
	StatusDraining,
	StatusKilling,
}

// Terminal reports whether s is one of the terminal statuses, after which a
// task is never mutated except for deletion.
func (s Status) Terminal() bool {
	switch s {
	case StatusFinished, StatusFailed, StatusKilled, StatusLost:
		return true
	default:
		return false
	}
}

// Tier controls preemption eligibility and revocability (spec Glossary).
// Lower ordinal tiers may be preempted by higher ones.
type Tier string

const (
	TierPreferred   Tier = "PREFERRED"
	TierPreemptible Tier = "PREEMPTIBLE"
	TierRevocable   Tier = "REVOCABLE"
)

// rank returns the tier's preemption priority; higher ranks may preempt
// strictly lower ones.
func (t Tier) rank() int {
	switch t {
	case TierPreferred:
		return 2
	case TierPreemptible:
		return 1
	case TierRevocable:
		return 0
	default:
		return 0
	}
}

// LowerThan reports whether t may be preempted to admit a task of tier other.
func (t Tier) LowerThan(other Tier) bool {
	return t.rank() < other.rank()
}

// JobKey identifies a job by its role/environment/name triple.
type JobKey struct {
	Role        string
	Environment string
	Name        string
}

func (k JobKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Role, k.Environment, k.Name)
}

// InstanceKey identifies the at-most-one-active-task slot a task occupies.
type InstanceKey struct {
	Job        JobKey
	InstanceID int32
}

func (k InstanceKey) String() string {
	return fmt.Sprintf("%s/%d", k.Job, k.InstanceID)
}

// PortRange is an inclusive [Begin, End] range of agent ports available in
// an offer.
type PortRange struct {
	Begin int32
	End   int32
}

// Resources is a resource request or advertisement: cpu (fractional cores),
// memory and disk in MB, and a count of named ports.
type Resources struct {
	CPU       float64
	MemoryMB  int64
	DiskMB    int64
	NumPorts  int32
	NamedPort []string
}

// Add returns the element-wise sum of r and other.
func (r Resources) Add(other Resources) Resources {
	return Resources{
		CPU:      r.CPU + other.CPU,
		MemoryMB: r.MemoryMB + other.MemoryMB,
		DiskMB:   r.DiskMB + other.DiskMB,
		NumPorts: r.NumPorts + other.NumPorts,
	}
}

// Sub returns r minus other, clamped at zero per dimension.
func (r Resources) Sub(other Resources) Resources {
	out := Resources{
		CPU:      r.CPU - other.CPU,
		MemoryMB: r.MemoryMB - other.MemoryMB,
		DiskMB:   r.DiskMB - other.DiskMB,
		NumPorts: r.NumPorts - other.NumPorts,
	}
	if out.CPU < 0 {
		out.CPU = 0
	}
	if out.MemoryMB < 0 {
		out.MemoryMB = 0
	}
	if out.DiskMB < 0 {
		out.DiskMB = 0
	}
	if out.NumPorts < 0 {
		out.NumPorts = 0
	}
	return out
}

// ConstraintKind distinguishes value constraints from limit constraints
// (spec §4.1).
type ConstraintKind int

const (
	// ValueConstraint requires the agent to expose attr with (or without,
	// if Negated) at least one of Values.
	ValueConstraint ConstraintKind = iota
	// LimitConstraint bounds the number of sibling tasks of the same job
	// sharing an attribute value on the candidate agent.
	LimitConstraint
)

// Constraint is a single placement constraint on attr.
type Constraint struct {
	Kind    ConstraintKind
	Attr    string
	Values  []string // ValueConstraint: one-of set
	Negated bool     // ValueConstraint: attr != one-of{...}
	Limit   int      // LimitConstraint: at most N
}

// TransitionEvent is one entry in a task's append-only event history.
type TransitionEvent struct {
	TimestampMillis int64
	Status          Status
	Message         string
	SchedulerHost   string
}

// Task is the authoritative record of a single scheduled unit of work.
type Task struct {
	ID    string
	Job   JobKey
	Inst  int32
	Tier  Tier
	Req   Resources
	Cons  []Constraint
	State Status

	Failures    int32
	Partitions  int32 // times-partitioned count
	AncestorID  string

	AssignedHost  string
	AssignedAgent string
	AssignedPorts map[string]int32

	Events []TransitionEvent
}

// InstanceKey returns the (job, instance) identity this task occupies.
func (t *Task) InstanceKey() InstanceKey {
	return InstanceKey{Job: t.Job, InstanceID: t.Inst}
}

// Active reports whether t currently occupies its instance slot (i.e. is
// not terminal).
func (t *Task) Active() bool {
	return !t.State.Terminal()
}

// Clone returns a deep copy of t, suitable for handing across the storage
// transaction boundary without aliasing mutable state. Panics only if t
// contains a type copystructure cannot walk, which no field here does.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	copied, err := copystructure.Copy(t)
	if err != nil {
		// copystructure only fails on unsupported reflect kinds; Task is
		// plain structs/slices/maps/strings, so this indicates a bug.
		panic(fmt.Sprintf("structs: clone task: %v", err))
	}
	return copied.(*Task)
}
