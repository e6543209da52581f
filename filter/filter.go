// Package filter implements the scheduling filter (spec §4.1): a pure
// function answering "can task T run on agent A?" against an offer's
// resources and an agent's attributes, reporting every applicable veto
// rather than short-circuiting on the first.
package filter

import (
	"fmt"

	"github.com/taskforge/scheduler/structs"
)

// VetoKind enumerates the reasons fit may reject a (task, offer) pairing.
type VetoKind int

const (
	InsufficientCPU VetoKind = iota
	InsufficientMemory
	InsufficientDisk
	InsufficientPorts
	UnsatisfiedValueConstraint
	UnsatisfiedLimitConstraint
	Maintenance
	DedicatedConstraintMismatch
)

// Veto is one reason a pairing was rejected. Attr is populated for the two
// constraint-kind vetoes.
type Veto struct {
	Kind VetoKind
	Attr string
}

func (v Veto) String() string {
	switch v.Kind {
	case InsufficientCPU:
		return "INSUFFICIENT_CPU"
	case InsufficientMemory:
		return "INSUFFICIENT_MEM"
	case InsufficientDisk:
		return "INSUFFICIENT_DISK"
	case InsufficientPorts:
		return "INSUFFICIENT_PORTS"
	case UnsatisfiedValueConstraint:
		return fmt.Sprintf("UNSATISFIED_VALUE_CONSTRAINT(%s)", v.Attr)
	case UnsatisfiedLimitConstraint:
		return fmt.Sprintf("UNSATISFIED_LIMIT_CONSTRAINT(%s)", v.Attr)
	case Maintenance:
		return "MAINTENANCE"
	case DedicatedConstraintMismatch:
		return "DEDICATED_CONSTRAINT_MISMATCH"
	default:
		return "UNKNOWN_VETO"
	}
}

// LimitOracle reports the number of currently-active sibling tasks of job
// that share value on attr at the candidate agent. Callers supply a
// snapshot-backed implementation (see filter.RadixLimitOracle).
type LimitOracle interface {
	Count(job structs.JobKey, attr, value string) int
}

// Fit evaluates whether task can run on an agent advertising offerResources
// with agentAttrs, given the agent's maintenance mode. It returns every
// applicable veto; a nil/empty slice means the pairing fits.
func Fit(
	task *structs.Task,
	offerResources structs.Resources,
	agentAttrs structs.HostAttributes,
	oracle LimitOracle,
) []Veto {
	var vetoes []Veto

	if agentAttrs.Mode == structs.ModeDraining || agentAttrs.Mode == structs.ModeDrained {
		vetoes = append(vetoes, Veto{Kind: Maintenance})
	}

	if !satisfiesDedicated(task, agentAttrs) {
		vetoes = append(vetoes, Veto{Kind: DedicatedConstraintMismatch})
	}

	if offerResources.CPU < task.Req.CPU {
		vetoes = append(vetoes, Veto{Kind: InsufficientCPU})
	}
	if offerResources.MemoryMB < task.Req.MemoryMB {
		vetoes = append(vetoes, Veto{Kind: InsufficientMemory})
	}
	if offerResources.DiskMB < task.Req.DiskMB {
		vetoes = append(vetoes, Veto{Kind: InsufficientDisk})
	}
	if offerResources.NumPorts < task.Req.NumPorts {
		vetoes = append(vetoes, Veto{Kind: InsufficientPorts})
	}

	for _, c := range task.Cons {
		switch c.Kind {
		case structs.ValueConstraint:
			if !satisfiesValueConstraint(c, agentAttrs) {
				vetoes = append(vetoes, Veto{Kind: UnsatisfiedValueConstraint, Attr: c.Attr})
			}
		case structs.LimitConstraint:
			if !satisfiesLimitConstraint(c, task.Job, agentAttrs, oracle) {
				vetoes = append(vetoes, Veto{Kind: UnsatisfiedLimitConstraint, Attr: c.Attr})
			}
		}
	}

	return vetoes
}

// dedicatedAttr is the reserved attribute name an agent carries to restrict
// itself to a single job's role, mirroring the "dedicated" hosts convention
// the spec's VetoReason enumeration names but leaves undetailed.
const dedicatedAttr = "dedicated"

// satisfiesDedicated reports whether task may run on an agent that declares
// a "dedicated" attribute: a host without the attribute is shared and
// accepts anything; a host with it only accepts tasks whose job role (or
// full job key) appears among the declared values.
func satisfiesDedicated(task *structs.Task, agentAttrs structs.HostAttributes) bool {
	attr, ok := agentAttrs.Get(dedicatedAttr)
	if !ok {
		return true
	}
	return attr.Values.Contains(task.Job.Role) || attr.Values.Contains(task.Job.String())
}

// satisfiesValueConstraint implements "attr=one-of{v1,...}" (pass iff the
// agent exposes attr with at least one matching value) and its negation
// "attr!=one-of{...}".
func satisfiesValueConstraint(c structs.Constraint, agentAttrs structs.HostAttributes) bool {
	attr, ok := agentAttrs.Get(c.Attr)
	if !ok {
		// An absent attribute can never satisfy a positive match, but
		// trivially satisfies a negated one (nothing to exclude).
		return c.Negated
	}
	matches := false
	for _, v := range c.Values {
		if attr.Values.Contains(v) {
			matches = true
			break
		}
	}
	if c.Negated {
		return !matches
	}
	return matches
}

// satisfiesLimitConstraint implements "attr<=N": pass iff the oracle
// reports fewer than N active sibling tasks of the same job sharing any
// value of attr with this agent.
func satisfiesLimitConstraint(c structs.Constraint, job structs.JobKey, agentAttrs structs.HostAttributes, oracle LimitOracle) bool {
	attr, ok := agentAttrs.Get(c.Attr)
	if !ok {
		return true
	}
	total := 0
	for _, v := range attr.Values.Slice() {
		total += oracle.Count(job, c.Attr, v)
	}
	return total < c.Limit
}
