package filter

import (
	"strings"

	iradix "github.com/hashicorp/go-immutable-radix/v2"

	"github.com/taskforge/scheduler/structs"
)

// RadixLimitOracle is a LimitOracle backed by an immutable radix tree keyed
// by "job|attr|value", rebuilt cheaply once per scheduling pass from a
// snapshot of active tasks rather than mutating any shared index (spec
// §2.2: "ordered, snapshot-friendly radix index").
type RadixLimitOracle struct {
	tree *iradix.Tree[int]
}

// NewRadixLimitOracle returns an empty oracle; callers populate it through
// Observe from their own agent-attribute lookups, since the oracle itself
// knows nothing about agents.
func NewRadixLimitOracle() *RadixLimitOracle {
	return &RadixLimitOracle{tree: iradix.New[int]()}
}

// Observe records that an active task of job carries value for attr on its
// assigned agent. Call once per (job, attr, value) tuple contributed by
// each active task before using Count.
func (o *RadixLimitOracle) Observe(job structs.JobKey, attr, value string) {
	key := []byte(radixKey(job, attr, value))
	existing, _ := o.tree.Get(key)
	o.tree, _, _ = o.tree.Insert(key, existing+1)
}

// Count returns the number of active sibling tasks of job sharing value on
// attr, as recorded via Observe.
func (o *RadixLimitOracle) Count(job structs.JobKey, attr, value string) int {
	v, ok := o.tree.Get([]byte(radixKey(job, attr, value)))
	if !ok {
		return 0
	}
	return v
}

func radixKey(job structs.JobKey, attr, value string) string {
	var b strings.Builder
	b.WriteString(job.String())
	b.WriteByte('\x00')
	b.WriteString(attr)
	b.WriteByte('\x00')
	b.WriteString(value)
	return b.String()
}
