package fsm

import (
	"fmt"
	"time"

	"github.com/taskforge/scheduler/structs"
)

// DefaultRetryPolicy allows a bounded number of failures before giving up
// on a task lineage. The zero value uses MaxFailures' default of 5.
type DefaultRetryPolicy struct {
	MaxFailures int32
}

// AllowRetry reports whether task.Failures is still under the configured
// ceiling. task.Failures does not yet count this failure: the machine
// consults the policy first and increments the count only when a retry is
// allowed.
func (p DefaultRetryPolicy) AllowRetry(task *structs.Task) bool {
	max := p.MaxFailures
	if max <= 0 {
		max = 5
	}
	return task.Failures < max
}

// DefaultFlapOracle penalizes a task lineage that has partitioned
// repeatedly, a cheap proxy for "this agent or this task is flapping"
// without tracking a full sliding window.
type DefaultFlapOracle struct {
	// PartitionThreshold is the TimesPartitioned count at or above which a
	// reschedule is penalized. Zero uses the default of 3.
	PartitionThreshold int32
	// PenaltyDuration is the throttle duration applied once the threshold
	// is crossed. Zero uses the default of 1 minute.
	PenaltyDuration time.Duration
}

// Penalty implements FlapOracle.
func (o DefaultFlapOracle) Penalty(task *structs.Task) (time.Duration, string) {
	threshold := o.PartitionThreshold
	if threshold <= 0 {
		threshold = 3
	}
	if task.Partitions < threshold {
		return 0, ""
	}
	penalty := o.PenaltyDuration
	if penalty <= 0 {
		penalty = time.Minute
	}
	return penalty, fmt.Sprintf("flap detected: partitioned %d times", task.Partitions)
}
