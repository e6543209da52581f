package offers

import (
	"math/rand"
	"sort"

	"github.com/taskforge/scheduler/structs"
)

// OrderPolicy is one offer-ordering criterion (spec §4.4).
type OrderPolicy int

const (
	Random OrderPolicy = iota
	FIFO
	CPUAscending
	MemoryAscending
	DiskAscending
	RevocableFirst
)

// less compares a and b for a single OrderPolicy, returning -1, 0, or 1.
func less(p OrderPolicy, a, b structs.Offer) int {
	switch p {
	case FIFO:
		return cmpInt64(a.ReceivedAtMillis, b.ReceivedAtMillis)
	case CPUAscending:
		return cmpFloat(a.Resources.CPU, b.Resources.CPU)
	case MemoryAscending:
		return cmpInt64(a.Resources.MemoryMB, b.Resources.MemoryMB)
	case DiskAscending:
		return cmpInt64(a.Resources.DiskMB, b.Resources.DiskMB)
	case RevocableFirst:
		if a.Revocable == b.Revocable {
			return 0
		}
		if a.Revocable {
			return -1
		}
		return 1
	default:
		return 0
	}
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Order returns a copy of in sorted per policies, applied lexicographically
// (policies[0] breaks ties with policies[1], and so on) — spec §4.4's
// "composite comparator applies criteria in list order". A Random entry
// shuffles first, before any subsequent tie-break criteria are applied as
// stable sort keys; a lone Random policy is a pure shuffle.
func Order(in []structs.Offer, policies []OrderPolicy, rng *rand.Rand) []structs.Offer {
	out := make([]structs.Offer, len(in))
	copy(out, in)

	if len(policies) == 0 {
		policies = []OrderPolicy{FIFO}
	}

	hasRandom := false
	rest := make([]OrderPolicy, 0, len(policies))
	for _, p := range policies {
		if p == Random {
			hasRandom = true
			continue
		}
		rest = append(rest, p)
	}

	if hasRandom {
		rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	}

	if len(rest) == 0 {
		return out
	}

	sort.SliceStable(out, func(i, j int) bool {
		for _, p := range rest {
			c := less(p, out[i], out[j])
			if c != 0 {
				return c < 0
			}
		}
		return false
	})
	return out
}
