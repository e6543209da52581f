package structs

import "time"

// Unavailability is a scheduled maintenance window advertised on an offer.
type Unavailability struct {
	StartMillis    int64
	DurationMillis int64
}

// StartsWithin reports whether the unavailability window begins within
// threshold of now.
func (u Unavailability) StartsWithin(now time.Time, threshold time.Duration) bool {
	if u.StartMillis == 0 {
		return false
	}
	deadline := now.Add(threshold).UnixMilli()
	return u.StartMillis <= deadline
}

// Offer is an agent's snapshot of available resources at a moment (spec §3).
type Offer struct {
	ID      string
	AgentID string
	Host    string

	Resources Resources
	Ports     []PortRange
	Revocable bool

	Unavailability *Unavailability

	ReceivedAtMillis int64
}

// StaticBan asserts that Offer OfferID was proven insufficient for the task
// group identified by GroupKey (spec §3).
type StaticBan struct {
	OfferID         string
	GroupKey        string
	CreatedAtMillis int64
}

// Quota is the per-role resource aggregate ceiling (spec §3).
type Quota struct {
	Role      string
	Resources Resources
}
