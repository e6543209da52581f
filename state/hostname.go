package state

import (
	"os"
	"sync"
)

var (
	hostnameOnce sync.Once
	hostname     string
)

// ProcessHostname returns this process's hostname for event attribution,
// resolved and memoized exactly once (spec §4.3: "Hostname for event
// attribution is memoized once per process").
func ProcessHostname() string {
	hostnameOnce.Do(func() {
		h, err := os.Hostname()
		if err != nil || h == "" {
			h = "unknown-host"
		}
		hostname = h
	})
	return hostname
}
