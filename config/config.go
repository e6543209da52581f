// Package config loads the declarative scheduler.hcl configuration file
// (spec §6 "Configuration options") into the typed Config every component
// constructor expects, applying the same defaults each package's own
// DefaultConfig already carries so a config file only needs to override
// what differs from the reference tuning.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"

	"github.com/taskforge/scheduler/offers"
	"github.com/taskforge/scheduler/preempt"
	"github.com/taskforge/scheduler/reconcile"
	"github.com/taskforge/scheduler/sched"
)

// PreemptorConfig wraps the preemptor's core tuning with the periodic
// search loop's own interval/delay and enable switch, which govern
// cmd/schedulerd's wiring rather than the Preemptor type itself.
type PreemptorConfig struct {
	Enabled        bool
	SearchInterval time.Duration
	Delay          time.Duration
	Core           preempt.Config
}

// Config is the fully-decoded, defaulted configuration for one scheduler
// process.
type Config struct {
	Offer          offers.Config
	Schedule       sched.Config
	Preemptor      PreemptorConfig
	Reconciliation reconcile.Config
}

// Default returns the reference configuration, equivalent to every
// component's own DefaultConfig combined.
func Default() *Config {
	return &Config{
		Offer:    offers.DefaultConfig(),
		Schedule: sched.DefaultConfig(),
		Preemptor: PreemptorConfig{
			Enabled:        true,
			SearchInterval: 5 * time.Second,
			Delay:          0,
			Core:           preempt.DefaultConfig(),
		},
		Reconciliation: reconcile.DefaultConfig(),
	}
}

// fileConfig is the raw HCL shape of scheduler.hcl; every block is optional
// so a file may override only the settings it cares about.
type fileConfig struct {
	Offer          *offerBlock          `hcl:"offer,block"`
	Ban            *banBlock            `hcl:"ban,block"`
	Schedule       *scheduleBlock       `hcl:"schedule,block"`
	Preemptor      *preemptorBlock      `hcl:"preemptor,block"`
	Reconciliation *reconciliationBlock `hcl:"reconciliation,block"`
}

type offerBlock struct {
	MinHoldMs                 *int64   `hcl:"minHoldMs,optional"`
	JitterWindowMs            *int64   `hcl:"jitterWindowMs,optional"`
	Order                     []string `hcl:"order,optional"`
	UnavailabilityThresholdMs *int64   `hcl:"unavailabilityThresholdMs,optional"`
}

type banBlock struct {
	MaxCacheSize  *int   `hcl:"maxCacheSize,optional"`
	ExpireAfterMs *int64 `hcl:"expireAfterMs,optional"`
}

type scheduleBlock struct {
	BatchSize *int `hcl:"batchSize,optional"`
}

type preemptorBlock struct {
	Enabled                 *bool  `hcl:"enabled,optional"`
	SearchIntervalMs        *int64 `hcl:"searchIntervalMs,optional"`
	DelayMs                 *int64 `hcl:"delayMs,optional"`
	ReservationMaxBatchSize *int   `hcl:"reservationMaxBatchSize,optional"`
}

type reconciliationBlock struct {
	ExplicitIntervalMs *int64 `hcl:"explicitIntervalMs,optional"`
	ImplicitIntervalMs *int64 `hcl:"implicitIntervalMs,optional"`
	InitialDelayMs     *int64 `hcl:"initialDelayMs,optional"`
	SpreadMs           *int64 `hcl:"spreadMs,optional"`
	BatchSize          *int   `hcl:"batchSize,optional"`
	BatchDelayMs       *int64 `hcl:"batchDelayMs,optional"`
}

// Load parses the HCL file at path and returns a Config with every unset
// field defaulted per Default().
func Load(path string) (*Config, error) {
	var raw fileConfig
	if err := hclsimple.DecodeFile(path, nil, &raw); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return merge(Default(), &raw)
}

func merge(cfg *Config, raw *fileConfig) (*Config, error) {
	if raw.Offer != nil {
		o := raw.Offer
		if o.MinHoldMs != nil {
			cfg.Offer.HoldDuration = time.Duration(*o.MinHoldMs) * time.Millisecond
		}
		if o.JitterWindowMs != nil {
			cfg.Offer.HoldJitter = time.Duration(*o.JitterWindowMs) * time.Millisecond
		}
		if o.UnavailabilityThresholdMs != nil {
			cfg.Offer.UnavailabilityThreshold = time.Duration(*o.UnavailabilityThresholdMs) * time.Millisecond
		}
		if len(o.Order) > 0 {
			policies, err := ParseOrderPolicies(o.Order)
			if err != nil {
				return nil, err
			}
			cfg.Schedule.OrderPolicies = policies
		}
	}
	if raw.Ban != nil {
		b := raw.Ban
		if b.MaxCacheSize != nil {
			cfg.Offer.BanMaxSize = *b.MaxCacheSize
		}
		if b.ExpireAfterMs != nil {
			cfg.Offer.BanExpireAfter = time.Duration(*b.ExpireAfterMs) * time.Millisecond
		}
	}
	if raw.Schedule != nil && raw.Schedule.BatchSize != nil {
		cfg.Schedule.BatchSize = *raw.Schedule.BatchSize
	}
	if raw.Preemptor != nil {
		p := raw.Preemptor
		if p.Enabled != nil {
			cfg.Preemptor.Enabled = *p.Enabled
		}
		if p.SearchIntervalMs != nil {
			cfg.Preemptor.SearchInterval = time.Duration(*p.SearchIntervalMs) * time.Millisecond
		}
		if p.DelayMs != nil {
			cfg.Preemptor.Delay = time.Duration(*p.DelayMs) * time.Millisecond
		}
		if p.ReservationMaxBatchSize != nil {
			cfg.Preemptor.Core.MaxBatchSize = *p.ReservationMaxBatchSize
		}
	}
	if raw.Reconciliation != nil {
		r := raw.Reconciliation
		if r.ExplicitIntervalMs != nil {
			cfg.Reconciliation.ExplicitInterval = time.Duration(*r.ExplicitIntervalMs) * time.Millisecond
		}
		if r.ImplicitIntervalMs != nil {
			cfg.Reconciliation.ImplicitInterval = time.Duration(*r.ImplicitIntervalMs) * time.Millisecond
		}
		if r.InitialDelayMs != nil {
			cfg.Reconciliation.ExplicitInitialDelay = time.Duration(*r.InitialDelayMs) * time.Millisecond
		}
		if r.SpreadMs != nil {
			cfg.Reconciliation.ImplicitSpread = time.Duration(*r.SpreadMs) * time.Millisecond
		}
		if r.BatchSize != nil {
			cfg.Reconciliation.BatchSize = *r.BatchSize
		}
		if r.BatchDelayMs != nil {
			cfg.Reconciliation.BatchDelay = time.Duration(*r.BatchDelayMs) * time.Millisecond
		}
	}
	return cfg, nil
}

// ParseOrderPolicies translates the HCL offer.order string list into
// offers.OrderPolicy values (spec §6: "RANDOM,FIFO,CPU,MEMORY,DISK,REVOCABLE").
func ParseOrderPolicies(names []string) ([]offers.OrderPolicy, error) {
	out := make([]offers.OrderPolicy, 0, len(names))
	for _, name := range names {
		switch strings.ToUpper(name) {
		case "RANDOM":
			out = append(out, offers.Random)
		case "FIFO":
			out = append(out, offers.FIFO)
		case "CPU":
			out = append(out, offers.CPUAscending)
		case "MEMORY":
			out = append(out, offers.MemoryAscending)
		case "DISK":
			out = append(out, offers.DiskAscending)
		case "REVOCABLE":
			out = append(out, offers.RevocableFirst)
		default:
			return nil, fmt.Errorf("config: unknown offer order policy %q", name)
		}
	}
	return out, nil
}
