// Package offers implements the offer manager (spec §4.4): the pool of
// outstanding resource offers, their return-timers, the static ban cache,
// and offer-ordering policies.
package offers

import (
	"math/rand"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/taskforge/scheduler/clock"
	"github.com/taskforge/scheduler/driver"
	"github.com/taskforge/scheduler/metrics"
	"github.com/taskforge/scheduler/structs"
)

// Config tunes the offer manager's return-timer jitter and ban cache.
type Config struct {
	// HoldDuration is the base duration an offer is held before being
	// returned (declined) to the driver if unused.
	HoldDuration time.Duration
	// HoldJitter is the maximum additional random duration added to
	// HoldDuration per offer, to avoid a thundering herd of simultaneous
	// declines.
	HoldJitter time.Duration

	// UnavailabilityThreshold: offers whose Unavailability starts within
	// this threshold are declined immediately instead of being pooled
	// (spec §4.4).
	UnavailabilityThreshold time.Duration

	BanMaxSize     int
	BanExpireAfter time.Duration
}

// DefaultConfig returns the reference tuning used by the scenario tests.
func DefaultConfig() Config {
	return Config{
		HoldDuration:            5 * time.Second,
		HoldJitter:              1 * time.Second,
		UnavailabilityThreshold: 30 * time.Second,
		BanMaxSize:              10000,
		BanExpireAfter:          2 * time.Minute,
	}
}

// heldOffer wraps a pooled offer with its return-timer bookkeeping. cancel
// is closed (never sent on) when the offer leaves the pool by any path
// other than timer expiry, so waitReturn's select observes it exactly
// once and exits without leaking.
type heldOffer struct {
	offer  structs.Offer
	timer  clock.Timer
	cancel chan struct{}
}

// agentCapacity is the last-advertised shape of one agent.
type agentCapacity struct {
	Host      string
	Resources structs.Resources
}

// Manager is the offer manager (spec §4.4).
type Manager struct {
	mu sync.Mutex

	cfg    Config
	clock  clock.Clock
	driver driver.Driver
	logger hclog.Logger
	rng    *rand.Rand

	byID    map[string]*heldOffer
	byAgent map[string]string // agentID -> offerID

	// capacity remembers the last-advertised total resources and host for
	// each agent, independent of whether the agent's offer is still
	// pooled — the preemptor needs an agent's full capacity even while its
	// resources are entirely consumed by running tasks and no offer is
	// outstanding.
	capacity map[string]agentCapacity

	bans *banCache

	metrics metrics.Recorder
}

// SetMetrics wires a metrics.Recorder for offer-held gauge and ban-counter
// reporting. Defaults to a no-op recorder so components built without a
// metrics sink (most unit tests) don't need to care.
func (m *Manager) SetMetrics(r metrics.Recorder) { m.metrics = r }

// NewManager wires an offer Manager from its explicit collaborators.
func NewManager(cfg Config, clk clock.Clock, drv driver.Driver, logger hclog.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		clock:   clk,
		driver:  drv,
		logger:  logger.Named("offer_manager"),
		rng:     rand.New(rand.NewSource(clk.Now().UnixNano())),
		byID:     make(map[string]*heldOffer),
		byAgent:  make(map[string]string),
		capacity: make(map[string]agentCapacity),
		bans:     newBanCache(cfg.BanMaxSize, cfg.BanExpireAfter),
		metrics:  metrics.Nop{},
	}
}

// AddOffer pools offer, first cancelling any pending return-timer for its
// agent (spec §4.4: "a new offer from the same agent cancels any pending
// return-timer for its agent and replaces the held offer"). An offer whose
// Unavailability starts within cfg.UnavailabilityThreshold is declined
// immediately instead of pooled.
func (m *Manager) AddOffer(offer structs.Offer) {
	if offer.Unavailability != nil && offer.Unavailability.StartsWithin(m.clock.Now(), m.cfg.UnavailabilityThreshold) {
		m.declineLocked(offer.ID, "unavailability window imminent")
		return
	}

	m.mu.Lock()
	if prevID, ok := m.byAgent[offer.AgentID]; ok {
		m.removeLocked(prevID)
	}
	m.capacity[offer.AgentID] = agentCapacity{Host: offer.Host, Resources: offer.Resources}

	cancel := make(chan struct{})
	delay := m.cfg.HoldDuration
	if m.cfg.HoldJitter > 0 {
		delay += time.Duration(m.rng.Int63n(int64(m.cfg.HoldJitter)))
	}
	timer := m.clock.NewTimer(delay)

	held := &heldOffer{offer: offer, timer: timer, cancel: cancel}
	m.byID[offer.ID] = held
	m.byAgent[offer.AgentID] = offer.ID
	m.metrics.SetGauge(metrics.OffersHeld, float32(len(m.byID)))
	m.mu.Unlock()

	go m.waitReturn(offer.ID, timer, cancel)
}

// waitReturn blocks until either the hold timer fires (the offer is
// returned/declined) or cancel is closed (the offer left the pool some
// other way), whichever happens first — never leaking on Stop().
func (m *Manager) waitReturn(offerID string, timer clock.Timer, cancel chan struct{}) {
	select {
	case <-timer.C():
		m.expire(offerID)
	case <-cancel:
	}
}

// expire returns an offer to the driver once its hold timer fires, if it
// is still pooled under the same timer (it may have already been
// relaunched or cancelled, racing the timer).
func (m *Manager) expire(offerID string) {
	m.mu.Lock()
	held, ok := m.byID[offerID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.byID, offerID)
	if m.byAgent[held.offer.AgentID] == offerID {
		delete(m.byAgent, held.offer.AgentID)
	}
	m.metrics.SetGauge(metrics.OffersHeld, float32(len(m.byID)))
	m.mu.Unlock()

	if m.driver != nil {
		if err := m.driver.DeclineOffer(offerID, 0); err != nil {
			m.logger.Warn("decline expired offer failed", "offer_id", offerID, "error", err)
		}
	}
}

// CancelOffer removes offer from the pool without declining it — used
// when the offer has just been handed to the driver for a launch.
func (m *Manager) CancelOffer(offerID string) {
	m.mu.Lock()
	m.removeLocked(offerID)
	m.mu.Unlock()
}

// removeLocked removes offerID from the pool and stops its timer,
// signalling waitReturn to exit via cancel. Caller must hold mu.
func (m *Manager) removeLocked(offerID string) {
	held, ok := m.byID[offerID]
	if !ok {
		return
	}
	held.timer.Stop()
	close(held.cancel)
	delete(m.byID, offerID)
	if m.byAgent[held.offer.AgentID] == offerID {
		delete(m.byAgent, held.offer.AgentID)
	}
	m.metrics.SetGauge(metrics.OffersHeld, float32(len(m.byID)))
}

// declineLocked declines an offer that was never pooled (the
// unavailability-imminent path in AddOffer).
func (m *Manager) declineLocked(offerID, reason string) {
	if m.driver == nil {
		return
	}
	filterSeconds := int64(m.cfg.UnavailabilityThreshold.Seconds())
	if err := m.driver.DeclineOffer(offerID, filterSeconds); err != nil {
		m.logger.Warn("decline offer failed", "offer_id", offerID, "reason", reason, "error", err)
	}
}

// GetOffers returns the currently pooled offers ordered per policies
// (spec §4.4).
func (m *Manager) GetOffers(policies ...OrderPolicy) []structs.Offer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]structs.Offer, 0, len(m.byID))
	for _, held := range m.byID {
		out = append(out, held.offer)
	}
	// Order consumes m.rng (Random policy's Shuffle); it must stay under
	// mu since AddOffer also draws from m.rng for hold-timer jitter and
	// *rand.Rand is not safe for concurrent use.
	return Order(out, policies, m.rng)
}

// Capacity returns the last-advertised total resources and host for
// agentID, if any offer has ever been seen from it.
func (m *Manager) Capacity(agentID string) (host string, resources structs.Resources, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ac, ok := m.capacity[agentID]
	return ac.Host, ac.Resources, ok
}

// GetOfferByAgent returns the currently pooled offer for agentID, if any.
func (m *Manager) GetOfferByAgent(agentID string) (structs.Offer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	offerID, ok := m.byAgent[agentID]
	if !ok {
		return structs.Offer{}, false
	}
	return m.byID[offerID].offer, true
}

// LaunchOnAgent attempts to launch task against the single offer currently
// held for agentID (the preemption-reservation and job-update-reservation
// path of spec §4.5 step a, which restricts the search to one specific
// agent rather than iterating the full pool).
func (m *Manager) LaunchOnAgent(task *structs.Task, agentID string, fit FitPredicate, handle func(structs.Offer) error) (bool, error) {
	offer, ok := m.GetOfferByAgent(agentID)
	if !ok {
		return false, nil
	}
	fits, _ := fit(task, offer)
	if !fits {
		return false, nil
	}
	m.CancelOffer(offer.ID)
	if err := handle(offer); err != nil {
		return false, err
	}
	return true, nil
}

// BanOffer records offer as statically insufficient for groupKey.
func (m *Manager) BanOffer(offerID, groupKey string) {
	m.bans.add(structs.StaticBan{
		OfferID:         offerID,
		GroupKey:        groupKey,
		CreatedAtMillis: m.clock.Now().UnixMilli(),
	})
	m.metrics.IncrCounter(metrics.OffersBanned, 1)
}

// IsBanned reports whether offerID is currently banned for groupKey.
func (m *Manager) IsBanned(offerID, groupKey string) bool {
	return m.bans.isBanned(offerID, groupKey)
}

// BanCacheSize reports the current ban cache occupancy, for metrics/tests.
func (m *Manager) BanCacheSize() int { return m.bans.len() }

// FitPredicate decides whether task fits offer, returning that verdict and
// the task's static-ban group key. Supplied by the task scheduler so the offer
// manager stays ignorant of scheduling-filter semantics (spec §4.5).
type FitPredicate func(task *structs.Task, offer structs.Offer) (fits bool, groupKey string)

// LaunchFirst iterates the pool in the order policies dictate, skipping
// any offer statically banned for the task's group, and hands the first
// fitting offer to handle for launch, removing it from the pool. It does
// not itself register bans on a veto; that is fitPredicate's caller's
// responsibility via BanOffer (spec §4.5 step b). Returns false if no
// offer in the pool fits.
func (m *Manager) LaunchFirst(task *structs.Task, policies []OrderPolicy, fit FitPredicate, handle func(structs.Offer) error) (bool, error) {
	for _, offer := range m.GetOffers(policies...) {
		fits, groupKey := fit(task, offer)
		if !fits {
			continue
		}
		if m.IsBanned(offer.ID, groupKey) {
			continue
		}

		m.CancelOffer(offer.ID)
		if err := handle(offer); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}
