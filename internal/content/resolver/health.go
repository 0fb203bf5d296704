package resolver

import (
	"sync"
	"time"
)

// healthState tracks consecutive failures for one provider URL.
//
//   - On success: resets failures and closes the circuit.
//   - On failure: once failures >= trip the circuit opens for an
//     exponentially increasing cooldown.
//
// An open circuit only demotes a provider to the back of the fallback order;
// it is never skipped.
type healthState struct {
	fails       int
	openUntil   time.Time
	lastFailure time.Time
}

type HealthConfig struct {
	// Trip is the consecutive failure count that opens a circuit. <0 disables.
	Trip       int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	ResetAfter time.Duration
}

func (c HealthConfig) withDefaults() HealthConfig {
	if c.Trip == 0 {
		c.Trip = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 30 * time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Minute
	}
	if c.ResetAfter <= 0 {
		c.ResetAfter = 30 * time.Minute
	}
	return c
}

type healthStore struct {
	cfg HealthConfig

	mu sync.Mutex
	m  map[string]*healthState
}

func newHealthStore(cfg HealthConfig) *healthStore {
	return &healthStore{cfg: cfg.withDefaults(), m: map[string]*healthState{}}
}

func (h *healthStore) enabled() bool { return h != nil && h.cfg.Trip > 0 }

// resetStaleLocked forgets failures that are older than ResetAfter.
func (h *healthStore) resetStaleLocked(st *healthState, now time.Time) {
	if !st.lastFailure.IsZero() && now.Sub(st.lastFailure) > h.cfg.ResetAfter {
		st.fails = 0
		st.openUntil = time.Time{}
	}
}

func (h *healthStore) isOpen(key string, now time.Time) bool {
	if !h.enabled() {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	st := h.m[key]
	if st == nil {
		return false
	}
	h.resetStaleLocked(st, now)
	return !st.openUntil.IsZero() && now.Before(st.openUntil)
}

func (h *healthStore) record(key string, now time.Time, err error) {
	if !h.enabled() {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	st := h.m[key]
	if st == nil {
		if err == nil {
			return
		}
		st = &healthState{}
		h.m[key] = st
	}
	h.resetStaleLocked(st, now)

	if err == nil {
		delete(h.m, key)
		return
	}

	st.fails++
	st.lastFailure = now
	if st.fails < h.cfg.Trip {
		return
	}

	// Exponential cooldown after tripping.
	d := h.cfg.BaseDelay
	for i := 0; i < st.fails-h.cfg.Trip; i++ {
		d *= 2
		if d >= h.cfg.MaxDelay {
			break
		}
	}
	st.openUntil = now.Add(min(d, h.cfg.MaxDelay))
}

// ProviderHealth is a diagnostic view of one tracked provider.
type ProviderHealth struct {
	URL       string    `json:"url"`
	Failures  int       `json:"failures"`
	OpenUntil time.Time `json:"open_until,omitempty"`
}

func (h *healthStore) snapshot() []ProviderHealth {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]ProviderHealth, 0, len(h.m))
	for k, st := range h.m {
		out = append(out, ProviderHealth{URL: k, Failures: st.fails, OpenUntil: st.openUntil})
	}
	return out
}
