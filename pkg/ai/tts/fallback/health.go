package fallback

import (
	"sync"
	"time"
)

// healthState is the per-backend availability record. Mutated only by the
// orchestrator (on failure) and the prober (on recovery).
type healthState struct {
	available   bool
	lastFailure time.Time
}

// healthRegistry tracks per-backend availability and orders backends for
// failover: available ones first (in configured order), then unavailable
// ones (in configured order) appended, so there is always something left
// to try.
type healthRegistry struct {
	mu     sync.RWMutex
	states map[Backend]*healthState
	onChange func(Backend, bool)
}

func newHealthRegistry(backends []Backend, onChange func(Backend, bool)) *healthRegistry {
	states := make(map[Backend]*healthState, len(backends))
	for _, b := range backends {
		states[b] = &healthState{available: true}
	}
	return &healthRegistry{states: states, onChange: onChange}
}

// markUnavailable marks a backend down. Idempotent: only the first
// available->unavailable transition invokes onChange.
func (h *healthRegistry) markUnavailable(b Backend) {
	h.mu.Lock()
	st, ok := h.states[b]
	if !ok {
		h.mu.Unlock()
		return
	}
	wasAvailable := st.available
	st.available = false
	st.lastFailure = time.Now()
	h.mu.Unlock()

	if wasAvailable && h.onChange != nil {
		h.onChange(b, false)
	}
}

// markAvailable marks a backend up. Idempotent: only the first
// unavailable->available transition invokes onChange.
func (h *healthRegistry) markAvailable(b Backend) {
	h.mu.Lock()
	st, ok := h.states[b]
	if !ok {
		h.mu.Unlock()
		return
	}
	wasUnavailable := !st.available
	st.available = true
	h.mu.Unlock()

	if wasUnavailable && h.onChange != nil {
		h.onChange(b, true)
	}
}

// isAvailable reports a backend's current health.
func (h *healthRegistry) isAvailable(b Backend) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st, ok := h.states[b]
	return ok && st.available
}

// order returns backends in configured order, available ones first, then
// unavailable ones, preserving relative configured order within each
// group.
func (h *healthRegistry) order(backends []Backend) []Backend {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ordered := make([]Backend, 0, len(backends))
	var unavailable []Backend
	for _, b := range backends {
		st := h.states[b]
		if st != nil && st.available {
			ordered = append(ordered, b)
		} else {
			unavailable = append(unavailable, b)
		}
	}
	return append(ordered, unavailable...)
}

// unavailableBackends returns the currently unavailable subset of
// backends, in configured order. Used by the prober.
func (h *healthRegistry) unavailableBackends(backends []Backend) []Backend {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []Backend
	for _, b := range backends {
		if st := h.states[b]; st != nil && !st.available {
			out = append(out, b)
		}
	}
	return out
}
