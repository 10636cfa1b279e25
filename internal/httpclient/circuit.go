package httpclient

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// circuitState tracks consecutive failures for one integration key
type circuitState struct {
	fails    int
	openedAt *time.Time
}

// CircuitBreaker gates outbound calls per integration key. It opens after a
// threshold of consecutive failures and allows a probe again after the
// cooldown elapses. One instance is shared process-wide and injected into
// every caller; state is local to the process since the external API is the
// final arbiter of rate and availability.
type CircuitBreaker struct {
	mu        sync.Mutex
	states    map[string]*circuitState
	threshold int
	cooldown  time.Duration
}

// NewCircuitBreaker creates a breaker with the given failure threshold and
// open-state cooldown
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		states:    make(map[string]*circuitState),
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// CanCall reports whether a call to the integration may proceed. It returns
// true when no open timestamp is recorded, or when the cooldown has elapsed
// (half-open: one probe is allowed through).
func (cb *CircuitBreaker) CanCall(key string) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state, ok := cb.states[key]
	if !ok || state.openedAt == nil {
		return true
	}

	if time.Since(*state.openedAt) > cb.cooldown {
		log.Debug().Str("key", key).Msg("Circuit half-open, allowing probe")
		return true
	}

	return false
}

// Report records the outcome of a call. A success resets the failure count
// and closes the circuit; a failure increments the count and opens the
// circuit once the threshold is reached.
func (cb *CircuitBreaker) Report(key string, success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state, ok := cb.states[key]
	if !ok {
		state = &circuitState{}
		cb.states[key] = state
	}

	if success {
		state.fails = 0
		state.openedAt = nil
		return
	}

	state.fails++
	if state.fails >= cb.threshold && state.openedAt == nil {
		now := time.Now()
		state.openedAt = &now
		log.Warn().
			Str("key", key).
			Int("fails", state.fails).
			Dur("cooldown", cb.cooldown).
			Msg("Circuit opened for integration")
	}
}

// Reset clears all recorded state for the integration key
func (cb *CircuitBreaker) Reset(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	delete(cb.states, key)
	log.Info().Str("key", key).Msg("Circuit reset")
}

// Failures returns the current consecutive-failure count for a key
func (cb *CircuitBreaker) Failures(key string) int {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if state, ok := cb.states[key]; ok {
		return state.fails
	}
	return 0
}
