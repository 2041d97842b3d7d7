package application

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when an enrichment call is short-circuited
// because its feature's breaker is open. Callers treat it as a recoverable,
// feature-scoped failure.
var ErrCircuitOpen = errors.New("circuit open")

// BreakerState represents a feature breaker's state.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerSnapshot is a read-only view of one feature's breaker for health
// reporting.
type BreakerSnapshot struct {
	State            BreakerState `json:"state"`
	ConsecutiveFails int          `json:"consecutive_failures"`
	LastTransitionAt time.Time    `json:"last_transition_at"`
}

// featureBreaker holds per-feature health. Guarded by the registry mutex.
type featureBreaker struct {
	state            BreakerState
	consecutiveFails int
	lastTransitionAt time.Time
	probing          bool // One trial call in flight while half-open.
}

// BreakerRegistry tracks per-feature circuit breakers for enrichment calls.
// It is an explicitly constructed, injectable state holder so tests can run
// independent instances. Safe for concurrent use.
type BreakerRegistry struct {
	mu        sync.Mutex
	breakers  map[string]*featureBreaker
	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

// BreakerOption configures a BreakerRegistry.
type BreakerOption func(*BreakerRegistry)

// WithFailureThreshold sets the consecutive-failure count that opens a breaker.
func WithFailureThreshold(n int) BreakerOption {
	return func(r *BreakerRegistry) { r.threshold = n }
}

// WithCooldown sets how long an open breaker waits before allowing a probe.
func WithCooldown(d time.Duration) BreakerOption {
	return func(r *BreakerRegistry) { r.cooldown = d }
}

// WithClock sets a custom clock function (for testing).
func WithClock(fn func() time.Time) BreakerOption {
	return func(r *BreakerRegistry) { r.now = fn }
}

// NewBreakerRegistry creates a registry with defaults: 5 consecutive failures
// to open, 2 minute cooldown before half-open.
func NewBreakerRegistry(opts ...BreakerOption) *BreakerRegistry {
	r := &BreakerRegistry{
		breakers:  make(map[string]*featureBreaker),
		threshold: 5,
		cooldown:  2 * time.Minute,
		now:       time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Allow reports whether a call for the feature should be attempted. An open
// breaker whose cooldown has elapsed moves to half-open and admits exactly one
// trial call; further calls are rejected until that trial resolves.
func (r *BreakerRegistry) Allow(feature string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	fb := r.breakerFor(feature)
	r.maybeHalfOpen(fb)

	switch fb.state {
	case BreakerClosed:
		return true
	case BreakerHalfOpen:
		if fb.probing {
			return false
		}
		fb.probing = true
		return true
	default:
		return false
	}
}

// RecordSuccess records a successful call: it resets the failure counter and,
// from half-open, closes the breaker.
func (r *BreakerRegistry) RecordSuccess(feature string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fb := r.breakerFor(feature)
	switch fb.state {
	case BreakerHalfOpen:
		fb.state = BreakerClosed
		fb.lastTransitionAt = r.now()
	}
	fb.consecutiveFails = 0
	fb.probing = false
}

// RecordFailure records a failed call. Crossing the threshold while closed
// opens the breaker; any failure while half-open reopens it and restarts the
// cooldown.
func (r *BreakerRegistry) RecordFailure(feature string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fb := r.breakerFor(feature)
	switch fb.state {
	case BreakerClosed:
		fb.consecutiveFails++
		if fb.consecutiveFails >= r.threshold {
			fb.state = BreakerOpen
			fb.lastTransitionAt = r.now()
		}
	case BreakerHalfOpen:
		fb.state = BreakerOpen
		fb.consecutiveFails++
		fb.lastTransitionAt = r.now()
		fb.probing = false
	}
}

// Snapshot returns a copy of every feature's breaker state for health
// reporting.
func (r *BreakerRegistry) Snapshot() map[string]BreakerSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]BreakerSnapshot, len(r.breakers))
	for feature, fb := range r.breakers {
		r.maybeHalfOpen(fb)
		out[feature] = BreakerSnapshot{
			State:            fb.state,
			ConsecutiveFails: fb.consecutiveFails,
			LastTransitionAt: fb.lastTransitionAt,
		}
	}
	return out
}

// Healthy reports overall enrichment health: true iff no feature is open.
func (r *BreakerRegistry) Healthy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, fb := range r.breakers {
		r.maybeHalfOpen(fb)
		if fb.state == BreakerOpen {
			return false
		}
	}
	return true
}

// breakerFor returns the feature's breaker, creating a closed one on first use.
// Must be called with mu held.
func (r *BreakerRegistry) breakerFor(feature string) *featureBreaker {
	fb, ok := r.breakers[feature]
	if !ok {
		fb = &featureBreaker{state: BreakerClosed, lastTransitionAt: r.now()}
		r.breakers[feature] = fb
	}
	return fb
}

// maybeHalfOpen moves an open breaker to half-open once the cooldown has
// elapsed. Must be called with mu held.
func (r *BreakerRegistry) maybeHalfOpen(fb *featureBreaker) {
	if fb.state == BreakerOpen && r.now().Sub(fb.lastTransitionAt) >= r.cooldown {
		fb.state = BreakerHalfOpen
		fb.lastTransitionAt = r.now()
		fb.probing = false
	}
}
