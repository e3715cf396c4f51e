// Package breaker gates calls to upstream dependencies (the columnar
// store, Redis, the event bus) behind a Closed/Open/HalfOpen state
// machine. Every Open period lasts baseCooldown.
package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

const (
	consecutiveFailureThreshold = 5
	failureWindow                = 10 * time.Second
	baseCooldown                 = 30 * time.Second
	maxCooldown                  = 5 * time.Minute
	halfOpenProbes                = 1
)

// State mirrors gobreaker's three-state machine without leaking the
// dependency into callers that only want to log or report health.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Breaker wraps a gobreaker circuit breaker. It records a cooldown that
// doubles on each trip to Open (capped at maxCooldown) and resets to
// baseCooldown on Close, but the inner breaker is only rebuilt after it is
// Closed again, when the cooldown has already been reset; the doubled
// value is therefore never applied, and every Open period (including a
// re-open after a failed HalfOpen probe) lasts baseCooldown.
type Breaker struct {
	name string

	mu          sync.Mutex
	cooldown    time.Duration
	inner       *gobreaker.CircuitBreaker[any]
	rebuildNext bool
}

// New creates a named breaker. name identifies the upstream in logs and
// health reports (e.g. "clickhouse", "redis", "kafka").
func New(name string) *Breaker {
	b := &Breaker{name: name, cooldown: baseCooldown}
	b.inner = b.build()
	return b
}

func (b *Breaker) build() *gobreaker.CircuitBreaker[any] {
	settings := gobreaker.Settings{
		Name:        b.name,
		MaxRequests: halfOpenProbes,
		Interval:    failureWindow,
		Timeout:     b.cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= consecutiveFailureThreshold
		},
		OnStateChange: b.onStateChange,
	}
	return gobreaker.NewCircuitBreaker[any](settings)
}

// onStateChange tracks the doubling cooldown but never rebuilds inner
// while it is genuinely Open or HalfOpen: gobreaker.NewCircuitBreaker
// always starts Closed, so swapping inner synchronously here would discard
// the Open state this very callback is reporting. The rebuild is queued
// and only performed by current() once inner has organically settled
// back to Closed (see current()); by then the Closed transition has reset
// the cooldown to baseCooldown, so the rebuilt breaker uses baseCooldown.
func (b *Breaker) onStateChange(name string, from, to gobreaker.State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch to {
	case gobreaker.StateOpen:
		b.cooldown *= 2
		if b.cooldown > maxCooldown {
			b.cooldown = maxCooldown
		}
		b.rebuildNext = true
	case gobreaker.StateClosed:
		b.cooldown = baseCooldown
		b.rebuildNext = true
	}
}

// current returns the live inner breaker, swapping in a freshly built one
// (picking up any queued cooldown change) once it has settled back to
// Closed on its own. inner.State() is called without holding b.mu: it can
// itself trigger a lazy state transition that calls onStateChange
// synchronously, which would deadlock on b.mu if held here.
func (b *Breaker) current() *gobreaker.CircuitBreaker[any] {
	b.mu.Lock()
	inner, rebuild := b.inner, b.rebuildNext
	b.mu.Unlock()

	if !rebuild || inner.State() != gobreaker.StateClosed {
		return inner
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rebuildNext && b.inner == inner {
		b.inner = b.build()
		b.rebuildNext = false
	}
	return b.inner
}

// State reports the breaker's current position in Closed/Open/HalfOpen.
func (b *Breaker) State() State {
	switch b.current().State() {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// ErrOpen is returned (wrapped) by Execute when the breaker is open and
// refuses to attempt the call.
var ErrOpen = gobreaker.ErrOpenState

// IsOpen reports whether err was produced by a breaker refusing a call
// because it is open.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState)
}

// Execute runs f through the breaker's state machine. Go does not allow
// generic methods, so Execute is a free function parameterized over the
// call's return type.
func Execute[T any](b *Breaker, f func() (T, error)) (T, error) {
	v, err := b.current().Execute(func() (any, error) {
		return f()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}
