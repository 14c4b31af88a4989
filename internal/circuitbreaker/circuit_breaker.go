// Package circuitbreaker stops the filter from hammering an oEmbed endpoint
// that keeps failing. Breakers are kept per endpoint host in a Group.
//
//	Closed   -> Open      after FailureThreshold consecutive failures
//	Open     -> HalfOpen  once Timeout has elapsed
//	HalfOpen -> Closed    after SuccessThreshold consecutive successes
//	HalfOpen -> Open      on any failure
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// State is a breaker state.
type State int

const (
	// StateClosed lets calls through.
	StateClosed State = iota
	// StateOpen rejects calls until the timeout elapses.
	StateOpen
	// StateHalfOpen lets probe calls through.
	StateHalfOpen
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned by Do when the breaker rejects the call.
var ErrCircuitOpen = errors.New("circuit breaker open")

// Settings configures every breaker of a Group.
type Settings struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
	// OnStateChange, when set, is called outside the breaker lock after
	// every transition.
	OnStateChange func(name string, from, to State)
}

func (s Settings) withDefaults() Settings {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = 5
	}
	if s.SuccessThreshold <= 0 {
		s.SuccessThreshold = 1
	}
	if s.Timeout <= 0 {
		s.Timeout = 30 * time.Second
	}
	return s
}

// CircuitBreaker guards one endpoint.
type CircuitBreaker struct {
	name      string
	settings  Settings
	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openUntil time.Time
	now       func() time.Time
}

// New creates a breaker. Zero values fall back to 5 failures, 1 success and a
// 30s open timeout.
func New(failureThreshold, successThreshold int, timeout time.Duration) *CircuitBreaker {
	return newBreaker("", Settings{
		FailureThreshold: failureThreshold,
		SuccessThreshold: successThreshold,
		Timeout:          timeout,
	})
}

func newBreaker(name string, s Settings) *CircuitBreaker {
	return &CircuitBreaker{name: name, settings: s.withDefaults(), now: time.Now}
}

// Name returns the key the breaker was created for in its Group.
func (cb *CircuitBreaker) Name() string { return cb.name }

// State returns the current state. An open breaker whose timeout elapsed
// reports half-open.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	from, to := cb.resolve()
	cb.mu.Unlock()
	cb.notify(from, to)
	return to
}

// resolve must be called with cb.mu held.
func (cb *CircuitBreaker) resolve() (from, to State) {
	from = cb.state
	if cb.state == StateOpen && cb.now().After(cb.openUntil) {
		cb.state = StateHalfOpen
		cb.successes = 0
	}
	return from, cb.state
}

// Allow reports whether a call may proceed.
func (cb *CircuitBreaker) Allow() bool {
	return cb.State() != StateOpen
}

// RecordSuccess notifies the breaker that a call succeeded.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	from := cb.state
	switch cb.state {
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.settings.SuccessThreshold {
			cb.state = StateClosed
			cb.failures, cb.successes = 0, 0
		}
	case StateClosed:
		cb.failures = 0
	}
	to := cb.state
	cb.mu.Unlock()
	cb.notify(from, to)
}

// RecordFailure notifies the breaker that a call failed.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	from := cb.state
	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.settings.FailureThreshold {
			cb.trip()
		}
	case StateHalfOpen:
		cb.trip()
	}
	to := cb.state
	cb.mu.Unlock()
	cb.notify(from, to)
}

func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.successes = 0
	cb.openUntil = cb.now().Add(cb.settings.Timeout)
}

func (cb *CircuitBreaker) notify(from, to State) {
	if from != to && cb.settings.OnStateChange != nil {
		cb.settings.OnStateChange(cb.name, from, to)
	}
}

// Do runs fn when the breaker allows it and records the outcome. Errors for
// which countable returns false pass through without touching the breaker
// (a 404 says nothing about endpoint health).
func (cb *CircuitBreaker) Do(fn func() error, countable func(error) bool) error {
	if !cb.Allow() {
		return ErrCircuitOpen
	}
	err := fn()
	switch {
	case err == nil:
		cb.RecordSuccess()
	case countable == nil || countable(err):
		cb.RecordFailure()
	}
	return err
}

// Group lazily creates one breaker per key.
type Group struct {
	settings Settings
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewGroup creates a Group whose breakers share settings.
func NewGroup(s Settings) *Group {
	return &Group{settings: s.withDefaults(), breakers: make(map[string]*CircuitBreaker)}
}

// Get returns the breaker for key, creating it on first use.
func (g *Group) Get(key string) *CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	cb, ok := g.breakers[key]
	if !ok {
		cb = newBreaker(key, g.settings)
		g.breakers[key] = cb
	}
	return cb
}

// States snapshots the state of every breaker in the group.
func (g *Group) States() map[string]State {
	g.mu.Lock()
	list := make([]*CircuitBreaker, 0, len(g.breakers))
	for _, cb := range g.breakers {
		list = append(list, cb)
	}
	g.mu.Unlock()

	out := make(map[string]State, len(list))
	for _, cb := range list {
		out[cb.name] = cb.State()
	}
	return out
}
