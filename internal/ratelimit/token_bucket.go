// Package ratelimit provides the in-memory token buckets that pace outgoing
// oEmbed requests per provider host.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLimited is returned by Wait when the wait would exceed the context
// deadline.
var ErrLimited = errors.New("rate limit exceeded")

// Limiter is a single token bucket.
type Limiter struct {
	mu         sync.Mutex
	rate       float64 // tokens per second
	burst      float64
	tokens     float64
	lastRefill time.Time
	now        func() time.Time
}

// New creates a Limiter allowing ratePerSecond calls/s with burst capacity.
// If burst <= 0 it defaults to ratePerSecond.
func New(ratePerSecond, burst float64) *Limiter {
	if burst <= 0 {
		burst = ratePerSecond
	}
	l := &Limiter{rate: ratePerSecond, burst: burst, tokens: burst, now: time.Now}
	l.lastRefill = l.now()
	return l
}

// refill must be called with l.mu held.
func (l *Limiter) refill() {
	now := l.now()
	l.tokens += now.Sub(l.lastRefill).Seconds() * l.rate
	if l.tokens > l.burst {
		l.tokens = l.burst
	}
	l.lastRefill = now
}

// Allow consumes one token if available.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	if l.tokens >= 1 {
		l.tokens--
		return true
	}
	return false
}

// reserve takes a token, possibly going into debt, and returns how long the
// caller must wait before using it.
func (l *Limiter) reserve() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	l.tokens--
	if l.tokens >= 0 || l.rate <= 0 {
		return 0
	}
	return time.Duration(-l.tokens / l.rate * float64(time.Second))
}

func (l *Limiter) cancel() {
	l.mu.Lock()
	l.tokens++
	l.mu.Unlock()
}

// Wait blocks until a token is available or ctx is done. When the context
// deadline comes before the token, Wait returns ErrLimited at once.
func (l *Limiter) Wait(ctx context.Context) error {
	if l.rate <= 0 {
		return nil
	}
	d := l.reserve()
	if d == 0 {
		return nil
	}
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < d {
		l.cancel()
		return ErrLimited
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		l.cancel()
		return ctx.Err()
	}
}

// Store keeps one Limiter per key (provider host).
type Store struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
	rate     float64
	burst    float64
}

// NewStore creates a Store whose limiters share rate and burst. A
// non-positive rate disables limiting.
func NewStore(ratePerSecond, burst float64) *Store {
	return &Store{limiters: make(map[string]*Limiter), rate: ratePerSecond, burst: burst}
}

func (s *Store) get(key string) *Limiter {
	s.mu.RLock()
	l, ok := s.limiters[key]
	s.mu.RUnlock()
	if ok {
		return l
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok = s.limiters[key]; ok {
		return l
	}
	l = New(s.rate, s.burst)
	s.limiters[key] = l
	return l
}

// Allow checks the limiter for key without blocking.
func (s *Store) Allow(key string) bool {
	if s == nil || s.rate <= 0 {
		return true
	}
	return s.get(key).Allow()
}

// Wait blocks until key has a token; see Limiter.Wait.
func (s *Store) Wait(ctx context.Context, key string) error {
	if s == nil || s.rate <= 0 {
		return nil
	}
	return s.get(key).Wait(ctx)
}
