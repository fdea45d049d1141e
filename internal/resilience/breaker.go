// Package resilience guards calls to unreliable upstream data sources with
// circuit breakers and bounded retries.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// BreakerState is the state of one source's circuit breaker.
type BreakerState int

const (
	// BreakerClosed is the normal state; queries flow through.
	BreakerClosed BreakerState = iota
	// BreakerOpen means the source failed repeatedly and is in cool-down.
	BreakerOpen
	// BreakerHalfOpen admits a single probe query to test recovery.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrBreakerOpen is returned when a query is skipped because the source is
// in cool-down.
var ErrBreakerOpen = eris.New("resilience: source breaker open")

// BreakerConfig controls breaker behavior for a source.
type BreakerConfig struct {
	// FailureThreshold is the consecutive failure count that trips the
	// breaker. Default: 5.
	FailureThreshold int
	// Cooldown is how long a tripped source is skipped before a probe is
	// allowed. Default: 60s.
	Cooldown time.Duration
	// OnStateChange, if set, is called with the source name on transitions.
	OnStateChange func(source string, from, to BreakerState)
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = time.Minute
	}
	return c
}

// Breaker is the circuit breaker for a single source.
type Breaker struct {
	source string
	cfg    BreakerConfig

	mu        sync.Mutex
	state     BreakerState
	failures  int
	trippedAt time.Time

	nowFunc func() time.Time
}

// NewBreaker creates a breaker for the named source.
func NewBreaker(source string, cfg BreakerConfig) *Breaker {
	return &Breaker{
		source:  source,
		cfg:     cfg.withDefaults(),
		state:   BreakerClosed,
		nowFunc: time.Now,
	}
}

// Allow reports whether a query may proceed. In the open state it returns
// ErrBreakerOpen until the cool-down elapses, then admits a probe.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.nowFunc().Sub(b.trippedAt) < b.cfg.Cooldown {
			return ErrBreakerOpen
		}
		b.transition(BreakerHalfOpen)
		return nil
	default:
		return nil
	}
}

// Record feeds one query outcome into the breaker.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failures = 0
		if b.state != BreakerClosed {
			b.transition(BreakerClosed)
		}
		return
	}

	b.failures++
	b.trippedAt = b.nowFunc()

	switch b.state {
	case BreakerClosed:
		if b.failures >= b.cfg.FailureThreshold {
			b.transition(BreakerOpen)
		}
	case BreakerHalfOpen:
		// A failed probe re-enters cool-down.
		b.transition(BreakerOpen)
	}
}

// Do runs fn through the breaker.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	err := fn(ctx)
	b.Record(err)
	return err
}

// State returns the current state, accounting for an elapsed cool-down.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && b.nowFunc().Sub(b.trippedAt) >= b.cfg.Cooldown {
		return BreakerHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	old := b.state
	b.state = BreakerClosed
	b.failures = 0
	if old != BreakerClosed && b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.source, old, BreakerClosed)
	}
}

func (b *Breaker) transition(to BreakerState) {
	from := b.state
	b.state = to
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.source, from, to)
	}
}

// BreakerSet holds one breaker per source name. The set is the only mutable
// shared state besides the cache; all updates are locked.
type BreakerSet struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	cfg      BreakerConfig
}

// NewBreakerSet creates a per-source breaker registry.
func NewBreakerSet(cfg BreakerConfig) *BreakerSet {
	return &BreakerSet{
		breakers: make(map[string]*Breaker),
		cfg:      cfg,
	}
}

// Get returns the breaker for the named source, creating one if needed.
func (s *BreakerSet) Get(source string) *Breaker {
	s.mu.RLock()
	b, ok := s.breakers[source]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok = s.breakers[source]; ok {
		return b
	}
	b = NewBreaker(source, s.cfg)
	s.breakers[source] = b
	return b
}

// States returns a snapshot of every source's breaker state.
func (s *BreakerSet) States() map[string]BreakerState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]BreakerState, len(s.breakers))
	for name, b := range s.breakers {
		out[name] = b.State()
	}
	return out
}
