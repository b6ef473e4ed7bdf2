// Package resilience guards the external generation API with a circuit
// breaker. The API is polled and slow; when it starts failing, the breaker
// sheds replies fast instead of letting every queued task burn its full
// timeout against a dead endpoint.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned when the breaker rejects a call without making it.
var ErrOpen = errors.New("resilience: breaker is open")

// State is the breaker's operating mode.
type State int

const (
	// StateClosed forwards all calls.
	StateClosed State = iota

	// StateOpen rejects calls until the cooldown elapses.
	StateOpen

	// StateHalfOpen lets a few probe calls through to test recovery.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config tunes a Breaker. Zero values get defaults.
type Config struct {
	// Name labels the breaker in logs.
	Name string

	// MaxFailures is how many consecutive failures trip the breaker.
	// Default 5.
	MaxFailures int

	// Cooldown is how long the breaker stays open before probing.
	// Default 30s.
	Cooldown time.Duration

	// ProbeBudget is how many half-open calls must succeed to close.
	// Default 2.
	ProbeBudget int
}

// Breaker is a three-state circuit breaker. Safe for concurrent use.
type Breaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	probeBudget int
	log         *slog.Logger
	now         func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	probes   int
	openedAt time.Time
}

// NewBreaker creates a Breaker from cfg.
func NewBreaker(cfg Config) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.ProbeBudget <= 0 {
		cfg.ProbeBudget = 2
	}
	return &Breaker{
		name:        cfg.Name,
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.Cooldown,
		probeBudget: cfg.ProbeBudget,
		log:         slog.Default().With("component", "breaker", "name", cfg.Name),
		now:         time.Now,
	}
}

// Do runs fn if the breaker allows it, returning ErrOpen otherwise.
func (b *Breaker) Do(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn()
	b.settle(err)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) < b.cooldown {
			return ErrOpen
		}
		b.state = StateHalfOpen
		b.probes = 0
		b.log.Info("breaker probing after cooldown")
	}
	return nil
}

func (b *Breaker) settle(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.failures++
		switch b.state {
		case StateHalfOpen:
			b.trip("probe failed")
		case StateClosed:
			if b.failures >= b.maxFailures {
				b.trip("too many consecutive failures")
			}
		}
		return
	}

	switch b.state {
	case StateHalfOpen:
		b.probes++
		if b.probes >= b.probeBudget {
			b.state = StateClosed
			b.failures = 0
			b.log.Info("breaker closed after successful probes")
		}
	case StateClosed:
		b.failures = 0
	}
}

// trip opens the breaker. Caller holds b.mu.
func (b *Breaker) trip(reason string) {
	b.state = StateOpen
	b.openedAt = b.now()
	b.log.Warn("breaker opened", "reason", reason, "failures", b.failures)
}

// State returns the current state, accounting for an elapsed cooldown.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Generator is the generation call the breaker guards.
type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

// GuardedGenerator wraps a Generator with a Breaker.
type GuardedGenerator struct {
	inner   Generator
	breaker *Breaker
}

var _ Generator = (*GuardedGenerator)(nil)

// WrapGenerator guards g with a breaker named name.
func WrapGenerator(name string, g Generator) *GuardedGenerator {
	return &GuardedGenerator{
		inner:   g,
		breaker: NewBreaker(Config{Name: name}),
	}
}

// Generate forwards to the wrapped generator through the breaker.
func (g *GuardedGenerator) Generate(ctx context.Context, system, user string) (string, error) {
	var out string
	err := g.breaker.Do(func() error {
		var err error
		out, err = g.inner.Generate(ctx, system, user)
		return err
	})
	return out, err
}
