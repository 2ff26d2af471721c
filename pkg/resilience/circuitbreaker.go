// Package resilience guards calls to remote dependencies (the embedding
// service, web search) with a circuit breaker and a rate limiter.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/WessleyAI/pagerag/pkg/fn"
)

// State is a circuit breaker state.
type State int

const (
	StateClosed   State = iota // normal operation
	StateOpen                  // rejecting calls
	StateHalfOpen              // allowing probe calls
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

var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerOpts configures the circuit breaker.
type BreakerOpts struct {
	// Name identifies the guarded dependency in logs.
	Name string
	// FailThreshold is how many consecutive failures trip the breaker.
	FailThreshold int
	// Timeout is how long the breaker stays open before entering half-open.
	Timeout time.Duration
	// HalfOpenMax is the number of probe calls allowed in half-open state.
	HalfOpenMax int
	// Ignore reports errors that should not count as failures, such as
	// the caller's own cancellation.
	Ignore func(error) bool
	Logger *slog.Logger
}

// DefaultBreakerOpts returns the defaults used for the embedding service.
func DefaultBreakerOpts() BreakerOpts {
	return BreakerOpts{
		Name:          "default",
		FailThreshold: 5,
		Timeout:       30 * time.Second,
		HalfOpenMax:   1,
		Ignore:        IsCallerError,
	}
}

// IsCallerError reports whether err came from the caller's context rather
// than the dependency.
func IsCallerError(err error) bool {
	return errors.Is(err, context.Canceled)
}

// Breaker implements a circuit breaker with closed/open/half-open states.
type Breaker struct {
	mu            sync.Mutex
	opts          BreakerOpts
	state         State
	failures      int
	openedAt      time.Time
	halfOpenCount int
	now           func() time.Time
}

// NewBreaker creates a circuit breaker. Zero fields take their defaults.
func NewBreaker(opts BreakerOpts) *Breaker {
	d := DefaultBreakerOpts()
	if opts.Name == "" {
		opts.Name = d.Name
	}
	if opts.FailThreshold <= 0 {
		opts.FailThreshold = d.FailThreshold
	}
	if opts.Timeout <= 0 {
		opts.Timeout = d.Timeout
	}
	if opts.HalfOpenMax <= 0 {
		opts.HalfOpenMax = d.HalfOpenMax
	}
	if opts.Ignore == nil {
		opts.Ignore = d.Ignore
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Breaker{opts: opts, now: time.Now}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState()
}

// currentState transitions open to half-open once the timeout elapsed. Must hold mu.
func (b *Breaker) currentState() State {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.opts.Timeout {
		b.setState(StateHalfOpen)
		b.halfOpenCount = 0
	}
	return b.state
}

// setState records a transition. Must hold mu.
func (b *Breaker) setState(s State) {
	if b.state == s {
		return
	}
	b.opts.Logger.Info("circuit breaker state change", "breaker", b.opts.Name, "from", b.state.String(), "to", s.String())
	b.state = s
}

func (b *Breaker) acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.currentState() {
	case StateOpen:
		return ErrCircuitOpen
	case StateHalfOpen:
		if b.halfOpenCount >= b.opts.HalfOpenMax {
			return ErrCircuitOpen
		}
		b.halfOpenCount++
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil && !b.opts.Ignore(err) {
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.opts.FailThreshold {
			b.setState(StateOpen)
			b.openedAt = b.now()
			b.failures = 0
			b.halfOpenCount = 0
		}
		return
	}
	if err == nil && b.state == StateHalfOpen {
		b.setState(StateClosed)
	}
	b.failures = 0
}

// Call executes f through the circuit breaker.
func (b *Breaker) Call(ctx context.Context, f func(context.Context) error) error {
	if err := b.acquire(); err != nil {
		return err
	}
	err := f(ctx)
	b.record(err)
	return err
}

// Do is the value-returning form of Call.
func Do[T any](b *Breaker, ctx context.Context, f func(context.Context) (T, error)) (T, error) {
	if err := b.acquire(); err != nil {
		var zero T
		return zero, err
	}
	v, err := f(ctx)
	b.record(err)
	return v, err
}

// BreakerStage wraps an fn.Stage with circuit breaker protection.
func BreakerStage[In, Out any](b *Breaker, stage fn.Stage[In, Out]) fn.Stage[In, Out] {
	return func(ctx context.Context, in In) fn.Result[Out] {
		return fn.FromPair(Do(b, ctx, func(ctx context.Context) (Out, error) {
			return stage(ctx, in).Unwrap()
		}))
	}
}
