package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/WessleyAI/pagerag/pkg/fn"
)

var errBoom = errors.New("boom")

func failing(context.Context) error { return errBoom }
func passing(context.Context) error { return nil }

func newTestBreaker(threshold int) (*Breaker, *time.Time) {
	now := time.Unix(1000, 0)
	b := NewBreaker(BreakerOpts{Name: "test", FailThreshold: threshold, Timeout: time.Second})
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreakerTripsAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(2)
	ctx := context.Background()

	b.Call(ctx, failing)
	if b.State() != StateClosed {
		t.Fatal("should stay closed below threshold")
	}
	b.Call(ctx, failing)
	if b.State() != StateOpen {
		t.Fatal("should open at threshold")
	}
	if err := b.Call(ctx, passing); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	b, now := newTestBreaker(1)
	ctx := context.Background()

	b.Call(ctx, failing)
	*now = now.Add(2 * time.Second)
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half-open, got %s", b.State())
	}
	if err := b.Call(ctx, passing); err != nil {
		t.Fatalf("probe should pass: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatal("successful probe should close")
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b, now := newTestBreaker(3)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		b.Call(ctx, failing)
	}
	*now = now.Add(2 * time.Second)
	b.Call(ctx, failing)
	if b.State() != StateOpen {
		t.Fatal("failed probe should reopen")
	}
}

func TestBreakerIgnoresCancellation(t *testing.T) {
	b, _ := newTestBreaker(1)
	b.Call(context.Background(), func(context.Context) error { return context.Canceled })
	if b.State() != StateClosed {
		t.Fatal("caller cancellation must not trip the breaker")
	}
}

func TestBreakerSuccessResetsFailures(t *testing.T) {
	b, _ := newTestBreaker(2)
	ctx := context.Background()
	b.Call(ctx, failing)
	b.Call(ctx, passing)
	b.Call(ctx, failing)
	if b.State() != StateClosed {
		t.Fatal("success should reset the failure count")
	}
}

func TestDo(t *testing.T) {
	b, _ := newTestBreaker(1)
	v, err := Do(b, context.Background(), func(context.Context) (int, error) { return 7, nil })
	if err != nil || v != 7 {
		t.Fatalf("Do = %d, %v", v, err)
	}
	Do(b, context.Background(), func(context.Context) (int, error) { return 0, errBoom })
	if _, err := Do(b, context.Background(), func(context.Context) (int, error) { return 1, nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected open breaker, got %v", err)
	}
}

func TestBreakerStage(t *testing.T) {
	b, _ := newTestBreaker(1)
	stage := BreakerStage(b, fn.Stage[int, int](func(_ context.Context, v int) fn.Result[int] {
		if v < 0 {
			return fn.Err[int](errBoom)
		}
		return fn.Ok(v)
	}))
	if r := stage(context.Background(), 1); r.IsErr() {
		t.Fatal("expected ok")
	}
	stage(context.Background(), -1)
	if _, err := stage(context.Background(), 1).Unwrap(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{StateClosed: "closed", StateOpen: "open", StateHalfOpen: "half-open", State(9): "unknown"} {
		if s.String() != want {
			t.Errorf("State(%d) = %q, want %q", s, s.String(), want)
		}
	}
}
