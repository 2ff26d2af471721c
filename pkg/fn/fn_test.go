package fn

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

// --- Result ---

func TestOkAndErr(t *testing.T) {
	r := Ok(42)
	if !r.IsOk() || r.IsErr() {
		t.Fatal("Ok should be ok")
	}
	v, err := r.Unwrap()
	if v != 42 || err != nil {
		t.Fatal("wrong unwrap")
	}

	e := Err[int](errors.New("fail"))
	if e.IsOk() || !e.IsErr() {
		t.Fatal("Err should be err")
	}
	if e.UnwrapOr(9) != 9 {
		t.Fatal("UnwrapOr should return fallback")
	}
}

func TestFromPair(t *testing.T) {
	if FromPair(strconv.Atoi("42")).UnwrapOr(0) != 42 {
		t.Fatal("FromPair failed")
	}
	if FromPair(strconv.Atoi("nope")).IsOk() {
		t.Fatal("FromPair should fail")
	}
}

func TestPartition(t *testing.T) {
	e1, e2 := errors.New("e1"), errors.New("e2")
	vals, err := Partition([]Result[int]{Ok(1), Err[int](e1), Ok(3), Err[int](e2)})
	if len(vals) != 2 || vals[0] != 1 || vals[1] != 3 {
		t.Fatalf("unexpected values: %v", vals)
	}
	if !errors.Is(err, e1) || !errors.Is(err, e2) {
		t.Fatalf("expected both errors joined, got %v", err)
	}

	vals, err = Partition([]Result[int]{Ok(1)})
	if err != nil || len(vals) != 1 {
		t.Fatalf("all ok: %v, %v", vals, err)
	}
}

// --- Stages ---

func TestThen(t *testing.T) {
	parse := Lift(func(_ context.Context, s string) (int, error) { return strconv.Atoi(s) })
	double := Stage[int, int](func(_ context.Context, v int) Result[int] { return Ok(v * 2) })

	p := Then(parse, double)
	if v, _ := p(context.Background(), "21").Unwrap(); v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestThenShortCircuits(t *testing.T) {
	called := false
	fail := Stage[int, int](func(_ context.Context, _ int) Result[int] { return Err[int](errors.New("fail")) })
	track := Stage[int, int](func(_ context.Context, v int) Result[int] {
		called = true
		return Ok(v)
	})
	if Then(fail, track)(context.Background(), 1).IsOk() {
		t.Fatal("Then should short-circuit on error")
	}
	if called {
		t.Fatal("second stage should not be called after error")
	}
}

func TestTracedStagePassesThrough(t *testing.T) {
	s := TracedStage("test.stage", Stage[int, int](func(_ context.Context, v int) Result[int] { return Ok(v + 1) }))
	if v, _ := s(context.Background(), 1).Unwrap(); v != 2 {
		t.Fatal("traced stage changed result")
	}
	f := TracedStage("test.fail", Stage[int, int](func(_ context.Context, _ int) Result[int] { return Err[int](errors.New("x")) }))
	if f(context.Background(), 1).IsOk() {
		t.Fatal("traced stage should keep error")
	}
}

// --- Parallel ---

func TestParMapResultOrder(t *testing.T) {
	out := ParMapResult(context.Background(), []int{1, 2, 3, 4}, 2, func(_ context.Context, v int) Result[int] {
		time.Sleep(time.Duration(5-v) * time.Millisecond)
		return Ok(v * 2)
	})
	for i, r := range out {
		if v, _ := r.Unwrap(); v != (i+1)*2 {
			t.Fatalf("order broken at %d", i)
		}
	}
}

func TestParMapResultBounded(t *testing.T) {
	var running, peak atomic.Int32
	ParMapResult(context.Background(), make([]int, 10), 3, func(_ context.Context, v int) Result[int] {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		running.Add(-1)
		return Ok(v)
	})
	if peak.Load() > 3 {
		t.Fatalf("expected at most 3 workers, saw %d", peak.Load())
	}
}

func TestParMapResultCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := ParMapResult(ctx, []int{1, 2}, 1, func(_ context.Context, v int) Result[int] { return Ok(v) })
	for _, r := range out {
		if _, err := r.Unwrap(); !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	}
}

func TestParMapResultEmpty(t *testing.T) {
	if out := ParMapResult(context.Background(), []int{}, 4, func(_ context.Context, v int) Result[int] { return Ok(v) }); len(out) != 0 {
		t.Fatal("expected empty output")
	}
}

// --- Slice ---

func TestMap(t *testing.T) {
	out := Map([]int{1, 2, 3}, func(v int) string { return strconv.Itoa(v) })
	if len(out) != 3 || out[2] != "3" {
		t.Fatal("Map failed")
	}
}

func TestChunk(t *testing.T) {
	c := Chunk([]int{1, 2, 3, 4, 5, 6, 7}, 5)
	if len(c) != 2 || len(c[0]) != 5 || len(c[1]) != 2 {
		t.Fatalf("unexpected chunks: %v", c)
	}
	if Chunk([]int{1}, 0) != nil {
		t.Fatal("Chunk n<=0 should return nil")
	}
	if Chunk([]int{}, 3) != nil {
		t.Fatal("Chunk of empty should be nil")
	}
}
