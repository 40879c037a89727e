package geometry

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pkt.systems/quasar/schema"
)

type recordingTarget struct {
	mu     sync.Mutex
	bounds schema.Rect
	calls  int
}

func (r *recordingTarget) Bounds() schema.Rect {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bounds
}

func (r *recordingTarget) SetBounds(_ context.Context, rect schema.Rect) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.bounds = rect
	return nil
}

func TestCompute(t *testing.T) {
	cases := []struct {
		name    string
		content schema.Size
		header  float64
		want    schema.Rect
	}{
		{"integer", schema.Size{Width: 1200, Height: 900}, 80, schema.Rect{Y: 80, Width: 1200, Height: 820}},
		{"fractional", schema.Size{Width: 800, Height: 600}, 72.6, schema.Rect{Y: 72, Width: 800, Height: 527}},
		{"header-taller", schema.Size{Width: 400, Height: 50}, 80, schema.Rect{Y: 80, Width: 400, Height: 0}},
		{"no-header", schema.Size{Width: 10, Height: 10}, 0, schema.Rect{Width: 10, Height: 10}},
	}
	for _, tc := range cases {
		if got := Compute(tc.content, tc.header); got != tc.want {
			t.Fatalf("case %q: expected %+v, got %+v", tc.name, tc.want, got)
		}
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	target := &recordingTarget{}
	rect := Compute(schema.Size{Width: 1200, Height: 900}, 80)
	ctx := context.Background()
	if applied, err := Apply(ctx, target, rect); err != nil || !applied {
		t.Fatalf("expected first apply to run, got %v %v", applied, err)
	}
	if applied, err := Apply(ctx, target, rect); err != nil || applied {
		t.Fatalf("expected second apply to be skipped, got %v %v", applied, err)
	}
	if target.calls != 1 {
		t.Fatalf("expected one SetBounds call, got %d", target.calls)
	}
}

func TestApplyIgnoresXOnlyChange(t *testing.T) {
	target := &recordingTarget{bounds: schema.Rect{X: 5, Y: 80, Width: 100, Height: 100}}
	if applied, _ := Apply(context.Background(), target, schema.Rect{Y: 80, Width: 100, Height: 100}); applied {
		t.Fatalf("expected apply skipped when only x differs")
	}
}

func TestForceAlwaysApplies(t *testing.T) {
	target := &recordingTarget{}
	rect := schema.Rect{Width: 1, Height: 1}
	_ = Force(context.Background(), target, rect)
	_ = Force(context.Background(), target, rect)
	if target.calls != 2 {
		t.Fatalf("expected two calls, got %d", target.calls)
	}
}

func TestTrackerDebouncesResize(t *testing.T) {
	tracker := NewTracker(20 * time.Millisecond)
	defer tracker.Close()
	var runs atomic.Int32
	var last atomic.Int32
	for i := 1; i <= 5; i++ {
		tracker.Schedule("main", schema.ResizeDrag, func() {
			runs.Add(1)
			last.Store(int32(i))
		})
	}
	deadline := time.Now().Add(2 * time.Second)
	for tracker.Pending("main") && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	if runs.Load() != 1 {
		t.Fatalf("expected one coalesced run, got %d", runs.Load())
	}
	if last.Load() != 5 {
		t.Fatalf("expected trailing call to win, got %d", last.Load())
	}
}

func TestTrackerImmediateCancelsPending(t *testing.T) {
	tracker := NewTracker(30 * time.Millisecond)
	defer tracker.Close()
	var debounced atomic.Int32
	tracker.Schedule("main", schema.ResizeFullscreenEnter, func() { debounced.Add(1) })
	ran := false
	if !tracker.Schedule("main", schema.ResizeMaximize, func() { ran = true }) || !ran {
		t.Fatalf("expected maximize to run synchronously")
	}
	if tracker.Pending("main") {
		t.Fatalf("expected pending call cancelled")
	}
	time.Sleep(60 * time.Millisecond)
	if debounced.Load() != 0 {
		t.Fatalf("expected debounced call dropped, got %d runs", debounced.Load())
	}
}

func TestTrackerWindowsAreIndependent(t *testing.T) {
	tracker := NewTracker(10 * time.Millisecond)
	defer tracker.Close()
	done := make(chan schema.WindowID, 2)
	tracker.Schedule("a", schema.ResizeDrag, func() { done <- "a" })
	tracker.Schedule("b", schema.ResizeDrag, func() { done <- "b" })
	seen := map[schema.WindowID]bool{}
	for len(seen) < 2 {
		select {
		case id := <-done:
			seen[id] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("expected both windows to run, got %v", seen)
		}
	}
}
