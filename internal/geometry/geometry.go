// Package geometry keeps the attached view's bounds in sync with the window
// content area and the measured header height.
package geometry

import (
	"context"
	"math"
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/quasar/schema"
)

// Target is anything with readable and settable bounds.
type Target interface {
	Bounds() schema.Rect
	SetBounds(ctx context.Context, rect schema.Rect) error
}

// Compute returns the rectangle below the header that fills the content area.
func Compute(content schema.Size, headerHeight float64) schema.Rect {
	y := int(math.Floor(headerHeight))
	height := int(math.Floor(float64(content.Height) - headerHeight))
	if height < 0 {
		height = 0
	}
	if y < 0 {
		y = 0
	}
	return schema.Rect{X: 0, Y: y, Width: content.Width, Height: height}
}

// Apply sets rect on target unless width, height and y already match.
// It reports whether the engine was called.
func Apply(ctx context.Context, target Target, rect schema.Rect) (bool, error) {
	if target == nil {
		return false, nil
	}
	current := target.Bounds()
	if current.Width == rect.Width && current.Height == rect.Height && current.Y == rect.Y {
		pslog.Ctx(ctx).Trace("geometry apply skipped", "width", rect.Width, "height", rect.Height, "y", rect.Y)
		return false, nil
	}
	return true, Force(ctx, target, rect)
}

// Force sets rect on target unconditionally.
func Force(ctx context.Context, target Target, rect schema.Rect) error {
	if target == nil {
		return nil
	}
	pslog.Ctx(ctx).Debug("geometry apply", "x", rect.X, "y", rect.Y, "width", rect.Width, "height", rect.Height)
	return target.SetBounds(ctx, rect)
}

// Tracker debounces resize work per window.
type Tracker struct {
	delay time.Duration

	mu      sync.Mutex
	pending map[schema.WindowID]*pendingCall
	closed  bool
}

type pendingCall struct {
	timer *time.Timer
	gen   uint64
}

// NewTracker constructs a tracker that coalesces resize ticks within delay.
func NewTracker(delay time.Duration) *Tracker {
	if delay <= 0 {
		delay = schema.DefaultResizeDebounce
	}
	return &Tracker{delay: delay, pending: make(map[schema.WindowID]*pendingCall)}
}

// Schedule runs fn for window. Immediate reasons run fn synchronously and
// cancel any pending debounced call; other reasons run only the trailing call
// within the debounce window. It reports whether fn ran synchronously.
func (t *Tracker) Schedule(window schema.WindowID, reason schema.ResizeReason, fn func()) bool {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return false
	}
	call := t.pending[window]
	if reason.Immediate() {
		if call != nil {
			call.timer.Stop()
			delete(t.pending, window)
		}
		t.mu.Unlock()
		fn()
		return true
	}
	if call == nil {
		call = &pendingCall{}
		t.pending[window] = call
	} else if call.timer != nil {
		call.timer.Stop()
	}
	call.gen++
	gen := call.gen
	call.timer = time.AfterFunc(t.delay, func() {
		t.mu.Lock()
		current := t.pending[window]
		if current != call || current.gen != gen || t.closed {
			t.mu.Unlock()
			return
		}
		delete(t.pending, window)
		t.mu.Unlock()
		fn()
	})
	t.mu.Unlock()
	return false
}

// Cancel drops any pending call for window.
func (t *Tracker) Cancel(window schema.WindowID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if call := t.pending[window]; call != nil {
		call.timer.Stop()
		delete(t.pending, window)
	}
}

// Pending reports whether a debounced call is waiting for window.
func (t *Tracker) Pending(window schema.WindowID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[window]
	return ok
}

// Close stops every pending call.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for window, call := range t.pending {
		call.timer.Stop()
		delete(t.pending, window)
	}
}
