package pool

import (
	"context"
	"sync"

	"pkt.systems/quasar/internal/engine"
	"pkt.systems/quasar/schema"
)

// State is the lifecycle state of a handle.
type State int

const (
	// StateFree handles are unassigned and scrubbed.
	StateFree State = iota
	// StateInUse handles back exactly one tab.
	StateInUse
	// StateReleasing handles are being scrubbed and cannot be evicted.
	StateReleasing
)

func (s State) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateInUse:
		return "in_use"
	case StateReleasing:
		return "releasing"
	default:
		return "unknown"
	}
}

// Listener receives the engine events of the tab a handle is assigned to.
type Listener func(event engine.Event)

// Handle wraps one pooled surface. Its partition is fixed for its lifetime;
// the surface may be replaced if the host tears it down.
type Handle struct {
	id        schema.HandleID
	partition schema.PartitionID
	pool      *Pool

	// guarded by pool.mu
	state State
	tab   schema.TabID
	pins  int

	mu       sync.Mutex
	surface  engine.Surface
	attached schema.WindowID
	sub      *subscription
	// parked is set while the surface shows the placeholder. Load lifecycle
	// events are dropped until a navigation away from it commits.
	parked bool
}

// ID returns the handle id.
func (h *Handle) ID() schema.HandleID { return h.id }

// Partition returns the storage partition of the handle.
func (h *Handle) Partition() schema.PartitionID { return h.partition }

// Tab returns the tab the handle is assigned to, if any.
func (h *Handle) Tab() schema.TabID {
	h.pool.mu.Lock()
	defer h.pool.mu.Unlock()
	return h.tab
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.pool.mu.Lock()
	defer h.pool.mu.Unlock()
	return h.state
}

// Surface returns the current surface.
func (h *Handle) Surface() engine.Surface {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.surface
}

// Valid reports whether the surface is still alive.
func (h *Handle) Valid() bool {
	surface := h.Surface()
	return surface != nil && !surface.Destroyed()
}

// Attached returns the window the surface is attached to.
func (h *Handle) Attached() schema.WindowID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.attached
}

// Attach attaches the surface to window, detaching it from any other window first.
func (h *Handle) Attach(ctx context.Context, window schema.WindowID) error {
	h.mu.Lock()
	surface := h.surface
	previous := h.attached
	h.mu.Unlock()
	if previous == window {
		return nil
	}
	if previous != "" {
		if err := h.Detach(ctx); err != nil {
			return err
		}
	}
	if err := surface.AttachTo(ctx, window); err != nil {
		return err
	}
	h.mu.Lock()
	h.attached = window
	h.mu.Unlock()
	return nil
}

// Detach removes the surface from its window. The attachment is cleared even
// when the engine call fails.
func (h *Handle) Detach(ctx context.Context) error {
	h.mu.Lock()
	surface := h.surface
	window := h.attached
	h.attached = ""
	h.mu.Unlock()
	if window == "" {
		return nil
	}
	return surface.DetachFrom(ctx, window)
}

func (h *Handle) bind(listener Listener) {
	if listener == nil {
		return
	}
	h.mu.Lock()
	h.sub = &subscription{fn: listener}
	h.mu.Unlock()
}

func (h *Handle) unbind() {
	h.mu.Lock()
	sub := h.sub
	h.sub = nil
	h.mu.Unlock()
	if sub != nil {
		sub.cancel()
	}
}

func (h *Handle) park() {
	h.mu.Lock()
	h.parked = true
	h.mu.Unlock()
}

func (h *Handle) dispatch(event engine.Event) {
	h.mu.Lock()
	if h.parked && !h.unparkLocked(event) {
		h.mu.Unlock()
		return
	}
	sub := h.sub
	h.mu.Unlock()
	if sub != nil {
		sub.deliver(event)
	}
}

// unparkLocked reports whether a parked handle should deliver event, clearing
// parked once the surface commits to a page other than the placeholder.
func (h *Handle) unparkLocked(event engine.Event) bool {
	switch event.Kind {
	case engine.EventLoadStart, engine.EventLoadProgress, engine.EventLoadStop:
		return false
	case engine.EventDidNavigate, engine.EventDidNavigateInPage, engine.EventLoadFailed:
		if event.URL == "" || event.URL == h.pool.cfg.PlaceholderURL {
			return false
		}
		h.parked = false
		return true
	default:
		return true
	}
}

// subscription is the per-assignment listener. cancel waits for in-flight
// deliveries, so no event reaches the listener once it returns.
type subscription struct {
	mu        sync.RWMutex
	once      sync.Once
	cancelled bool
	fn        Listener
}

func (s *subscription) deliver(event engine.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cancelled {
		return
	}
	s.fn(event)
}

func (s *subscription) cancel() {
	s.once.Do(func() {
		s.mu.Lock()
		s.cancelled = true
		s.mu.Unlock()
	})
}
