package eventbus

import (
	"context"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/quasar/schema"
)

// EventType identifies the event payload.
type EventType string

const (
	// EventTab carries tab lifecycle and state updates.
	EventTab EventType = "tab"
	// EventWindow carries window lifecycle updates.
	EventWindow EventType = "window"
)

// AllWindows subscribes to events of every window.
const AllWindows schema.WindowID = ""

// Event represents a UI-facing event emitted by the core service.
type Event struct {
	Type   EventType
	Tab    schema.TabEvent
	Window schema.WindowEvent
}

// WindowID returns the window the event belongs to.
func (e Event) WindowID() schema.WindowID {
	if e.Type == EventWindow {
		return e.Window.Window.ID
	}
	return e.Tab.WindowID
}

// Bus fans events out to per-window subscribers.
type Bus struct {
	mu    sync.Mutex
	subs  map[schema.WindowID]map[chan Event]struct{}
	log   pslog.Logger
	depth int
}

// New constructs a Bus.
func New(logger pslog.Logger) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Bus{
		subs:  make(map[schema.WindowID]map[chan Event]struct{}),
		log:   logger,
		depth: 256,
	}
}

// Subscribe registers a subscriber for the window and returns a channel + cancel.
// AllWindows receives every event.
func (b *Bus) Subscribe(windowID schema.WindowID) (<-chan Event, func()) {
	if b == nil {
		return nil, func() {}
	}
	ch := make(chan Event, b.depth)
	b.mu.Lock()
	windowSubs := b.subs[windowID]
	if windowSubs == nil {
		windowSubs = make(map[chan Event]struct{})
		b.subs[windowID] = windowSubs
	}
	windowSubs[ch] = struct{}{}
	count := len(windowSubs)
	b.mu.Unlock()
	if b.log != nil {
		b.log.With("window", windowID).Debug("eventbus subscribe", "subs", count)
	}
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if subs := b.subs[windowID]; subs != nil {
				delete(subs, ch)
				if len(subs) == 0 {
					delete(b.subs, windowID)
				}
			}
			b.mu.Unlock()
			close(ch)
			if b.log != nil {
				b.log.With("window", windowID).Debug("eventbus unsubscribe")
			}
		})
	}
}

// OnTabEvent publishes a tab event.
func (b *Bus) OnTabEvent(event schema.TabEvent) {
	b.publish(Event{Type: EventTab, Tab: event})
}

// OnWindowEvent publishes a window event.
func (b *Bus) OnWindowEvent(event schema.WindowEvent) {
	b.publish(Event{Type: EventWindow, Window: event})
}

func (b *Bus) publish(event Event) {
	if b == nil {
		return
	}
	windowID := event.WindowID()
	b.mu.Lock()
	subs := make([]chan Event, 0, len(b.subs[windowID])+len(b.subs[AllWindows]))
	for sub := range b.subs[windowID] {
		subs = append(subs, sub)
	}
	if windowID != AllWindows {
		for sub := range b.subs[AllWindows] {
			subs = append(subs, sub)
		}
	}
	dropped := 0
	for _, sub := range subs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	b.mu.Unlock()
	if dropped > 0 && b.log != nil {
		b.log.With("window", windowID).Trace("eventbus dropped", "count", dropped)
	}
}
