package httpapi

import (
	"context"
	"sync"
	"time"

	"pkt.systems/quasar/internal/logx"
	"pkt.systems/quasar/schema"
)

// StreamEvent is sent to SSE clients.
type StreamEvent struct {
	Seq          uint64                 `json:"seq"`
	Type         string                 `json:"type"`
	Event        string                 `json:"event,omitempty"`
	WindowID     schema.WindowID        `json:"window_id,omitempty"`
	Tab          *schema.TabSnapshot    `json:"tab,omitempty"`
	Window       *schema.WindowSnapshot `json:"window,omitempty"`
	ActiveTab    schema.TabID           `json:"active_tab,omitempty"`
	Progress     float64                `json:"progress,omitempty"`
	CanGoBack    bool                   `json:"can_go_back,omitempty"`
	CanGoForward bool                   `json:"can_go_forward,omitempty"`
	Error        string                 `json:"error,omitempty"`
	Snapshot     *SnapshotPayload       `json:"snapshot,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
}

// SnapshotPayload seeds client state on connect.
type SnapshotPayload struct {
	Window    schema.WindowSnapshot `json:"window"`
	Tabs      []schema.TabSnapshot  `json:"tabs"`
	ActiveTab schema.TabID          `json:"active_tab"`
	Pool      schema.PoolStats      `json:"pool"`
}

// Hub broadcasts events per window and keeps a bounded replay history.
type Hub struct {
	mu          sync.Mutex
	windows     map[schema.WindowID]*windowHub
	historySize int
}

// NewHub constructs a hub with the given history size.
func NewHub(historySize int) *Hub {
	if historySize <= 0 {
		historySize = 1000
	}
	return &Hub{
		windows:     make(map[schema.WindowID]*windowHub),
		historySize: historySize,
	}
}

// OnTabEvent implements core.EventSink.
func (h *Hub) OnTabEvent(event schema.TabEvent) {
	log := logx.WithWindowTab(context.Background(), event.WindowID, event.Tab.ID)
	log.Trace("hub tab event", "type", event.Type, "active", event.ActiveTab)
	tab := event.Tab
	h.publish(event.WindowID, StreamEvent{
		Type:         "tab",
		Event:        string(event.Type),
		WindowID:     event.WindowID,
		Tab:          &tab,
		ActiveTab:    event.ActiveTab,
		Progress:     event.Progress,
		CanGoBack:    event.CanGoBack,
		CanGoForward: event.CanGoForward,
		Error:        event.Error,
		Timestamp:    time.Now(),
	})
}

// OnWindowEvent implements core.EventSink. Window events reach every window's
// stream, since each window shows the window set.
func (h *Hub) OnWindowEvent(event schema.WindowEvent) {
	log := logx.WithWindow(context.Background(), event.Window.ID)
	log.Trace("hub window event", "type", event.Type)
	h.mu.Lock()
	h.getOrCreateWindowHubLocked(event.Window.ID)
	targets := make([]schema.WindowID, 0, len(h.windows))
	for id := range h.windows {
		targets = append(targets, id)
	}
	h.mu.Unlock()
	for _, id := range targets {
		window := event.Window
		h.publish(id, StreamEvent{
			Type:      "window",
			Event:     string(event.Type),
			WindowID:  event.Window.ID,
			Window:    &window,
			Timestamp: time.Now(),
		})
	}
}

// Subscribe registers a subscriber for a window.
func (h *Hub) Subscribe(windowID schema.WindowID) (<-chan StreamEvent, func(), uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	wh := h.getOrCreateWindowHubLocked(windowID)
	ch := make(chan StreamEvent, 256)
	wh.subs[ch] = struct{}{}
	seq := wh.seq
	log := logx.WithWindow(context.Background(), windowID)
	log.Info("hub subscribe", "subs", len(wh.subs), "history", len(wh.history))
	var once sync.Once
	unsub := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(wh.subs, ch)
			close(ch)
			remaining := len(wh.subs)
			h.mu.Unlock()
			log.Info("hub unsubscribe", "subs", remaining)
		})
	}
	return ch, unsub, seq
}

// Replay returns events after the provided seq.
func (h *Hub) Replay(windowID schema.WindowID, after uint64) []StreamEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	wh := h.windows[windowID]
	if wh == nil {
		return nil
	}
	events := make([]StreamEvent, 0, len(wh.history))
	for _, event := range wh.history {
		if event.Seq > after {
			events = append(events, event)
		}
	}
	logx.WithWindow(context.Background(), windowID).Debug("hub replay", "after", after, "count", len(events))
	return events
}

func (h *Hub) publish(windowID schema.WindowID, event StreamEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	wh := h.getOrCreateWindowHubLocked(windowID)
	wh.seq++
	event.Seq = wh.seq
	wh.history = append(wh.history, event)
	if len(wh.history) > h.historySize {
		wh.history = wh.history[len(wh.history)-h.historySize:]
	}
	dropped := 0
	for sub := range wh.subs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		logx.WithWindow(context.Background(), windowID).Warn("hub event dropped", "type", event.Type, "dropped", dropped)
	}
}

func (h *Hub) getOrCreateWindowHubLocked(windowID schema.WindowID) *windowHub {
	wh := h.windows[windowID]
	if wh == nil {
		wh = &windowHub{
			subs: make(map[chan StreamEvent]struct{}),
		}
		h.windows[windowID] = wh
	}
	return wh
}

type windowHub struct {
	seq     uint64
	history []StreamEvent
	subs    map[chan StreamEvent]struct{}
}
