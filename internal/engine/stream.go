package engine

import (
	"sort"
	"sync"
)

// DefaultStreamBuffer is the event buffer used by the bundled backends.
const DefaultStreamBuffer = 256

// FaviconScript evaluates to the absolute url of the page icon.
const FaviconScript = `(() => {
	const link = document.querySelector("link[rel~='icon']");
	return link ? link.href : (location.origin && location.origin !== "null" ? location.origin + "/favicon.ico" : "");
})()`

// Stream is a closable event channel. Emit never blocks; events are dropped
// when the buffer is full or the stream is closed.
type Stream struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// NewStream returns a stream buffering size events.
func NewStream(size int) *Stream {
	if size <= 0 {
		size = DefaultStreamBuffer
	}
	return &Stream{ch: make(chan Event, size)}
}

// Emit queues ev and reports whether it was accepted.
func (s *Stream) Emit(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- ev:
		return true
	default:
		return false
	}
}

// Close closes the channel once.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Events returns the receive side of the stream.
func (s *Stream) Events() <-chan Event { return s.ch }

// OriginSet records the web origins a surface has visited since its last scrub.
type OriginSet struct {
	mu      sync.Mutex
	origins map[string]struct{}
}

// Add records the origin of raw. Non-web urls are ignored.
func (o *OriginSet) Add(raw string) {
	origin := Origin(raw)
	if origin == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.origins == nil {
		o.origins = make(map[string]struct{})
	}
	o.origins[origin] = struct{}{}
}

// Drain returns the recorded origins sorted and forgets them.
func (o *OriginSet) Drain() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.origins))
	for origin := range o.origins {
		out = append(out, origin)
	}
	o.origins = nil
	sort.Strings(out)
	return out
}
