// Package fake provides an in-memory engine that records every surface call.
// It backs the dry-run backend and the tests of the pool and the coordinator.
package fake

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"pkt.systems/quasar/internal/engine"
	"pkt.systems/quasar/schema"
)

const eventBuffer = 256

// Engine is an in-memory engine. Cookie jars are kept per partition so
// storage isolation can be observed across surface reuse.
type Engine struct {
	mu          sync.Mutex
	seq         int
	surfaces    []*Surface
	jars        map[schema.PartitionID]map[string]string
	createErr   []error
	navigateErr error
	navHook     func(ctx context.Context, target string) error
	clearHook   func(ctx context.Context) error
	closed      bool
}

// New constructs a fake engine.
func New() *Engine {
	return &Engine{jars: make(map[schema.PartitionID]map[string]string)}
}

// Name implements engine.Engine.
func (e *Engine) Name() string { return "fake" }

// NewSurface implements engine.Engine.
func (e *Engine) NewSurface(ctx context.Context, opts engine.SurfaceOptions) (engine.Surface, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, engine.ErrSurfaceDestroyed
	}
	if len(e.createErr) > 0 {
		err := e.createErr[0]
		e.createErr = e.createErr[1:]
		if err != nil {
			return nil, err
		}
	}
	e.seq++
	s := &Surface{
		engine:    e,
		id:        fmt.Sprintf("surface-%d", e.seq),
		partition: opts.Partition,
		bounds:    schema.Rect{Width: opts.Width, Height: opts.Height},
		zoom:      1,
		events:    make(chan engine.Event, eventBuffer),
	}
	e.surfaces = append(e.surfaces, s)
	return s, nil
}

// Close destroys every surface.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	surfaces := append([]*Surface(nil), e.surfaces...)
	e.mu.Unlock()
	for _, s := range surfaces {
		_ = s.Destroy(ctx)
	}
	return nil
}

// Surfaces returns every surface created so far, in creation order.
func (e *Engine) Surfaces() []*Surface {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Surface(nil), e.surfaces...)
}

// FailNextCreate queues an error for the next NewSurface call.
func (e *Engine) FailNextCreate(err error) {
	e.mu.Lock()
	e.createErr = append(e.createErr, err)
	e.mu.Unlock()
}

// SetNavigateError makes every URL navigation fail with err (nil clears it).
func (e *Engine) SetNavigateError(err error) {
	e.mu.Lock()
	e.navigateErr = err
	e.mu.Unlock()
}

// SetNavigateHook runs fn at the start of every Navigate. A non-nil error
// fails the navigation before the surface is touched.
func (e *Engine) SetNavigateHook(fn func(ctx context.Context, target string) error) {
	e.mu.Lock()
	e.navHook = fn
	e.mu.Unlock()
}

// SetClearHook runs fn before storage data is cleared. A non-nil error skips clearing.
func (e *Engine) SetClearHook(fn func(ctx context.Context) error) {
	e.mu.Lock()
	e.clearHook = fn
	e.mu.Unlock()
}

// Cookies returns a copy of the cookie jar of a partition keyed by host.
func (e *Engine) Cookies(partition schema.PartitionID) map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]string, len(e.jars[partition]))
	for k, v := range e.jars[partition] {
		out[k] = v
	}
	return out
}

// AttachedTo returns the surfaces currently attached to window.
func (e *Engine) AttachedTo(window schema.WindowID) []*Surface {
	var out []*Surface
	for _, s := range e.Surfaces() {
		if s.Attached() == window && !s.Destroyed() {
			out = append(out, s)
		}
	}
	return out
}

func (e *Engine) setCookie(partition schema.PartitionID, host, value string) {
	e.mu.Lock()
	jar := e.jars[partition]
	if jar == nil {
		jar = make(map[string]string)
		e.jars[partition] = jar
	}
	jar[host] = value
	e.mu.Unlock()
}

func (e *Engine) clearCookies(partition schema.PartitionID) {
	e.mu.Lock()
	delete(e.jars, partition)
	e.mu.Unlock()
}

func (e *Engine) navigateError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.navigateErr
}

func (e *Engine) navigateHook() func(ctx context.Context, target string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.navHook
}

func (e *Engine) storageHook() func(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clearHook
}

// Calls counts the operations invoked on a surface.
type Calls struct {
	Attach       int
	Detach       int
	SetBounds    int
	Navigate     int
	Stop         int
	Reload       int
	ClearCache   int
	ClearStorage int
	SetZoom      int
	SetFrozen    int
}

// Surface is an in-memory surface.
type Surface struct {
	engine    *Engine
	id        string
	partition schema.PartitionID

	mu        sync.Mutex
	attached  schema.WindowID
	bounds    schema.Rect
	history   []string
	index     int
	zoom      float64
	frozen    bool
	destroyed bool
	cached    int
	calls     Calls
	events    chan engine.Event
}

// ID implements engine.Surface.
func (s *Surface) ID() string { return s.id }

// Partition implements engine.Surface.
func (s *Surface) Partition() schema.PartitionID { return s.partition }

// AttachTo implements engine.Surface.
func (s *Surface) AttachTo(_ context.Context, window schema.WindowID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return engine.ErrSurfaceDestroyed
	}
	s.calls.Attach++
	s.attached = window
	return nil
}

// DetachFrom implements engine.Surface.
func (s *Surface) DetachFrom(_ context.Context, window schema.WindowID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return engine.ErrSurfaceDestroyed
	}
	s.calls.Detach++
	if s.attached == window {
		s.attached = ""
	}
	return nil
}

// SetBounds implements engine.Surface.
func (s *Surface) SetBounds(_ context.Context, rect schema.Rect) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return engine.ErrSurfaceDestroyed
	}
	s.calls.SetBounds++
	s.bounds = rect
	return nil
}

// Bounds implements engine.Surface.
func (s *Surface) Bounds() schema.Rect {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bounds
}

// Navigate implements engine.Surface. Visiting an http(s) url stores a cookie
// for its host in the surface partition.
func (s *Surface) Navigate(ctx context.Context, target string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if hook := s.engine.navigateHook(); hook != nil {
		if err := hook(ctx, target); err != nil {
			return err
		}
	}
	navErr := s.engine.navigateError()
	parsed, parseErr := url.Parse(target)
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return engine.ErrSurfaceDestroyed
	}
	s.calls.Navigate++
	web := parseErr == nil && (parsed.Scheme == "http" || parsed.Scheme == "https")
	if navErr != nil && web {
		s.emitLocked(engine.Event{Kind: engine.EventLoadFailed, URL: target, Err: navErr.Error()})
		s.mu.Unlock()
		return navErr
	}
	if s.index < len(s.history)-1 {
		s.history = s.history[:s.index+1]
	}
	s.history = append(s.history, target)
	s.index = len(s.history) - 1
	s.cached++
	title := target
	if web {
		title = parsed.Host
	}
	s.emitPageLocked(target, title)
	s.mu.Unlock()
	if web {
		s.engine.setCookie(s.partition, parsed.Host, "visited")
	}
	return nil
}

// NavigateToFile implements engine.Surface.
func (s *Surface) NavigateToFile(ctx context.Context, path string) error {
	return s.Navigate(ctx, (&url.URL{Scheme: "file", Path: path}).String())
}

// Stop implements engine.Surface.
func (s *Surface) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return engine.ErrSurfaceDestroyed
	}
	s.calls.Stop++
	return nil
}

// Reload implements engine.Surface.
func (s *Surface) Reload(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return engine.ErrSurfaceDestroyed
	}
	s.calls.Reload++
	s.emitLocked(engine.Event{Kind: engine.EventLoadStart})
	s.emitLocked(engine.Event{Kind: engine.EventLoadStop})
	return nil
}

// GoBack implements engine.Surface.
func (s *Surface) GoBack(context.Context) error {
	return s.step(-1)
}

// GoForward implements engine.Surface.
func (s *Surface) GoForward(context.Context) error {
	return s.step(1)
}

func (s *Surface) step(delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return engine.ErrSurfaceDestroyed
	}
	next := s.index + delta
	if next < 0 || next >= len(s.history) {
		return nil
	}
	s.index = next
	s.emitPageLocked(s.history[next], s.history[next])
	return nil
}

// History implements engine.Surface.
func (s *Surface) History(context.Context) (engine.History, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return engine.History{}, engine.ErrSurfaceDestroyed
	}
	return engine.History{
		CanGoBack:    s.index > 0,
		CanGoForward: s.index < len(s.history)-1,
	}, nil
}

// ClearCache implements engine.Surface.
func (s *Surface) ClearCache(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return engine.ErrSurfaceDestroyed
	}
	s.calls.ClearCache++
	s.cached = 0
	return nil
}

// ClearStorageData implements engine.Surface.
func (s *Surface) ClearStorageData(ctx context.Context, kinds []engine.StorageKind) error {
	hook := s.engine.storageHook()
	if hook != nil {
		if err := hook(ctx); err != nil {
			return err
		}
	}
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return engine.ErrSurfaceDestroyed
	}
	s.calls.ClearStorage++
	s.mu.Unlock()
	if engine.HasKind(kinds, engine.StorageCookies) {
		s.engine.clearCookies(s.partition)
	}
	return nil
}

// SetZoom implements engine.Surface.
func (s *Surface) SetZoom(_ context.Context, factor float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return engine.ErrSurfaceDestroyed
	}
	s.calls.SetZoom++
	s.zoom = factor
	return nil
}

// SetFrozen implements engine.Surface.
func (s *Surface) SetFrozen(_ context.Context, frozen bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return engine.ErrSurfaceDestroyed
	}
	s.calls.SetFrozen++
	s.frozen = frozen
	return nil
}

// Events implements engine.Surface.
func (s *Surface) Events() <-chan engine.Event { return s.events }

// Destroyed implements engine.Surface.
func (s *Surface) Destroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

// Destroy implements engine.Surface.
func (s *Surface) Destroy(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return nil
	}
	s.destroyed = true
	s.attached = ""
	close(s.events)
	return nil
}

// Crash simulates the host tearing the surface down.
func (s *Surface) Crash() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return
	}
	s.emitLocked(engine.Event{Kind: engine.EventRenderProcessGone, Err: "crashed"})
	s.destroyed = true
	s.attached = ""
	close(s.events)
}

// Emit injects an event as if the page produced it.
func (s *Surface) Emit(ev engine.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.destroyed {
		s.emitLocked(ev)
	}
}

// Calls returns a snapshot of the call counters.
func (s *Surface) Calls() Calls {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// URL returns the current history entry.
func (s *Surface) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) == 0 {
		return ""
	}
	return s.history[s.index]
}

// Attached returns the window the surface is attached to.
func (s *Surface) Attached() schema.WindowID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attached
}

// Zoom returns the last zoom factor set.
func (s *Surface) Zoom() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.zoom
}

// Frozen reports whether the surface is frozen.
func (s *Surface) Frozen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frozen
}

// CacheEntries reports loads cached since the last ClearCache.
func (s *Surface) CacheEntries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cached
}

func (s *Surface) emitPageLocked(target, title string) {
	s.emitLocked(engine.Event{Kind: engine.EventLoadStart})
	s.emitLocked(engine.Event{Kind: engine.EventDidNavigate, URL: target})
	s.emitLocked(engine.Event{Kind: engine.EventLoadProgress, Progress: 1})
	s.emitLocked(engine.Event{Kind: engine.EventTitleUpdated, Title: title})
	s.emitLocked(engine.Event{Kind: engine.EventLoadStop})
}

func (s *Surface) emitLocked(ev engine.Event) {
	select {
	case s.events <- ev:
	default:
	}
}
