package pw

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"pkt.systems/pslog"
	"pkt.systems/quasar/internal/engine"
	"pkt.systems/quasar/schema"
)

const historyScript = `(() => ({
	back: !!(window.navigation && navigation.canGoBack),
	forward: !!(window.navigation && navigation.canGoForward),
}))()`

// Surface is one page inside a private BrowserContext.
type Surface struct {
	id        string
	partition schema.PartitionID
	eng       *Engine
	bctx      playwright.BrowserContext
	page      playwright.Page
	session   playwright.CDPSession
	log       pslog.Logger
	stream    *engine.Stream
	visited   engine.OriginSet

	mu        sync.Mutex
	bounds    schema.Rect
	zoom      float64
	attached  schema.WindowID
	title     string
	favicon   string
	destroyed bool
}

func newSurface(e *Engine, id string, opts engine.SurfaceOptions, bctx playwright.BrowserContext, page playwright.Page, session playwright.CDPSession) *Surface {
	return &Surface{
		id:        id,
		partition: opts.Partition,
		eng:       e,
		bctx:      bctx,
		page:      page,
		session:   session,
		log:       e.log.With("surface", id, "partition", opts.Partition),
		stream:    engine.NewStream(engine.DefaultStreamBuffer),
		bounds:    schema.Rect{Width: opts.Width, Height: opts.Height},
		zoom:      1,
	}
}

// listen maps page events onto engine events. Handlers run on the driver's
// dispatch goroutine; page calls made from them run in their own goroutine.
func (s *Surface) listen() {
	s.page.OnRequest(func(req playwright.Request) {
		if req.IsNavigationRequest() && req.Frame() == s.page.MainFrame() {
			s.stream.Emit(engine.Event{Kind: engine.EventLoadStart})
		}
	})
	s.page.OnFrameNavigated(func(frame playwright.Frame) {
		if frame != s.page.MainFrame() {
			return
		}
		s.visited.Add(frame.URL())
		s.stream.Emit(engine.Event{Kind: engine.EventDidNavigate, URL: frame.URL()})
	})
	s.page.OnDOMContentLoaded(func(playwright.Page) {
		s.stream.Emit(engine.Event{Kind: engine.EventLoadProgress, Progress: 0.5})
	})
	s.page.OnLoad(func(playwright.Page) {
		s.stream.Emit(engine.Event{Kind: engine.EventLoadProgress, Progress: 1})
		s.stream.Emit(engine.Event{Kind: engine.EventLoadStop})
		go s.refreshMetadata()
	})
	s.page.OnCrash(func(playwright.Page) {
		s.stream.Emit(engine.Event{Kind: engine.EventRenderProcessGone, Err: "page crashed"})
		go s.markDestroyed()
	})
	s.page.OnClose(func(playwright.Page) {
		go s.markDestroyed()
	})
}

// ID implements engine.Surface.
func (s *Surface) ID() string { return s.id }

// Partition implements engine.Surface.
func (s *Surface) Partition() schema.PartitionID { return s.partition }

// AttachTo brings the page to the front and records the window.
func (s *Surface) AttachTo(ctx context.Context, window schema.WindowID) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if err := s.page.BringToFront(); err != nil {
		return err
	}
	s.mu.Lock()
	s.attached = window
	s.mu.Unlock()
	return nil
}

// DetachFrom implements engine.Surface.
func (s *Surface) DetachFrom(_ context.Context, window schema.WindowID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return engine.ErrSurfaceDestroyed
	}
	if s.attached == window {
		s.attached = ""
	}
	return nil
}

// SetBounds resizes the viewport.
func (s *Surface) SetBounds(ctx context.Context, rect schema.Rect) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.bounds = rect
	s.mu.Unlock()
	return s.emulate()
}

// Bounds implements engine.Surface.
func (s *Surface) Bounds() schema.Rect {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bounds
}

// Navigate returns once the navigation has committed.
func (s *Surface) Navigate(ctx context.Context, target string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	_, err := s.page.Goto(target, playwright.PageGotoOptions{
		WaitUntil: commitState(),
		Timeout:   timeoutMillis(ctx),
	})
	if err != nil {
		s.stream.Emit(engine.Event{Kind: engine.EventLoadFailed, URL: target, Err: err.Error()})
	}
	return err
}

// NavigateToFile implements engine.Surface.
func (s *Surface) NavigateToFile(ctx context.Context, path string) error {
	return s.Navigate(ctx, (&url.URL{Scheme: "file", Path: path}).String())
}

// Stop implements engine.Surface.
func (s *Surface) Stop(ctx context.Context) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	_, err := s.page.Evaluate("window.stop()")
	return err
}

// Reload implements engine.Surface.
func (s *Surface) Reload(ctx context.Context) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	_, err := s.page.Reload(playwright.PageReloadOptions{WaitUntil: commitState(), Timeout: timeoutMillis(ctx)})
	return err
}

// GoBack implements engine.Surface.
func (s *Surface) GoBack(ctx context.Context) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	_, err := s.page.GoBack(playwright.PageGoBackOptions{WaitUntil: commitState(), Timeout: timeoutMillis(ctx)})
	return err
}

// GoForward implements engine.Surface.
func (s *Surface) GoForward(ctx context.Context) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	_, err := s.page.GoForward(playwright.PageGoForwardOptions{WaitUntil: commitState(), Timeout: timeoutMillis(ctx)})
	return err
}

// History reads the Navigation API of the page.
func (s *Surface) History(ctx context.Context) (engine.History, error) {
	if err := s.check(ctx); err != nil {
		return engine.History{}, err
	}
	raw, err := s.page.Evaluate(historyScript)
	if err != nil {
		return engine.History{}, err
	}
	flags, ok := raw.(map[string]any)
	if !ok {
		return engine.History{}, fmt.Errorf("unexpected history result %T", raw)
	}
	back, _ := flags["back"].(bool)
	forward, _ := flags["forward"].(bool)
	return engine.History{CanGoBack: back, CanGoForward: forward}, nil
}

// ClearCache implements engine.Surface.
func (s *Surface) ClearCache(ctx context.Context) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	_, err := s.session.Send("Network.clearBrowserCache", nil)
	return err
}

// ClearStorageData clears context cookies and the selected storages of every
// origin visited since the last scrub.
func (s *Surface) ClearStorageData(ctx context.Context, kinds []engine.StorageKind) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	var errs []error
	if engine.HasKind(kinds, engine.StorageCookies) {
		errs = append(errs, s.bctx.ClearCookies())
	}
	if types := engine.ProtocolStorageTypes(kinds); types != "" {
		for _, origin := range s.visited.Drain() {
			_, err := s.session.Send("Storage.clearDataForOrigin", map[string]any{
				"origin":       origin,
				"storageTypes": types,
			})
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SetZoom scales the emulated device.
func (s *Surface) SetZoom(ctx context.Context, factor float64) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.zoom = factor
	s.mu.Unlock()
	return s.emulate()
}

// SetFrozen switches the page lifecycle between frozen and active.
func (s *Surface) SetFrozen(ctx context.Context, frozen bool) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	state := "active"
	if frozen {
		state = "frozen"
	}
	_, err := s.session.Send("Page.setWebLifecycleState", map[string]any{"state": state})
	return err
}

// Events implements engine.Surface.
func (s *Surface) Events() <-chan engine.Event { return s.stream.Events() }

// Destroyed implements engine.Surface.
func (s *Surface) Destroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

// Destroy closes the page and its context.
func (s *Surface) Destroy(context.Context) error {
	if !s.markDestroyed() {
		return nil
	}
	return errors.Join(s.session.Detach(), s.bctx.Close())
}

func (s *Surface) markDestroyed() bool {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return false
	}
	s.destroyed = true
	s.mu.Unlock()
	s.stream.Close()
	s.eng.forget(s.id)
	s.log.Debug("playwright surface destroyed")
	return true
}

func (s *Surface) check(ctx context.Context) error {
	if s.Destroyed() {
		return engine.ErrSurfaceDestroyed
	}
	return ctx.Err()
}

func (s *Surface) emulate() error {
	s.mu.Lock()
	width, height, zoom := s.bounds.Width, s.bounds.Height, s.zoom
	s.mu.Unlock()
	if width <= 0 {
		width = 1
	}
	if height <= 0 {
		height = 1
	}
	_, err := s.session.Send("Emulation.setDeviceMetricsOverride", map[string]any{
		"width":             width,
		"height":            height,
		"deviceScaleFactor": zoom,
		"mobile":            false,
	})
	return err
}

func (s *Surface) refreshMetadata() {
	if s.Destroyed() {
		return
	}
	title, err := s.page.Title()
	if err != nil {
		s.log.Debug("playwright metadata read failed", "err", err)
		return
	}
	var favicon string
	if raw, err := s.page.Evaluate(engine.FaviconScript); err == nil {
		favicon, _ = raw.(string)
	}
	s.mu.Lock()
	titleChanged := title != s.title
	faviconChanged := favicon != s.favicon
	s.title, s.favicon = title, favicon
	s.mu.Unlock()
	if titleChanged {
		s.stream.Emit(engine.Event{Kind: engine.EventTitleUpdated, Title: title})
	}
	if faviconChanged && favicon != "" {
		s.stream.Emit(engine.Event{Kind: engine.EventFaviconUpdated, Favicon: favicon})
	}
}

func commitState() *playwright.WaitUntilState {
	state := playwright.WaitUntilState("commit")
	return &state
}

// timeoutMillis converts the ctx deadline into a playwright timeout. Zero
// disables the playwright timeout.
func timeoutMillis(ctx context.Context) *float64 {
	deadline, ok := ctx.Deadline()
	if !ok {
		return playwright.Float(0)
	}
	remaining := time.Until(deadline)
	if remaining < time.Millisecond {
		remaining = time.Millisecond
	}
	return playwright.Float(float64(remaining.Milliseconds()))
}
