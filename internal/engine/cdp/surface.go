package cdp

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	cdproto "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"pkt.systems/pslog"
	"pkt.systems/quasar/internal/engine"
	"pkt.systems/quasar/schema"
)

const metadataTimeout = 5 * time.Second

// Surface is a page target with its own browser context.
type Surface struct {
	id        string
	partition schema.PartitionID
	eng       *Engine
	ctx       context.Context
	cancel    context.CancelFunc
	log       pslog.Logger
	stream    *engine.Stream
	visited   engine.OriginSet

	mu        sync.Mutex
	bounds    schema.Rect
	zoom      float64
	attached  schema.WindowID
	mainFrame cdproto.FrameID
	title     string
	favicon   string
	destroyed bool
}

func newSurface(e *Engine, id string, opts engine.SurfaceOptions, ctx context.Context, cancel context.CancelFunc) *Surface {
	return &Surface{
		id:        id,
		partition: opts.Partition,
		eng:       e,
		ctx:       ctx,
		cancel:    cancel,
		log:       e.log.With("surface", id, "partition", opts.Partition),
		stream:    engine.NewStream(engine.DefaultStreamBuffer),
		bounds:    schema.Rect{Width: opts.Width, Height: opts.Height},
		zoom:      1,
	}
}

// ID implements engine.Surface.
func (s *Surface) ID() string { return s.id }

// Partition implements engine.Surface.
func (s *Surface) Partition() schema.PartitionID { return s.partition }

// AttachTo brings the target to the front. Headless targets have no parent
// window, so the association is recorded locally.
func (s *Surface) AttachTo(ctx context.Context, window schema.WindowID) error {
	if err := s.run(ctx, page.BringToFront()); err != nil {
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

// SetBounds resizes the emulated viewport.
func (s *Surface) SetBounds(ctx context.Context, rect schema.Rect) error {
	s.mu.Lock()
	s.bounds = rect
	s.mu.Unlock()
	return s.run(ctx, s.emulate())
}

// Bounds implements engine.Surface.
func (s *Surface) Bounds() schema.Rect {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bounds
}

// Navigate starts a navigation without waiting for the load event.
func (s *Surface) Navigate(ctx context.Context, target string) error {
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var res page.NavigateReturns
		if err := cdproto.Execute(ctx, page.CommandNavigate, page.Navigate(target), &res); err != nil {
			return err
		}
		if res.ErrorText != "" {
			return errors.New(res.ErrorText)
		}
		return nil
	}))
	if err != nil && !errors.Is(err, engine.ErrSurfaceDestroyed) {
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
	return s.run(ctx, page.StopLoading())
}

// Reload implements engine.Surface.
func (s *Surface) Reload(ctx context.Context) error {
	return s.run(ctx, page.Reload())
}

// GoBack implements engine.Surface.
func (s *Surface) GoBack(ctx context.Context) error {
	return s.step(ctx, -1)
}

// GoForward implements engine.Surface.
func (s *Surface) GoForward(ctx context.Context) error {
	return s.step(ctx, 1)
}

func (s *Surface) step(ctx context.Context, delta int64) error {
	return s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		current, entries, err := page.GetNavigationHistory().Do(ctx)
		if err != nil {
			return err
		}
		next := current + delta
		if next < 0 || next >= int64(len(entries)) {
			return nil
		}
		return page.NavigateToHistoryEntry(entries[next].ID).Do(ctx)
	}))
}

// History implements engine.Surface.
func (s *Surface) History(ctx context.Context) (engine.History, error) {
	var hist engine.History
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		current, entries, err := page.GetNavigationHistory().Do(ctx)
		if err != nil {
			return err
		}
		hist.CanGoBack = current > 0
		hist.CanGoForward = current < int64(len(entries))-1
		return nil
	}))
	return hist, err
}

// ClearCache implements engine.Surface.
func (s *Surface) ClearCache(ctx context.Context) error {
	return s.run(ctx, network.ClearBrowserCache())
}

// ClearStorageData clears cookies of the browser context and the selected
// storages of every origin visited since the last scrub.
func (s *Surface) ClearStorageData(ctx context.Context, kinds []engine.StorageKind) error {
	var errs []error
	if engine.HasKind(kinds, engine.StorageCookies) {
		errs = append(errs, s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			c := chromedp.FromContext(ctx)
			if c == nil || c.Browser == nil {
				return errors.New("no browser for cookie clearing")
			}
			return storage.ClearCookies().
				WithBrowserContextID(c.BrowserContextID).
				Do(cdproto.WithExecutor(ctx, c.Browser))
		})))
	}
	if types := engine.ProtocolStorageTypes(kinds); types != "" {
		for _, origin := range s.visited.Drain() {
			errs = append(errs, s.run(ctx, storage.ClearDataForOrigin(origin, types)))
		}
	}
	return errors.Join(errs...)
}

// SetZoom scales the emulated device.
func (s *Surface) SetZoom(ctx context.Context, factor float64) error {
	s.mu.Lock()
	s.zoom = factor
	s.mu.Unlock()
	return s.run(ctx, s.emulate())
}

// SetFrozen switches the page lifecycle between frozen and active.
func (s *Surface) SetFrozen(ctx context.Context, frozen bool) error {
	state := page.SetWebLifecycleStateStateActive
	if frozen {
		state = page.SetWebLifecycleStateStateFrozen
	}
	return s.run(ctx, page.SetWebLifecycleState(state))
}

// Events implements engine.Surface.
func (s *Surface) Events() <-chan engine.Event { return s.stream.Events() }

// Destroyed implements engine.Surface.
func (s *Surface) Destroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

// Destroy closes the target and disposes its browser context.
func (s *Surface) Destroy(context.Context) error {
	s.markDestroyed()
	return nil
}

func (s *Surface) markDestroyed() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	s.mu.Unlock()
	s.stream.Close()
	s.cancel()
	s.eng.forget(s.id)
	s.log.Debug("cdp surface destroyed")
}

func (s *Surface) emulate() chromedp.Action {
	s.mu.Lock()
	width, height, zoom := s.bounds.Width, s.bounds.Height, s.zoom
	s.mu.Unlock()
	if width <= 0 {
		width = 1
	}
	if height <= 0 {
		height = 1
	}
	return chromedp.EmulateViewport(int64(width), int64(height), chromedp.EmulateScale(zoom))
}

// run executes actions on the target, bounded by ctx.
func (s *Surface) run(ctx context.Context, actions ...chromedp.Action) error {
	if s.Destroyed() {
		return engine.ErrSurfaceDestroyed
	}
	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if s.Destroyed() {
			return engine.ErrSurfaceDestroyed
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

func (s *Surface) isMainFrame(id cdproto.FrameID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mainFrame == "" || s.mainFrame == id
}

// onEvent runs on the chromedp event loop and must not block on the target.
func (s *Surface) onEvent(ev any) {
	switch ev := ev.(type) {
	case *page.EventFrameStartedLoading:
		if s.isMainFrame(ev.FrameID) {
			s.stream.Emit(engine.Event{Kind: engine.EventLoadStart})
		}
	case *page.EventFrameNavigated:
		if ev.Frame == nil || ev.Frame.ParentID != "" {
			return
		}
		s.mu.Lock()
		s.mainFrame = ev.Frame.ID
		s.mu.Unlock()
		s.visited.Add(ev.Frame.URL)
		s.stream.Emit(engine.Event{Kind: engine.EventDidNavigate, URL: ev.Frame.URL})
	case *page.EventNavigatedWithinDocument:
		if s.isMainFrame(ev.FrameID) {
			s.stream.Emit(engine.Event{Kind: engine.EventDidNavigateInPage, URL: ev.URL})
		}
	case *page.EventDomContentEventFired:
		s.stream.Emit(engine.Event{Kind: engine.EventLoadProgress, Progress: 0.5})
	case *page.EventLoadEventFired:
		s.stream.Emit(engine.Event{Kind: engine.EventLoadProgress, Progress: 1})
	case *page.EventFrameStoppedLoading:
		if s.isMainFrame(ev.FrameID) {
			s.stream.Emit(engine.Event{Kind: engine.EventLoadStop})
			go s.refreshMetadata()
		}
	case *inspector.EventTargetCrashed:
		s.stream.Emit(engine.Event{Kind: engine.EventRenderProcessGone, Err: "target crashed"})
		go s.markDestroyed()
	}
}

// refreshMetadata reads title and favicon after a load and emits changes.
func (s *Surface) refreshMetadata() {
	if s.Destroyed() {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, metadataTimeout)
	defer cancel()
	var title, favicon string
	if err := chromedp.Run(ctx, chromedp.Title(&title), chromedp.Evaluate(engine.FaviconScript, &favicon)); err != nil {
		s.log.Debug("cdp metadata read failed", "err", err)
		return
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
