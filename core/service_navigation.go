package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"pkt.systems/quasar/internal/engine"
	"pkt.systems/quasar/internal/logx"
	"pkt.systems/quasar/internal/registry"
	"pkt.systems/quasar/schema"
)

func (s *service) LoadURL(ctx context.Context, req schema.LoadURLRequest) (schema.LoadURLResponse, error) {
	if ctx == nil {
		return schema.LoadURLResponse{}, errors.New("missing context")
	}
	windowID, err := s.registry.Resolve(req.WindowID)
	if err != nil {
		return schema.LoadURLResponse{}, err
	}
	unlock := s.lockWindow(windowID)
	defer unlock()

	tab, err := s.activeTab(windowID)
	if err != nil {
		return schema.LoadURLResponse{}, err
	}
	log := logx.WithWindowTab(ctx, windowID, tab.ID)
	target, err := s.navigateTab(ctx, tab, req.URL)
	tab, _ = s.registry.Tab(tab.ID)
	if err != nil {
		log.Warn("service load url failed", "err", err)
		return schema.LoadURLResponse{Tab: s.snapshot(tab), Target: target}, err
	}
	log.Info("service load url ok", "target", target)
	return schema.LoadURLResponse{Tab: s.snapshot(tab), Target: target}, nil
}

// navigateTab starts a navigation on the tab's surface. Local urls are
// resolved inside the asset root before the engine is touched.
func (s *service) navigateTab(ctx context.Context, tab registry.Tab, input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("empty url: %w", schema.ErrInvalidRequest)
	}
	unpin, err := s.pin(tab)
	if err != nil {
		return "", err
	}
	defer unpin()
	surface := tab.Handle.Surface()
	navCtx, cancel := context.WithTimeout(ctx, s.cfg.NavigateTimeout)
	defer cancel()

	var target string
	var navErr error
	if s.assets.IsLocal(input) {
		path, err := s.assets.Resolve(input)
		if err != nil {
			if errors.Is(err, schema.ErrAccessDenied) || errors.Is(err, schema.ErrInvalidRequest) {
				return input, err
			}
			return input, fmt.Errorf("%w: %v", schema.ErrNavigationFailed, err)
		}
		target = input
		navErr = surface.NavigateToFile(navCtx, path)
	} else {
		resolved := schema.ResolveNavigationTarget(input, s.cfg.SearchURL)
		if resolved.URL == "" {
			return "", fmt.Errorf("empty url: %w", schema.ErrInvalidRequest)
		}
		target = resolved.URL
		navErr = surface.Navigate(navCtx, target)
	}
	if navErr != nil {
		s.registry.UpdateTab(tab.ID, tab.Handle, func(t *registry.Tab) { t.Loading = false })
		return target, fmt.Errorf("%w: %v", schema.ErrNavigationFailed, navErr)
	}
	s.registry.UpdateTab(tab.ID, tab.Handle, func(t *registry.Tab) {
		t.URL = target
		t.Loading = true
	})
	return target, nil
}

func (s *service) Navigate(ctx context.Context, req schema.NavigateRequest) (schema.NavigateResponse, error) {
	if ctx == nil {
		return schema.NavigateResponse{}, errors.New("missing context")
	}
	windowID, err := s.registry.Resolve(req.WindowID)
	if err != nil {
		return schema.NavigateResponse{}, err
	}
	unlock := s.lockWindow(windowID)
	defer unlock()

	tab, err := s.activeTab(windowID)
	if err != nil {
		return schema.NavigateResponse{}, err
	}
	log := logx.WithWindowTab(ctx, windowID, tab.ID)
	unpin, err := s.pin(tab)
	if err != nil {
		return schema.NavigateResponse{}, err
	}
	defer unpin()
	surface := tab.Handle.Surface()
	navCtx, cancel := context.WithTimeout(ctx, s.cfg.NavigateTimeout)
	defer cancel()

	var actionErr error
	switch req.Action {
	case schema.NavigateBack:
		actionErr = surface.GoBack(navCtx)
	case schema.NavigateForward:
		actionErr = surface.GoForward(navCtx)
	case schema.NavigateReload:
		actionErr = surface.Reload(navCtx)
	case schema.NavigateStop:
		actionErr = surface.Stop(navCtx)
		if actionErr == nil {
			s.registry.UpdateTab(tab.ID, tab.Handle, func(t *registry.Tab) { t.Loading = false })
		}
	default:
		return schema.NavigateResponse{}, fmt.Errorf("navigation action %q: %w", req.Action, schema.ErrInvalidRequest)
	}
	if actionErr != nil {
		log.Warn("service navigation failed", "action", req.Action, "err", actionErr)
	}
	s.refreshHistory(navCtx, tab)
	tab, _ = s.registry.Tab(tab.ID)
	log.Debug("service navigation ok", "action", req.Action)
	return schema.NavigateResponse{Tab: s.snapshot(tab)}, nil
}

func (s *service) AdjustZoom(ctx context.Context, req schema.AdjustZoomRequest) (schema.AdjustZoomResponse, error) {
	if ctx == nil {
		return schema.AdjustZoomResponse{}, errors.New("missing context")
	}
	windowID, err := s.registry.Resolve(req.WindowID)
	if err != nil {
		return schema.AdjustZoomResponse{}, err
	}
	unlock := s.lockWindow(windowID)
	defer unlock()

	tab, err := s.activeTab(windowID)
	if err != nil {
		return schema.AdjustZoomResponse{}, err
	}
	zoom, err := nextZoom(tab.Zoom, req.Direction)
	if err != nil {
		return schema.AdjustZoomResponse{}, err
	}
	log := logx.WithWindowTab(ctx, windowID, tab.ID)
	if zoom != tab.Zoom {
		unpin, err := s.pin(tab)
		if err != nil {
			return schema.AdjustZoomResponse{}, err
		}
		defer unpin()
		if err := tab.Handle.Surface().SetZoom(ctx, zoom); err != nil {
			log.Warn("service zoom failed", "zoom", zoom, "err", err)
			return schema.AdjustZoomResponse{Tab: s.snapshot(tab), Zoom: tab.Zoom}, nil
		}
		tab, _ = s.registry.UpdateTab(tab.ID, tab.Handle, func(t *registry.Tab) { t.Zoom = zoom })
		s.emitTab(schema.TabEvent{WindowID: windowID, Type: schema.TabEventZoomChanged, Tab: s.snapshot(tab)})
	}
	log.Debug("service zoom ok", "zoom", zoom)
	return schema.AdjustZoomResponse{Tab: s.snapshot(tab), Zoom: zoom}, nil
}

func nextZoom(current float64, direction schema.ZoomDirection) (float64, error) {
	if current == 0 {
		current = schema.ZoomDefault
	}
	var next float64
	switch direction {
	case schema.ZoomIn:
		next = current + schema.ZoomStep
	case schema.ZoomOut:
		next = current - schema.ZoomStep
	case schema.ZoomReset:
		next = schema.ZoomDefault
	default:
		return current, fmt.Errorf("zoom direction %q: %w", direction, schema.ErrInvalidRequest)
	}
	next = math.Round(next*10) / 10
	return math.Min(schema.ZoomMax, math.Max(schema.ZoomMin, next)), nil
}

// listener translates engine events of one tab into tab events.
func (s *service) listener(tabID schema.TabID) func(engine.Event) {
	return func(event engine.Event) {
		s.handleEngineEvent(tabID, event)
	}
}

func (s *service) handleEngineEvent(tabID schema.TabID, event engine.Event) {
	ctx := logx.ContextWithWindowTabLogger(context.Background(), s.logger, "", tabID)
	placeholder := event.URL != "" && event.URL == s.cfg.PlaceholderURL
	var (
		eventType schema.TabEventType
		update    func(t *registry.Tab)
		history   bool
	)
	switch event.Kind {
	case engine.EventLoadStart:
		eventType = schema.TabEventLoadProgress
		update = func(t *registry.Tab) { t.Loading, t.Progress = true, 0 }
	case engine.EventLoadProgress:
		eventType = schema.TabEventLoadProgress
		update = func(t *registry.Tab) { t.Progress = event.Progress }
	case engine.EventLoadStop:
		eventType = schema.TabEventLoadProgress
		update = func(t *registry.Tab) { t.Loading, t.Progress = false, 1 }
		history = true
	case engine.EventTitleUpdated:
		if event.Title == s.cfg.PlaceholderURL {
			return
		}
		eventType = schema.TabEventTitleUpdated
		update = func(t *registry.Tab) { t.Title = event.Title }
	case engine.EventFaviconUpdated:
		eventType = schema.TabEventFaviconUpdated
		update = func(t *registry.Tab) { t.Favicon = event.Favicon }
	case engine.EventDidNavigate, engine.EventDidNavigateInPage:
		if placeholder {
			return
		}
		eventType = schema.TabEventURLUpdated
		update = func(t *registry.Tab) { t.URL = event.URL }
		history = true
	case engine.EventLoadFailed:
		eventType = schema.TabEventLoadFailed
		update = func(t *registry.Tab) { t.Loading = false }
	case engine.EventRenderProcessGone:
		eventType = schema.TabEventCrashed
		update = func(t *registry.Tab) { t.Loading = false }
	default:
		return
	}
	tab, ok := s.registry.UpdateTab(tabID, nil, update)
	if !ok {
		return
	}
	if event.Kind == engine.EventRenderProcessGone {
		logx.WithWindowTab(ctx, tab.Window, tabID).Warn("service tab crashed", "err", event.Err)
	}
	s.emitTab(schema.TabEvent{
		WindowID: tab.Window,
		Type:     eventType,
		Tab:      s.snapshot(tab),
		Progress: tab.Progress,
		Error:    event.Err,
	})
	if history {
		histCtx, cancel := context.WithTimeout(ctx, s.cfg.NavigateTimeout)
		s.refreshHistory(histCtx, tab)
		cancel()
	}
}

// refreshHistory reads back/forward availability and emits navigation_state.
func (s *service) refreshHistory(ctx context.Context, tab registry.Tab) {
	if tab.Handle == nil || !tab.Handle.Valid() {
		return
	}
	hist, err := tab.Handle.Surface().History(ctx)
	if err != nil {
		logx.WithWindowTab(ctx, tab.Window, tab.ID).Warn("service history read failed", "err", err)
		return
	}
	updated, ok := s.registry.UpdateTab(tab.ID, tab.Handle, func(t *registry.Tab) {
		t.CanGoBack = hist.CanGoBack
		t.CanGoForward = hist.CanGoForward
	})
	if !ok {
		return
	}
	s.emitTab(schema.TabEvent{
		WindowID:     updated.Window,
		Type:         schema.TabEventNavigationState,
		Tab:          s.snapshot(updated),
		CanGoBack:    hist.CanGoBack,
		CanGoForward: hist.CanGoForward,
	})
}
