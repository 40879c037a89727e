package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/quasar/internal/assets"
	"pkt.systems/quasar/internal/engine"
	"pkt.systems/quasar/internal/geometry"
	"pkt.systems/quasar/internal/logx"
	"pkt.systems/quasar/internal/pool"
	"pkt.systems/quasar/internal/registry"
	"pkt.systems/quasar/schema"
)

// service implements the core service behavior.
type service struct {
	cfg      schema.ServiceConfig
	pool     *pool.Pool
	registry *registry.Registry
	tracker  *geometry.Tracker
	assets   *assets.Resolver
	sink     EventSink
	logger   pslog.Logger

	mu          sync.Mutex
	transitions map[schema.WindowID]*sync.Mutex
	closed      bool
}

// NewService constructs the core service and opens the main window. Call
// Warm before serving requests.
func NewService(cfg schema.ServiceConfig, deps ServiceDeps) (Service, error) {
	normalized, err := schema.NormalizeServiceConfig(cfg)
	if err != nil {
		return nil, err
	}
	cfg = normalized
	if deps.Engine == nil {
		return nil, errors.New("engine dependency is required")
	}
	kinds, err := engine.ParseStorageKinds(cfg.StorageKinds)
	if err != nil {
		return nil, err
	}
	views, err := pool.New(pool.Config{
		Capacity:       cfg.PoolCapacity,
		PlaceholderURL: cfg.PlaceholderURL,
		StorageKinds:   kinds,
		ReleaseTimeout: cfg.ReleaseTimeout,
		Width:          cfg.WindowWidth,
		Height:         cfg.WindowHeight,
	}, deps.Engine)
	if err != nil {
		return nil, err
	}
	if deps.Assets == nil {
		resolver, err := assets.NewResolver(cfg.AssetRoot, cfg.LocalScheme)
		if err != nil {
			return nil, err
		}
		deps.Assets = resolver
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	s := &service{
		cfg:         cfg,
		pool:        views,
		registry:    registry.New(),
		tracker:     geometry.NewTracker(cfg.ResizeDebounce),
		assets:      deps.Assets,
		sink:        deps.EventSink,
		logger:      logger,
		transitions: make(map[schema.WindowID]*sync.Mutex),
	}
	views.OnEvict(s.onEvict)
	content := schema.Size{Width: cfg.WindowWidth, Height: cfg.WindowHeight}
	if err := s.registry.OpenWindow(schema.MainWindowID, schema.WindowNormal, content, cfg.HeaderHeight); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *service) Warm(ctx context.Context) error {
	if ctx == nil {
		return errors.New("missing context")
	}
	return s.pool.Warm(ctx)
}

func (s *service) CreateTab(ctx context.Context, req schema.CreateTabRequest) (schema.CreateTabResponse, error) {
	if ctx == nil {
		return schema.CreateTabResponse{}, errors.New("missing context")
	}
	windowID, err := s.registry.Resolve(req.WindowID)
	if err != nil {
		return schema.CreateTabResponse{}, err
	}
	tabID := req.TabID
	if tabID == "" {
		tabID = schema.TabID(newID("tab"))
	}
	if err := schema.ValidateTabID(tabID); err != nil {
		return schema.CreateTabResponse{}, err
	}
	log := logx.WithWindowTab(ctx, windowID, tabID)
	log.Info("service tab create start", "url", req.URL)

	unlock := s.lockWindow(windowID)
	defer unlock()

	if s.registry.HasTab(tabID) {
		log.Warn("service tab create failed", "err", schema.ErrDuplicateTab)
		return schema.CreateTabResponse{}, schema.ErrDuplicateTab
	}
	handle, err := s.pool.Acquire(ctx, tabID, s.listener(tabID))
	if err != nil {
		log.Warn("service tab create failed", "err", err)
		return schema.CreateTabResponse{}, err
	}
	first, err := s.registry.AddTab(registry.Tab{
		ID:     tabID,
		Window: windowID,
		Handle: handle,
	})
	if err != nil {
		_ = s.pool.Release(ctx, handle, tabID)
		log.Warn("service tab create failed", "err", err)
		return schema.CreateTabResponse{}, err
	}
	if first {
		if err := s.activate(ctx, windowID, tabID, handle); err != nil {
			log.Warn("service tab attach failed", "err", err)
		}
	}
	tab, _ := s.registry.Tab(tabID)
	snap := s.snapshot(tab)
	s.emitTab(schema.TabEvent{WindowID: windowID, Type: schema.TabEventCreated, Tab: snap, ActiveTab: s.activeTabID(windowID)})
	if first {
		s.emitTab(schema.TabEvent{WindowID: windowID, Type: schema.TabEventSwitched, Tab: snap, ActiveTab: tabID})
	}

	if strings.TrimSpace(req.URL) != "" {
		if _, err := s.navigateTab(ctx, tab, req.URL); err != nil {
			tab, _ = s.registry.Tab(tabID)
			log.Warn("service tab create navigate failed", "err", err)
			return schema.CreateTabResponse{Tab: s.snapshot(tab)}, err
		}
		tab, _ = s.registry.Tab(tabID)
	}
	log.Info("service tab create ok", "handle", handle.ID(), "active", first)
	return schema.CreateTabResponse{Tab: s.snapshot(tab)}, nil
}

func (s *service) SwitchTab(ctx context.Context, req schema.SwitchTabRequest) (schema.SwitchTabResponse, error) {
	if ctx == nil {
		return schema.SwitchTabResponse{}, errors.New("missing context")
	}
	windowID, err := s.registry.Resolve(req.WindowID)
	if err != nil {
		return schema.SwitchTabResponse{}, err
	}
	log := logx.WithWindowTab(ctx, windowID, req.TabID)

	unlock := s.lockWindow(windowID)
	defer unlock()

	current, hasCurrent := s.registry.ActiveTab(windowID)
	if hasCurrent && current.ID == req.TabID {
		return schema.SwitchTabResponse{ActiveTab: current.ID}, nil
	}
	target, ok := s.registry.Tab(req.TabID)
	if !ok || target.Window != windowID {
		log.Debug("service tab switch ignored", "reason", "tab not in window")
		return schema.SwitchTabResponse{ActiveTab: current.ID}, nil
	}
	if hasCurrent && s.cfg.FreezeBackground {
		if err := current.Handle.Surface().SetFrozen(ctx, true); err != nil {
			log.Warn("service tab freeze failed", "tab", current.ID, "err", err)
		}
	}
	if err := s.activate(ctx, windowID, target.ID, target.Handle); err != nil {
		log.Warn("service tab switch failed", "err", err)
		return schema.SwitchTabResponse{ActiveTab: s.activeTabID(windowID)}, err
	}
	target, _ = s.registry.Tab(req.TabID)
	s.emitTab(schema.TabEvent{WindowID: windowID, Type: schema.TabEventSwitched, Tab: s.snapshot(target), ActiveTab: target.ID})
	log.Info("service tab switch ok", "previous", current.ID)
	return schema.SwitchTabResponse{ActiveTab: target.ID, Switched: true}, nil
}

func (s *service) CloseTab(ctx context.Context, req schema.CloseTabRequest) (schema.CloseTabResponse, error) {
	if ctx == nil {
		return schema.CloseTabResponse{}, errors.New("missing context")
	}
	windowID, err := s.registry.Resolve(req.WindowID)
	if err != nil {
		return schema.CloseTabResponse{}, err
	}
	log := logx.WithWindowTab(ctx, windowID, req.TabID)

	unlock := s.lockWindow(windowID)
	defer unlock()

	if tab, ok := s.registry.Tab(req.TabID); !ok || tab.Window != windowID {
		log.Debug("service tab close ignored", "reason", "tab not in window")
		return schema.CloseTabResponse{ActiveTab: s.activeTabID(windowID)}, nil
	}
	tab, wasActive, ok := s.registry.RemoveTab(req.TabID)
	if !ok {
		return schema.CloseTabResponse{ActiveTab: s.activeTabID(windowID)}, nil
	}
	if err := s.pool.Release(ctx, tab.Handle, tab.ID); err != nil {
		log.Warn("service tab release failed", "err", err)
	}
	closed := tab.Snapshot(false)
	closed.State = schema.TabStateClosed
	s.emitTab(schema.TabEvent{WindowID: windowID, Type: schema.TabEventClosed, Tab: closed, ActiveTab: s.activeTabID(windowID)})

	if wasActive {
		s.promoteFirst(ctx, windowID)
	}
	active := s.activeTabID(windowID)
	log.Info("service tab close ok", "was_active", wasActive, "active", active)
	return schema.CloseTabResponse{Closed: true, ActiveTab: active}, nil
}

func (s *service) ListTabs(ctx context.Context, req schema.ListTabsRequest) (schema.ListTabsResponse, error) {
	if ctx == nil {
		return schema.ListTabsResponse{}, errors.New("missing context")
	}
	windowID, err := s.registry.Resolve(req.WindowID)
	if err != nil {
		return schema.ListTabsResponse{}, err
	}
	tabs, active, err := s.registry.Tabs(windowID)
	if err != nil {
		return schema.ListTabsResponse{}, err
	}
	snaps := make([]schema.TabSnapshot, 0, len(tabs))
	for _, tab := range tabs {
		snaps = append(snaps, tab.Snapshot(tab.ID == active))
	}
	return schema.ListTabsResponse{WindowID: windowID, Tabs: snaps, ActiveTab: active}, nil
}

func (s *service) PoolStats(ctx context.Context, _ schema.PoolStatsRequest) (schema.PoolStatsResponse, error) {
	if ctx == nil {
		return schema.PoolStatsResponse{}, errors.New("missing context")
	}
	return schema.PoolStatsResponse{Stats: s.pool.Stats()}, nil
}

func (s *service) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.tracker.Close()
	pslog.Ctx(ctx).Info("service shutdown", "pool", s.pool.Stats().Size)
	return s.pool.Close(ctx)
}

// activate attaches handle to the window through the registry and records the
// tab as active.
func (s *service) activate(ctx context.Context, windowID schema.WindowID, tabID schema.TabID, handle *pool.Handle) error {
	if s.cfg.FreezeBackground {
		if err := handle.Surface().SetFrozen(ctx, false); err != nil {
			logx.WithWindowTab(ctx, windowID, tabID).Warn("service tab resume failed", "err", err)
		}
	}
	if err := s.registry.AttachView(ctx, windowID, handle); err != nil {
		return err
	}
	return s.registry.SetActiveTab(windowID, tabID)
}

// promoteFirst makes the oldest remaining tab of the window active.
func (s *service) promoteFirst(ctx context.Context, windowID schema.WindowID) {
	log := logx.WithWindow(ctx, windowID)
	next, ok := s.registry.FirstTab(windowID)
	if !ok {
		_ = s.registry.SetActiveTab(windowID, "")
		if err := s.registry.DetachView(ctx, windowID); err != nil {
			log.Warn("service window detach failed", "err", err)
		}
		return
	}
	if err := s.activate(ctx, windowID, next.ID, next.Handle); err != nil {
		log.Warn("service tab promote failed", "tab", next.ID, "err", err)
		return
	}
	next, _ = s.registry.Tab(next.ID)
	s.emitTab(schema.TabEvent{WindowID: windowID, Type: schema.TabEventSwitched, Tab: s.snapshot(next), ActiveTab: next.ID})
}

// onEvict drops a tab whose view was taken by the pool. It only touches the
// registry; reattachment runs asynchronously under the window transition lock.
func (s *service) onEvict(ctx context.Context, tabID schema.TabID, _ *pool.Handle) {
	tab, wasActive, ok := s.registry.RemoveTab(tabID)
	if !ok {
		return
	}
	log := logx.WithWindowTab(ctx, tab.Window, tabID)
	log.Info("service tab evicted", "was_active", wasActive)
	snap := tab.Snapshot(false)
	snap.State = schema.TabStateClosed
	s.emitTab(schema.TabEvent{WindowID: tab.Window, Type: schema.TabEventEvicted, Tab: snap, ActiveTab: s.activeTabID(tab.Window)})
	if !wasActive {
		return
	}
	detached := context.WithoutCancel(ctx)
	go func() {
		unlock := s.lockWindow(tab.Window)
		defer unlock()
		if _, err := s.registry.Resolve(tab.Window); err != nil {
			return
		}
		if _, ok := s.registry.ActiveTab(tab.Window); ok {
			return
		}
		s.promoteFirst(detached, tab.Window)
	}()
}

func (s *service) lockWindow(id schema.WindowID) func() {
	s.mu.Lock()
	lock, ok := s.transitions[id]
	if !ok {
		lock = &sync.Mutex{}
		s.transitions[id] = lock
	}
	s.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}

func (s *service) activeTabID(windowID schema.WindowID) schema.TabID {
	if tab, ok := s.registry.ActiveTab(windowID); ok {
		return tab.ID
	}
	return ""
}

func (s *service) snapshot(tab registry.Tab) schema.TabSnapshot {
	return tab.Snapshot(tab.ID != "" && s.activeTabID(tab.Window) == tab.ID)
}

func (s *service) emitTab(event schema.TabEvent) {
	if s.sink != nil {
		s.sink.OnTabEvent(event)
	}
}

func (s *service) emitWindow(event schema.WindowEvent) {
	if s.sink != nil {
		s.sink.OnWindowEvent(event)
	}
}

// pin holds the tab's view against eviction for the duration of an engine
// call. It fails when the view was already taken from the tab.
func (s *service) pin(tab registry.Tab) (func(), error) {
	unpin, ok := s.pool.Pin(tab.Handle, tab.ID)
	if !ok {
		return unpin, fmt.Errorf("tab %s lost its view: %w", tab.ID, schema.ErrTabNotFound)
	}
	return unpin, nil
}

func (s *service) activeTab(windowID schema.WindowID) (registry.Tab, error) {
	tab, ok := s.registry.ActiveTab(windowID)
	if !ok || tab.Handle == nil {
		return registry.Tab{}, fmt.Errorf("window %s: %w", windowID, schema.ErrNoActiveTab)
	}
	return tab, nil
}
