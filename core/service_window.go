package core

import (
	"context"
	"errors"
	"fmt"

	"pkt.systems/quasar/internal/logx"
	"pkt.systems/quasar/schema"
)

func (s *service) OpenWindow(ctx context.Context, req schema.OpenWindowRequest) (schema.OpenWindowResponse, error) {
	if ctx == nil {
		return schema.OpenWindowResponse{}, errors.New("missing context")
	}
	windowID := req.WindowID
	if windowID == "" {
		windowID = schema.WindowID(newID("window"))
	}
	if err := schema.ValidateWindowID(windowID); err != nil {
		return schema.OpenWindowResponse{}, err
	}
	kind, err := schema.NormalizeWindowKind(req.Kind)
	if err != nil {
		return schema.OpenWindowResponse{}, err
	}
	if req.Width < 0 || req.Height < 0 {
		return schema.OpenWindowResponse{}, fmt.Errorf("window size: %w", schema.ErrInvalidRequest)
	}
	content := schema.Size{Width: req.Width, Height: req.Height}
	if content.Width == 0 {
		content.Width = s.cfg.WindowWidth
	}
	if content.Height == 0 {
		content.Height = s.cfg.WindowHeight
	}
	log := logx.WithWindow(ctx, windowID)
	if err := s.registry.OpenWindow(windowID, kind, content, s.cfg.HeaderHeight); err != nil {
		log.Warn("service window open failed", "err", err)
		return schema.OpenWindowResponse{}, err
	}
	snap, err := s.registry.Window(windowID)
	if err != nil {
		return schema.OpenWindowResponse{}, err
	}
	s.emitWindow(schema.WindowEvent{Type: schema.WindowEventOpened, Window: snap})
	log.Info("service window open ok", "kind", kind, "width", content.Width, "height", content.Height)
	return schema.OpenWindowResponse{Window: snap}, nil
}

func (s *service) CloseWindow(ctx context.Context, req schema.CloseWindowRequest) (schema.CloseWindowResponse, error) {
	if ctx == nil {
		return schema.CloseWindowResponse{}, errors.New("missing context")
	}
	windowID, err := s.registry.Resolve(req.WindowID)
	if err != nil {
		return schema.CloseWindowResponse{}, err
	}
	log := logx.WithWindow(ctx, windowID)
	unlock := s.lockWindow(windowID)
	defer unlock()

	snap, err := s.registry.Window(windowID)
	if err != nil {
		return schema.CloseWindowResponse{}, err
	}
	if err := s.registry.DetachView(ctx, windowID); err != nil {
		log.Warn("service window detach failed", "err", err)
	}
	tabs, err := s.registry.CloseWindow(windowID)
	if err != nil {
		return schema.CloseWindowResponse{}, err
	}
	s.tracker.Cancel(windowID)
	for _, tab := range tabs {
		if err := s.pool.Release(ctx, tab.Handle, tab.ID); err != nil {
			log.Warn("service tab release failed", "tab", tab.ID, "err", err)
		}
		closed := tab.Snapshot(false)
		closed.State = schema.TabStateClosed
		s.emitTab(schema.TabEvent{WindowID: windowID, Type: schema.TabEventClosed, Tab: closed})
	}
	snap.Active = false
	s.emitWindow(schema.WindowEvent{Type: schema.WindowEventClosed, Window: snap})
	if active := s.registry.ActiveWindow(); active != "" {
		if focused, err := s.registry.Window(active); err == nil {
			s.emitWindow(schema.WindowEvent{Type: schema.WindowEventFocused, Window: focused})
		}
	}
	log.Info("service window close ok", "tabs", len(tabs))
	return schema.CloseWindowResponse{Window: snap}, nil
}

func (s *service) FocusWindow(ctx context.Context, req schema.FocusWindowRequest) (schema.FocusWindowResponse, error) {
	if ctx == nil {
		return schema.FocusWindowResponse{}, errors.New("missing context")
	}
	if req.WindowID == "" {
		return schema.FocusWindowResponse{}, fmt.Errorf("window id: %w", schema.ErrInvalidWindow)
	}
	previous := s.registry.ActiveWindow()
	if err := s.registry.SetActiveWindow(req.WindowID); err != nil {
		return schema.FocusWindowResponse{}, err
	}
	snap, err := s.registry.Window(req.WindowID)
	if err != nil {
		return schema.FocusWindowResponse{}, err
	}
	if previous != req.WindowID {
		s.emitWindow(schema.WindowEvent{Type: schema.WindowEventFocused, Window: snap})
		logx.WithWindow(ctx, req.WindowID).Debug("service window focus ok", "previous", previous)
	}
	return schema.FocusWindowResponse{Window: snap}, nil
}

func (s *service) ListWindows(ctx context.Context, _ schema.ListWindowsRequest) (schema.ListWindowsResponse, error) {
	if ctx == nil {
		return schema.ListWindowsResponse{}, errors.New("missing context")
	}
	return schema.ListWindowsResponse{
		Windows:      s.registry.Windows(),
		ActiveWindow: s.registry.ActiveWindow(),
	}, nil
}

func (s *service) SetHeaderHeight(ctx context.Context, req schema.SetHeaderHeightRequest) (schema.SetHeaderHeightResponse, error) {
	if ctx == nil {
		return schema.SetHeaderHeightResponse{}, errors.New("missing context")
	}
	if req.Height < 0 {
		return schema.SetHeaderHeightResponse{}, fmt.Errorf("header height: %w", schema.ErrInvalidRequest)
	}
	windowID, err := s.registry.Resolve(req.WindowID)
	if err != nil {
		return schema.SetHeaderHeightResponse{}, err
	}
	unlock := s.lockWindow(windowID)
	defer unlock()

	if err := s.registry.SetHeaderHeight(windowID, req.Height); err != nil {
		return schema.SetHeaderHeightResponse{}, err
	}
	if err := s.registry.ApplyGeometry(ctx, windowID, false); err != nil {
		logx.WithWindow(ctx, windowID).Warn("service geometry apply failed", "err", err)
	}
	bounds, err := s.registry.Bounds(windowID)
	if err != nil {
		return schema.SetHeaderHeightResponse{}, err
	}
	return schema.SetHeaderHeightResponse{Bounds: bounds}, nil
}

func (s *service) ResizeWindow(ctx context.Context, req schema.ResizeWindowRequest) (schema.ResizeWindowResponse, error) {
	if ctx == nil {
		return schema.ResizeWindowResponse{}, errors.New("missing context")
	}
	if req.Width < 0 || req.Height < 0 {
		return schema.ResizeWindowResponse{}, fmt.Errorf("window size: %w", schema.ErrInvalidRequest)
	}
	reason := req.Reason
	if reason == "" {
		reason = schema.ResizeDrag
	}
	if !reason.Valid() {
		return schema.ResizeWindowResponse{}, fmt.Errorf("resize reason %q: %w", reason, schema.ErrInvalidRequest)
	}
	windowID, err := s.registry.Resolve(req.WindowID)
	if err != nil {
		return schema.ResizeWindowResponse{}, err
	}
	if err := s.registry.SetContentSize(windowID, schema.Size{Width: req.Width, Height: req.Height}); err != nil {
		return schema.ResizeWindowResponse{}, err
	}
	detached := context.WithoutCancel(ctx)
	immediate := reason.Immediate()
	ran := s.tracker.Schedule(windowID, reason, func() {
		unlock := s.lockWindow(windowID)
		defer unlock()
		if err := s.registry.ApplyGeometry(detached, windowID, immediate); err != nil && !errors.Is(err, schema.ErrWindowNotFound) {
			logx.WithWindow(detached, windowID).Warn("service geometry apply failed", "reason", reason, "err", err)
		}
	})
	return schema.ResizeWindowResponse{Immediate: ran}, nil
}
