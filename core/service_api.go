package core

import (
	"context"

	"pkt.systems/quasar/schema"
)

// Service is the transport-agnostic API for windows, tabs and their pooled views.
type Service interface {
	// Warm pre-allocates the view pool.
	Warm(ctx context.Context) error

	OpenWindow(ctx context.Context, req schema.OpenWindowRequest) (schema.OpenWindowResponse, error)
	CloseWindow(ctx context.Context, req schema.CloseWindowRequest) (schema.CloseWindowResponse, error)
	FocusWindow(ctx context.Context, req schema.FocusWindowRequest) (schema.FocusWindowResponse, error)
	ListWindows(ctx context.Context, req schema.ListWindowsRequest) (schema.ListWindowsResponse, error)

	CreateTab(ctx context.Context, req schema.CreateTabRequest) (schema.CreateTabResponse, error)
	SwitchTab(ctx context.Context, req schema.SwitchTabRequest) (schema.SwitchTabResponse, error)
	CloseTab(ctx context.Context, req schema.CloseTabRequest) (schema.CloseTabResponse, error)
	ListTabs(ctx context.Context, req schema.ListTabsRequest) (schema.ListTabsResponse, error)

	LoadURL(ctx context.Context, req schema.LoadURLRequest) (schema.LoadURLResponse, error)
	Navigate(ctx context.Context, req schema.NavigateRequest) (schema.NavigateResponse, error)
	AdjustZoom(ctx context.Context, req schema.AdjustZoomRequest) (schema.AdjustZoomResponse, error)

	SetHeaderHeight(ctx context.Context, req schema.SetHeaderHeightRequest) (schema.SetHeaderHeightResponse, error)
	ResizeWindow(ctx context.Context, req schema.ResizeWindowRequest) (schema.ResizeWindowResponse, error)

	PoolStats(ctx context.Context, req schema.PoolStatsRequest) (schema.PoolStatsResponse, error)

	// Shutdown destroys every pooled surface.
	Shutdown(ctx context.Context) error
}
