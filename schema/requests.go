package schema

// Window lifecycle.

// OpenWindowRequest describes a request to open a window context.
type OpenWindowRequest struct {
	WindowID WindowID
	Kind     WindowKind
	Width    int
	Height   int
}

// OpenWindowResponse reports the opened window.
type OpenWindowResponse struct {
	Window WindowSnapshot
}

// CloseWindowRequest describes a request to close a window and all its tabs.
type CloseWindowRequest struct {
	WindowID WindowID
}

// CloseWindowResponse reports the closed window.
type CloseWindowResponse struct {
	Window WindowSnapshot
}

// FocusWindowRequest marks a window as active.
type FocusWindowRequest struct {
	WindowID WindowID
}

// FocusWindowResponse reports the focused window.
type FocusWindowResponse struct {
	Window WindowSnapshot
}

// ListWindowsRequest describes a request to list windows.
type ListWindowsRequest struct{}

// ListWindowsResponse reports all open windows.
type ListWindowsResponse struct {
	Windows      []WindowSnapshot
	ActiveWindow WindowID
}

// Tab lifecycle.

// CreateTabRequest describes a request to create a tab.
type CreateTabRequest struct {
	WindowID WindowID
	TabID    TabID
	URL      string
}

// CreateTabResponse reports the created tab.
type CreateTabResponse struct {
	Tab TabSnapshot
}

// SwitchTabRequest describes a request to attach a tab.
type SwitchTabRequest struct {
	WindowID WindowID
	TabID    TabID
}

// SwitchTabResponse reports the active tab after the switch.
type SwitchTabResponse struct {
	ActiveTab TabID
	Switched  bool
}

// CloseTabRequest describes a request to close a tab.
type CloseTabRequest struct {
	WindowID WindowID
	TabID    TabID
}

// CloseTabResponse reports whether a tab was closed and the new active tab.
type CloseTabResponse struct {
	Closed    bool
	ActiveTab TabID
}

// ListTabsRequest describes a request to list the tabs of a window.
type ListTabsRequest struct {
	WindowID WindowID
}

// ListTabsResponse reports tabs in creation order.
type ListTabsResponse struct {
	WindowID  WindowID
	Tabs      []TabSnapshot
	ActiveTab TabID
}

// Navigation.

// LoadURLRequest navigates the active tab of a window.
type LoadURLRequest struct {
	WindowID WindowID
	URL      string
}

// LoadURLResponse reports the resolved navigation target.
type LoadURLResponse struct {
	Tab    TabSnapshot
	Target string
}

// NavigateRequest runs a history or loading action on the active tab.
type NavigateRequest struct {
	WindowID WindowID
	Action   NavigationAction
}

// NavigateResponse reports the tab after the action.
type NavigateResponse struct {
	Tab TabSnapshot
}

// AdjustZoomRequest changes the zoom factor of the active tab.
type AdjustZoomRequest struct {
	WindowID  WindowID
	Direction ZoomDirection
}

// AdjustZoomResponse reports the applied zoom factor.
type AdjustZoomResponse struct {
	Tab  TabSnapshot
	Zoom float64
}

// Geometry.

// SetHeaderHeightRequest reports the measured chrome height of a window.
type SetHeaderHeightRequest struct {
	WindowID WindowID
	Height   float64
}

// SetHeaderHeightResponse reports the bounds applied to the attached view.
type SetHeaderHeightResponse struct {
	Bounds Rect
}

// ResizeWindowRequest reports a new content size for a window.
type ResizeWindowRequest struct {
	WindowID WindowID
	Width    int
	Height   int
	Reason   ResizeReason
}

// ResizeWindowResponse reports whether bounds were applied immediately.
type ResizeWindowResponse struct {
	Immediate bool
}

// Pool.

// PoolStatsRequest describes a request for pool occupancy.
type PoolStatsRequest struct{}

// PoolStatsResponse reports pool occupancy.
type PoolStatsResponse struct {
	Stats PoolStats
}
