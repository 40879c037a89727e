package schema

// TabEventType describes tab lifecycle or state changes.
type TabEventType string

const (
	// TabEventCreated indicates a tab was created.
	TabEventCreated TabEventType = "created"
	// TabEventClosed indicates a tab was closed by request.
	TabEventClosed TabEventType = "closed"
	// TabEventEvicted indicates a tab lost its view to a newer tab.
	TabEventEvicted TabEventType = "evicted"
	// TabEventSwitched indicates the attached tab changed.
	TabEventSwitched TabEventType = "switched"
	// TabEventTitleUpdated carries a new page title.
	TabEventTitleUpdated TabEventType = "title_updated"
	// TabEventFaviconUpdated carries a new favicon reference.
	TabEventFaviconUpdated TabEventType = "favicon_updated"
	// TabEventURLUpdated carries the committed url.
	TabEventURLUpdated TabEventType = "url_updated"
	// TabEventLoadProgress carries load progress in [0,1].
	TabEventLoadProgress TabEventType = "load_progress"
	// TabEventNavigationState carries back/forward availability.
	TabEventNavigationState TabEventType = "navigation_state"
	// TabEventLoadFailed indicates a navigation failed.
	TabEventLoadFailed TabEventType = "load_failed"
	// TabEventCrashed indicates the render process behind a tab went away.
	TabEventCrashed TabEventType = "crashed"
	// TabEventZoomChanged carries a new zoom factor.
	TabEventZoomChanged TabEventType = "zoom_changed"
)

// TabEvent represents a change to a tab or to a window's tab list.
type TabEvent struct {
	WindowID     WindowID     `json:"window_id"`
	Type         TabEventType `json:"type"`
	Tab          TabSnapshot  `json:"tab"`
	ActiveTab    TabID        `json:"active_tab,omitempty"`
	Progress     float64      `json:"progress,omitempty"`
	CanGoBack    bool         `json:"can_go_back,omitempty"`
	CanGoForward bool         `json:"can_go_forward,omitempty"`
	Error        string       `json:"error,omitempty"`
}

// WindowEventType describes window lifecycle changes.
type WindowEventType string

const (
	// WindowEventOpened indicates a window context was created.
	WindowEventOpened WindowEventType = "opened"
	// WindowEventClosed indicates a window context was destroyed.
	WindowEventClosed WindowEventType = "closed"
	// WindowEventFocused indicates the active window changed.
	WindowEventFocused WindowEventType = "focused"
)

// WindowEvent represents a change to the window set.
type WindowEvent struct {
	Type   WindowEventType `json:"type"`
	Window WindowSnapshot  `json:"window"`
}
