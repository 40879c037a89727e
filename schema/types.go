package schema

// WindowID identifies a top-level application window.
type WindowID string

// TabID identifies a tab. Tab ids are supplied by the UI.
type TabID string

// HandleID identifies a pooled view handle.
type HandleID string

// PartitionID names the storage/session boundary of a surface.
type PartitionID string

// MainWindowID is the window created at startup.
const MainWindowID WindowID = "main"

// WindowKind distinguishes normal windows from private-browsing windows.
type WindowKind string

const (
	// WindowNormal is a regular browsing window.
	WindowNormal WindowKind = "normal"
	// WindowPrivate is a private-browsing window.
	WindowPrivate WindowKind = "private"
)

// Size is a width/height pair in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Rect is an on-screen rectangle relative to the window content area.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ResizeReason describes why a window changed size.
type ResizeReason string

const (
	// ResizeDrag is an ordinary resize tick.
	ResizeDrag ResizeReason = "resize"
	// ResizeFullscreenEnter is sent when the window enters fullscreen.
	ResizeFullscreenEnter ResizeReason = "fullscreen_enter"
	// ResizeFullscreenLeave is sent when the window leaves fullscreen.
	ResizeFullscreenLeave ResizeReason = "fullscreen_leave"
	// ResizeMaximize is sent when the window is maximized.
	ResizeMaximize ResizeReason = "maximize"
	// ResizeUnmaximize is sent when the window is unmaximized.
	ResizeUnmaximize ResizeReason = "unmaximize"
	// ResizeRestore is sent when the window is restored from minimized.
	ResizeRestore ResizeReason = "restore"
)

// Valid reports whether r is a known reason.
func (r ResizeReason) Valid() bool {
	switch r {
	case ResizeDrag, ResizeFullscreenEnter, ResizeFullscreenLeave, ResizeMaximize, ResizeUnmaximize, ResizeRestore:
		return true
	default:
		return false
	}
}

// Immediate reports whether the reason is a discrete size jump that bypasses debouncing.
func (r ResizeReason) Immediate() bool {
	switch r {
	case ResizeMaximize, ResizeUnmaximize, ResizeRestore:
		return true
	default:
		return false
	}
}

// NavigationAction names a history/loading action on the active tab.
type NavigationAction string

const (
	NavigateBack    NavigationAction = "back"
	NavigateForward NavigationAction = "forward"
	NavigateReload  NavigationAction = "reload"
	NavigateStop    NavigationAction = "stop"
)

// ZoomDirection adjusts the zoom factor of the active tab.
type ZoomDirection string

const (
	ZoomIn    ZoomDirection = "in"
	ZoomOut   ZoomDirection = "out"
	ZoomReset ZoomDirection = "reset"
)

// Zoom limits mirror the shell's keyboard shortcuts.
const (
	ZoomMin     = 1.0
	ZoomMax     = 3.0
	ZoomStep    = 0.1
	ZoomDefault = 1.0
)
