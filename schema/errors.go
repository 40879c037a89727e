package schema

import "errors"

var (
	// ErrInvalidRequest indicates a malformed request payload.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidTab indicates an invalid tab identifier.
	ErrInvalidTab = errors.New("invalid tab id")
	// ErrInvalidWindow indicates an invalid window identifier or kind.
	ErrInvalidWindow = errors.New("invalid window")
	// ErrDuplicateTab indicates the tab id is already present in the window.
	ErrDuplicateTab = errors.New("duplicate tab")
	// ErrTabNotFound indicates a requested tab could not be found.
	ErrTabNotFound = errors.New("tab not found")
	// ErrWindowNotFound indicates a requested window could not be found.
	ErrWindowNotFound = errors.New("window not found")
	// ErrWindowExists indicates a window with the same id is already open.
	ErrWindowExists = errors.New("window already exists")
	// ErrNoActiveTab indicates the window has no attached tab.
	ErrNoActiveTab = errors.New("no active tab")
	// ErrAccessDenied indicates a local path resolved outside the asset root.
	ErrAccessDenied = errors.New("access denied")
	// ErrNavigationFailed indicates the engine refused to start a navigation.
	ErrNavigationFailed = errors.New("navigation failed")
	// ErrPoolClosed indicates the view pool has been shut down.
	ErrPoolClosed = errors.New("view pool closed")
	// ErrSurfaceGone indicates the host tore down a surface.
	ErrSurfaceGone = errors.New("surface destroyed")
)
