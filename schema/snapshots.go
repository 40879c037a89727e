package schema

// TabState describes where a tab is in its lifecycle.
type TabState string

const (
	// TabStateActive is attached to its window.
	TabStateActive TabState = "active"
	// TabStateBackground is backed by a view but not attached.
	TabStateBackground TabState = "background"
	// TabStateClosed has been removed from its window.
	TabStateClosed TabState = "closed"
)

// TabSnapshot is a read-only view of tab state for transports.
type TabSnapshot struct {
	ID           TabID    `json:"id"`
	WindowID     WindowID `json:"window_id"`
	URL          string   `json:"url"`
	Title        string   `json:"title,omitempty"`
	Favicon      string   `json:"favicon,omitempty"`
	State        TabState `json:"state"`
	Loading      bool     `json:"loading"`
	Progress     float64  `json:"progress"`
	CanGoBack    bool     `json:"can_go_back"`
	CanGoForward bool     `json:"can_go_forward"`
	Zoom         float64  `json:"zoom"`
	Handle       HandleID `json:"handle,omitempty"`
}

// WindowSnapshot is a read-only view of a window context.
type WindowSnapshot struct {
	ID           WindowID   `json:"id"`
	Kind         WindowKind `json:"kind"`
	Active       bool       `json:"active"`
	ActiveTab    TabID      `json:"active_tab,omitempty"`
	Tabs         int        `json:"tabs"`
	HeaderHeight float64    `json:"header_height"`
	Content      Size       `json:"content"`
}

// PoolStats reports view pool occupancy.
type PoolStats struct {
	Capacity  int `json:"capacity"`
	Size      int `json:"size"`
	InUse     int `json:"in_use"`
	Releasing int `json:"releasing"`
	Free      int `json:"free"`
	Evictions int `json:"evictions"`
}
