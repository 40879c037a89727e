// Package registry is the single authority for which window is active and
// which view is attached within each window.
package registry

import (
	"context"
	"fmt"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/quasar/internal/geometry"
	"pkt.systems/quasar/internal/pool"
	"pkt.systems/quasar/schema"
)

// Tab is the registry record of a tab.
type Tab struct {
	ID           schema.TabID
	Window       schema.WindowID
	Handle       *pool.Handle
	URL          string
	Title        string
	Favicon      string
	Loading      bool
	Progress     float64
	CanGoBack    bool
	CanGoForward bool
	Zoom         float64
}

// Snapshot converts the record for the UI.
func (t Tab) Snapshot(active bool) schema.TabSnapshot {
	state := schema.TabStateBackground
	if active {
		state = schema.TabStateActive
	}
	snap := schema.TabSnapshot{
		ID:           t.ID,
		WindowID:     t.Window,
		URL:          t.URL,
		Title:        t.Title,
		Favicon:      t.Favicon,
		State:        state,
		Loading:      t.Loading,
		Progress:     t.Progress,
		CanGoBack:    t.CanGoBack,
		CanGoForward: t.CanGoForward,
		Zoom:         t.Zoom,
	}
	if t.Handle != nil {
		snap.Handle = t.Handle.ID()
	}
	return snap
}

type window struct {
	id       schema.WindowID
	kind     schema.WindowKind
	header   float64
	content  schema.Size
	tabs     map[schema.TabID]*Tab
	order    []schema.TabID
	active   schema.TabID
	attached *pool.Handle
}

// Registry tracks windows, their tabs and the attached view of each window.
type Registry struct {
	mu      sync.Mutex
	windows map[schema.WindowID]*window
	order   []schema.WindowID
	active  schema.WindowID
}

// New constructs an empty registry.
func New() *Registry {
	return &Registry{windows: make(map[schema.WindowID]*window)}
}

// OpenWindow registers a window. The first window becomes active.
func (r *Registry) OpenWindow(id schema.WindowID, kind schema.WindowKind, content schema.Size, header float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.windows[id]; ok {
		return schema.ErrWindowExists
	}
	r.windows[id] = &window{
		id:      id,
		kind:    kind,
		header:  header,
		content: content,
		tabs:    make(map[schema.TabID]*Tab),
	}
	r.order = append(r.order, id)
	if r.active == "" {
		r.active = id
	}
	return nil
}

// CloseWindow removes a window and returns its tabs in creation order. If the
// window was active, the oldest remaining window becomes active.
func (r *Registry) CloseWindow(id schema.WindowID) ([]Tab, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.windows[id]
	if !ok {
		return nil, schema.ErrWindowNotFound
	}
	tabs := make([]Tab, 0, len(w.order))
	for _, tabID := range w.order {
		tabs = append(tabs, *w.tabs[tabID])
	}
	delete(r.windows, id)
	for i, candidate := range r.order {
		if candidate == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if r.active == id {
		r.active = ""
		if len(r.order) > 0 {
			r.active = r.order[0]
		}
	}
	return tabs, nil
}

// SetActiveWindow records id as the active window. It does not touch any view.
func (r *Registry) SetActiveWindow(id schema.WindowID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.windows[id]; !ok {
		return schema.ErrWindowNotFound
	}
	r.active = id
	return nil
}

// ActiveWindow returns the active window id.
func (r *Registry) ActiveWindow() schema.WindowID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Resolve maps an empty id to the active window and checks existence.
func (r *Registry) Resolve(id schema.WindowID) (schema.WindowID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id == "" {
		id = r.active
	}
	if _, ok := r.windows[id]; !ok {
		return "", schema.ErrWindowNotFound
	}
	return id, nil
}

// Window returns a snapshot of a window.
func (r *Registry) Window(id schema.WindowID) (schema.WindowSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.windows[id]
	if !ok {
		return schema.WindowSnapshot{}, schema.ErrWindowNotFound
	}
	return r.snapshotLocked(w), nil
}

// Windows returns snapshots of every window in opening order.
func (r *Registry) Windows() []schema.WindowSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]schema.WindowSnapshot, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.snapshotLocked(r.windows[id]))
	}
	return out
}

func (r *Registry) snapshotLocked(w *window) schema.WindowSnapshot {
	return schema.WindowSnapshot{
		ID:           w.id,
		Kind:         w.kind,
		Active:       r.active == w.id,
		ActiveTab:    w.active,
		Tabs:         len(w.order),
		HeaderHeight: w.header,
		Content:      w.content,
	}
}

// AddTab inserts a tab. Tab ids are unique across windows. It reports whether
// the window had no active tab.
func (r *Registry) AddTab(tab Tab) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.windows[tab.Window]
	if !ok {
		return false, schema.ErrWindowNotFound
	}
	if _, _, exists := r.findLocked(tab.ID); exists {
		return false, schema.ErrDuplicateTab
	}
	if tab.Zoom == 0 {
		tab.Zoom = schema.ZoomDefault
	}
	record := tab
	w.tabs[tab.ID] = &record
	w.order = append(w.order, tab.ID)
	return w.active == "", nil
}

// HasTab reports whether any window holds the tab.
func (r *Registry) HasTab(id schema.TabID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _, ok := r.findLocked(id)
	return ok
}

// RemoveTab removes a tab from whichever window holds it. It reports whether
// the tab was the window's active tab; the active id is cleared in that case.
func (r *Registry) RemoveTab(id schema.TabID) (Tab, bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, tab, ok := r.findLocked(id)
	if !ok {
		return Tab{}, false, false
	}
	delete(w.tabs, id)
	for i, candidate := range w.order {
		if candidate == id {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
	wasActive := w.active == id
	if wasActive {
		w.active = ""
	}
	if tab.Handle != nil && w.attached == tab.Handle {
		w.attached = nil
	}
	return *tab, wasActive, true
}

// Tab returns a copy of a tab record.
func (r *Registry) Tab(id schema.TabID) (Tab, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, tab, ok := r.findLocked(id)
	if !ok {
		return Tab{}, false
	}
	return *tab, true
}

// Tabs returns the tabs of a window in creation order and its active tab.
func (r *Registry) Tabs(id schema.WindowID) ([]Tab, schema.TabID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.windows[id]
	if !ok {
		return nil, "", schema.ErrWindowNotFound
	}
	out := make([]Tab, 0, len(w.order))
	for _, tabID := range w.order {
		out = append(out, *w.tabs[tabID])
	}
	return out, w.active, nil
}

// FirstTab returns the oldest tab of a window.
func (r *Registry) FirstTab(id schema.WindowID) (Tab, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.windows[id]
	if !ok || len(w.order) == 0 {
		return Tab{}, false
	}
	return *w.tabs[w.order[0]], true
}

// ActiveTab returns the active tab record of a window.
func (r *Registry) ActiveTab(id schema.WindowID) (Tab, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.windows[id]
	if !ok || w.active == "" {
		return Tab{}, false
	}
	tab, ok := w.tabs[w.active]
	if !ok {
		return Tab{}, false
	}
	return *tab, true
}

// SetActiveTab records the active tab of a window; an empty id clears it.
func (r *Registry) SetActiveTab(window schema.WindowID, tab schema.TabID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.windows[window]
	if !ok {
		return schema.ErrWindowNotFound
	}
	if tab != "" {
		if _, ok := w.tabs[tab]; !ok {
			return schema.ErrTabNotFound
		}
	}
	w.active = tab
	return nil
}

// UpdateTab applies fn to the tab record if it is still backed by handle.
func (r *Registry) UpdateTab(id schema.TabID, handle *pool.Handle, fn func(tab *Tab)) (Tab, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, tab, ok := r.findLocked(id)
	if !ok || (handle != nil && tab.Handle != handle) {
		return Tab{}, false
	}
	fn(tab)
	return *tab, true
}

// SetHeaderHeight records the measured header height of a window.
func (r *Registry) SetHeaderHeight(id schema.WindowID, height float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.windows[id]
	if !ok {
		return schema.ErrWindowNotFound
	}
	w.header = height
	return nil
}

// SetContentSize records the content size of a window.
func (r *Registry) SetContentSize(id schema.WindowID, size schema.Size) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.windows[id]
	if !ok {
		return schema.ErrWindowNotFound
	}
	w.content = size
	return nil
}

// Bounds computes the view rectangle of a window.
func (r *Registry) Bounds(id schema.WindowID) (schema.Rect, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.windows[id]
	if !ok {
		return schema.Rect{}, schema.ErrWindowNotFound
	}
	return geometry.Compute(w.content, w.header), nil
}

// Attached returns the handle attached to a window.
func (r *Registry) Attached(id schema.WindowID) *pool.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.windows[id]; ok {
		return w.attached
	}
	return nil
}

// CurrentView returns the handle of the active window's active tab. It
// returns nil when the surface was torn down by the host.
func (r *Registry) CurrentView() *pool.Handle {
	r.mu.Lock()
	w, ok := r.windows[r.active]
	var handle *pool.Handle
	if ok && w.active != "" {
		if tab, ok := w.tabs[w.active]; ok {
			handle = tab.Handle
		}
	}
	r.mu.Unlock()
	if handle == nil || !handle.Valid() {
		return nil
	}
	return handle
}

// SetActiveView attaches handle to the active window.
func (r *Registry) SetActiveView(ctx context.Context, handle *pool.Handle) error {
	return r.AttachView(ctx, r.ActiveWindow(), handle)
}

// AttachView makes handle the only attached view of window and applies the
// window geometry to it. The previous view is detached first. Callers
// serialize transitions per window.
func (r *Registry) AttachView(ctx context.Context, id schema.WindowID, handle *pool.Handle) error {
	if handle == nil {
		return fmt.Errorf("attach view: %w", schema.ErrInvalidRequest)
	}
	log := pslog.Ctx(ctx).With("window", id, "handle", handle.ID())
	r.mu.Lock()
	w, ok := r.windows[id]
	if !ok {
		r.mu.Unlock()
		return schema.ErrWindowNotFound
	}
	previous := w.attached
	for _, other := range r.windows {
		if other != w && other.attached == handle {
			other.attached = nil
		}
	}
	rect := geometry.Compute(w.content, w.header)
	r.mu.Unlock()

	if previous != nil && previous != handle {
		if err := previous.Detach(ctx); err != nil {
			log.Warn("registry detach failed", "previous", previous.ID(), "err", err)
		}
	}
	if err := handle.Attach(ctx, id); err != nil {
		r.setAttached(w, nil)
		return fmt.Errorf("attach view: %w", err)
	}
	r.setAttached(w, handle)
	if _, err := geometry.Apply(ctx, handle.Surface(), rect); err != nil {
		log.Warn("registry geometry apply failed", "err", err)
	}
	return nil
}

// DetachView detaches whatever is attached to window.
func (r *Registry) DetachView(ctx context.Context, id schema.WindowID) error {
	r.mu.Lock()
	w, ok := r.windows[id]
	if !ok {
		r.mu.Unlock()
		return schema.ErrWindowNotFound
	}
	previous := w.attached
	w.attached = nil
	r.mu.Unlock()
	if previous == nil {
		return nil
	}
	return previous.Detach(ctx)
}

// ApplyGeometry applies the window geometry to the attached view. With force
// the bounds are set even when unchanged.
func (r *Registry) ApplyGeometry(ctx context.Context, id schema.WindowID, force bool) error {
	r.mu.Lock()
	w, ok := r.windows[id]
	if !ok {
		r.mu.Unlock()
		return schema.ErrWindowNotFound
	}
	handle := w.attached
	rect := geometry.Compute(w.content, w.header)
	r.mu.Unlock()
	if handle == nil || !handle.Valid() {
		return nil
	}
	if force {
		return geometry.Force(ctx, handle.Surface(), rect)
	}
	_, err := geometry.Apply(ctx, handle.Surface(), rect)
	return err
}

func (r *Registry) setAttached(w *window, handle *pool.Handle) {
	r.mu.Lock()
	w.attached = handle
	r.mu.Unlock()
}

func (r *Registry) findLocked(id schema.TabID) (*window, *Tab, bool) {
	for _, w := range r.windows {
		if tab, ok := w.tabs[id]; ok {
			return w, tab, true
		}
	}
	return nil, nil, false
}
