// Package engine defines the capability quasar consumes from the host browser
// engine. Backends live in the cdp, pw and fake subpackages.
package engine

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"pkt.systems/quasar/schema"
)

// ErrSurfaceDestroyed is returned by surfaces torn down by the host or by Destroy.
var ErrSurfaceDestroyed = schema.ErrSurfaceGone

// Engine allocates rendering surfaces.
type Engine interface {
	// Name identifies the backend in logs.
	Name() string
	NewSurface(ctx context.Context, opts SurfaceOptions) (Surface, error)
	Close(ctx context.Context) error
}

// SurfaceOptions configures a new surface.
type SurfaceOptions struct {
	// Partition fixes the storage boundary for the surface lifetime.
	Partition schema.PartitionID
	// Width and Height seed the initial viewport.
	Width  int
	Height int
}

// History describes the navigation history flags of a surface.
type History struct {
	CanGoBack    bool
	CanGoForward bool
}

// Surface is one host-allocated rendering context.
type Surface interface {
	ID() string
	Partition() schema.PartitionID

	AttachTo(ctx context.Context, window schema.WindowID) error
	DetachFrom(ctx context.Context, window schema.WindowID) error
	SetBounds(ctx context.Context, rect schema.Rect) error
	Bounds() schema.Rect

	Navigate(ctx context.Context, url string) error
	NavigateToFile(ctx context.Context, path string) error
	Stop(ctx context.Context) error
	Reload(ctx context.Context) error
	GoBack(ctx context.Context) error
	GoForward(ctx context.Context) error
	History(ctx context.Context) (History, error)

	ClearCache(ctx context.Context) error
	ClearStorageData(ctx context.Context, kinds []StorageKind) error

	SetZoom(ctx context.Context, factor float64) error
	SetFrozen(ctx context.Context, frozen bool) error

	// Events is closed when the surface is destroyed.
	Events() <-chan Event
	// Destroyed reports whether the host tore the surface down.
	Destroyed() bool
	Destroy(ctx context.Context) error
}

// EventKind tags an engine event.
type EventKind string

const (
	EventLoadStart         EventKind = "load-start"
	EventLoadStop          EventKind = "load-stop"
	EventLoadProgress      EventKind = "load-progress"
	EventTitleUpdated      EventKind = "title-updated"
	EventFaviconUpdated    EventKind = "favicon-updated"
	EventDidNavigate       EventKind = "did-navigate"
	EventDidNavigateInPage EventKind = "did-navigate-in-page"
	EventRenderProcessGone EventKind = "render-process-gone"
	EventLoadFailed        EventKind = "load-failed"
)

// Event is a tagged union of engine notifications. Only the fields relevant
// to Kind are set.
type Event struct {
	Kind     EventKind
	URL      string
	Title    string
	Favicon  string
	Progress float64
	Err      string
}

// StorageKind names a storage area cleared when a surface is scrubbed.
type StorageKind string

const (
	StorageCookies        StorageKind = "cookies"
	StorageFilesystem     StorageKind = "filesystem"
	StorageIndexDB        StorageKind = "indexdb"
	StorageLocalStorage   StorageKind = "localstorage"
	StorageShaderCache    StorageKind = "shadercache"
	StorageWebSQL         StorageKind = "websql"
	StorageServiceWorkers StorageKind = "serviceworkers"
	StorageCacheStorage   StorageKind = "cachestorage"
)

// ParseStorageKinds validates configured storage kind names.
func ParseStorageKinds(values []string) ([]StorageKind, error) {
	out := make([]StorageKind, 0, len(values))
	for _, value := range values {
		kind := StorageKind(strings.ToLower(strings.TrimSpace(value)))
		switch kind {
		case StorageCookies, StorageFilesystem, StorageIndexDB, StorageLocalStorage,
			StorageShaderCache, StorageWebSQL, StorageServiceWorkers, StorageCacheStorage:
			out = append(out, kind)
		default:
			return nil, fmt.Errorf("unknown storage kind %q", value)
		}
	}
	return out, nil
}

// HasKind reports whether kinds contains kind.
func HasKind(kinds []StorageKind, kind StorageKind) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

var protocolStorageTypes = map[StorageKind]string{
	StorageCookies:        "cookies",
	StorageFilesystem:     "file_systems",
	StorageIndexDB:        "indexeddb",
	StorageLocalStorage:   "local_storage",
	StorageShaderCache:    "shader_cache",
	StorageWebSQL:         "websql",
	StorageServiceWorkers: "service_workers",
	StorageCacheStorage:   "cache_storage",
}

// ProtocolStorageTypes renders kinds as the comma separated storageTypes
// argument of Storage.clearDataForOrigin. Cookies are left out; backends clear
// them per browser context.
func ProtocolStorageTypes(kinds []StorageKind) string {
	names := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		if kind == StorageCookies {
			continue
		}
		if name, ok := protocolStorageTypes[kind]; ok {
			names = append(names, name)
		}
	}
	return strings.Join(names, ",")
}

// Origin returns scheme://host for http(s) urls and "" for anything else.
func Origin(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return ""
	}
	switch parsed.Scheme {
	case "http", "https":
		return parsed.Scheme + "://" + parsed.Host
	default:
		return ""
	}
}
