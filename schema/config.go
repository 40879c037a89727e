package schema

import (
	"errors"
	"strings"
	"time"
)

// ServiceConfig defines defaults and limits for the core service.
type ServiceConfig struct {
	PoolCapacity    int
	PlaceholderURL  string
	AssetRoot       string
	LocalScheme     string
	SearchURL       string
	WindowWidth     int
	WindowHeight    int
	HeaderHeight    float64
	ResizeDebounce  time.Duration
	ReleaseTimeout  time.Duration
	NavigateTimeout time.Duration
	StorageKinds    []string
	// FreezeBackground freezes outgoing tabs on switch and resumes incoming ones.
	FreezeBackground bool
}

const (
	// DefaultPoolCapacity is the number of views warmed at startup.
	DefaultPoolCapacity = 6
	// DefaultPlaceholderURL is the neutral page shown by unassigned views.
	DefaultPlaceholderURL = "about:blank"
	// DefaultLocalScheme addresses bundled pages under the asset root.
	DefaultLocalScheme = "quasar"
	// DefaultSearchURL receives input that is not a url. %s is the escaped query.
	DefaultSearchURL = "https://duckduckgo.com/?q=%s"
	// DefaultWindowWidth matches the main window's initial width.
	DefaultWindowWidth = 1200
	// DefaultWindowHeight matches the main window's initial height.
	DefaultWindowHeight = 900
	// DefaultHeaderHeight is used until the UI reports a measured height.
	DefaultHeaderHeight = 80
	// DefaultResizeDebounce coalesces resize ticks.
	DefaultResizeDebounce = 30 * time.Millisecond
	// DefaultReleaseTimeout bounds storage clearing during release.
	DefaultReleaseTimeout = 10 * time.Second
	// DefaultNavigateTimeout bounds navigation initiation.
	DefaultNavigateTimeout = 15 * time.Second
)

// DefaultStorageKinds lists the storages scrubbed when a view is released.
func DefaultStorageKinds() []string {
	return []string{
		"cookies",
		"filesystem",
		"indexdb",
		"localstorage",
		"shadercache",
		"websql",
		"serviceworkers",
		"cachestorage",
	}
}

// NormalizeServiceConfig applies defaults and validates the config.
func NormalizeServiceConfig(cfg ServiceConfig) (ServiceConfig, error) {
	if cfg.PoolCapacity == 0 {
		cfg.PoolCapacity = DefaultPoolCapacity
	}
	if cfg.PoolCapacity < 0 {
		return ServiceConfig{}, errors.New("pool capacity must be positive")
	}
	if strings.TrimSpace(cfg.PlaceholderURL) == "" {
		cfg.PlaceholderURL = DefaultPlaceholderURL
	}
	if strings.TrimSpace(cfg.LocalScheme) == "" {
		cfg.LocalScheme = DefaultLocalScheme
	}
	cfg.LocalScheme = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(cfg.LocalScheme)), "://")
	if cfg.LocalScheme == "http" || cfg.LocalScheme == "https" {
		return ServiceConfig{}, errors.New("local scheme must not shadow http or https")
	}
	if strings.TrimSpace(cfg.SearchURL) == "" {
		cfg.SearchURL = DefaultSearchURL
	}
	if !strings.Contains(cfg.SearchURL, "%s") {
		return ServiceConfig{}, errors.New("search url must contain %s")
	}
	if cfg.WindowWidth <= 0 {
		cfg.WindowWidth = DefaultWindowWidth
	}
	if cfg.WindowHeight <= 0 {
		cfg.WindowHeight = DefaultWindowHeight
	}
	if cfg.HeaderHeight < 0 {
		return ServiceConfig{}, errors.New("header height must not be negative")
	}
	if cfg.HeaderHeight == 0 {
		cfg.HeaderHeight = DefaultHeaderHeight
	}
	if cfg.ResizeDebounce <= 0 {
		cfg.ResizeDebounce = DefaultResizeDebounce
	}
	if cfg.ReleaseTimeout <= 0 {
		cfg.ReleaseTimeout = DefaultReleaseTimeout
	}
	if cfg.NavigateTimeout <= 0 {
		cfg.NavigateTimeout = DefaultNavigateTimeout
	}
	if len(cfg.StorageKinds) == 0 {
		cfg.StorageKinds = DefaultStorageKinds()
	}
	return cfg, nil
}
