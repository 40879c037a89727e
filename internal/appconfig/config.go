package appconfig

import (
	"os"
	"path/filepath"
	"time"

	"pkt.systems/quasar/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int          `mapstructure:"config_version" yaml:"config_version"`
	Engine        EngineConfig `mapstructure:"engine" yaml:"engine"`
	Pool          PoolConfig   `mapstructure:"pool" yaml:"pool"`
	Window        WindowConfig `mapstructure:"window" yaml:"window"`
	Assets        AssetsConfig `mapstructure:"assets" yaml:"assets"`
	Search        SearchConfig `mapstructure:"search" yaml:"search"`
	Tabs          TabsConfig   `mapstructure:"tabs" yaml:"tabs"`
	HTTP          HTTPConfig   `mapstructure:"http" yaml:"http"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// Engine backends.
const (
	BackendCDP        = "cdp"
	BackendPlaywright = "playwright"
	BackendFake       = "fake"
)

// EngineConfig selects and configures the host browser engine.
type EngineConfig struct {
	Backend  string `mapstructure:"backend" yaml:"backend"`
	Headless bool   `mapstructure:"headless" yaml:"headless"`
	ExecPath string `mapstructure:"exec_path" yaml:"exec_path"`
	// Flags are extra browser switches; a false value drops a default switch.
	Flags map[string]any `mapstructure:"flags" yaml:"flags"`
	// Install lets the playwright backend download its driver and browsers.
	Install bool `mapstructure:"install" yaml:"install"`
}

// PoolConfig controls the view pool.
type PoolConfig struct {
	Capacity               int      `mapstructure:"capacity" yaml:"capacity"`
	PlaceholderURL         string   `mapstructure:"placeholder_url" yaml:"placeholder_url"`
	ReleaseTimeoutSeconds  int      `mapstructure:"release_timeout_seconds" yaml:"release_timeout_seconds"`
	NavigateTimeoutSeconds int      `mapstructure:"navigate_timeout_seconds" yaml:"navigate_timeout_seconds"`
	StorageKinds           []string `mapstructure:"storage_kinds" yaml:"storage_kinds"`
}

// WindowConfig holds the main window geometry defaults.
type WindowConfig struct {
	Width            int     `mapstructure:"width" yaml:"width"`
	Height           int     `mapstructure:"height" yaml:"height"`
	HeaderHeight     float64 `mapstructure:"header_height" yaml:"header_height"`
	ResizeDebounceMS int     `mapstructure:"resize_debounce_ms" yaml:"resize_debounce_ms"`
}

// AssetsConfig locates bundled local pages.
type AssetsConfig struct {
	Root   string `mapstructure:"root" yaml:"root"`
	Scheme string `mapstructure:"scheme" yaml:"scheme"`
}

// SearchConfig controls non-url input.
type SearchConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// TabsConfig controls background tab behavior.
type TabsConfig struct {
	FreezeBackground bool `mapstructure:"freeze_background" yaml:"freeze_background"`
}

// HTTPConfig configures the HTTP server.
type HTTPConfig struct {
	Addr       string `mapstructure:"addr" yaml:"addr"`
	BasePath   string `mapstructure:"base_path" yaml:"base_path"`
	HubHistory int    `mapstructure:"hub_history" yaml:"hub_history"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	return Config{
		ConfigVersion: CurrentConfigVersion,
		Engine: EngineConfig{
			Backend:  BackendCDP,
			Headless: true,
			ExecPath: "",
			Flags:    map[string]any{},
		},
		Pool: PoolConfig{
			Capacity:               schema.DefaultPoolCapacity,
			PlaceholderURL:         schema.DefaultPlaceholderURL,
			ReleaseTimeoutSeconds:  int(schema.DefaultReleaseTimeout.Seconds()),
			NavigateTimeoutSeconds: int(schema.DefaultNavigateTimeout.Seconds()),
			StorageKinds:           schema.DefaultStorageKinds(),
		},
		Window: WindowConfig{
			Width:            schema.DefaultWindowWidth,
			Height:           schema.DefaultWindowHeight,
			HeaderHeight:     schema.DefaultHeaderHeight,
			ResizeDebounceMS: int(schema.DefaultResizeDebounce.Milliseconds()),
		},
		Assets: AssetsConfig{
			Root:   filepath.Join(home, ".quasar", "pages"),
			Scheme: schema.DefaultLocalScheme,
		},
		Search: SearchConfig{
			URL: schema.DefaultSearchURL,
		},
		Tabs: TabsConfig{
			FreezeBackground: false,
		},
		HTTP: HTTPConfig{
			Addr:       "127.0.0.1:27490",
			BasePath:   "",
			HubHistory: 1000,
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".quasar", "config.yaml"), nil
}

// ServiceConfig converts the file layout into the core service config.
func (c Config) ServiceConfig() schema.ServiceConfig {
	return schema.ServiceConfig{
		PoolCapacity:     c.Pool.Capacity,
		PlaceholderURL:   c.Pool.PlaceholderURL,
		AssetRoot:        c.Assets.Root,
		LocalScheme:      c.Assets.Scheme,
		SearchURL:        c.Search.URL,
		WindowWidth:      c.Window.Width,
		WindowHeight:     c.Window.Height,
		HeaderHeight:     c.Window.HeaderHeight,
		ResizeDebounce:   time.Duration(c.Window.ResizeDebounceMS) * time.Millisecond,
		ReleaseTimeout:   time.Duration(c.Pool.ReleaseTimeoutSeconds) * time.Second,
		NavigateTimeout:  time.Duration(c.Pool.NavigateTimeoutSeconds) * time.Second,
		StorageKinds:     c.Pool.StorageKinds,
		FreezeBackground: c.Tabs.FreezeBackground,
	}
}
