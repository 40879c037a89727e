package appconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
	"pkt.systems/quasar/internal/engine"
)

// Load reads configuration from the provided path. If path is empty, uses DefaultConfigPath.
// A missing file yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("QUASAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("engine.backend", cfg.Engine.Backend)
	v.SetDefault("engine.headless", cfg.Engine.Headless)
	v.SetDefault("engine.exec_path", cfg.Engine.ExecPath)
	v.SetDefault("engine.flags", cfg.Engine.Flags)
	v.SetDefault("engine.install", cfg.Engine.Install)
	v.SetDefault("pool.capacity", cfg.Pool.Capacity)
	v.SetDefault("pool.placeholder_url", cfg.Pool.PlaceholderURL)
	v.SetDefault("pool.release_timeout_seconds", cfg.Pool.ReleaseTimeoutSeconds)
	v.SetDefault("pool.navigate_timeout_seconds", cfg.Pool.NavigateTimeoutSeconds)
	v.SetDefault("pool.storage_kinds", cfg.Pool.StorageKinds)
	v.SetDefault("window.width", cfg.Window.Width)
	v.SetDefault("window.height", cfg.Window.Height)
	v.SetDefault("window.header_height", cfg.Window.HeaderHeight)
	v.SetDefault("window.resize_debounce_ms", cfg.Window.ResizeDebounceMS)
	v.SetDefault("assets.root", cfg.Assets.Root)
	v.SetDefault("assets.scheme", cfg.Assets.Scheme)
	v.SetDefault("search.url", cfg.Search.URL)
	v.SetDefault("tabs.freeze_background", cfg.Tabs.FreezeBackground)
	v.SetDefault("http.addr", cfg.HTTP.Addr)
	v.SetDefault("http.base_path", cfg.HTTP.BasePath)
	v.SetDefault("http.hub_history", cfg.HTTP.HubHistory)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			return Config{}, err
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if !v.InConfig("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	switch cfg.Engine.Backend {
	case BackendCDP, BackendPlaywright, BackendFake:
	default:
		return fmt.Errorf("unsupported engine.backend %q", cfg.Engine.Backend)
	}
	if cfg.Pool.Capacity < 0 {
		return fmt.Errorf("pool.capacity must not be negative")
	}
	if cfg.Window.HeaderHeight < 0 {
		return fmt.Errorf("window.header_height must not be negative")
	}
	if _, err := engine.ParseStorageKinds(cfg.Pool.StorageKinds); err != nil {
		return fmt.Errorf("pool.storage_kinds: %w", err)
	}
	if cfg.Search.URL != "" && !strings.Contains(cfg.Search.URL, "%s") {
		return fmt.Errorf("search.url must contain %%s")
	}
	basePath := strings.TrimSpace(cfg.HTTP.BasePath)
	if basePath != "" {
		if strings.Contains(basePath, "://") {
			return fmt.Errorf("http.base_path must be a path prefix, not a URL")
		}
		if strings.ContainsAny(basePath, "?#") {
			return fmt.Errorf("http.base_path must not include query or fragment")
		}
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.Engine.ExecPath = expandEnv(cfg.Engine.ExecPath)
	cfg.Assets.Root = expandEnv(cfg.Assets.Root)
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
