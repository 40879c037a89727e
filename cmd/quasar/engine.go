package main

import (
	"context"
	"fmt"
	"sort"

	"pkt.systems/pslog"
	"pkt.systems/quasar/internal/appconfig"
	"pkt.systems/quasar/internal/engine"
	"pkt.systems/quasar/internal/engine/cdp"
	"pkt.systems/quasar/internal/engine/fake"
	"pkt.systems/quasar/internal/engine/pw"
)

func buildEngine(ctx context.Context, cfg appconfig.EngineConfig) (engine.Engine, error) {
	logger := pslog.Ctx(ctx)
	switch cfg.Backend {
	case appconfig.BackendCDP:
		logger.Info("engine backend selected", "backend", cfg.Backend, "headless", cfg.Headless, "exec", cfg.ExecPath)
		eng, err := cdp.New(ctx, cdp.Options{
			ExecPath: cfg.ExecPath,
			Headless: cfg.Headless,
			Flags:    cfg.Flags,
		})
		if err != nil {
			return nil, err
		}
		return eng, nil
	case appconfig.BackendPlaywright:
		logger.Info("engine backend selected", "backend", cfg.Backend, "headless", cfg.Headless, "install", cfg.Install)
		eng, err := pw.New(ctx, pw.Options{
			ExecPath: cfg.ExecPath,
			Headless: cfg.Headless,
			Install:  cfg.Install,
			Args:     browserArgs(cfg.Flags),
		})
		if err != nil {
			return nil, err
		}
		return eng, nil
	case appconfig.BackendFake:
		logger.Warn("engine backend selected", "backend", cfg.Backend, "note", "pages are not rendered")
		return fake.New(), nil
	default:
		return nil, fmt.Errorf("unsupported engine backend %q", cfg.Backend)
	}
}

// browserArgs renders configured flags as command line switches. True adds a
// bare switch; false omits it.
func browserArgs(flags map[string]any) []string {
	names := make([]string, 0, len(flags))
	for name := range flags {
		names = append(names, name)
	}
	sort.Strings(names)
	args := make([]string, 0, len(names))
	for _, name := range names {
		switch value := flags[name].(type) {
		case bool:
			if value {
				args = append(args, "--"+name)
			}
		case nil:
			args = append(args, "--"+name)
		default:
			args = append(args, fmt.Sprintf("--%s=%v", name, value))
		}
	}
	return args
}
