package main

import (
	"context"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/quasar"
	"pkt.systems/quasar/core"
	"pkt.systems/quasar/httpapi"
	"pkt.systems/quasar/internal/appconfig"
	"pkt.systems/quasar/internal/eventbus"
	"pkt.systems/quasar/internal/version"
)

const stopTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	var cfgPath string
	var backend string
	var logEvents bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the browser engine and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			if value := strings.TrimSpace(backend); value != "" {
				cfg.Engine.Backend = value
			}
			logger.Info("quasar starting", "version", version.Current(), "backend", cfg.Engine.Backend)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			eng, err := buildEngine(ctx, cfg.Engine)
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
				defer cancel()
				if err := eng.Close(closeCtx); err != nil {
					logger.Warn("engine close failed", "err", err)
				}
			}()

			opts := []quasar.ServerOption{quasar.WithHTTP()}
			if logEvents {
				bus := eventbus.New(logger)
				events, unsubscribe := bus.Subscribe(eventbus.AllWindows)
				defer unsubscribe()
				go logEventStream(logger, events)
				opts = append(opts, quasar.WithEventBus(bus))
			}
			server, err := quasar.New(quasar.ServerConfig{
				Service: cfg.ServiceConfig(),
				HTTP:    toHTTPConfig(cfg.HTTP),
			}, quasar.ServerDeps{
				ServiceDeps: core.ServiceDeps{Engine: eng, Logger: logger},
			}, opts...)
			if err != nil {
				return err
			}

			if err := server.Start(ctx); err != nil {
				return err
			}
			logger.Info("http server listening", "addr", cfg.HTTP.Addr, "base_path", cfg.HTTP.BasePath)
			waitErr := server.Wait()
			// The pool must be scrubbed before the deferred engine close.
			stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			defer cancel()
			if err := server.Stop(stopCtx); err != nil {
				logger.Warn("server stop failed", "err", err)
			}
			return waitErr
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&backend, "backend", "", "engine backend override (cdp, playwright, fake)")
	cmd.Flags().BoolVar(&logEvents, "log-events", false, "log every tab and window event")
	return cmd
}

func toHTTPConfig(cfg appconfig.HTTPConfig) httpapi.Config {
	return httpapi.Config{
		Addr:       cfg.Addr,
		BasePath:   cfg.BasePath,
		HubHistory: cfg.HubHistory,
	}
}

func logEventStream(logger pslog.Logger, events <-chan eventbus.Event) {
	for event := range events {
		switch event.Type {
		case eventbus.EventTab:
			logger.Info("event tab", "window", event.Tab.WindowID, "tab", event.Tab.Tab.ID, "type", event.Tab.Type, "active", event.Tab.ActiveTab)
		case eventbus.EventWindow:
			logger.Info("event window", "window", event.Window.Window.ID, "type", event.Window.Type)
		}
	}
}
