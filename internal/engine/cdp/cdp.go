// Package cdp drives Chromium over the DevTools protocol. Every surface is a
// page target inside its own browser context, which is its storage partition.
package cdp

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chromedp/chromedp"
	"pkt.systems/pslog"
	"pkt.systems/quasar/internal/engine"
)

// Options configures the browser process.
type Options struct {
	ExecPath string
	Headless bool
	// Flags are extra command line switches. A false value removes a default.
	Flags map[string]any
}

// Engine owns one browser process.
type Engine struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	log           pslog.Logger

	mu       sync.Mutex
	seq      int
	closed   bool
	surfaces map[string]*Surface
}

// New starts the browser and waits for its first target.
func New(ctx context.Context, opts Options) (*Engine, error) {
	log := pslog.Ctx(ctx).With("engine", "cdp")
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	for name, value := range opts.Flags {
		allocOpts = append(allocOpts, chromedp.Flag(name, value))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(func(format string, args ...any) {
			log.Warn("cdp protocol error", "detail", fmt.Sprintf(format, args...))
		}),
	)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	log.Info("cdp browser started", "headless", opts.Headless, "exec", opts.ExecPath)
	return &Engine{
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		log:           log,
		surfaces:      make(map[string]*Surface),
	}, nil
}

// Name implements engine.Engine.
func (e *Engine) Name() string { return "cdp" }

// NewSurface opens a page target in a fresh browser context.
func (e *Engine) NewSurface(ctx context.Context, opts engine.SurfaceOptions) (engine.Surface, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, errors.New("cdp engine closed")
	}
	e.seq++
	id := fmt.Sprintf("cdp-%d", e.seq)
	e.mu.Unlock()

	tabCtx, cancel := chromedp.NewContext(e.browserCtx, chromedp.WithNewBrowserContext())
	s := newSurface(e, id, opts, tabCtx, cancel)
	chromedp.ListenTarget(tabCtx, s.onEvent)

	// The first Run allocates the target and must use the tab context itself.
	if err := chromedp.Run(tabCtx, s.emulate()); err != nil {
		cancel()
		return nil, fmt.Errorf("create target: %w", err)
	}
	if err := ctx.Err(); err != nil {
		cancel()
		return nil, err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		cancel()
		return nil, errors.New("cdp engine closed")
	}
	e.surfaces[id] = s
	e.mu.Unlock()
	e.log.Debug("cdp surface created", "surface", id, "partition", opts.Partition)
	return s, nil
}

func (e *Engine) forget(id string) {
	e.mu.Lock()
	delete(e.surfaces, id)
	e.mu.Unlock()
}

// Close destroys every surface and stops the browser.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	surfaces := make([]*Surface, 0, len(e.surfaces))
	for _, s := range e.surfaces {
		surfaces = append(surfaces, s)
	}
	e.mu.Unlock()
	for _, s := range surfaces {
		_ = s.Destroy(ctx)
	}
	e.browserCancel()
	e.allocCancel()
	e.log.Info("cdp browser stopped", "surfaces", len(surfaces))
	return nil
}
