// Package pw implements the engine over playwright-go. Each surface owns a
// BrowserContext with a single page.
package pw

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/playwright-community/playwright-go"
	"pkt.systems/pslog"
	"pkt.systems/quasar/internal/engine"
)

// Options configures the playwright driver and browser.
type Options struct {
	ExecPath string
	Headless bool
	// Install downloads the driver and browsers before starting.
	Install bool
	// Args are extra browser command line switches.
	Args []string
}

// Engine owns the playwright driver and one chromium browser.
type Engine struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	log     pslog.Logger

	mu       sync.Mutex
	seq      int
	closed   bool
	surfaces map[string]*Surface
}

// New starts the driver and launches chromium.
func New(ctx context.Context, opts Options) (*Engine, error) {
	log := pslog.Ctx(ctx).With("engine", "playwright")
	runOpts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}
	if opts.Install {
		if err := playwright.Install(runOpts); err != nil {
			return nil, fmt.Errorf("install playwright: %w", err)
		}
	}
	driver, err := playwright.Run(runOpts)
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	launch := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args:     opts.Args,
	}
	if opts.ExecPath != "" {
		launch.ExecutablePath = playwright.String(opts.ExecPath)
	}
	browser, err := driver.Chromium.Launch(launch)
	if err != nil {
		_ = driver.Stop()
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	log.Info("playwright browser started", "headless", opts.Headless, "version", browser.Version())
	return &Engine{
		pw:       driver,
		browser:  browser,
		log:      log,
		surfaces: make(map[string]*Surface),
	}, nil
}

// Name implements engine.Engine.
func (e *Engine) Name() string { return "playwright" }

// NewSurface creates a browser context and its page.
func (e *Engine) NewSurface(ctx context.Context, opts engine.SurfaceOptions) (engine.Surface, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, errors.New("playwright engine closed")
	}
	e.seq++
	id := fmt.Sprintf("pw-%d", e.seq)
	e.mu.Unlock()

	width, height := opts.Width, opts.Height
	if width <= 0 || height <= 0 {
		width, height = 1, 1
	}
	bctx, err := e.browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{Width: width, Height: height},
	})
	if err != nil {
		return nil, fmt.Errorf("create context: %w", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("create page: %w", err)
	}
	session, err := bctx.NewCDPSession(page)
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("create cdp session: %w", err)
	}
	s := newSurface(e, id, opts, bctx, page, session)
	s.listen()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		_ = s.Destroy(ctx)
		return nil, errors.New("playwright engine closed")
	}
	e.surfaces[id] = s
	e.mu.Unlock()
	e.log.Debug("playwright surface created", "surface", id, "partition", opts.Partition)
	return s, nil
}

func (e *Engine) forget(id string) {
	e.mu.Lock()
	delete(e.surfaces, id)
	e.mu.Unlock()
}

// Close destroys every surface, the browser and the driver.
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
	err := errors.Join(e.browser.Close(), e.pw.Stop())
	e.log.Info("playwright browser stopped", "surfaces", len(surfaces))
	return err
}
