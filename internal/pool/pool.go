// Package pool multiplexes a bounded set of engine surfaces across tabs.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"pkt.systems/pslog"
	"pkt.systems/quasar/internal/engine"
	"pkt.systems/quasar/internal/logx"
	"pkt.systems/quasar/schema"
)

const partitionPrefix = "persist:tab-"

// Config configures a pool.
type Config struct {
	Capacity       int
	PlaceholderURL string
	StorageKinds   []engine.StorageKind
	ReleaseTimeout time.Duration
	Width          int
	Height         int
}

// EvictFunc is called when a tab loses its handle to a forced eviction. It runs
// before the handle is scrubbed and must not block on tab transitions.
type EvictFunc func(ctx context.Context, tab schema.TabID, handle *Handle)

// Stats summarizes pool occupancy.
type Stats = schema.PoolStats

// Pool owns the handles. Handles are ordered by acquisition recency: the front
// is the least recently acquired.
type Pool struct {
	cfg    Config
	engine engine.Engine
	seq    atomic.Int64

	mu        sync.Mutex
	handles   []*Handle
	pending   int
	evictions int
	closed    bool
	onEvict   EvictFunc
	released  chan struct{}
}

// New constructs an empty pool. Call Warm to pre-allocate surfaces.
func New(cfg Config, eng engine.Engine) (*Pool, error) {
	if eng == nil {
		return nil, errors.New("engine is required")
	}
	if cfg.Capacity <= 0 {
		return nil, errors.New("pool capacity must be positive")
	}
	if cfg.PlaceholderURL == "" {
		cfg.PlaceholderURL = schema.DefaultPlaceholderURL
	}
	if cfg.ReleaseTimeout <= 0 {
		cfg.ReleaseTimeout = schema.DefaultReleaseTimeout
	}
	return &Pool{
		cfg:      cfg,
		engine:   eng,
		released: make(chan struct{}),
	}, nil
}

// OnEvict registers the eviction callback.
func (p *Pool) OnEvict(fn EvictFunc) {
	p.mu.Lock()
	p.onEvict = fn
	p.mu.Unlock()
}

// Capacity returns the configured capacity.
func (p *Pool) Capacity() int { return p.cfg.Capacity }

// Warm sequentially creates handles until the pool is at capacity.
func (p *Pool) Warm(ctx context.Context) error {
	log := pslog.Ctx(ctx)
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return schema.ErrPoolClosed
		}
		if len(p.handles)+p.pending >= p.cfg.Capacity {
			size := len(p.handles)
			p.mu.Unlock()
			log.Info("pool warm ok", "size", size, "engine", p.engine.Name())
			return nil
		}
		p.pending++
		p.mu.Unlock()

		h, err := p.newHandle(ctx)

		p.mu.Lock()
		p.pending--
		if err != nil {
			p.mu.Unlock()
			log.Error("pool warm failed", "err", err)
			return fmt.Errorf("warm pool: %w", err)
		}
		if p.closed {
			p.mu.Unlock()
			p.destroy(ctx, h)
			return schema.ErrPoolClosed
		}
		p.handles = append(p.handles, h)
		p.mu.Unlock()
	}
}

// Acquire assigns a handle to tab and binds listener to its events. When the
// pool is saturated the least recently acquired evictable handle is taken from
// its tab. Pinned handles are never taken; when nothing else is in use Acquire
// waits for a pin to drop.
func (p *Pool) Acquire(ctx context.Context, tab schema.TabID, listener Listener) (*Handle, error) {
	log := logx.WithWindowTab(ctx, "", tab)
	var createErr error
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, schema.ErrPoolClosed
		}
		if h := p.firstFreeLocked(); h != nil {
			p.assignLocked(h, tab)
			p.mu.Unlock()
			h.bind(listener)
			logx.WithHandle(log, h.id, h.partition).Debug("pool handle acquired", "path", "free")
			return h, nil
		}
		if createErr == nil && len(p.handles)+p.pending < p.cfg.Capacity {
			p.pending++
			p.mu.Unlock()
			h, err := p.newHandle(ctx)
			p.mu.Lock()
			p.pending--
			if err == nil {
				if p.closed {
					p.mu.Unlock()
					p.destroy(ctx, h)
					return nil, schema.ErrPoolClosed
				}
				p.handles = append(p.handles, h)
				h.state = StateInUse
				h.tab = tab
				p.mu.Unlock()
				h.bind(listener)
				logx.WithHandle(log, h.id, h.partition).Debug("pool handle acquired", "path", "grow")
				return h, nil
			}
			createErr = err
			log.Warn("pool surface create failed", "err", err)
		}
		if victim := p.victimLocked(); victim != nil {
			evicted := victim.tab
			victim.state = StateReleasing
			p.evictions++
			onEvict := p.onEvict
			p.mu.Unlock()

			logx.WithHandle(log, victim.id, victim.partition).Info("pool handle evicted", "evicted_tab", evicted)
			if onEvict != nil {
				onEvict(ctx, evicted, victim)
			}
			p.scrub(ctx, victim)

			p.mu.Lock()
			if p.closed {
				p.mu.Unlock()
				return nil, schema.ErrPoolClosed
			}
			p.assignLocked(victim, tab)
			p.mu.Unlock()
			victim.bind(listener)
			return victim, nil
		}
		if len(p.handles) == 0 && p.pending == 0 {
			p.mu.Unlock()
			if createErr == nil {
				createErr = errors.New("no handles available")
			}
			return nil, fmt.Errorf("acquire view: %w", createErr)
		}
		wait := p.released
		p.mu.Unlock()
		log.Debug("pool acquire waiting", "reason", "no evictable handle")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}

// Pin keeps h from being evicted while the caller drives its surface. It
// fails when h is no longer assigned to tab. The returned func drops the pin
// and is safe to call more than once.
func (p *Pool) Pin(h *Handle, tab schema.TabID) (func(), bool) {
	if h == nil {
		return func() {}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if h.state != StateInUse || h.tab != tab {
		return func() {}, false
	}
	h.pins++
	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			h.pins--
			if h.pins == 0 {
				p.signalLocked()
			}
			p.mu.Unlock()
		})
	}, true
}

// Release scrubs the handle and returns it to the pool. It is a no-op unless
// the handle is currently assigned to tab, so stale and repeated releases are
// harmless.
func (p *Pool) Release(ctx context.Context, h *Handle, tab schema.TabID) error {
	if h == nil {
		return nil
	}
	p.mu.Lock()
	if h.state != StateInUse || h.tab != tab {
		p.mu.Unlock()
		return nil
	}
	h.state = StateReleasing
	p.mu.Unlock()

	p.scrub(ctx, h)

	p.mu.Lock()
	h.state = StateFree
	h.tab = ""
	p.signalLocked()
	p.mu.Unlock()
	logx.WithHandle(logx.WithWindowTab(ctx, "", tab), h.id, h.partition).Debug("pool handle released")
	return nil
}

// Stats reports occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	stats := Stats{
		Capacity:  p.cfg.Capacity,
		Size:      len(p.handles),
		Evictions: p.evictions,
	}
	for _, h := range p.handles {
		switch h.state {
		case StateFree:
			stats.Free++
		case StateInUse:
			stats.InUse++
		case StateReleasing:
			stats.Releasing++
		}
	}
	return stats
}

// Handles returns the handles in recency order.
func (p *Pool) Handles() []*Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Handle(nil), p.handles...)
}

// Close destroys every surface. Pending acquisitions fail with ErrPoolClosed.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	handles := p.handles
	p.handles = nil
	p.signalLocked()
	p.mu.Unlock()
	for _, h := range handles {
		p.destroy(ctx, h)
	}
	pslog.Ctx(ctx).Info("pool closed", "handles", len(handles))
	return nil
}

func (p *Pool) firstFreeLocked() *Handle {
	for _, h := range p.handles {
		if h.state == StateFree {
			return h
		}
	}
	return nil
}

// signalLocked wakes acquisitions waiting for a handle to become evictable.
func (p *Pool) signalLocked() {
	close(p.released)
	p.released = make(chan struct{})
}

// victimLocked picks the front-most unpinned in-use handle that is not
// visible, falling back to the front-most unpinned in-use handle.
func (p *Pool) victimLocked() *Handle {
	var fallback *Handle
	for _, h := range p.handles {
		if h.state != StateInUse || h.pins > 0 {
			continue
		}
		if h.Attached() == "" {
			return h
		}
		if fallback == nil {
			fallback = h
		}
	}
	return fallback
}

func (p *Pool) assignLocked(h *Handle, tab schema.TabID) {
	h.state = StateInUse
	h.tab = tab
	for i, candidate := range p.handles {
		if candidate == h {
			p.handles = append(p.handles[:i], p.handles[i+1:]...)
			break
		}
	}
	p.handles = append(p.handles, h)
}

func (p *Pool) newHandle(ctx context.Context) (*Handle, error) {
	partition := schema.PartitionID(partitionPrefix + uuid.NewString())
	surface, err := p.newSurface(ctx, partition)
	if err != nil {
		return nil, err
	}
	h := &Handle{
		id:        schema.HandleID(fmt.Sprintf("view-%d", p.seq.Add(1))),
		partition: partition,
		pool:      p,
		state:     StateFree,
		surface:   surface,
		parked:    true,
	}
	go p.pump(ctx, h, surface)
	logx.WithHandle(pslog.Ctx(ctx), h.id, partition).Debug("pool handle created", "surface", surface.ID())
	return h, nil
}

func (p *Pool) newSurface(ctx context.Context, partition schema.PartitionID) (engine.Surface, error) {
	surface, err := p.engine.NewSurface(ctx, engine.SurfaceOptions{
		Partition: partition,
		Width:     p.cfg.Width,
		Height:    p.cfg.Height,
	})
	if err != nil {
		return nil, fmt.Errorf("create surface: %w", err)
	}
	if err := surface.Navigate(ctx, p.cfg.PlaceholderURL); err != nil {
		pslog.Ctx(ctx).Warn("pool placeholder navigate failed", "err", err, "partition", partition)
	}
	return surface, nil
}

// pump forwards surface events to the bound listener until the surface closes
// its event stream.
func (p *Pool) pump(ctx context.Context, h *Handle, surface engine.Surface) {
	log := logx.WithHandle(pslog.Ctx(ctx), h.id, h.partition)
	for event := range surface.Events() {
		log.Trace("pool event", "kind", event.Kind, "surface", surface.ID())
		h.dispatch(event)
	}
	log.Trace("pool event pump stopped", "surface", surface.ID())
}

// scrub runs the release steps in order. Every step is best-effort.
func (p *Pool) scrub(ctx context.Context, h *Handle) {
	ctx = context.WithoutCancel(ctx)
	log := logx.WithHandle(pslog.Ctx(ctx), h.id, h.partition)

	if !h.Valid() {
		p.replaceSurface(ctx, h)
	}
	surface := h.Surface()

	step := func(name string, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, p.cfg.ReleaseTimeout)
		defer cancel()
		if err := fn(stepCtx); err != nil {
			log.Warn("pool release step failed", "step", name, "err", err)
		}
	}
	step("detach", h.Detach)
	step("stop", surface.Stop)
	step("clear_storage", func(ctx context.Context) error {
		return errors.Join(surface.ClearCache(ctx), surface.ClearStorageData(ctx, p.cfg.StorageKinds))
	})
	h.park()
	step("placeholder", func(ctx context.Context) error {
		return surface.Navigate(ctx, p.cfg.PlaceholderURL)
	})
	h.unbind()
}

func (p *Pool) replaceSurface(ctx context.Context, h *Handle) {
	log := logx.WithHandle(pslog.Ctx(ctx), h.id, h.partition)
	surface, err := p.newSurface(ctx, h.partition)
	if err != nil {
		log.Warn("pool surface replace failed", "err", err)
		return
	}
	h.mu.Lock()
	old := h.surface
	h.surface = surface
	h.attached = ""
	h.parked = true
	h.mu.Unlock()
	if old != nil {
		_ = old.Destroy(ctx)
	}
	go p.pump(ctx, h, surface)
	log.Info("pool surface replaced", "surface", surface.ID())
}

func (p *Pool) destroy(ctx context.Context, h *Handle) {
	h.unbind()
	if surface := h.Surface(); surface != nil {
		if err := surface.Destroy(ctx); err != nil {
			logx.WithHandle(pslog.Ctx(ctx), h.id, h.partition).Warn("pool surface destroy failed", "err", err)
		}
	}
}
