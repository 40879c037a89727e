package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"pgregory.net/rapid"
	"pkt.systems/quasar/internal/engine"
	"pkt.systems/quasar/internal/engine/fake"
	"pkt.systems/quasar/schema"
)

func newTestPool(t *testing.T, capacity int) (*Pool, *fake.Engine) {
	t.Helper()
	eng := fake.New()
	p, err := New(Config{
		Capacity:       capacity,
		PlaceholderURL: "about:blank",
		StorageKinds:   []engine.StorageKind{engine.StorageCookies, engine.StorageLocalStorage},
		ReleaseTimeout: time.Second,
	}, eng)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	return p, eng
}

func surfaceOf(t *testing.T, h *Handle) *fake.Surface {
	t.Helper()
	s, ok := h.Surface().(*fake.Surface)
	if !ok {
		t.Fatalf("expected fake surface, got %T", h.Surface())
	}
	return s
}

func TestWarmCreatesCapacityHandles(t *testing.T) {
	p, eng := newTestPool(t, 3)
	if err := p.Warm(context.Background()); err != nil {
		t.Fatalf("warm: %v", err)
	}
	if got := len(eng.Surfaces()); got != 3 {
		t.Fatalf("expected 3 surfaces, got %d", got)
	}
	partitions := map[schema.PartitionID]bool{}
	for _, h := range p.Handles() {
		if surfaceOf(t, h).URL() != "about:blank" {
			t.Fatalf("expected placeholder url, got %q", surfaceOf(t, h).URL())
		}
		if partitions[h.Partition()] {
			t.Fatalf("duplicate partition %q", h.Partition())
		}
		partitions[h.Partition()] = true
	}
	stats := p.Stats()
	if stats.Free != 3 || stats.Size != 3 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if err := p.Warm(context.Background()); err != nil {
		t.Fatalf("second warm: %v", err)
	}
	if got := len(eng.Surfaces()); got != 3 {
		t.Fatalf("expected warm to be idempotent, got %d surfaces", got)
	}
}

func TestAcquireGrowsLazilyUpToCapacity(t *testing.T) {
	p, eng := newTestPool(t, 2)
	ctx := context.Background()
	a, err := p.Acquire(ctx, "a", nil)
	if err != nil {
		t.Fatalf("acquire a: %v", err)
	}
	b, err := p.Acquire(ctx, "b", nil)
	if err != nil {
		t.Fatalf("acquire b: %v", err)
	}
	if a == b {
		t.Fatalf("expected distinct handles")
	}
	if got := len(eng.Surfaces()); got != 2 {
		t.Fatalf("expected 2 surfaces, got %d", got)
	}
	if a.Tab() != "a" || b.Tab() != "b" {
		t.Fatalf("unexpected assignments %q %q", a.Tab(), b.Tab())
	}
}

func TestAcquirePrefersFreeHandle(t *testing.T) {
	p, eng := newTestPool(t, 2)
	ctx := context.Background()
	if err := p.Warm(ctx); err != nil {
		t.Fatalf("warm: %v", err)
	}
	h, err := p.Acquire(ctx, "a", nil)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if h != p.Handles()[1] {
		t.Fatalf("expected acquired handle at the back of the order")
	}
	if got := len(eng.Surfaces()); got != 2 {
		t.Fatalf("expected no growth, got %d surfaces", got)
	}
}

func TestEvictionUnderSaturation(t *testing.T) {
	p, _ := newTestPool(t, 2)
	ctx := context.Background()
	var evicted []schema.TabID
	p.OnEvict(func(_ context.Context, tab schema.TabID, _ *Handle) {
		evicted = append(evicted, tab)
	})
	a, _ := p.Acquire(ctx, "a", nil)
	if _, err := p.Acquire(ctx, "b", nil); err != nil {
		t.Fatalf("acquire b: %v", err)
	}
	c, err := p.Acquire(ctx, "c", nil)
	if err != nil {
		t.Fatalf("acquire c: %v", err)
	}
	if c != a {
		t.Fatalf("expected c to reuse a's handle")
	}
	if len(evicted) != 1 || evicted[0] != "a" {
		t.Fatalf("expected a evicted once, got %v", evicted)
	}
	stats := p.Stats()
	if stats.Size != 2 || stats.Evictions != 1 || stats.InUse != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	order := p.Handles()
	if order[len(order)-1] != c {
		t.Fatalf("expected recycled handle moved to the back")
	}
}

func TestEvictionSkipsAttachedHandle(t *testing.T) {
	p, _ := newTestPool(t, 2)
	ctx := context.Background()
	var evicted []schema.TabID
	p.OnEvict(func(_ context.Context, tab schema.TabID, _ *Handle) {
		evicted = append(evicted, tab)
	})
	a, _ := p.Acquire(ctx, "a", nil)
	if err := a.Attach(ctx, "main"); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if _, err := p.Acquire(ctx, "b", nil); err != nil {
		t.Fatalf("acquire b: %v", err)
	}
	if _, err := p.Acquire(ctx, "c", nil); err != nil {
		t.Fatalf("acquire c: %v", err)
	}
	if len(evicted) != 1 || evicted[0] != "b" {
		t.Fatalf("expected background tab b evicted, got %v", evicted)
	}
	if a.Attached() != "main" || a.Tab() != "a" {
		t.Fatalf("expected visible tab to keep its handle")
	}
}

func TestEvictedHandleIsDetached(t *testing.T) {
	p, eng := newTestPool(t, 1)
	ctx := context.Background()
	a, _ := p.Acquire(ctx, "a", nil)
	if err := a.Attach(ctx, "main"); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if _, err := p.Acquire(ctx, "b", nil); err != nil {
		t.Fatalf("acquire b: %v", err)
	}
	if a.Attached() != "" || len(eng.AttachedTo("main")) != 0 {
		t.Fatalf("expected evicted surface detached")
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	p, _ := newTestPool(t, 1)
	ctx := context.Background()
	h, _ := p.Acquire(ctx, "a", nil)
	if err := p.Release(ctx, h, "a"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := p.Release(ctx, h, "a"); err != nil {
		t.Fatalf("second release: %v", err)
	}
	if calls := surfaceOf(t, h).Calls(); calls.ClearStorage != 1 {
		t.Fatalf("expected one storage clear, got %d", calls.ClearStorage)
	}
	if h.State() != StateFree || h.Tab() != "" {
		t.Fatalf("expected free handle, got %s %q", h.State(), h.Tab())
	}
}

func TestReleaseIgnoresStaleOwner(t *testing.T) {
	p, _ := newTestPool(t, 1)
	ctx := context.Background()
	h, _ := p.Acquire(ctx, "a", nil)
	if err := p.Release(ctx, h, "other"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if h.State() != StateInUse || h.Tab() != "a" {
		t.Fatalf("expected handle untouched, got %s %q", h.State(), h.Tab())
	}
}

func TestReleaseScrubsPartitionStorage(t *testing.T) {
	p, eng := newTestPool(t, 1)
	ctx := context.Background()
	h, _ := p.Acquire(ctx, "a", nil)
	if err := h.Surface().Navigate(ctx, "https://site-a.example/login"); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	if _, ok := eng.Cookies(h.Partition())["site-a.example"]; !ok {
		t.Fatalf("expected cookie recorded for site a")
	}
	if err := p.Release(ctx, h, "a"); err != nil {
		t.Fatalf("release: %v", err)
	}
	reused, _ := p.Acquire(ctx, "b", nil)
	if reused != h {
		t.Fatalf("expected handle reuse")
	}
	if cookies := eng.Cookies(reused.Partition()); len(cookies) != 0 {
		t.Fatalf("expected no cookies after reuse, got %v", cookies)
	}
	s := surfaceOf(t, reused)
	if s.URL() != "about:blank" {
		t.Fatalf("expected placeholder after release, got %q", s.URL())
	}
	if s.CacheEntries() != 1 {
		t.Fatalf("expected cache cleared before placeholder load, got %d entries", s.CacheEntries())
	}
	if s.Calls().Stop != 1 {
		t.Fatalf("expected navigation stopped during release")
	}
}

func TestReleaseTimeoutBoundsStorageClear(t *testing.T) {
	eng := fake.New()
	p, err := New(Config{Capacity: 1, ReleaseTimeout: 20 * time.Millisecond}, eng)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	eng.SetClearHook(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	ctx := context.Background()
	h, _ := p.Acquire(ctx, "a", nil)
	done := make(chan struct{})
	go func() {
		_ = p.Release(ctx, h, "a")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("release did not honor timeout")
	}
	if h.State() != StateFree {
		t.Fatalf("expected free handle after failed clear, got %s", h.State())
	}
}

func TestAcquireWaitsForHandleMidRelease(t *testing.T) {
	p, eng := newTestPool(t, 1)
	ctx := context.Background()
	var evictions int
	p.OnEvict(func(context.Context, schema.TabID, *Handle) { evictions++ })
	h, _ := p.Acquire(ctx, "a", nil)

	gate := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once
	eng.SetClearHook(func(context.Context) error {
		once.Do(func() { close(entered) })
		<-gate
		return nil
	})
	go func() { _ = p.Release(ctx, h, "a") }()
	<-entered
	if h.State() != StateReleasing {
		t.Fatalf("expected releasing state, got %s", h.State())
	}

	acquired := make(chan *Handle, 1)
	go func() {
		next, err := p.Acquire(ctx, "b", nil)
		if err != nil {
			t.Errorf("acquire b: %v", err)
		}
		acquired <- next
	}()
	select {
	case <-acquired:
		t.Fatalf("acquire must not take a handle mid-release")
	case <-time.After(50 * time.Millisecond):
	}
	close(gate)
	select {
	case next := <-acquired:
		if next != h || next.Tab() != "b" {
			t.Fatalf("expected released handle reassigned to b")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("acquire did not resume after release")
	}
	if evictions != 0 {
		t.Fatalf("expected no eviction, got %d", evictions)
	}
}

func TestAcquireHonorsContextWhileWaiting(t *testing.T) {
	p, eng := newTestPool(t, 1)
	h, _ := p.Acquire(context.Background(), "a", nil)
	gate := make(chan struct{})
	defer close(gate)
	entered := make(chan struct{})
	var once sync.Once
	eng.SetClearHook(func(context.Context) error {
		once.Do(func() { close(entered) })
		<-gate
		return nil
	})
	go func() { _ = p.Release(context.Background(), h, "a") }()
	<-entered
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.Acquire(ctx, "b", nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestListenerCancelledOnRelease(t *testing.T) {
	p, _ := newTestPool(t, 1)
	ctx := context.Background()
	var mu sync.Mutex
	var stale int
	h, _ := p.Acquire(ctx, "a", func(engine.Event) {
		mu.Lock()
		stale++
		mu.Unlock()
	})
	if err := p.Release(ctx, h, "a"); err != nil {
		t.Fatalf("release: %v", err)
	}
	mu.Lock()
	before := stale
	mu.Unlock()

	got := make(chan engine.Event, 16)
	if _, err := p.Acquire(ctx, "b", func(ev engine.Event) { got <- ev }); err != nil {
		t.Fatalf("acquire b: %v", err)
	}
	surfaceOf(t, h).Emit(engine.Event{Kind: engine.EventTitleUpdated, Title: "marker"})
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-got:
			if ev.Title != "marker" {
				continue
			}
			mu.Lock()
			after := stale
			mu.Unlock()
			if after != before {
				t.Fatalf("stale listener received %d events after release", after-before)
			}
			return
		case <-deadline:
			t.Fatalf("new listener did not receive event")
		}
	}
}

func TestCrashedSurfaceReplacedOnRelease(t *testing.T) {
	p, eng := newTestPool(t, 1)
	ctx := context.Background()
	h, _ := p.Acquire(ctx, "a", nil)
	old := surfaceOf(t, h)
	old.Crash()
	if h.Valid() {
		t.Fatalf("expected invalid handle after crash")
	}
	if err := p.Release(ctx, h, "a"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if !h.Valid() {
		t.Fatalf("expected replacement surface")
	}
	replacement := surfaceOf(t, h)
	if replacement == old {
		t.Fatalf("expected new surface")
	}
	if replacement.Partition() != h.Partition() {
		t.Fatalf("expected partition preserved")
	}
	if got := len(eng.Surfaces()); got != 2 {
		t.Fatalf("expected 2 surfaces, got %d", got)
	}
}

func TestAcquireEvictsWhenSurfaceCreationFails(t *testing.T) {
	p, eng := newTestPool(t, 2)
	ctx := context.Background()
	a, _ := p.Acquire(ctx, "a", nil)
	eng.FailNextCreate(errors.New("gpu unavailable"))
	b, err := p.Acquire(ctx, "b", nil)
	if err != nil {
		t.Fatalf("acquire b: %v", err)
	}
	if b != a {
		t.Fatalf("expected fallback to eviction")
	}
}

func TestAcquireFailsWhenNothingToEvict(t *testing.T) {
	p, eng := newTestPool(t, 1)
	eng.FailNextCreate(errors.New("gpu unavailable"))
	if _, err := p.Acquire(context.Background(), "a", nil); err == nil {
		t.Fatalf("expected error when pool is empty and creation fails")
	}
}

func TestCloseDestroysSurfaces(t *testing.T) {
	p, eng := newTestPool(t, 2)
	ctx := context.Background()
	if err := p.Warm(ctx); err != nil {
		t.Fatalf("warm: %v", err)
	}
	if err := p.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	for _, s := range eng.Surfaces() {
		if !s.Destroyed() {
			t.Fatalf("expected surface %s destroyed", s.ID())
		}
	}
	if _, err := p.Acquire(ctx, "a", nil); !errors.Is(err, schema.ErrPoolClosed) {
		t.Fatalf("expected ErrPoolClosed, got %v", err)
	}
}

func TestPoolCapacityProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		capacity := rapid.IntRange(1, 4).Draw(rt, "capacity")
		eng := fake.New()
		p, err := New(Config{Capacity: capacity, ReleaseTimeout: time.Second}, eng)
		if err != nil {
			rt.Fatalf("new pool: %v", err)
		}
		ctx := context.Background()
		owned := map[schema.TabID]*Handle{}
		var order []schema.TabID
		p.OnEvict(func(_ context.Context, tab schema.TabID, _ *Handle) {
			delete(owned, tab)
		})
		ops := rapid.SliceOfN(rapid.IntRange(0, 9), 1, 40).Draw(rt, "ops")
		for i, op := range ops {
			if op < 6 || len(order) == 0 {
				tab := schema.TabID(fmt.Sprintf("t%d", i))
				h, err := p.Acquire(ctx, tab, nil)
				if err != nil {
					rt.Fatalf("acquire: %v", err)
				}
				owned[tab] = h
				order = append(order, tab)
			} else {
				idx := op % len(order)
				tab := order[idx]
				order = append(order[:idx], order[idx+1:]...)
				if h, ok := owned[tab]; ok {
					if err := p.Release(ctx, h, tab); err != nil {
						rt.Fatalf("release: %v", err)
					}
					delete(owned, tab)
				}
			}
			stats := p.Stats()
			if stats.Size > capacity {
				rt.Fatalf("pool size %d exceeds capacity %d", stats.Size, capacity)
			}
			if stats.InUse != len(owned) {
				rt.Fatalf("in-use %d does not match owned tabs %d", stats.InUse, len(owned))
			}
			seen := map[*Handle]schema.TabID{}
			for tab, h := range owned {
				if other, dup := seen[h]; dup {
					rt.Fatalf("handle shared by %q and %q", other, tab)
				}
				seen[h] = tab
				if h.Tab() != tab {
					rt.Fatalf("handle assigned to %q, expected %q", h.Tab(), tab)
				}
			}
		}
	})
}

func TestPinnedHandleIsNotEvicted(t *testing.T) {
	p, _ := newTestPool(t, 2)
	ctx := context.Background()
	var evicted []schema.TabID
	p.OnEvict(func(_ context.Context, tab schema.TabID, _ *Handle) {
		evicted = append(evicted, tab)
	})
	a, _ := p.Acquire(ctx, "a", nil)
	if _, err := p.Acquire(ctx, "b", nil); err != nil {
		t.Fatalf("acquire b: %v", err)
	}
	unpin, ok := p.Pin(a, "a")
	if !ok {
		t.Fatalf("expected pin to succeed")
	}
	defer unpin()
	if _, err := p.Acquire(ctx, "c", nil); err != nil {
		t.Fatalf("acquire c: %v", err)
	}
	if len(evicted) != 1 || evicted[0] != "b" {
		t.Fatalf("expected unpinned tab b evicted, got %v", evicted)
	}
	if a.Tab() != "a" {
		t.Fatalf("expected pinned handle to stay with a, got %q", a.Tab())
	}
}

func TestAcquireWaitsForPinToDrop(t *testing.T) {
	p, _ := newTestPool(t, 1)
	ctx := context.Background()
	a, _ := p.Acquire(ctx, "a", nil)
	unpin, ok := p.Pin(a, "a")
	if !ok {
		t.Fatalf("expected pin to succeed")
	}
	done := make(chan *Handle, 1)
	go func() {
		h, err := p.Acquire(ctx, "b", nil)
		if err != nil {
			t.Errorf("acquire b: %v", err)
		}
		done <- h
	}()
	select {
	case <-done:
		t.Fatalf("acquire evicted a pinned handle")
	case <-time.After(50 * time.Millisecond):
	}
	if a.Tab() != "a" {
		t.Fatalf("expected a to keep its handle while pinned")
	}
	unpin()
	unpin()
	select {
	case h := <-done:
		if h != a || h.Tab() != "b" {
			t.Fatalf("expected b to take the handle after unpin")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("acquire did not resume after unpin")
	}
}

func TestPinRejectsStaleOwner(t *testing.T) {
	p, _ := newTestPool(t, 1)
	ctx := context.Background()
	h, _ := p.Acquire(ctx, "a", nil)
	if _, ok := p.Pin(h, "b"); ok {
		t.Fatalf("expected pin for wrong tab to fail")
	}
	if err := p.Release(ctx, h, "a"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, ok := p.Pin(h, "a"); ok {
		t.Fatalf("expected pin of released handle to fail")
	}
	if _, ok := p.Pin(nil, "a"); ok {
		t.Fatalf("expected pin of nil handle to fail")
	}
}

func TestPlaceholderLoadEventsDoNotReachNextTab(t *testing.T) {
	p, _ := newTestPool(t, 1)
	ctx := context.Background()
	h, _ := p.Acquire(ctx, "a", nil)
	surface := surfaceOf(t, h)
	if err := surface.Navigate(ctx, "https://old.example/"); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	if err := p.Release(ctx, h, "a"); err != nil {
		t.Fatalf("release: %v", err)
	}
	// late lifecycle events from the placeholder load
	surface.Emit(engine.Event{Kind: engine.EventLoadStart})
	surface.Emit(engine.Event{Kind: engine.EventDidNavigate, URL: "about:blank"})
	surface.Emit(engine.Event{Kind: engine.EventLoadStop})

	got := make(chan engine.Event, 32)
	if _, err := p.Acquire(ctx, "b", func(ev engine.Event) { got <- ev }); err != nil {
		t.Fatalf("acquire b: %v", err)
	}
	surface.Emit(engine.Event{Kind: engine.EventLoadStop})
	if err := surface.Navigate(ctx, "https://new.example/"); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	deadline := time.After(2 * time.Second)
	var seen []engine.Event
	for {
		select {
		case ev := <-got:
			if ev.Kind == engine.EventTitleUpdated {
				continue
			}
			seen = append(seen, ev)
			if ev.Kind != engine.EventLoadStop {
				continue
			}
			if len(seen) < 2 {
				t.Fatalf("placeholder load stop reached the new tab: %+v", seen)
			}
			if seen[0].Kind != engine.EventDidNavigate || seen[0].URL != "https://new.example/" {
				t.Fatalf("expected first delivered event to be the new navigation, got %+v", seen)
			}
			return
		case <-deadline:
			t.Fatalf("new tab did not receive its own load events, got %+v", seen)
		}
	}
}

func TestParkedHandleDeliversCrash(t *testing.T) {
	p, _ := newTestPool(t, 1)
	got := make(chan engine.Event, 8)
	h, err := p.Acquire(context.Background(), "a", func(ev engine.Event) { got <- ev })
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	surfaceOf(t, h).Crash()
	select {
	case ev := <-got:
		if ev.Kind != engine.EventRenderProcessGone {
			t.Fatalf("expected crash event, got %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("crash event not delivered")
	}
}
