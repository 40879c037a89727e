package quasar

import (
	"context"
	"testing"
	"time"

	"pkt.systems/quasar/core"
	"pkt.systems/quasar/internal/engine/fake"
	"pkt.systems/quasar/internal/eventbus"
	"pkt.systems/quasar/schema"
)

func TestNewRequiresAService(t *testing.T) {
	deps := ServerDeps{ServiceDeps: core.ServiceDeps{Engine: fake.New()}}
	if _, err := New(ServerConfig{}, deps); err == nil {
		t.Fatalf("expected error without enabled services")
	}
	if _, err := New(ServerConfig{}, ServerDeps{}, WithHTTP()); err == nil {
		t.Fatalf("expected error without engine")
	}
}

func TestServerPublishesOnEventBus(t *testing.T) {
	eng := fake.New()
	bus := eventbus.New(nil)
	events, cancel := bus.Subscribe(eventbus.AllWindows)
	defer cancel()

	srv, err := New(ServerConfig{Service: schema.ServiceConfig{PoolCapacity: 2}}, ServerDeps{
		ServiceDeps: core.ServiceDeps{Engine: eng},
	}, WithEventBus(bus))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ctx := context.Background()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := len(eng.Surfaces()); got != 2 {
		t.Fatalf("expected warmed pool of 2, got %d", got)
	}
	if _, err := srv.Service().CreateTab(ctx, schema.CreateTabRequest{TabID: "a"}); err != nil {
		t.Fatalf("create tab: %v", err)
	}
	deadline := time.After(2 * time.Second)
	for {
		select {
		case event := <-events:
			if event.Type == eventbus.EventTab && event.Tab.Type == schema.TabEventCreated {
				if event.Tab.Tab.ID != "a" {
					t.Fatalf("unexpected tab %q", event.Tab.Tab.ID)
				}
				if err := srv.Stop(ctx); err != nil {
					t.Fatalf("stop: %v", err)
				}
				if stats, err := srv.Service().PoolStats(ctx, schema.PoolStatsRequest{}); err != nil || stats.Stats.Size != 0 {
					t.Fatalf("expected empty pool after stop, got %+v %v", stats, err)
				}
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for created event")
		}
	}
}

func TestFanoutSkipsNilSinks(t *testing.T) {
	bus := eventbus.New(nil)
	events, cancel := bus.Subscribe("main")
	defer cancel()
	fanout := eventFanout{sinks: []core.EventSink{nil, bus}}
	fanout.OnTabEvent(schema.TabEvent{WindowID: "main", Type: schema.TabEventSwitched})
	fanout.OnWindowEvent(schema.WindowEvent{Type: schema.WindowEventFocused, Window: schema.WindowSnapshot{ID: "main"}})
	for i, want := range []eventbus.EventType{eventbus.EventTab, eventbus.EventWindow} {
		select {
		case event := <-events:
			if event.Type != want {
				t.Fatalf("event %d: expected %s, got %s", i, want, event.Type)
			}
		default:
			t.Fatalf("event %d: missing", i)
		}
	}
}
