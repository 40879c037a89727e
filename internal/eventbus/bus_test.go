package eventbus

import (
	"testing"
	"time"

	"pkt.systems/quasar/schema"
)

func TestSubscribeAndPublish(t *testing.T) {
	bus := New(nil)
	ch, cancel := bus.Subscribe("main")
	defer cancel()

	event := schema.TabEvent{WindowID: "main", Type: schema.TabEventCreated, Tab: schema.TabSnapshot{ID: "tab1"}}
	bus.OnTabEvent(event)

	select {
	case got := <-ch:
		if got.Type != EventTab {
			t.Fatalf("expected tab event, got %v", got.Type)
		}
		if got.Tab.WindowID != event.WindowID || got.Tab.Tab.ID != event.Tab.ID {
			t.Fatalf("unexpected payload: %+v", got.Tab)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timed out waiting for event")
	}
}

func TestWindowScoping(t *testing.T) {
	bus := New(nil)
	mainCh, cancelMain := bus.Subscribe("main")
	defer cancelMain()
	allCh, cancelAll := bus.Subscribe(AllWindows)
	defer cancelAll()

	bus.OnTabEvent(schema.TabEvent{WindowID: "private-1", Type: schema.TabEventSwitched})
	bus.OnWindowEvent(schema.WindowEvent{Type: schema.WindowEventOpened, Window: schema.WindowSnapshot{ID: "private-1"}})

	for i := 0; i < 2; i++ {
		select {
		case got := <-allCh:
			if got.WindowID() != "private-1" {
				t.Fatalf("unexpected window %q", got.WindowID())
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
	select {
	case got := <-mainCh:
		t.Fatalf("main subscriber received foreign event %+v", got)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New(nil)
	ch, cancel := bus.Subscribe("main")
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel to be closed")
	}
	bus.OnTabEvent(schema.TabEvent{WindowID: "main"})
}

func TestPublishDoesNotBlockWhenFull(t *testing.T) {
	bus := New(nil)
	bus.depth = 1
	_, cancel := bus.Subscribe("main")
	defer cancel()

	var sendCh chan Event
	bus.mu.Lock()
	for ch := range bus.subs["main"] {
		sendCh = ch
		break
	}
	bus.mu.Unlock()
	if sendCh == nil {
		t.Fatalf("expected subscriber channel")
	}
	sendCh <- Event{Type: EventTab}
	done := make(chan struct{})
	go func() {
		bus.OnTabEvent(schema.TabEvent{WindowID: "main"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("publish blocked on full channel")
	}
}
