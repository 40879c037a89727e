package pw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"pkt.systems/quasar/internal/engine"
)

func TestTimeoutMillis(t *testing.T) {
	if got := timeoutMillis(context.Background()); got == nil || *got != 0 {
		t.Fatalf("expected zero timeout without deadline, got %v", got)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got := timeoutMillis(ctx)
	if got == nil || *got <= 0 || *got > 2000 {
		t.Fatalf("expected timeout within deadline, got %v", got)
	}
	expired, cancelExpired := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancelExpired()
	if got := timeoutMillis(expired); got == nil || *got != 1 {
		t.Fatalf("expected clamped timeout for expired deadline, got %v", got)
	}
}

func TestCommitState(t *testing.T) {
	if state := commitState(); state == nil || string(*state) != "commit" {
		t.Fatalf("unexpected wait state %v", state)
	}
}

func TestSurfaceNavigate(t *testing.T) {
	if testing.Short() || os.Getenv("QUASAR_PLAYWRIGHT") == "" {
		t.Skip("set QUASAR_PLAYWRIGHT=1 to run against a playwright driver")
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><head><title>Fixture</title></head></html>"))
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	eng, err := New(ctx, Options{Headless: true, Install: true})
	if err != nil {
		t.Fatalf("start engine: %v", err)
	}
	t.Cleanup(func() { _ = eng.Close(context.Background()) })

	surface, err := eng.NewSurface(ctx, engine.SurfaceOptions{Partition: "persist:test", Width: 800, Height: 600})
	if err != nil {
		t.Fatalf("new surface: %v", err)
	}
	if err := surface.Navigate(ctx, srv.URL); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	deadline := time.After(15 * time.Second)
	for {
		select {
		case ev := <-surface.Events():
			if ev.Kind == engine.EventTitleUpdated {
				if ev.Title != "Fixture" {
					t.Fatalf("unexpected title %q", ev.Title)
				}
				if err := surface.ClearStorageData(ctx, []engine.StorageKind{engine.StorageCookies, engine.StorageLocalStorage}); err != nil {
					t.Fatalf("clear storage: %v", err)
				}
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for title")
		}
	}
}
