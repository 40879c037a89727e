package main

import (
	"context"
	"testing"

	"pkt.systems/quasar/internal/appconfig"
)

func TestBrowserArgs(t *testing.T) {
	got := browserArgs(map[string]any{
		"mute-audio":         true,
		"enable-automation":  false,
		"lang":               "en-US",
		"remote-debug-port":  9222,
		"disable-extensions": nil,
	})
	want := []string{"--disable-extensions", "--lang=en-US", "--mute-audio", "--remote-debug-port=9222"}
	if len(got) != len(want) {
		t.Fatalf("browserArgs = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("browserArgs[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestBuildEngineFakeAndUnknown(t *testing.T) {
	ctx := context.Background()
	eng, err := buildEngine(ctx, appconfig.EngineConfig{Backend: appconfig.BackendFake})
	if err != nil {
		t.Fatalf("fake backend: %v", err)
	}
	if eng.Name() != "fake" {
		t.Fatalf("unexpected engine %q", eng.Name())
	}
	_ = eng.Close(ctx)
	if _, err := buildEngine(ctx, appconfig.EngineConfig{Backend: "webkit"}); err == nil {
		t.Fatalf("expected error for unsupported backend")
	}
}

func TestToHTTPConfig(t *testing.T) {
	got := toHTTPConfig(appconfig.HTTPConfig{Addr: ":1", BasePath: "/q", HubHistory: 5})
	if got.Addr != ":1" || got.BasePath != "/q" || got.HubHistory != 5 {
		t.Fatalf("unexpected http config %+v", got)
	}
}
