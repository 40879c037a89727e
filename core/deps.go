package core

import (
	"pkt.systems/pslog"
	"pkt.systems/quasar/internal/assets"
	"pkt.systems/quasar/internal/engine"
)

// ServiceDeps captures dependencies for the core service.
type ServiceDeps struct {
	// Engine allocates surfaces for the view pool. Required.
	Engine    engine.Engine
	Assets    *assets.Resolver
	EventSink EventSink
	Logger    pslog.Logger
}
