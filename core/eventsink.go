package core

import "pkt.systems/quasar/schema"

// EventSink receives tab and window events from the core service. Calls must
// not block.
type EventSink interface {
	OnTabEvent(event schema.TabEvent)
	OnWindowEvent(event schema.WindowEvent)
}
