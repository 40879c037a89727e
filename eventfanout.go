package quasar

import (
	"pkt.systems/quasar/core"
	"pkt.systems/quasar/schema"
)

type eventFanout struct {
	sinks []core.EventSink
}

func (f eventFanout) OnTabEvent(event schema.TabEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnTabEvent(event)
	}
}

func (f eventFanout) OnWindowEvent(event schema.WindowEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnWindowEvent(event)
	}
}
