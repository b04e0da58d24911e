package telemetry

import "sprayer/internal/core/events"

// Fanout delivers each event to every emitter in order
type Fanout []events.Emitter

// Emit implements events.Emitter
func (f Fanout) Emit(ev events.Event) {
	for _, e := range f {
		e.Emit(ev)
	}
}
