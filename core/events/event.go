package events

import "lendpool/core/types"

// Event represents a structured state change emitted by the lending engine.
type Event interface {
	EventType() string
}

// Typed is implemented by events that can render themselves as a generic
// attribute map.
type Typed interface {
	Event
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Fanout delivers every event to each configured emitter in order.
type Fanout []Emitter

// Emit implements the Emitter interface.
func (f Fanout) Emit(evt Event) {
	for _, emitter := range f {
		if emitter != nil {
			emitter.Emit(evt)
		}
	}
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(Event)

// Emit implements the Emitter interface.
func (fn EmitterFunc) Emit(evt Event) { fn(evt) }

// Render converts evt into its generic representation, falling back to a bare
// type when the event does not expose attributes.
func Render(evt Event) *types.Event {
	if evt == nil {
		return nil
	}
	if typed, ok := evt.(Typed); ok {
		return typed.Event()
	}
	return &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
}
