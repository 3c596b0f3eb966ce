package emit

import "log"

// MultiEmitter fans one event stream out to several emitters. A
// downstream emitter that panics is isolated: the panic is logged and
// delivery continues to the remaining emitters, so a misbehaving
// handler never takes the engine down.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter combines the given emitters. Nil entries are dropped.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	kept := make([]Emitter, 0, len(emitters))
	for _, e := range emitters {
		if e != nil {
			kept = append(kept, e)
		}
	}
	return &MultiEmitter{emitters: kept}
}

// Emit delivers the event to every emitter in registration order.
func (m *MultiEmitter) Emit(event Event) {
	for _, e := range m.emitters {
		m.deliver(e, event)
	}
}

func (m *MultiEmitter) deliver(e Emitter, event Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("event handler panicked on %s: %v", event.Kind, r)
		}
	}()
	e.Emit(event)
}
