package emit

// NullEmitter implements Emitter by discarding every event. Used when
// execution events are disabled by feature flag and as a safe default
// when no emitter is configured.
type NullEmitter struct{}

// NewNullEmitter returns a NullEmitter.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards the event.
func (n *NullEmitter) Emit(Event) {}
