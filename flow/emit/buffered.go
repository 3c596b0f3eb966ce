package emit

import "sync"

// BufferedEmitter implements Emitter by capturing events in memory,
// organized by execution id. It backs tests and post-execution
// analysis; the engine's ordering guarantees can be asserted directly
// against its history.
//
// All events stay in memory until cleared. For long-running deployments
// prefer a persistent sink and use this emitter for development and
// debugging only.
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // execution id -> events
}

// HistoryFilter selects a subset of an execution's history. Empty
// fields match everything; set fields combine with AND.
type HistoryFilter struct {
	NodeID string
	Kind   Kind
}

// NewBufferedEmitter returns an empty buffer. Safe for concurrent use.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{
		events: make(map[string][]Event),
	}
}

// Emit appends the event to its execution's history.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.ExecutionID] = append(b.events[event.ExecutionID], event)
}

// History returns all events for an execution in emission order. The
// returned slice is a copy; mutating it does not affect the buffer.
func (b *BufferedEmitter) History(executionID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events := b.events[executionID]
	result := make([]Event, len(events))
	copy(result, events)
	return result
}

// HistoryWithFilter returns the events for an execution that match the
// filter, in emission order.
func (b *BufferedEmitter) HistoryWithFilter(executionID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := []Event{}
	for _, event := range b.events[executionID] {
		if filter.NodeID != "" && event.NodeID != filter.NodeID {
			continue
		}
		if filter.Kind != "" && event.Kind != filter.Kind {
			continue
		}
		result = append(result, event)
	}
	return result
}

// Clear drops stored events. A non-empty execution id clears only that
// execution; an empty id clears everything.
func (b *BufferedEmitter) Clear(executionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if executionID == "" {
		b.events = make(map[string][]Event)
		return
	}
	delete(b.events, executionID)
}
