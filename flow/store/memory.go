package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// MemStore is an in-memory Store implementation. Snapshots are held as
// serialized JSON so loads return isolated copies; a caller mutating a
// loaded snapshot never corrupts the stored one.
//
// Suitable for tests, development, and runs with persistence disabled.
// Nothing survives process exit.
type MemStore[S any] struct {
	mu        sync.RWMutex
	snapshots map[string][]byte
}

// NewMemStore returns an empty in-memory store.
func NewMemStore[S any]() *MemStore[S] {
	return &MemStore[S]{
		snapshots: make(map[string][]byte),
	}
}

// Save serializes and stores the snapshot, overwriting any previous
// one for the same execution id.
func (m *MemStore[S]) Save(_ context.Context, executionID string, snapshot S) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot for %s: %w", executionID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[executionID] = data
	return nil
}

// Load returns a fresh copy of the latest snapshot, or ErrNotFound.
func (m *MemStore[S]) Load(_ context.Context, executionID string) (S, error) {
	var snapshot S

	m.mu.RLock()
	data, ok := m.snapshots[executionID]
	m.mu.RUnlock()

	if !ok {
		return snapshot, ErrNotFound
	}
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return snapshot, fmt.Errorf("unmarshal snapshot for %s: %w", executionID, err)
	}
	return snapshot, nil
}

// List returns all execution ids in sorted order.
func (m *MemStore[S]) List(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.snapshots))
	for id := range m.snapshots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes a snapshot. Missing ids are a no-op.
func (m *MemStore[S]) Delete(_ context.Context, executionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snapshots, executionID)
	return nil
}
