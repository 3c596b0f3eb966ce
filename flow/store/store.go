// Package store provides durable persistence for execution contexts.
//
// A Store maps execution ids to serialized snapshots. The engine saves
// synchronously on every status transition, so implementations should
// keep Save idempotent and fast; large node outputs belong in artifact
// storage, referenced by id, not inline in the snapshot.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Load when no snapshot exists for the
// execution id.
var ErrNotFound = errors.New("execution not found")

// Store persists execution snapshots keyed by execution id. Overwrites
// are allowed; the latest Save wins.
//
// Type parameter S is the snapshot type (must be JSON-serializable).
type Store[S any] interface {
	// Save durably writes the snapshot for the execution id.
	Save(ctx context.Context, executionID string, snapshot S) error

	// Load returns the latest snapshot for the execution id, or
	// ErrNotFound.
	Load(ctx context.Context, executionID string) (S, error)

	// List returns all known execution ids. Intended for debugging and
	// operational tooling.
	List(ctx context.Context) ([]string, error)
}
