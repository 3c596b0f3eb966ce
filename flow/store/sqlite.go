package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a file-backed Store using an embedded SQLite database.
//
// Good fit for single-host deployments that need pause/resume across
// process restarts without an external database. The store keeps one
// row per execution holding the latest snapshot as JSON.
//
// The connection is configured for single-writer use: one open
// connection, WAL journaling, and a busy timeout so concurrent readers
// do not fail spuriously.
//
// Example:
//
//	st, err := store.NewSQLiteStore[*flow.Context]("executions.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
type SQLiteStore[S any] struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path and
// ensures the schema exists. Use ":memory:" for an ephemeral store in
// tests.
func NewSQLiteStore[S any](path string) (*SQLiteStore[S], error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// SQLite allows one writer; a single connection avoids lock
	// contention from the pool.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", pragma, err)
		}
	}

	store := &SQLiteStore[S]{db: db}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore[S]) createTables() error {
	schema := `
		CREATE TABLE IF NOT EXISTS executions (
			execution_id TEXT PRIMARY KEY,
			snapshot TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create executions table: %w", err)
	}
	return nil
}

// Save upserts the snapshot for the execution id.
func (s *SQLiteStore[S]) Save(ctx context.Context, executionID string, snapshot S) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot for %s: %w", executionID, err)
	}

	query := `
		INSERT INTO executions (execution_id, snapshot, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(execution_id) DO UPDATE SET
			snapshot = excluded.snapshot,
			updated_at = CURRENT_TIMESTAMP
	`
	if _, err := s.db.ExecContext(ctx, query, executionID, string(data)); err != nil {
		return fmt.Errorf("save snapshot for %s: %w", executionID, err)
	}
	return nil
}

// Load returns the latest snapshot for the execution id, or
// ErrNotFound.
func (s *SQLiteStore[S]) Load(ctx context.Context, executionID string) (S, error) {
	var snapshot S

	var data string
	query := `SELECT snapshot FROM executions WHERE execution_id = ?`
	err := s.db.QueryRowContext(ctx, query, executionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return snapshot, ErrNotFound
	}
	if err != nil {
		return snapshot, fmt.Errorf("load snapshot for %s: %w", executionID, err)
	}

	if err := json.Unmarshal([]byte(data), &snapshot); err != nil {
		return snapshot, fmt.Errorf("unmarshal snapshot for %s: %w", executionID, err)
	}
	return snapshot, nil
}

// List returns all execution ids in sorted order.
func (s *SQLiteStore[S]) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT execution_id FROM executions ORDER BY execution_id`)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan execution id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate executions: %w", err)
	}
	return ids, nil
}

// Delete removes a snapshot. Missing ids are a no-op.
func (s *SQLiteStore[S]) Delete(ctx context.Context, executionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM executions WHERE execution_id = ?`, executionID); err != nil {
		return fmt.Errorf("delete snapshot for %s: %w", executionID, err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore[S]) Close() error {
	return s.db.Close()
}
