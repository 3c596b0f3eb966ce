package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB-backed Store.
//
// Designed for deployments where executions must survive host loss or
// be visible to operational tooling across machines. One row per
// execution holds the latest snapshot as JSON.
//
// The DSN format is the go-sql-driver one:
//
//	user:password@tcp(localhost:3306)/phaseflow?parseTime=true
//
// Never hardcode credentials; read the DSN from the environment:
//
//	st, err := store.NewMySQLStore[*flow.Context](os.Getenv("PHASEFLOW_MYSQL_DSN"))
type MySQLStore[S any] struct {
	db *sql.DB
}

// NewMySQLStore opens a pooled connection, verifies it, and ensures
// the schema exists.
func NewMySQLStore[S any](dsn string) (*MySQLStore[S], error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	store := &MySQLStore[S]{db: db}
	if err := store.createTables(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (m *MySQLStore[S]) createTables(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS executions (
			execution_id VARCHAR(255) NOT NULL PRIMARY KEY,
			snapshot JSON NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create executions table: %w", err)
	}
	return nil
}

// Save upserts the snapshot for the execution id.
func (m *MySQLStore[S]) Save(ctx context.Context, executionID string, snapshot S) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot for %s: %w", executionID, err)
	}

	query := `
		INSERT INTO executions (execution_id, snapshot)
		VALUES (?, ?)
		ON DUPLICATE KEY UPDATE snapshot = VALUES(snapshot)
	`
	if _, err := m.db.ExecContext(ctx, query, executionID, string(data)); err != nil {
		return fmt.Errorf("save snapshot for %s: %w", executionID, err)
	}
	return nil
}

// Load returns the latest snapshot for the execution id, or
// ErrNotFound.
func (m *MySQLStore[S]) Load(ctx context.Context, executionID string) (S, error) {
	var snapshot S

	var data string
	query := `SELECT snapshot FROM executions WHERE execution_id = ?`
	err := m.db.QueryRowContext(ctx, query, executionID).Scan(&data)
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
func (m *MySQLStore[S]) List(ctx context.Context) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT execution_id FROM executions ORDER BY execution_id`)
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
func (m *MySQLStore[S]) Delete(ctx context.Context, executionID string) error {
	if _, err := m.db.ExecContext(ctx, `DELETE FROM executions WHERE execution_id = ?`, executionID); err != nil {
		return fmt.Errorf("delete snapshot for %s: %w", executionID, err)
	}
	return nil
}

// Close releases the connection pool.
func (m *MySQLStore[S]) Close() error {
	return m.db.Close()
}
