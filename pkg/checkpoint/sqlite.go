package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver for database/sql
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	checkpoint_id TEXT PRIMARY KEY,
	session_id    TEXT NOT NULL,
	parent_id     TEXT,
	document      TEXT NOT NULL,
	created_at    REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_session
	ON checkpoints (session_id, created_at);
`

// SQLiteStore persists checkpoints in a local SQLite file. Writes go through
// a process-level mutex on top of SQLite's own locking; the backend is meant
// for development and single-instance deployments.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore opens (and if needed initializes) the database file.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite store: %w", err)
	}
	// A single connection sidesteps table-lock contention between readers
	// and the writer.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, sessionID string) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT document FROM checkpoints WHERE session_id = ? ORDER BY created_at DESC, checkpoint_id LIMIT 1`,
		sessionID)
	return scanSnapshot(row, sessionID)
}

func (s *SQLiteStore) Save(ctx context.Context, sessionID string, snap *Snapshot) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("beginning save: %w", err)
	}
	defer tx.Rollback()

	parentID := ""
	err = tx.QueryRowContext(ctx,
		`SELECT checkpoint_id FROM checkpoints WHERE session_id = ? ORDER BY created_at DESC, checkpoint_id LIMIT 1`,
		sessionID).Scan(&parentID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("reading latest checkpoint: %w", err)
	}

	stamp(snap, sessionID, parentID)
	document, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("marshaling snapshot: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO checkpoints (checkpoint_id, session_id, parent_id, document, created_at) VALUES (?, ?, ?, ?, ?)`,
		snap.CheckpointID, sessionID, snap.ParentID, string(document), snap.CreatedAt); err != nil {
		return "", fmt.Errorf("inserting checkpoint: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing checkpoint: %w", err)
	}
	return snap.CheckpointID, nil
}

func (s *SQLiteStore) List(ctx context.Context, sessionID string) ([]*Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT document FROM checkpoints WHERE session_id = ? ORDER BY created_at DESC, checkpoint_id`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing checkpoints: %w", err)
	}
	defer rows.Close()

	var out []*Snapshot
	for rows.Next() {
		var document string
		if err := rows.Scan(&document); err != nil {
			return nil, fmt.Errorf("scanning checkpoint: %w", err)
		}
		var snap Snapshot
		if err := json.Unmarshal([]byte(document), &snap); err != nil {
			return nil, fmt.Errorf("decoding checkpoint: %w", err)
		}
		out = append(out, &snap)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Rewind(ctx context.Context, sessionID, checkpointID string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning rewind: %w", err)
	}
	defer tx.Rollback()

	var document string
	var createdAt float64
	err = tx.QueryRowContext(ctx,
		`SELECT document, created_at FROM checkpoints WHERE session_id = ? AND checkpoint_id = ?`,
		sessionID, checkpointID).Scan(&document, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: checkpoint %s", ErrNotFound, checkpointID)
	}
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE session_id = ? AND created_at > ?`,
		sessionID, createdAt); err != nil {
		return nil, fmt.Errorf("discarding newer checkpoints: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing rewind: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(document), &snap); err != nil {
		return nil, fmt.Errorf("decoding checkpoint: %w", err)
	}
	return &snap, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("deleting session checkpoints: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// Health reports database connectivity for the health endpoint.
func (s *SQLiteStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Sessions returns the ids of every stored session, for retention sweeps.
func (s *SQLiteStore) Sessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT session_id FROM checkpoints ORDER BY session_id`)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// scanSnapshot decodes a single-document row shared by Load implementations.
func scanSnapshot(row *sql.Row, sessionID string) (*Snapshot, error) {
	var document string
	err := row.Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(document), &snap); err != nil {
		return nil, fmt.Errorf("decoding checkpoint: %w", err)
	}
	return &snap, nil
}
