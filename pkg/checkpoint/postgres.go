package checkpoint

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql
)

//go:embed migrations
var migrationsFS embed.FS

// PostgresStore is the production backend. Saves are single-row inserts, so
// atomicity comes for free; migrations are embedded and applied on open.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects, configures the pool, and applies pending
// migrations.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres store: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging postgres store: %w", err)
	}
	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating postgres store: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// runMigrations applies the embedded migration files with golang-migrate.
// The source driver is closed separately; closing the migrate instance
// would also close the shared *sql.DB.
func runMigrations(db *sql.DB) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("creating postgres migrate driver: %w", err)
	}
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "checkpoints", driver)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return source.Close()
}

func (p *PostgresStore) Load(ctx context.Context, sessionID string) (*Snapshot, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT document FROM checkpoints WHERE session_id = $1 ORDER BY created_at DESC, checkpoint_id LIMIT 1`,
		sessionID)
	return scanSnapshot(row, sessionID)
}

func (p *PostgresStore) Save(ctx context.Context, sessionID string, snap *Snapshot) (string, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("beginning save: %w", err)
	}
	defer tx.Rollback()

	parentID := ""
	err = tx.QueryRowContext(ctx,
		`SELECT checkpoint_id FROM checkpoints WHERE session_id = $1 ORDER BY created_at DESC, checkpoint_id LIMIT 1`,
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
		`INSERT INTO checkpoints (checkpoint_id, session_id, parent_id, document, created_at) VALUES ($1, $2, $3, $4, $5)`,
		snap.CheckpointID, sessionID, snap.ParentID, document, snap.CreatedAt); err != nil {
		return "", fmt.Errorf("inserting checkpoint: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing checkpoint: %w", err)
	}
	return snap.CheckpointID, nil
}

func (p *PostgresStore) List(ctx context.Context, sessionID string) ([]*Snapshot, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT document FROM checkpoints WHERE session_id = $1 ORDER BY created_at DESC, checkpoint_id`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing checkpoints: %w", err)
	}
	defer rows.Close()

	var out []*Snapshot
	for rows.Next() {
		var document []byte
		if err := rows.Scan(&document); err != nil {
			return nil, fmt.Errorf("scanning checkpoint: %w", err)
		}
		var snap Snapshot
		if err := json.Unmarshal(document, &snap); err != nil {
			return nil, fmt.Errorf("decoding checkpoint: %w", err)
		}
		out = append(out, &snap)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Rewind(ctx context.Context, sessionID, checkpointID string) (*Snapshot, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning rewind: %w", err)
	}
	defer tx.Rollback()

	var document []byte
	var createdAt float64
	err = tx.QueryRowContext(ctx,
		`SELECT document, created_at FROM checkpoints WHERE session_id = $1 AND checkpoint_id = $2`,
		sessionID, checkpointID).Scan(&document, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: checkpoint %s", ErrNotFound, checkpointID)
	}
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE session_id = $1 AND created_at > $2`,
		sessionID, createdAt); err != nil {
		return nil, fmt.Errorf("discarding newer checkpoints: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing rewind: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(document, &snap); err != nil {
		return nil, fmt.Errorf("decoding checkpoint: %w", err)
	}
	return &snap, nil
}

func (p *PostgresStore) Delete(ctx context.Context, sessionID string) error {
	if _, err := p.db.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("deleting session checkpoints: %w", err)
	}
	return nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

// Health reports connectivity and pool statistics for the health endpoint.
func (p *PostgresStore) Health(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Sessions returns the ids of every stored session, for retention sweeps.
func (p *PostgresStore) Sessions(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx,
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
