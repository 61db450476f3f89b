// Package store persists session snapshots to SQLite so a restarted
// server can resume games. One snapshot row per session, overwritten on
// every save.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/keeperhq/keeper/internal/memory"
	"github.com/keeperhq/keeper/internal/state"
)

// ErrNotFound is returned when no snapshot exists for a session id.
var ErrNotFound = errors.New("snapshot not found")

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	state      TEXT NOT NULL,
	transcript TEXT NOT NULL
);
`

// Snapshot is everything needed to resurrect a session.
type Snapshot struct {
	ID         string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	State      state.GameState
	Transcript []memory.Turn
}

// Store wraps the snapshot database. SQLite tolerates one writer at a
// time, so writes are serialized through a mutex.
type Store struct {
	db  *sql.DB
	log zerolog.Logger

	writeMu sync.Mutex
}

// Open creates (or opens) the snapshot database at path and applies the
// schema.
func Open(path string, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("open snapshot db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{
		db:  db,
		log: log.With().Str("component", "store").Logger(),
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Save upserts one session snapshot.
func (s *Store) Save(ctx context.Context, snap Snapshot) error {
	stateJSON, err := json.Marshal(snap.State)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	transcriptJSON, err := json.Marshal(snap.Transcript)
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now().UTC()
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, created_at, updated_at, state, transcript)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			updated_at = excluded.updated_at,
			state      = excluded.state,
			transcript = excluded.transcript`,
		snap.ID,
		snap.CreatedAt.UTC().Format(time.RFC3339Nano),
		snap.UpdatedAt.UTC().Format(time.RFC3339Nano),
		string(stateJSON),
		string(transcriptJSON),
	)
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", snap.ID, err)
	}
	return nil
}

// Load returns the snapshot for id, or ErrNotFound.
func (s *Store) Load(ctx context.Context, id string) (Snapshot, error) {
	var (
		snap                 Snapshot
		createdAt, updatedAt string
		stateJSON            string
		transcriptJSON       string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, updated_at, state, transcript FROM sessions WHERE id = ?`, id,
	).Scan(&snap.ID, &createdAt, &updatedAt, &stateJSON, &transcriptJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("load snapshot %s: %w", id, err)
	}

	if snap.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Snapshot{}, fmt.Errorf("parse created_at: %w", err)
	}
	if snap.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return Snapshot{}, fmt.Errorf("parse updated_at: %w", err)
	}
	if err := json.Unmarshal([]byte(stateJSON), &snap.State); err != nil {
		return Snapshot{}, fmt.Errorf("decode state: %w", err)
	}
	if err := json.Unmarshal([]byte(transcriptJSON), &snap.Transcript); err != nil {
		return Snapshot{}, fmt.Errorf("decode transcript: %w", err)
	}
	return snap, nil
}

// List returns the ids of all stored snapshots, most recently updated
// first.
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan snapshot id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Delete removes a snapshot. Deleting a missing id is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", id, err)
	}
	return nil
}
