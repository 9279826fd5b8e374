// Package postgres implements loom.SessionStore and loom.LongTermMemory
// using PostgreSQL.
//
// Both Store and MemoryStore accept an externally-owned *pgxpool.Pool
// via constructor injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loomlabs/loom"
)

// Store implements loom.SessionStore backed by PostgreSQL. Each session
// is one row holding the state as a JSONB document.
type Store struct {
	pool *pgxpool.Pool
}

var _ loom.SessionStore = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates the sessions table. Safe to call multiple times.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		state JSONB NOT NULL,
		updated_at BIGINT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("postgres: init: %w", err)
	}
	return nil
}

// Save inserts or replaces the session stored under id.
func (s *Store) Save(ctx context.Context, id string, state loom.SessionState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("postgres: marshal session: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO sessions (id, state, updated_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET
		   state = EXCLUDED.state,
		   updated_at = EXCLUDED.updated_at`,
		id, data, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("postgres: save session: %w", err)
	}
	return nil
}

// Load returns the session stored under id. A never-saved id reports
// *loom.ErrNoSession.
func (s *Store) Load(ctx context.Context, id string) (loom.SessionState, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT state FROM sessions WHERE id = $1`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return loom.SessionState{}, &loom.ErrNoSession{ID: id}
	}
	if err != nil {
		return loom.SessionState{}, fmt.Errorf("postgres: load session: %w", err)
	}

	var state loom.SessionState
	if err := json.Unmarshal(raw, &state); err != nil {
		return loom.SessionState{}, fmt.Errorf("postgres: unmarshal session: %w", err)
	}
	return state, nil
}

// Delete removes the session stored under id. Deleting an unknown id
// is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete session: %w", err)
	}
	return nil
}
