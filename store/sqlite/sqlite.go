// Package sqlite implements loom.SessionStore using pure-Go SQLite.
// Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loomlabs/loom"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
// When set, the store emits debug logs for every operation including
// timing and key parameters. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements loom.SessionStore backed by a local SQLite file.
// Each session is one row holding the state as a JSON document.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ loom.SessionStore = (*Store)(nil)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates the sessions table. Safe to call more than once.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("sqlite: init started")

	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	s.logger.Info("sqlite: init completed", "duration", time.Since(start))
	return nil
}

// Save inserts or replaces the session stored under id.
func (s *Store) Save(ctx context.Context, id string, state loom.SessionState) error {
	start := time.Now()
	s.logger.Debug("sqlite: save session", "id", id)

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO sessions (id, state, updated_at) VALUES (?, ?, ?)`,
		id, string(data), time.Now().Unix(),
	)
	if err != nil {
		s.logger.Error("sqlite: save session failed", "id", id, "error", err, "duration", time.Since(start))
		return fmt.Errorf("save session: %w", err)
	}
	s.logger.Debug("sqlite: save session ok", "id", id, "bytes", len(data), "duration", time.Since(start))
	return nil
}

// Load returns the session stored under id. A never-saved id reports
// *loom.ErrNoSession.
func (s *Store) Load(ctx context.Context, id string) (loom.SessionState, error) {
	start := time.Now()
	s.logger.Debug("sqlite: load session", "id", id)

	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM sessions WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		s.logger.Debug("sqlite: load session not found", "id", id, "duration", time.Since(start))
		return loom.SessionState{}, &loom.ErrNoSession{ID: id}
	}
	if err != nil {
		s.logger.Error("sqlite: load session failed", "id", id, "error", err, "duration", time.Since(start))
		return loom.SessionState{}, fmt.Errorf("load session: %w", err)
	}

	var state loom.SessionState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return loom.SessionState{}, fmt.Errorf("unmarshal session: %w", err)
	}
	s.logger.Debug("sqlite: load session ok", "id", id, "duration", time.Since(start))
	return state, nil
}

// Delete removes the session stored under id. Deleting an unknown id
// is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	start := time.Now()
	s.logger.Debug("sqlite: delete session", "id", id)

	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		s.logger.Error("sqlite: delete session failed", "id", id, "error", err, "duration", time.Since(start))
		return fmt.Errorf("delete session: %w", err)
	}
	s.logger.Debug("sqlite: delete session ok", "id", id, "duration", time.Since(start))
	return nil
}

// DB returns the underlying *sql.DB for callers that keep their own
// tables in the same file.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	s.logger.Debug("sqlite: closing store")
	err := s.db.Close()
	if err != nil {
		s.logger.Error("sqlite: close failed", "error", err)
	}
	return err
}
