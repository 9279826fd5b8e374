package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loomlabs/loom"
)

// MemoryStore implements loom.LongTermMemory backed by PostgreSQL.
// Retrieval uses native full-text search (tsvector with a GIN index)
// rather than the in-process scan the sqlite store does.
type MemoryStore struct {
	pool *pgxpool.Pool
	topK int
}

var _ loom.LongTermMemory = (*MemoryStore)(nil)

// MemoryOption configures a PostgreSQL MemoryStore.
type MemoryOption func(*MemoryStore)

// WithTopK caps how many facts Retrieve returns. Default 10.
func WithTopK(k int) MemoryOption {
	return func(s *MemoryStore) { s.topK = k }
}

// NewMemoryStore creates a MemoryStore using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func NewMemoryStore(pool *pgxpool.Pool, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{pool: pool, topK: 10}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Init creates the facts table and full-text index. Safe to call
// multiple times.
func (s *MemoryStore) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS facts (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS facts_fts_idx ON facts USING gin(to_tsvector('english', content))`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: memory init: %w", err)
		}
	}
	return nil
}

// Record stores the text of each message as a fact. Messages without
// text content are skipped.
func (s *MemoryStore) Record(ctx context.Context, messages []loom.Message) error {
	for _, m := range messages {
		text := strings.TrimSpace(m.Text())
		if text == "" {
			continue
		}
		_, err := s.pool.Exec(ctx,
			`INSERT INTO facts (id, content, created_at) VALUES ($1, $2, $3)`,
			loom.NewID(), text, loom.NowUnix())
		if err != nil {
			return fmt.Errorf("postgres: record fact: %w", err)
		}
	}
	return nil
}

// Retrieve runs a full-text query over stored facts. Matching facts
// come back as a single system message listing them, best matches
// first. No matches yields no messages.
func (s *MemoryStore) Retrieve(ctx context.Context, query string) ([]loom.Message, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT content,
		        ts_rank(to_tsvector('english', content), plainto_tsquery('english', $1)) AS rank
		 FROM facts
		 WHERE to_tsvector('english', content) @@ plainto_tsquery('english', $1)
		 ORDER BY rank DESC, created_at DESC
		 LIMIT $2`,
		query, s.topK)
	if err != nil {
		return nil, fmt.Errorf("postgres: retrieve facts: %w", err)
	}
	defer rows.Close()

	var facts []string
	for rows.Next() {
		var content string
		var rank float32
		if err := rows.Scan(&content, &rank); err != nil {
			return nil, fmt.Errorf("postgres: scan fact: %w", err)
		}
		facts = append(facts, content)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate facts: %w", err)
	}
	if len(facts) == 0 {
		return nil, nil
	}

	var b strings.Builder
	b.WriteString("Facts recalled from long-term memory:\n")
	for _, f := range facts {
		fmt.Fprintf(&b, "- %s\n", f)
	}
	return []loom.Message{loom.SystemMessage(b.String())}, nil
}
