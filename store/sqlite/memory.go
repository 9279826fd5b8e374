package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/loomlabs/loom"
)

// MemoryStoreOption configures a SQLite MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithMemoryLogger sets a structured logger for the memory store.
// When set, the store emits debug logs for every operation including
// timing, row counts, and key parameters. If not set, no logs are emitted.
func WithMemoryLogger(l *slog.Logger) MemoryStoreOption {
	return func(s *MemoryStore) { s.logger = l }
}

// MemoryStore implements loom.LongTermMemory backed by SQLite. Facts
// are stored as plain text rows and retrieval is done in-process by
// scoring term overlap between the query and each fact.
//
// Use NewMemoryStore with a shared *sql.DB from Store.DB() so both
// Store and MemoryStore share the same serialized connection.
type MemoryStore struct {
	db     *sql.DB
	logger *slog.Logger
	topK   int
}

var _ loom.LongTermMemory = (*MemoryStore)(nil)

// WithTopK caps how many facts Retrieve returns. Default 10.
func WithTopK(k int) MemoryStoreOption {
	return func(s *MemoryStore) { s.topK = k }
}

// NewMemoryStore creates a MemoryStore using an existing *sql.DB.
// Pass store.DB() to share the same connection as Store.
func NewMemoryStore(db *sql.DB, opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{db: db, logger: nopLogger, topK: 10}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Init creates the facts table. Safe to call more than once.
func (s *MemoryStore) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("sqlite: memory init started")
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS facts (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`)
	if err != nil {
		s.logger.Error("sqlite: memory init failed", "error", err, "duration", time.Since(start))
		return err
	}
	s.logger.Info("sqlite: memory init completed", "duration", time.Since(start))
	return nil
}

// Record stores the text of each message as a fact. Messages without
// text content are skipped.
func (s *MemoryStore) Record(ctx context.Context, messages []loom.Message) error {
	start := time.Now()
	s.logger.Debug("sqlite: record facts", "count", len(messages))

	stored := 0
	for _, m := range messages {
		text := strings.TrimSpace(m.Text())
		if text == "" {
			continue
		}
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO facts (id, content, created_at) VALUES (?, ?, ?)`,
			loom.NewID(), text, loom.NowUnix(),
		)
		if err != nil {
			s.logger.Error("sqlite: record fact failed", "error", err, "duration", time.Since(start))
			return fmt.Errorf("record fact: %w", err)
		}
		stored++
	}
	s.logger.Debug("sqlite: record facts ok", "stored", stored, "duration", time.Since(start))
	return nil
}

// Retrieve scans stored facts and scores each by how many query terms
// it contains, case-insensitive. Matching facts come back as a single
// system message listing them, best matches first. No matches yields
// no messages.
func (s *MemoryStore) Retrieve(ctx context.Context, query string) ([]loom.Message, error) {
	start := time.Now()
	s.logger.Debug("sqlite: retrieve facts", "query", query)

	terms := queryTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT content FROM facts ORDER BY created_at DESC`)
	if err != nil {
		s.logger.Error("sqlite: retrieve facts failed", "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("retrieve facts: %w", err)
	}
	defer rows.Close()

	type scored struct {
		content string
		score   int
	}
	var results []scored
	scanned := 0
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		scanned++
		lower := strings.ToLower(content)
		score := 0
		for _, term := range terms {
			if strings.Contains(lower, term) {
				score++
			}
		}
		if score > 0 {
			results = append(results, scored{content: content, score: score})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate facts: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})
	if len(results) > s.topK {
		results = results[:s.topK]
	}

	s.logger.Debug("sqlite: retrieve facts ok", "scanned", scanned, "matched", len(results), "duration", time.Since(start))
	if len(results) == 0 {
		return nil, nil
	}

	var b strings.Builder
	b.WriteString("Facts recalled from long-term memory:\n")
	for _, r := range results {
		fmt.Fprintf(&b, "- %s\n", r.content)
	}
	return []loom.Message{loom.SystemMessage(b.String())}, nil
}

// queryTerms lowercases and splits a query, dropping words too short to
// be selective.
func queryTerms(query string) []string {
	var terms []string
	for _, f := range strings.Fields(strings.ToLower(query)) {
		f = strings.Trim(f, ".,;:!?\"'()")
		if len(f) >= 3 {
			terms = append(terms, f)
		}
	}
	return terms
}
