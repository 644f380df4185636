// Package store persists published articles, their tags, embeddings, series
// membership and the quality review log in PostgreSQL with pgvector.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"blogpilot/internal/core"
	"blogpilot/internal/logger"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq" // Postgres driver
	"github.com/rs/zerolog"
)

// psql builds statements with $n placeholders.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Options tunes the connection pool.
type Options struct {
	MaxOpenConns int
	PingTimeout  time.Duration
}

// Store is the Postgres-backed article store.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Open connects to the database and verifies the connection.
func Open(ctx context.Context, connectionString string, opts Options) (*Store, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, core.E(core.KindPersistence, "store.open", "failed to open database", err)
	}

	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 10
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = 5 * time.Second
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(min(5, opts.MaxOpenConns))
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, opts.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, core.E(core.KindTransient, "store.open", "failed to ping database", err)
	}

	return New(db), nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store {
	return &Store{db: db, log: logger.With("component", "store")}
}

// DB exposes the underlying handle for migrations.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return core.E(core.KindTransient, "store.ping", "database unreachable", err)
	}
	return nil
}

// formatVector renders values in pgvector's text format.
func formatVector(values []float64) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, v := range values {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	sb.WriteByte(']')
	return sb.String()
}

// parseVector reads pgvector's text format back into values.
func parseVector(text string) ([]float64, error) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "[") || !strings.HasSuffix(text, "]") {
		return nil, fmt.Errorf("malformed vector %q", text)
	}
	body := strings.TrimSpace(text[1 : len(text)-1])
	if body == "" {
		return nil, nil
	}
	parts := strings.Split(body, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("malformed vector component %q: %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// tagFilter matches rows of article_tags (aliased t) sharing any tag with
// tags in the same tier.
func tagFilter(tags core.TagSet) sq.Or {
	var or sq.Or
	for _, tier := range core.Tiers {
		values := tags.Get(tier)
		if len(values) == 0 {
			continue
		}
		or = append(or, sq.And{sq.Eq{"t.tier": string(tier)}, sq.Eq{"t.tag": values}})
	}
	return or
}
