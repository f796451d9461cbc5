// Package postgres provides Postgres-backed article and version stores.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const uniqueViolation = "23505"

// Config controls the Postgres connection pool and table names.
type Config struct {
	DSN             string
	ArticlesTable   string
	VersionsTable   string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Store implements tracker.ArticleStore and tracker.VersionStore.
type Store struct {
	pool     pgxPool
	articles string
	versions string
}

// Open connects a pgx pool using cfg.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewWithPool(pool, cfg.ArticlesTable, cfg.VersionsTable)
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool pgxPool, articlesTable, versionsTable string) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if articlesTable == "" {
		articlesTable = "articles"
	}
	if versionsTable == "" {
		versionsTable = "article_versions"
	}
	for _, table := range []string{articlesTable, versionsTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return &Store{pool: pool, articles: articlesTable, versions: versionsTable}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Migrate creates the configured tables if they are missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, s.Schema()); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// Schema returns the DDL for the configured tables.
func (s *Store) Schema() string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id                   TEXT PRIMARY KEY,
	url                  TEXT NOT NULL UNIQUE,
	normalizer           TEXT NOT NULL DEFAULT '',
	base_interval_ms     BIGINT NOT NULL,
	interval_ms          BIGINT NOT NULL,
	next_due_at          TIMESTAMPTZ NOT NULL,
	status               TEXT NOT NULL,
	consecutive_failures INTEGER NOT NULL DEFAULT 0,
	last_hash            TEXT NOT NULL DEFAULT '',
	last_crawled_at      TIMESTAMPTZ,
	last_error           TEXT NOT NULL DEFAULT '',
	created_at           TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS %[2]s (
	article_id   TEXT NOT NULL REFERENCES %[1]s (id),
	sequence     INTEGER NOT NULL CHECK (sequence > 0),
	content_hash TEXT NOT NULL,
	title        TEXT NOT NULL,
	topline      TEXT NOT NULL DEFAULT '',
	body         TEXT NOT NULL,
	published_at TIMESTAMPTZ,
	fetched_at   TIMESTAMPTZ NOT NULL,
	diff         JSONB NOT NULL,
	raw_uri      TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (article_id, sequence)
);
`, s.articles, s.versions)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

type scanner interface {
	Scan(dest ...any) error
}
