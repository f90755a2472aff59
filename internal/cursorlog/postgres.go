package cursorlog

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DefaultTable is used when PostgresConfig.Table is empty.
const DefaultTable = "cursor_log"

// PostgresConfig controls the Postgres-backed log.
type PostgresConfig struct {
	DSN   string
	Table string
}

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresLog keeps the cursors of one query in a shared table, partitioned
// by the query column.
type PostgresLog struct {
	pool  pgxPool
	table string
	query string
}

// OpenPostgres connects to Postgres and ensures the log table exists.
func OpenPostgres(ctx context.Context, cfg PostgresConfig, query string) (*PostgresLog, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("progress.dsn is required")
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	log, err := NewPostgresWithPool(pool, cfg.Table, query)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := log.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return log, nil
}

// NewPostgresWithPool builds a log from an existing pool (primarily for testing).
func NewPostgresWithPool(pool pgxPool, table, query string) (*PostgresLog, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is required")
	}
	return &PostgresLog{pool: pool, table: table, query: query}, nil
}

// EnsureSchema creates the log table and its lookup index if missing.
func (l *PostgresLog) EnsureSchema(ctx context.Context) error {
	stmt := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id BIGSERIAL PRIMARY KEY,
			query TEXT NOT NULL,
			cursor_value TEXT NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS %[1]s_query_id_idx ON %[1]s (query, id);
	`, l.table)
	if _, err := l.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("create table %s: %w", l.table, err)
	}
	return nil
}

// Append inserts cursor as the newest entry for the query.
func (l *PostgresLog) Append(ctx context.Context, cursor string) error {
	if err := validateCursor(cursor); err != nil {
		return err
	}
	stmt := fmt.Sprintf(`INSERT INTO %s (query, cursor_value) VALUES ($1, $2)`, l.table)
	if _, err := l.pool.Exec(ctx, stmt, l.query, cursor); err != nil {
		return fmt.Errorf("insert cursor: %w", err)
	}
	return nil
}

// Last returns the newest cursor for the query.
func (l *PostgresLog) Last(ctx context.Context) (string, error) {
	stmt := fmt.Sprintf(`SELECT cursor_value FROM %s WHERE query = $1 ORDER BY id DESC LIMIT 1`, l.table)
	var cursor string
	if err := l.pool.QueryRow(ctx, stmt, l.query).Scan(&cursor); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("no cursor for query %q: %w", l.query, ErrNoProgress)
		}
		return "", fmt.Errorf("select last cursor: %w", err)
	}
	return cursor, nil
}

// Entries returns every cursor for the query, oldest first.
func (l *PostgresLog) Entries(ctx context.Context) ([]string, error) {
	stmt := fmt.Sprintf(`SELECT cursor_value FROM %s WHERE query = $1 ORDER BY id ASC`, l.table)
	rows, err := l.pool.Query(ctx, stmt, l.query)
	if err != nil {
		return nil, fmt.Errorf("select cursors: %w", err)
	}
	defer rows.Close()

	var entries []string
	for rows.Next() {
		var cursor string
		if err := rows.Scan(&cursor); err != nil {
			return nil, fmt.Errorf("scan cursor row: %w", err)
		}
		entries = append(entries, cursor)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cursor rows: %w", err)
	}
	return entries, nil
}

// Close closes the underlying pool.
func (l *PostgresLog) Close() error {
	l.pool.Close()
	return nil
}
