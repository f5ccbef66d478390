package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// SQLite is a Store backed by a SQLite database file.
type SQLite struct {
	db     *sql.DB
	closed atomic.Bool
}

// DefaultPath returns the default database location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".local", "share", "phobos", "phobos.db")
}

// OpenSQLite opens (creating if needed) the database at path. Use
// MemoryPath for a throwaway database.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		path = DefaultPath()
	}

	dsn := ":memory:?_foreign_keys=on"
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on", path)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	// A single connection serializes writers and keeps an in-memory
	// database alive for the lifetime of the store.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLite{db: db}
	if path != MemoryPath {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set journal mode: %w", err)
		}
	}
	if err := s.initMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying handle.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

// Exec implements Execer.
func (s *SQLite) Exec(ctx context.Context, query string, params Params) (int64, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	return execOn(ctx, s.db, query, params)
}

// Query implements Execer.
func (s *SQLite) Query(ctx context.Context, query string, params Params) ([]Row, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	return queryOn(ctx, s.db, query, params)
}

// Begin implements Store.
func (s *SQLite) Begin(ctx context.Context) (Tx, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx}, nil
}

// Close implements Store.
func (s *SQLite) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// Migrate applies the named set of statements once. Components call it from
// their constructors to own their tables.
func (s *SQLite) Migrate(ctx context.Context, name string, stmts ...string) error {
	return Migrate(ctx, s, name, stmts...)
}

func (s *SQLite) initMigrations(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		name       TEXT PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	return nil
}

// Migrate applies stmts in a single transaction unless a migration with the
// same name has already been recorded.
func Migrate(ctx context.Context, s Store, name string, stmts ...string) error {
	return WithTx(ctx, s, func(tx Tx) error {
		rows, err := tx.Query(ctx, `SELECT name FROM schema_migrations WHERE name = :name`, Params{"name": name})
		if err != nil {
			return fmt.Errorf("migration %s: %w", name, err)
		}
		if len(rows) > 0 {
			return nil
		}
		for _, stmt := range stmts {
			if _, err := tx.Exec(ctx, stmt, nil); err != nil {
				return fmt.Errorf("migration %s: %w", name, err)
			}
		}
		_, err = tx.Exec(ctx, `INSERT INTO schema_migrations (name, applied_at) VALUES (:name, :at)`,
			Params{"name": name, "at": time.Now().UnixMilli()})
		return err
	})
}

type sqliteTx struct {
	tx   *sql.Tx
	done atomic.Bool
}

func (t *sqliteTx) Exec(ctx context.Context, query string, params Params) (int64, error) {
	if t.done.Load() {
		return 0, ErrTxDone
	}
	return execOn(ctx, t.tx, query, params)
}

func (t *sqliteTx) Query(ctx context.Context, query string, params Params) ([]Row, error) {
	if t.done.Load() {
		return nil, ErrTxDone
	}
	return queryOn(ctx, t.tx, query, params)
}

func (t *sqliteTx) Commit() error {
	if t.done.Swap(true) {
		return ErrTxDone
	}
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	if t.done.Swap(true) {
		return ErrTxDone
	}
	return t.tx.Rollback()
}

type sqlRunner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func namedArgs(params Params) []any {
	if len(params) == 0 {
		return nil
	}
	args := make([]any, 0, len(params))
	for _, name := range params.sortedNames() {
		args = append(args, sql.Named(name, params[name]))
	}
	return args
}

func execOn(ctx context.Context, r sqlRunner, query string, params Params) (int64, error) {
	res, err := r.ExecContext(ctx, query, namedArgs(params)...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func queryOn(ctx context.Context, r sqlRunner, query string, params Params) ([]Row, error) {
	rows, err := r.QueryContext(ctx, query, namedArgs(params)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
