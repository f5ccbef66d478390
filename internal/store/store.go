// Package store is the persistence boundary of the host.
//
// Components talk to storage through a narrow execute/query contract: SQL
// text plus a string-keyed parameter map, returning affected-row counts or
// string-keyed rows. Parameters are bound by name (":name" in SQL).
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// Errors returned by stores.
var (
	// ErrClosed is returned when using a closed store.
	ErrClosed = errors.New("store: closed")

	// ErrTxDone is returned when using a committed or rolled back transaction.
	ErrTxDone = errors.New("store: transaction already finished")
)

// Params binds named SQL parameters.
type Params map[string]any

// Row is a single result row keyed by column name.
type Row map[string]any

// Execer runs statements and queries.
type Execer interface {
	// Exec runs a statement and returns the number of affected rows.
	Exec(ctx context.Context, query string, params Params) (int64, error)

	// Query runs a query and returns all rows.
	Query(ctx context.Context, query string, params Params) ([]Row, error)
}

// Store is a transactional Execer.
type Store interface {
	Execer

	// Begin starts a transaction.
	Begin(ctx context.Context) (Tx, error)

	// Close releases the underlying resources.
	Close() error
}

// Tx is a transaction.
type Tx interface {
	Execer
	Commit() error
	Rollback() error
}

// WithTx runs fn inside a transaction. The transaction is committed when fn
// returns nil and rolled back otherwise.
func WithTx(ctx context.Context, s Store, fn func(tx Tx) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, ErrTxDone) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// String returns the column as a string. NULL and missing columns yield "".
func (r Row) String(col string) string {
	switch v := r[col].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}

// Int returns the column as an int64. Non-numeric values yield 0.
func (r Row) Int(col string) int64 {
	switch v := r[col].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case bool:
		if v {
			return 1
		}
		return 0
	case string, []byte:
		n, _ := strconv.ParseInt(r.String(col), 10, 64)
		return n
	default:
		return 0
	}
}

// Bool returns the column interpreted as a boolean flag.
func (r Row) Bool(col string) bool {
	return r.Int(col) != 0
}

// IsNull reports whether the column is NULL or missing.
func (r Row) IsNull(col string) bool {
	v, ok := r[col]
	return !ok || v == nil
}

// sortedNames returns parameter names in a stable order.
func (p Params) sortedNames() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
