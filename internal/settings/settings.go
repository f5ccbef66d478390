// Package settings implements the host's persisted key/value configuration.
//
// Keys live in one of two scopes. System keys are shared host settings.
// Package keys belong to a single plugin and are stored under the
// namespaced key "<packageID>_<key>". Every write keeps the value it
// replaced so the last change can be reverted.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/dshills/phobos/internal/logging"
	"github.com/dshills/phobos/internal/store"
)

// Scope distinguishes system keys from plugin keys.
type Scope string

const (
	// ScopeSystem holds host-wide settings.
	ScopeSystem Scope = "system"
	// ScopePackage holds settings owned by one plugin.
	ScopePackage Scope = "package"
)

// Errors returned by the settings store.
var (
	// ErrEmptyKey is returned for an empty key.
	ErrEmptyKey = errors.New("settings: key cannot be empty")

	// ErrEmptyPackage is returned when a package key has no package id.
	ErrEmptyPackage = errors.New("settings: package id cannot be empty")

	// ErrNotFound is returned when a key has no stored value.
	ErrNotFound = errors.New("settings: key not found")

	// ErrNoPrevious is returned by Revert when there is nothing to undo.
	ErrNoPrevious = errors.New("settings: no previous value")

	// ErrInvalidSnapshot is returned by Import for malformed documents.
	ErrInvalidSnapshot = errors.New("settings: invalid snapshot")
)

// Entry is a stored setting.
type Entry struct {
	Scope       Scope
	Key         string // namespaced key for package scope
	Value       string
	UpdatedBy   string
	Previous    string
	HasPrevious bool
	UpdatedAt   time.Time
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS config (
		scope      TEXT NOT NULL,
		key        TEXT NOT NULL,
		value      TEXT NOT NULL,
		updated_by TEXT NOT NULL DEFAULT '',
		previous   TEXT,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (scope, key)
	)`,
}

// Store reads and writes settings through a store.Store.
type Store struct {
	db  store.Store
	log *logging.Logger
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a settings store and ensures its table exists.
func New(ctx context.Context, db store.Store, opts ...Option) (*Store, error) {
	s := &Store{
		db:  db,
		log: logging.Nop(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := store.Migrate(ctx, db, "settings_v1", schema...); err != nil {
		return nil, err
	}
	return s, nil
}

// NamespacedKey returns the storage key for a package-scoped setting.
func NamespacedKey(packageID, key string) string {
	return packageID + "_" + key
}

// Read returns a package-scoped value.
func (s *Store) Read(ctx context.Context, packageID, key string) (string, bool, error) {
	full, err := packageKey(packageID, key)
	if err != nil {
		return "", false, err
	}
	return s.read(ctx, ScopePackage, full)
}

// Write stores a package-scoped value on behalf of updatedBy.
func (s *Store) Write(ctx context.Context, packageID, key, value, updatedBy string) error {
	full, err := packageKey(packageID, key)
	if err != nil {
		return err
	}
	return s.write(ctx, ScopePackage, full, value, updatedBy)
}

// ReadSystem returns a system-scoped value.
func (s *Store) ReadSystem(ctx context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, ErrEmptyKey
	}
	return s.read(ctx, ScopeSystem, key)
}

// WriteSystem stores a system-scoped value on behalf of updatedBy.
func (s *Store) WriteSystem(ctx context.Context, key, value, updatedBy string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return s.write(ctx, ScopeSystem, key, value, updatedBy)
}

// Entry returns the full stored record for a key. For package scope, key
// is the namespaced key.
func (s *Store) Entry(ctx context.Context, scope Scope, key string) (Entry, error) {
	rows, err := s.db.Query(ctx,
		`SELECT scope, key, value, updated_by, previous, updated_at FROM config WHERE scope = :scope AND key = :key`,
		store.Params{"scope": string(scope), "key": key})
	if err != nil {
		return Entry{}, fmt.Errorf("read %s: %w", key, err)
	}
	if len(rows) == 0 {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return entryFromRow(rows[0]), nil
}

// Revert swaps the current and previous value of a key, so a second
// Revert restores the change again.
func (s *Store) Revert(ctx context.Context, scope Scope, key, updatedBy string) error {
	return store.WithTx(ctx, s.db, func(tx store.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT value, previous FROM config WHERE scope = :scope AND key = :key`,
			store.Params{"scope": string(scope), "key": key})
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		if rows[0].IsNull("previous") {
			return fmt.Errorf("%w: %s", ErrNoPrevious, key)
		}

		_, err = tx.Exec(ctx,
			`UPDATE config SET value = :prev, previous = :cur, updated_by = :by, updated_at = :at
			 WHERE scope = :scope AND key = :key`,
			store.Params{
				"prev":  rows[0].String("previous"),
				"cur":   rows[0].String("value"),
				"by":    updatedBy,
				"at":    s.now().UnixMilli(),
				"scope": string(scope),
				"key":   key,
			})
		return err
	})
}

// DeletePackage removes every setting owned by packageID.
func (s *Store) DeletePackage(ctx context.Context, packageID string) (int64, error) {
	if packageID == "" {
		return 0, ErrEmptyPackage
	}
	return s.db.Exec(ctx,
		`DELETE FROM config WHERE scope = :scope AND substr(key, 1, :n) = :prefix`,
		store.Params{
			"scope":  string(ScopePackage),
			"n":      len(packageID) + 1,
			"prefix": packageID + "_",
		})
}

// Keys lists the keys of a package (without namespace) or, when packageID
// is empty, the system keys.
func (s *Store) Keys(ctx context.Context, packageID string) ([]string, error) {
	values, err := s.values(ctx, packageID)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(values))
	for _, kv := range values {
		keys = append(keys, kv[0])
	}
	return keys, nil
}

// Export renders the values of a package, or the system scope when
// packageID is empty, as a JSON document:
//
//	{"scope":"package","package":"com.example.app","values":{"k":"v"}}
func (s *Store) Export(ctx context.Context, packageID string) ([]byte, error) {
	values, err := s.values(ctx, packageID)
	if err != nil {
		return nil, err
	}

	scope := ScopeSystem
	if packageID != "" {
		scope = ScopePackage
	}

	doc := []byte(`{}`)
	if doc, err = sjson.SetBytes(doc, "scope", string(scope)); err != nil {
		return nil, err
	}
	if packageID != "" {
		if doc, err = sjson.SetBytes(doc, "package", packageID); err != nil {
			return nil, err
		}
	}
	if doc, err = sjson.SetRawBytes(doc, "values", []byte(`{}`)); err != nil {
		return nil, err
	}
	for _, kv := range values {
		if doc, err = sjson.SetBytes(doc, "values."+escapePath(kv[0]), kv[1]); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// Import writes every value of a document produced by Export. It returns
// the number of values written.
func (s *Store) Import(ctx context.Context, doc []byte, updatedBy string) (int, error) {
	if !gjson.ValidBytes(doc) {
		return 0, ErrInvalidSnapshot
	}

	root := gjson.ParseBytes(doc)
	scope := Scope(root.Get("scope").String())
	packageID := root.Get("package").String()
	values := root.Get("values")

	switch {
	case !values.IsObject():
		return 0, fmt.Errorf("%w: values must be an object", ErrInvalidSnapshot)
	case scope == ScopePackage && packageID == "":
		return 0, fmt.Errorf("%w: package scope without package id", ErrInvalidSnapshot)
	case scope != ScopePackage && scope != ScopeSystem:
		return 0, fmt.Errorf("%w: unknown scope %q", ErrInvalidSnapshot, scope)
	}

	count := 0
	var writeErr error
	values.ForEach(func(k, v gjson.Result) bool {
		if scope == ScopeSystem {
			writeErr = s.WriteSystem(ctx, k.String(), v.String(), updatedBy)
		} else {
			writeErr = s.Write(ctx, packageID, k.String(), v.String(), updatedBy)
		}
		if writeErr != nil {
			return false
		}
		count++
		return true
	})
	return count, writeErr
}

func (s *Store) read(ctx context.Context, scope Scope, key string) (string, bool, error) {
	rows, err := s.db.Query(ctx,
		`SELECT value FROM config WHERE scope = :scope AND key = :key`,
		store.Params{"scope": string(scope), "key": key})
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", key, err)
	}
	if len(rows) == 0 {
		return "", false, nil
	}
	return Unescape(rows[0].String("value")), true, nil
}

func (s *Store) write(ctx context.Context, scope Scope, key, value, updatedBy string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO config (scope, key, value, updated_by, previous, updated_at)
		 VALUES (:scope, :key, :value, :by, NULL, :at)
		 ON CONFLICT (scope, key) DO UPDATE SET
			previous   = config.value,
			value      = excluded.value,
			updated_by = excluded.updated_by,
			updated_at = excluded.updated_at`,
		store.Params{
			"scope": string(scope),
			"key":   key,
			"value": Escape(value),
			"by":    updatedBy,
			"at":    s.now().UnixMilli(),
		})
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	s.log.Debug("setting written", "scope", scope, "key", key, "by", updatedBy)
	return nil
}

// values returns [key, value] pairs ordered by key.
func (s *Store) values(ctx context.Context, packageID string) ([][2]string, error) {
	var (
		rows []store.Row
		err  error
	)
	if packageID == "" {
		rows, err = s.db.Query(ctx,
			`SELECT key, value FROM config WHERE scope = :scope ORDER BY key`,
			store.Params{"scope": string(ScopeSystem)})
	} else {
		rows, err = s.db.Query(ctx,
			`SELECT key, value FROM config WHERE scope = :scope AND substr(key, 1, :n) = :prefix ORDER BY key`,
			store.Params{
				"scope":  string(ScopePackage),
				"n":      len(packageID) + 1,
				"prefix": packageID + "_",
			})
	}
	if err != nil {
		return nil, err
	}

	out := make([][2]string, 0, len(rows))
	for _, row := range rows {
		key := row.String("key")
		if packageID != "" {
			key = strings.TrimPrefix(key, packageID+"_")
		}
		out = append(out, [2]string{key, Unescape(row.String("value"))})
	}
	return out, nil
}

func packageKey(packageID, key string) (string, error) {
	if packageID == "" {
		return "", ErrEmptyPackage
	}
	if key == "" {
		return "", ErrEmptyKey
	}
	return NamespacedKey(packageID, key), nil
}

func entryFromRow(row store.Row) Entry {
	e := Entry{
		Scope:     Scope(row.String("scope")),
		Key:       row.String("key"),
		Value:     Unescape(row.String("value")),
		UpdatedBy: row.String("updated_by"),
		UpdatedAt: time.UnixMilli(row.Int("updated_at")),
	}
	if !row.IsNull("previous") {
		e.Previous = Unescape(row.String("previous"))
		e.HasPrevious = true
	}
	return e
}

// escapePath escapes sjson/gjson path metacharacters in a key.
func escapePath(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\', ':', '!', '=', '<', '>', '%':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
