// Package protocol tracks which plugins handle which URL schemes.
//
// Every plugin that links a scheme becomes a candidate handler for it. At
// most one candidate per scheme is the default. When another plugin links a
// scheme whose default it does not own, the default is kept but flagged as
// updated so the next dispatch asks the user to confirm it again.
package protocol

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/dshills/phobos/internal/logging"
	"github.com/dshills/phobos/internal/store"
)

// Errors returned by the registry.
var (
	// ErrEmptyScheme is returned when an association has no scheme.
	ErrEmptyScheme = errors.New("protocol: scheme cannot be empty")

	// ErrEmptyPackage is returned when an association has no package id.
	ErrEmptyPackage = errors.New("protocol: package id cannot be empty")

	// ErrNotLinked is returned when a package has no handler for a scheme.
	ErrNotLinked = errors.New("protocol: package has not linked scheme")

	// ErrNoScheme is returned for a URL without a scheme.
	ErrNoScheme = errors.New("protocol: url has no scheme")
)

// Association is a plugin's claim on a URL scheme.
type Association struct {
	Protocol    string
	PackageID   string
	Name        string
	Description string
	Command     string

	// Localized maps language tags to display names.
	Localized map[string]string
}

// Handler is one candidate handler row for a scheme.
type Handler struct {
	ID          string
	Protocol    string
	Name        string
	PackageID   string
	Description string
	Command     string
	UpdatedAt   time.Time

	// IsUpdated is set when the scheme's handler set changed after the
	// default was chosen.
	IsUpdated bool
	IsDefault bool
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS protocol_handlers (
		id          TEXT PRIMARY KEY,
		protocol    TEXT NOT NULL,
		name        TEXT NOT NULL DEFAULT '',
		package_id  TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		command     TEXT NOT NULL DEFAULT '',
		updated_at  INTEGER NOT NULL,
		is_updated  INTEGER NOT NULL DEFAULT 0,
		is_default  INTEGER NOT NULL DEFAULT 0,
		UNIQUE (protocol, package_id)
	)`,
	`CREATE TABLE IF NOT EXISTS link_associations (
		package_id  TEXT NOT NULL,
		protocol    TEXT NOT NULL,
		name        TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		command     TEXT NOT NULL DEFAULT '',
		localized   TEXT NOT NULL DEFAULT '{}',
		PRIMARY KEY (package_id, protocol)
	)`,
}

// Registry persists associations and handler rows.
type Registry struct {
	db    store.Store
	log   *logging.Logger
	now   func() time.Time
	newID func() string
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithIDGenerator overrides row id generation.
func WithIDGenerator(fn func() string) Option {
	return func(r *Registry) {
		r.newID = fn
	}
}

// New creates a registry and ensures its tables exist.
func New(ctx context.Context, db store.Store, opts ...Option) (*Registry, error) {
	r := &Registry{
		db:    db,
		log:   logging.Nop(),
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.WithComponent("protocol")

	if err := store.Migrate(ctx, db, "protocol_v1", schema...); err != nil {
		return nil, err
	}
	return r, nil
}

// NormalizeScheme lowercases s and strips a trailing ":" or "://".
func NormalizeScheme(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "://")
	s = strings.TrimSuffix(s, ":")
	return strings.ToLower(s)
}

// SchemeOf returns the scheme of rawURL: the text before the first colon,
// lowercased.
func SchemeOf(rawURL string) (string, error) {
	idx := strings.IndexByte(rawURL, ':')
	if idx <= 0 {
		return "", fmt.Errorf("%w: %q", ErrNoScheme, rawURL)
	}
	scheme := NormalizeScheme(rawURL[:idx])
	if scheme == "" {
		return "", fmt.Errorf("%w: %q", ErrNoScheme, rawURL)
	}
	return scheme, nil
}

// Link records a under its package id and upserts the handler row for
// (scheme, package id). Links from different packages for one scheme
// coexist as separate candidates.
func (r *Registry) Link(ctx context.Context, a Association) (Handler, error) {
	scheme := NormalizeScheme(a.Protocol)
	if scheme == "" {
		return Handler{}, ErrEmptyScheme
	}
	if a.PackageID == "" {
		return Handler{}, ErrEmptyPackage
	}

	localized, err := encodeLocalized(a.Localized)
	if err != nil {
		return Handler{}, fmt.Errorf("encode localized names: %w", err)
	}

	now := r.now()
	var h Handler
	err = store.WithTx(ctx, r.db, func(tx store.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO link_associations (package_id, protocol, name, description, command, localized)
			 VALUES (:pkg, :scheme, :name, :desc, :cmd, :loc)
			 ON CONFLICT (package_id, protocol) DO UPDATE SET
				name        = excluded.name,
				description = excluded.description,
				command     = excluded.command,
				localized   = excluded.localized`,
			store.Params{
				"pkg":    a.PackageID,
				"scheme": scheme,
				"name":   a.Name,
				"desc":   a.Description,
				"cmd":    a.Command,
				"loc":    localized,
			}); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO protocol_handlers (id, protocol, name, package_id, description, command, updated_at)
			 VALUES (:id, :scheme, :name, :pkg, :desc, :cmd, :at)
			 ON CONFLICT (protocol, package_id) DO UPDATE SET
				name        = excluded.name,
				description = excluded.description,
				command     = excluded.command,
				updated_at  = excluded.updated_at`,
			store.Params{
				"id":     r.newID(),
				"scheme": scheme,
				"name":   a.Name,
				"pkg":    a.PackageID,
				"desc":   a.Description,
				"cmd":    a.Command,
				"at":     now.UnixMilli(),
			}); err != nil {
			return err
		}

		// A default owned by another package goes stale.
		if _, err := tx.Exec(ctx,
			`UPDATE protocol_handlers SET is_updated = 1
			 WHERE protocol = :scheme
			   AND (is_default = 1 OR package_id = :pkg)
			   AND EXISTS (
				SELECT 1 FROM protocol_handlers
				WHERE protocol = :scheme AND is_default = 1 AND package_id <> :pkg)`,
			store.Params{"scheme": scheme, "pkg": a.PackageID}); err != nil {
			return err
		}

		rows, err := tx.Query(ctx,
			`SELECT * FROM protocol_handlers WHERE protocol = :scheme AND package_id = :pkg`,
			store.Params{"scheme": scheme, "pkg": a.PackageID})
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return fmt.Errorf("handler row for %s/%s missing after upsert", scheme, a.PackageID)
		}
		h = handlerFromRow(rows[0])
		return nil
	})
	if err != nil {
		return Handler{}, fmt.Errorf("link %s for %s: %w", scheme, a.PackageID, err)
	}

	r.log.Debug("scheme linked", "scheme", scheme, "package", a.PackageID, "stale", h.IsUpdated)
	return h, nil
}

// LinkDefault makes packageID's handler the default for scheme, clearing
// the default flag on every other handler for that scheme and the updated
// flag on the chosen one.
func (r *Registry) LinkDefault(ctx context.Context, scheme, packageID string) error {
	scheme = NormalizeScheme(scheme)
	if scheme == "" {
		return ErrEmptyScheme
	}
	if packageID == "" {
		return ErrEmptyPackage
	}

	err := store.WithTx(ctx, r.db, func(tx store.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT id FROM protocol_handlers WHERE protocol = :scheme AND package_id = :pkg`,
			store.Params{"scheme": scheme, "pkg": packageID})
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return ErrNotLinked
		}

		if _, err := tx.Exec(ctx,
			`UPDATE protocol_handlers
			 SET is_default = CASE WHEN package_id = :pkg THEN 1 ELSE 0 END
			 WHERE protocol = :scheme`,
			store.Params{"scheme": scheme, "pkg": packageID}); err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`UPDATE protocol_handlers SET is_updated = 0, updated_at = :at
			 WHERE protocol = :scheme AND package_id = :pkg`,
			store.Params{"scheme": scheme, "pkg": packageID, "at": r.now().UnixMilli()})
		return err
	})
	if err != nil {
		return fmt.Errorf("set default %s to %s: %w", scheme, packageID, err)
	}

	r.log.Info("default handler set", "scheme", scheme, "package", packageID)
	return nil
}

// Handlers returns the candidates for scheme, default first, then by name.
func (r *Registry) Handlers(ctx context.Context, scheme string) ([]Handler, error) {
	rows, err := r.db.Query(ctx,
		`SELECT * FROM protocol_handlers WHERE protocol = :scheme
		 ORDER BY is_default DESC, name, package_id`,
		store.Params{"scheme": NormalizeScheme(scheme)})
	if err != nil {
		return nil, fmt.Errorf("list handlers for %s: %w", scheme, err)
	}

	out := make([]Handler, 0, len(rows))
	for _, row := range rows {
		out = append(out, handlerFromRow(row))
	}
	return out, nil
}

// Default returns the default handler for scheme, if one is set.
func (r *Registry) Default(ctx context.Context, scheme string) (Handler, bool, error) {
	rows, err := r.db.Query(ctx,
		`SELECT * FROM protocol_handlers WHERE protocol = :scheme AND is_default = 1`,
		store.Params{"scheme": NormalizeScheme(scheme)})
	if err != nil {
		return Handler{}, false, fmt.Errorf("default for %s: %w", scheme, err)
	}
	if len(rows) == 0 {
		return Handler{}, false, nil
	}
	return handlerFromRow(rows[0]), true, nil
}

// Schemes returns every scheme with at least one handler.
func (r *Registry) Schemes(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT DISTINCT protocol FROM protocol_handlers ORDER BY protocol`, nil)
	if err != nil {
		return nil, fmt.Errorf("list schemes: %w", err)
	}
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.String("protocol"))
	}
	return out, nil
}

// Association returns the association packageID recorded for scheme.
func (r *Registry) Association(ctx context.Context, packageID, scheme string) (Association, bool, error) {
	rows, err := r.db.Query(ctx,
		`SELECT * FROM link_associations WHERE package_id = :pkg AND protocol = :scheme`,
		store.Params{"pkg": packageID, "scheme": NormalizeScheme(scheme)})
	if err != nil {
		return Association{}, false, fmt.Errorf("association %s/%s: %w", packageID, scheme, err)
	}
	if len(rows) == 0 {
		return Association{}, false, nil
	}

	row := rows[0]
	return Association{
		Protocol:    row.String("protocol"),
		PackageID:   row.String("package_id"),
		Name:        row.String("name"),
		Description: row.String("description"),
		Command:     row.String("command"),
		Localized:   decodeLocalized(row.String("localized")),
	}, true, nil
}

// Unlink removes every association and handler row owned by packageID.
// Returns the number of handler rows removed.
func (r *Registry) Unlink(ctx context.Context, packageID string) (int64, error) {
	if packageID == "" {
		return 0, ErrEmptyPackage
	}

	var n int64
	err := store.WithTx(ctx, r.db, func(tx store.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM link_associations WHERE package_id = :pkg`,
			store.Params{"pkg": packageID}); err != nil {
			return err
		}
		var err error
		n, err = tx.Exec(ctx,
			`DELETE FROM protocol_handlers WHERE package_id = :pkg`,
			store.Params{"pkg": packageID})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("unlink %s: %w", packageID, err)
	}
	return n, nil
}

func handlerFromRow(row store.Row) Handler {
	return Handler{
		ID:          row.String("id"),
		Protocol:    row.String("protocol"),
		Name:        row.String("name"),
		PackageID:   row.String("package_id"),
		Description: row.String("description"),
		Command:     row.String("command"),
		UpdatedAt:   time.UnixMilli(row.Int("updated_at")),
		IsUpdated:   row.Bool("is_updated"),
		IsDefault:   row.Bool("is_default"),
	}
}

func encodeLocalized(m map[string]string) (string, error) {
	doc := "{}"
	for lang, name := range m {
		var err error
		if doc, err = sjson.Set(doc, escapePath(lang), name); err != nil {
			return "", err
		}
	}
	return doc, nil
}

func decodeLocalized(doc string) map[string]string {
	out := make(map[string]string)
	gjson.Parse(doc).ForEach(func(k, v gjson.Result) bool {
		out[k.String()] = v.String()
		return true
	})
	return out
}

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
