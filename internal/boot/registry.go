// Package boot keeps the commands plugins want run when the host starts.
//
// Items run in ascending priority; items with equal priority run in the
// order they were registered. A failing item never stops the items after it.
package boot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/dshills/phobos/internal/logging"
	"github.com/dshills/phobos/internal/store"
)

// Errors returned by the registry.
var (
	// ErrEmptyPackage is returned when an item has no owning package.
	ErrEmptyPackage = errors.New("boot: package id cannot be empty")

	// ErrEmptyCommand is returned when an item has no command.
	ErrEmptyCommand = errors.New("boot: command cannot be empty")
)

// DefaultPriority is used by callers that do not care about ordering.
const DefaultPriority = 100

// Item is a command to run at startup.
type Item struct {
	ID        string
	PackageID string
	Command   string
	Priority  int

	// Args is the argument payload, usually a JSON document.
	Args      string
	CreatedAt time.Time

	// Seq is the registration order.
	Seq int64
}

// Arg looks up path in a JSON argument payload.
func (i Item) Arg(path string) gjson.Result {
	return gjson.Get(i.Args, path)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS boot_items (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		id         TEXT NOT NULL UNIQUE,
		package_id TEXT NOT NULL,
		command    TEXT NOT NULL,
		priority   INTEGER NOT NULL,
		args       TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS boot_items_order ON boot_items (priority, seq)`,
}

// Registry persists boot items.
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

// WithIDGenerator overrides item id generation.
func WithIDGenerator(fn func() string) Option {
	return func(r *Registry) {
		r.newID = fn
	}
}

// New creates a registry and ensures its table exists.
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
	r.log = r.log.WithComponent("boot")

	if err := store.Migrate(ctx, db, "boot_v1", schema...); err != nil {
		return nil, err
	}
	return r, nil
}

// Add registers a boot command for packageID.
func (r *Registry) Add(ctx context.Context, packageID, command string, priority int, args string) (Item, error) {
	if packageID == "" {
		return Item{}, ErrEmptyPackage
	}
	if command == "" {
		return Item{}, ErrEmptyCommand
	}

	item := Item{
		ID:        r.newID(),
		PackageID: packageID,
		Command:   command,
		Priority:  priority,
		Args:      args,
		CreatedAt: r.now(),
	}
	if _, err := r.db.Exec(ctx,
		`INSERT INTO boot_items (id, package_id, command, priority, args, created_at)
		 VALUES (:id, :pkg, :cmd, :prio, :args, :at)`,
		store.Params{
			"id":   item.ID,
			"pkg":  item.PackageID,
			"cmd":  item.Command,
			"prio": item.Priority,
			"args": item.Args,
			"at":   item.CreatedAt.UnixMilli(),
		}); err != nil {
		return Item{}, fmt.Errorf("add boot item for %s: %w", packageID, err)
	}

	r.log.Debug("boot item added", "package", packageID, "id", item.ID, "priority", priority)
	return item, nil
}

// Remove deletes packageID's item with the given id. An empty id removes
// all of packageID's items. Returns the number of items removed.
func (r *Registry) Remove(ctx context.Context, packageID, id string) (int64, error) {
	if packageID == "" {
		return 0, ErrEmptyPackage
	}
	if id == "" {
		return r.RemoveAll(ctx, packageID)
	}

	n, err := r.db.Exec(ctx,
		`DELETE FROM boot_items WHERE package_id = :pkg AND id = :id`,
		store.Params{"pkg": packageID, "id": id})
	if err != nil {
		return 0, fmt.Errorf("remove boot item %s: %w", id, err)
	}
	return n, nil
}

// RemoveAll deletes every item owned by packageID.
func (r *Registry) RemoveAll(ctx context.Context, packageID string) (int64, error) {
	if packageID == "" {
		return 0, ErrEmptyPackage
	}
	n, err := r.db.Exec(ctx,
		`DELETE FROM boot_items WHERE package_id = :pkg`,
		store.Params{"pkg": packageID})
	if err != nil {
		return 0, fmt.Errorf("remove boot items for %s: %w", packageID, err)
	}
	return n, nil
}

// Items returns packageID's items in run order.
func (r *Registry) Items(ctx context.Context, packageID string) ([]Item, error) {
	if packageID == "" {
		return nil, ErrEmptyPackage
	}
	return r.query(ctx,
		`SELECT * FROM boot_items WHERE package_id = :pkg ORDER BY priority, seq`,
		store.Params{"pkg": packageID})
}

// All returns every item in run order.
func (r *Registry) All(ctx context.Context) ([]Item, error) {
	return r.query(ctx, `SELECT * FROM boot_items ORDER BY priority, seq`, nil)
}

func (r *Registry) query(ctx context.Context, q string, params store.Params) ([]Item, error) {
	rows, err := r.db.Query(ctx, q, params)
	if err != nil {
		return nil, fmt.Errorf("list boot items: %w", err)
	}

	out := make([]Item, 0, len(rows))
	for _, row := range rows {
		out = append(out, Item{
			ID:        row.String("id"),
			PackageID: row.String("package_id"),
			Command:   row.String("command"),
			Priority:  int(row.Int("priority")),
			Args:      row.String("args"),
			CreatedAt: time.UnixMilli(row.Int("created_at")),
			Seq:       row.Int("seq"),
		})
	}
	return out, nil
}
