package plugin

import (
	"context"
	"fmt"
	"time"

	"github.com/dshills/phobos/internal/store"
)

// Install is a persisted record of an installed package.
type Install struct {
	PackageID   string
	Version     string
	InstalledAt time.Time
	UpdatedAt   time.Time
}

var installSchema = []string{
	`CREATE TABLE IF NOT EXISTS plugins (
		package_id   TEXT PRIMARY KEY,
		version      TEXT NOT NULL,
		installed_at INTEGER NOT NULL,
		updated_at   INTEGER NOT NULL
	)`,
}

// Installs records which packages have run their install step.
type Installs struct {
	db  store.Store
	now func() time.Time
}

// NewInstalls creates the install registry over db.
func NewInstalls(ctx context.Context, db store.Store, now func() time.Time) (*Installs, error) {
	if now == nil {
		now = time.Now
	}
	if err := store.Migrate(ctx, db, "plugins_v1", installSchema...); err != nil {
		return nil, err
	}
	return &Installs{db: db, now: now}, nil
}

// Get returns the record for packageID.
func (s *Installs) Get(ctx context.Context, packageID string) (Install, bool, error) {
	rows, err := s.db.Query(ctx,
		`SELECT * FROM plugins WHERE package_id = :pkg`,
		store.Params{"pkg": packageID})
	if err != nil {
		return Install{}, false, fmt.Errorf("lookup install %s: %w", packageID, err)
	}
	if len(rows) == 0 {
		return Install{}, false, nil
	}
	return installFromRow(rows[0]), true, nil
}

// Put records packageID at version, keeping the original install time.
func (s *Installs) Put(ctx context.Context, packageID, version string) error {
	at := s.now().UnixMilli()
	_, err := s.db.Exec(ctx,
		`INSERT INTO plugins (package_id, version, installed_at, updated_at)
		 VALUES (:pkg, :ver, :at, :at)
		 ON CONFLICT (package_id) DO UPDATE SET
			version    = excluded.version,
			updated_at = excluded.updated_at`,
		store.Params{"pkg": packageID, "ver": version, "at": at})
	if err != nil {
		return fmt.Errorf("record install %s: %w", packageID, err)
	}
	return nil
}

// Delete removes packageID's record.
func (s *Installs) Delete(ctx context.Context, packageID string) error {
	if _, err := s.db.Exec(ctx,
		`DELETE FROM plugins WHERE package_id = :pkg`,
		store.Params{"pkg": packageID}); err != nil {
		return fmt.Errorf("remove install %s: %w", packageID, err)
	}
	return nil
}

// List returns every record ordered by package id.
func (s *Installs) List(ctx context.Context) ([]Install, error) {
	rows, err := s.db.Query(ctx, `SELECT * FROM plugins ORDER BY package_id`, nil)
	if err != nil {
		return nil, fmt.Errorf("list installs: %w", err)
	}
	out := make([]Install, 0, len(rows))
	for _, row := range rows {
		out = append(out, installFromRow(row))
	}
	return out, nil
}

func installFromRow(row store.Row) Install {
	return Install{
		PackageID:   row.String("package_id"),
		Version:     row.String("version"),
		InstalledAt: time.UnixMilli(row.Int("installed_at")),
		UpdatedAt:   time.UnixMilli(row.Int("updated_at")),
	}
}
