package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/dshills/phobos/internal/plugin/manifest"
)

// Loader discovers plugins on the filesystem.
type Loader struct {
	mu sync.Mutex

	// Search paths for plugins (checked in order)
	paths []string

	// Discovered plugins by package id
	discovered map[string]*Info
}

// Info contains discovery information about a plugin directory.
type Info struct {
	Dir      string
	Manifest *manifest.Metadata
	Error    error
}

// PackageID returns the manifest's package id, or "" when the manifest
// failed to load.
func (i *Info) PackageID() string {
	if i.Manifest == nil {
		return ""
	}
	return i.Manifest.PackageID
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithPaths sets the plugin search paths.
func WithPaths(paths ...string) LoaderOption {
	return func(l *Loader) {
		l.paths = paths
	}
}

// NewLoader creates a new plugin loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		paths:      DefaultPluginPaths(),
		discovered: make(map[string]*Info),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// DefaultPluginPaths returns the default plugin search paths.
func DefaultPluginPaths() []string {
	paths := make([]string, 0, 2)

	// User plugins: ~/.config/phobos/plugins/
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "phobos", "plugins"))
	}

	// Project plugins: .phobos/plugins/
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".phobos", "plugins"))
	}

	return paths
}

// Paths returns the configured search paths.
func (l *Loader) Paths() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.paths))
	copy(out, l.paths)
	return out
}

// AddPath adds a search path.
func (l *Loader) AddPath(path string) {
	l.mu.Lock()
	l.paths = append(l.paths, path)
	l.mu.Unlock()
}

// Discover scans the search paths. Valid plugins are returned sorted by
// package id; directories with bad manifests are returned separately. The
// first path to provide a package id wins.
func (l *Loader) Discover() (valid []*Info, invalid []*Info, err error) {
	paths := l.Paths()
	found := make(map[string]*Info)

	for _, basePath := range paths {
		bad, err := discoverInPath(basePath, found)
		if err != nil {
			return nil, nil, err
		}
		invalid = append(invalid, bad...)
	}

	valid = make([]*Info, 0, len(found))
	for _, info := range found {
		valid = append(valid, info)
	}
	sort.Slice(valid, func(i, j int) bool {
		return valid[i].PackageID() < valid[j].PackageID()
	})

	l.mu.Lock()
	l.discovered = found
	l.mu.Unlock()

	return valid, invalid, nil
}

// discoverInPath inspects every directory under basePath.
func discoverInPath(basePath string, found map[string]*Info) ([]*Info, error) {
	entries, err := os.ReadDir(basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // Not an error if path doesn't exist
		}
		return nil, fmt.Errorf("scan %s: %w", basePath, err)
	}

	var invalid []*Info
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		info := Inspect(filepath.Join(basePath, entry.Name()))
		if info.Error != nil {
			invalid = append(invalid, info)
			continue
		}
		if _, exists := found[info.PackageID()]; !exists {
			found[info.PackageID()] = info
		}
	}
	return invalid, nil
}

// Inspect loads and validates the plugin in dir.
func Inspect(dir string) *Info {
	info := &Info{Dir: dir}

	m, err := manifest.LoadDir(dir)
	if err != nil {
		info.Error = fmt.Errorf("invalid plugin %s: %w", dir, err)
		return info
	}
	info.Manifest = m

	if _, err := os.Stat(m.MainPath()); err != nil {
		info.Error = fmt.Errorf("invalid plugin %s: entry point %s: %w", dir, m.Main, err)
	}
	return info
}

// Get returns a discovered plugin by package id.
func (l *Loader) Get(packageID string) (*Info, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	info, ok := l.discovered[packageID]
	return info, ok
}

// Find returns the discovered plugin for packageID, running discovery
// first if it has not been seen.
func (l *Loader) Find(packageID string) (*Info, error) {
	if info, ok := l.Get(packageID); ok {
		return info, nil
	}
	if _, _, err := l.Discover(); err != nil {
		return nil, err
	}
	if info, ok := l.Get(packageID); ok {
		return info, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrPluginNotFound, packageID)
}

// Count returns the number of discovered plugins.
func (l *Loader) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.discovered)
}
