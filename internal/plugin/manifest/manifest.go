// Package manifest describes plugins: identity, version, dependencies and
// localized display strings, loaded from plugin.json or plugin.yaml.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dshills/phobos/internal/version"
)

// Manifest file names, checked in order.
var FileNames = []string{"plugin.json", "plugin.yaml", "plugin.yml"}

// DefaultMain is the entry point used when a manifest names none.
const DefaultMain = "init.lua"

// Dependency is a minimum-version requirement on another plugin.
type Dependency struct {
	PackageID  string `json:"packageId" yaml:"packageId"`
	MinVersion string `json:"minVersion" yaml:"minVersion"`
	Optional   bool   `json:"optional" yaml:"optional"`
}

// Metadata is the immutable description of a plugin.
type Metadata struct {
	// Identity
	Name         string `json:"name" yaml:"name"`
	PackageID    string `json:"packageId" yaml:"packageId"`
	Manufacturer string `json:"manufacturer" yaml:"manufacturer"`
	Version      string `json:"version" yaml:"version"`
	Description  string `json:"description" yaml:"description"`

	// Secret is the capability token presented at bind time.
	Secret string `json:"secret" yaml:"secret"`

	// DatabaseKey prefixes the plugin's stored keys. Defaults to PackageID
	// and must otherwise be a dotted child of it.
	DatabaseKey string `json:"databaseKey" yaml:"databaseKey"`

	// Main is the entry point relative to the plugin directory.
	Main string `json:"main" yaml:"main"`

	Dependencies []Dependency `json:"dependencies" yaml:"dependencies"`

	// Language tag → string.
	LocalizedNames        map[string]string `json:"localizedNames" yaml:"localizedNames"`
	LocalizedDescriptions map[string]string `json:"localizedDescriptions" yaml:"localizedDescriptions"`

	path string
}

// Validation errors.
var (
	ErrMissingName        = errors.New("manifest: name is required")
	ErrMissingPackageID   = errors.New("manifest: packageId is required")
	ErrInvalidPackageID   = errors.New("manifest: packageId must be a dotted reverse-domain identifier")
	ErrInvalidVersion     = errors.New("manifest: version must be major.minor.patch[-tag number]")
	ErrInvalidMain        = errors.New("manifest: main must be a .lua file")
	ErrInvalidDatabaseKey = errors.New("manifest: databaseKey must be the packageId or a dotted child of it")
	ErrInvalidDependency  = errors.New("manifest: invalid dependency")
	ErrNoManifest         = errors.New("manifest: no plugin.json or plugin.yaml found")
	ErrUnknownFormat      = errors.New("manifest: unknown file format")
)

// packageIDPattern validates reverse-domain package ids: at least two labels.
var packageIDPattern = regexp.MustCompile(`^(?i)[a-z0-9][a-z0-9-]*(\.[a-z0-9][a-z0-9-]*)+$`)

// ValidPackageID reports whether id is a well-formed package id.
func ValidPackageID(id string) bool {
	return packageIDPattern.MatchString(id)
}

// ValidDatabaseKey reports whether key may hold the stored data of
// packageID: the package id itself, or the package id followed by more
// dotted labels.
func ValidDatabaseKey(packageID, key string) bool {
	if key == packageID {
		return true
	}
	return strings.HasPrefix(key, packageID+".") && ValidPackageID(key)
}

// Format is a manifest encoding.
type Format int

// Manifest encodings.
const (
	FormatJSON Format = iota
	FormatYAML
)

// FormatFor returns the format implied by a file name.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}
}

// Parse decodes and validates a manifest.
func Parse(data []byte, f Format) (*Metadata, error) {
	var m Metadata
	var err error
	switch f {
	case FormatJSON:
		err = json.Unmarshal(data, &m)
	case FormatYAML:
		err = yaml.Unmarshal(data, &m)
	default:
		err = ErrUnknownFormat
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	m.applyDefaults()
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Load loads and validates a manifest file.
func Load(path string) (*Metadata, error) {
	f, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	m, err := Parse(data, f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.path = filepath.Dir(path)
	return m, nil
}

// LoadDir loads the manifest in a plugin directory.
func LoadDir(dir string) (*Metadata, error) {
	for _, name := range FileNames {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return Load(p)
		}
	}
	return nil, fmt.Errorf("%w in %s", ErrNoManifest, dir)
}

func (m *Metadata) applyDefaults() {
	if m.Main == "" {
		m.Main = DefaultMain
	}
	if m.DatabaseKey == "" {
		m.DatabaseKey = m.PackageID
	}
}

// Validate checks required fields and formats.
func (m *Metadata) Validate() error {
	if m.Name == "" {
		return ErrMissingName
	}
	if m.PackageID == "" {
		return ErrMissingPackageID
	}
	if !ValidPackageID(m.PackageID) {
		return fmt.Errorf("%w: %s", ErrInvalidPackageID, m.PackageID)
	}
	if !version.Valid(m.Version) {
		return fmt.Errorf("%w: %q", ErrInvalidVersion, m.Version)
	}
	if m.DatabaseKey != "" && !ValidDatabaseKey(m.PackageID, m.DatabaseKey) {
		return fmt.Errorf("%w: %s", ErrInvalidDatabaseKey, m.DatabaseKey)
	}
	if m.Main != "" && filepath.Ext(m.Main) != ".lua" {
		return fmt.Errorf("%w: %s", ErrInvalidMain, m.Main)
	}

	for i, d := range m.Dependencies {
		if !ValidPackageID(d.PackageID) {
			return fmt.Errorf("%w at index %d: packageId %q", ErrInvalidDependency, i, d.PackageID)
		}
		if d.PackageID == m.PackageID {
			return fmt.Errorf("%w at index %d: depends on itself", ErrInvalidDependency, i)
		}
		if d.MinVersion != "" && !version.Valid(d.MinVersion) {
			return fmt.Errorf("%w at index %d: minVersion %q", ErrInvalidDependency, i, d.MinVersion)
		}
	}
	return nil
}

// Namespace returns the key under which the plugin's data is stored. A
// database key that does not belong to the package is ignored.
func (m *Metadata) Namespace() string {
	if m.DatabaseKey == "" || !ValidDatabaseKey(m.PackageID, m.DatabaseKey) {
		return m.PackageID
	}
	return m.DatabaseKey
}

// Path returns the plugin directory, or "" for in-memory manifests.
func (m *Metadata) Path() string {
	return m.path
}

// SetPath sets the plugin directory.
func (m *Metadata) SetPath(dir string) {
	m.path = dir
}

// MainPath returns the full path to the entry point.
func (m *Metadata) MainPath() string {
	return filepath.Join(m.path, m.Main)
}

// String returns a string representation of the manifest.
func (m *Metadata) String() string {
	return fmt.Sprintf("%s (%s) v%s", m.Name, m.PackageID, m.Version)
}

// Clone creates a deep copy of the manifest.
func (m *Metadata) Clone() *Metadata {
	clone := *m

	if m.Dependencies != nil {
		clone.Dependencies = make([]Dependency, len(m.Dependencies))
		copy(clone.Dependencies, m.Dependencies)
	}
	clone.LocalizedNames = cloneMap(m.LocalizedNames)
	clone.LocalizedDescriptions = cloneMap(m.LocalizedDescriptions)
	return &clone
}

func cloneMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
