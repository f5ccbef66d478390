package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"

	"github.com/dshills/phobos/internal/input/key"
	"github.com/dshills/phobos/internal/logging"
	"github.com/dshills/phobos/internal/plugin/manifest"
	"github.com/dshills/phobos/internal/plugin/security"
	"github.com/dshills/phobos/internal/version"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PHOBOS"

// Resource profiles for untrusted plugins.
const (
	LimitsDefault = "default"
	LimitsStrict  = "strict"
)

// Config is the host configuration.
type Config struct {
	Host    HostConfig    `toml:"host"`
	Store   StoreConfig   `toml:"store"`
	Plugins PluginsConfig `toml:"plugins"`
	Trust   TrustConfig   `toml:"trust"`
	Hotkeys HotkeysConfig `toml:"hotkeys"`
	Log     LogConfig     `toml:"log"`
}

// HostConfig describes the host itself.
type HostConfig struct {
	// Version is reported to plugins through RequestPhobos.
	Version string `toml:"version"`
}

// StoreConfig locates the database.
type StoreConfig struct {
	// Path is the SQLite file. ":memory:" keeps everything in memory.
	Path string `toml:"path"`
}

// PluginsConfig controls discovery and the Lua runtime.
type PluginsConfig struct {
	// Paths are searched in order. Empty means the default paths.
	Paths []string `toml:"paths"`

	// Watch re-discovers plugins when their directories change.
	Watch bool `toml:"watch"`

	// ScriptTimeout bounds each call into a Lua plugin.
	ScriptTimeout string `toml:"script_timeout" split_words:"true"`

	// Limits is the resource profile for untrusted plugins: "default" or
	// "strict". Trusted plugins always run with relaxed limits.
	Limits string `toml:"limits"`

	// RequestRate caps capability calls per second for each untrusted
	// plugin. Zero disables the cap.
	RequestRate int `toml:"request_rate" split_words:"true"`
}

// TrustConfig decides which plugins are trusted.
type TrustConfig struct {
	// Tokens maps package ids to the secret their manifest must carry.
	Tokens map[string]string `toml:"tokens"`

	// SystemGrants lists package ids allowed into system configuration
	// without being trusted.
	SystemGrants []string `toml:"system_grants" split_words:"true"`
}

// HotkeysConfig binds global hotkeys to host commands.
type HotkeysConfig struct {
	// Terminal captures hotkeys from the terminal instead of the OS.
	Terminal bool `toml:"terminal"`

	Bindings []HotkeyBinding `toml:"binding" ignored:"true"`
}

// HotkeyBinding runs Command with Args when Combo is pressed.
type HotkeyBinding struct {
	ID      string `toml:"id"`
	Combo   string `toml:"combo"`
	Command string `toml:"command"`
	Args    string `toml:"args"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Host: HostConfig{
			Version: "0.1.0",
		},
		Store: StoreConfig{
			Path: filepath.Join(defaultDataDir(), "phobos.db"),
		},
		Plugins: PluginsConfig{
			Watch:         true,
			ScriptTimeout: "5s",
			Limits:        LimitsDefault,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns the default configuration file location.
func DefaultPath() string {
	return filepath.Join(defaultDataDir(), "config.toml")
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "phobos")
	}
	return ".phobos"
}

// Load reads path over the defaults and applies environment overrides.
// A missing file is not an error unless required is set.
func Load(path string, required bool) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			if required {
				return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
			}
		case err != nil:
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		default:
			if err := cfg.decode(path, data); err != nil {
				return nil, err
			}
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes TOML data over the defaults without environment
// overrides.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decode("<data>", data); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(source string, data []byte) error {
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(c); err != nil {
		pe := &ParseError{Path: source, Message: err.Error(), Err: err}
		var de *toml.DecodeError
		if errors.As(err, &de) {
			pe.Line, pe.Column = de.Position()
		}
		return pe
	}
	return nil
}

// ApplyEnv overrides fields from PHOBOS_* environment variables. Unset
// variables leave the current value alone.
func (c *Config) ApplyEnv() error {
	if err := envconfig.Process(EnvPrefix, c); err != nil {
		return fmt.Errorf("environment overrides: %w", err)
	}
	return nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	var errs []error

	if !version.Valid(c.Host.Version) {
		errs = append(errs, &ValidationError{Field: "host.version", Message: fmt.Sprintf("invalid version %q", c.Host.Version)})
	}
	if strings.TrimSpace(c.Store.Path) == "" {
		errs = append(errs, &ValidationError{Field: "store.path", Message: "cannot be empty"})
	}
	if d, err := time.ParseDuration(c.Plugins.ScriptTimeout); err != nil || d < 0 {
		errs = append(errs, &ValidationError{Field: "plugins.script_timeout", Message: fmt.Sprintf("invalid duration %q", c.Plugins.ScriptTimeout)})
	}
	switch c.Plugins.Limits {
	case "", LimitsDefault, LimitsStrict:
	default:
		errs = append(errs, &ValidationError{Field: "plugins.limits", Message: fmt.Sprintf("unknown profile %q", c.Plugins.Limits)})
	}
	if c.Plugins.RequestRate < 0 {
		errs = append(errs, &ValidationError{Field: "plugins.request_rate", Message: "cannot be negative"})
	}

	for id, token := range c.Trust.Tokens {
		if !manifest.ValidPackageID(id) {
			errs = append(errs, &ValidationError{Field: "trust.tokens", Message: fmt.Sprintf("invalid package id %q", id)})
		}
		if token == "" {
			errs = append(errs, &ValidationError{Field: "trust.tokens", Message: fmt.Sprintf("empty token for %q", id)})
		}
	}
	for _, id := range c.Trust.SystemGrants {
		if !manifest.ValidPackageID(id) {
			errs = append(errs, &ValidationError{Field: "trust.system_grants", Message: fmt.Sprintf("invalid package id %q", id)})
		}
	}

	seen := make(map[string]bool, len(c.Hotkeys.Bindings))
	for i, b := range c.Hotkeys.Bindings {
		field := fmt.Sprintf("hotkeys.binding[%d]", i)
		if b.ID == "" {
			errs = append(errs, &ValidationError{Field: field, Message: "id cannot be empty"})
		} else if seen[b.ID] {
			errs = append(errs, &ValidationError{Field: field, Message: fmt.Sprintf("duplicate id %q", b.ID)})
		}
		seen[b.ID] = true
		if b.Command == "" {
			errs = append(errs, &ValidationError{Field: field, Message: "command cannot be empty"})
		}
		if _, err := key.Parse(b.Combo); err != nil {
			errs = append(errs, &ValidationError{Field: field, Message: err.Error()})
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, &ValidationError{Field: "log.level", Message: fmt.Sprintf("unknown level %q", c.Log.Level)})
	}

	return errors.Join(errs...)
}

// ScriptTimeout returns the parsed Lua call deadline.
func (c *Config) ScriptTimeout() time.Duration {
	d, err := time.ParseDuration(c.Plugins.ScriptTimeout)
	if err != nil {
		return 0
	}
	return d
}

// PluginLimits returns the resource limits for a plugin, with the
// configured script timeout applied.
func (c *Config) PluginLimits(trusted bool) security.Limits {
	var l security.Limits
	switch {
	case trusted:
		l = security.RelaxedLimits()
	case c.Plugins.Limits == LimitsStrict:
		l = security.StrictLimits()
	default:
		l = security.DefaultLimits()
	}
	l.RequestsPerSecond = c.Plugins.RequestRate
	return l.WithTimeout(c.ScriptTimeout())
}

// SystemGrants returns the grant list as a set.
func (c *Config) SystemGrants() map[string]bool {
	out := make(map[string]bool, len(c.Trust.SystemGrants))
	for _, id := range c.Trust.SystemGrants {
		out[id] = true
	}
	return out
}

// Logging returns the logger configuration.
func (c *Config) Logging() logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = logging.ParseLevel(c.Log.Level)
	lc.Development = c.Log.Development
	lc.Name = "phobos"
	return lc
}

// Marshal encodes the configuration as TOML.
func (c *Config) Marshal() ([]byte, error) {
	return toml.Marshal(c)
}
