package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/phobos/internal/logging"
	"github.com/dshills/phobos/internal/plugin/security"
)

const sample = `
[host]
version = "1.4.0"

[store]
path = ":memory:"

[plugins]
paths = ["/opt/phobos/plugins", "/home/me/plugins"]
watch = false
script_timeout = "250ms"

[trust]
system_grants = ["com.example.settings"]

[trust.tokens]
"com.example.settings" = "s3cret"

[[hotkeys.binding]]
id = "open-mail"
combo = "ctrl+alt+m"
command = "open"
args = "mailto:"

[log]
level = "debug"
development = true
`

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5*time.Second, cfg.ScriptTimeout())
	assert.True(t, cfg.Plugins.Watch)
	assert.NotEmpty(t, cfg.Store.Path)
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "1.4.0", cfg.Host.Version)
	assert.Equal(t, ":memory:", cfg.Store.Path)
	assert.Equal(t, []string{"/opt/phobos/plugins", "/home/me/plugins"}, cfg.Plugins.Paths)
	assert.False(t, cfg.Plugins.Watch)
	assert.Equal(t, 250*time.Millisecond, cfg.ScriptTimeout())
	assert.Equal(t, map[string]string{"com.example.settings": "s3cret"}, cfg.Trust.Tokens)
	assert.Equal(t, map[string]bool{"com.example.settings": true}, cfg.SystemGrants())
	require.Len(t, cfg.Hotkeys.Bindings, 1)
	assert.Equal(t, HotkeyBinding{ID: "open-mail", Combo: "ctrl+alt+m", Command: "open", Args: "mailto:"}, cfg.Hotkeys.Bindings[0])

	lc := cfg.Logging()
	assert.Equal(t, logging.LevelDebug, lc.Level)
	assert.True(t, lc.Development)
}

func TestParseKeepsDefaultsForMissingSections(t *testing.T) {
	cfg, err := Parse([]byte(`[log]
level = "warn"`))
	require.NoError(t, err)
	assert.Equal(t, Default().Host.Version, cfg.Host.Version)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]byte(`[host
version = 1`))
	var pe *ParseError
	assert.ErrorAs(t, err, &pe)

	_, err = Parse([]byte(`[host]
colour = "blue"`))
	assert.ErrorAs(t, err, &pe)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad version", func(c *Config) { c.Host.Version = "one" }, "host.version"},
		{"empty store", func(c *Config) { c.Store.Path = " " }, "store.path"},
		{"bad timeout", func(c *Config) { c.Plugins.ScriptTimeout = "soon" }, "plugins.script_timeout"},
		{"bad token id", func(c *Config) { c.Trust.Tokens = map[string]string{"nodots": "x"} }, "trust.tokens"},
		{"empty token", func(c *Config) { c.Trust.Tokens = map[string]string{"com.a.b": ""} }, "trust.tokens"},
		{"bad grant", func(c *Config) { c.Trust.SystemGrants = []string{"Bad Id"} }, "trust.system_grants"},
		{"bad combo", func(c *Config) {
			c.Hotkeys.Bindings = []HotkeyBinding{{ID: "x", Combo: "ctrl+", Command: "open"}}
		}, "hotkeys.binding[0]"},
		{"duplicate hotkey", func(c *Config) {
			c.Hotkeys.Bindings = []HotkeyBinding{
				{ID: "x", Combo: "ctrl+a", Command: "open"},
				{ID: "x", Combo: "ctrl+b", Command: "open"},
			}
		}, "hotkeys.binding[1]"},
		{"missing command", func(c *Config) {
			c.Hotkeys.Bindings = []HotkeyBinding{{ID: "x", Combo: "ctrl+a"}}
		}, "hotkeys.binding[0]"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad limits", func(c *Config) { c.Plugins.Limits = "none" }, "plugins.limits"},
		{"negative rate", func(c *Config) { c.Plugins.RequestRate = -1 }, "plugins.request_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidationFailed)

			var ve *ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	t.Setenv("PHOBOS_STORE_PATH", "/tmp/override.db")
	t.Setenv("PHOBOS_PLUGINS_SCRIPT_TIMEOUT", "2s")
	t.Setenv("PHOBOS_TRUST_TOKENS", "com.example.a:tok-a,com.example.b:tok-b")
	t.Setenv("PHOBOS_LOG_LEVEL", "error")

	cfg, err := Load(path, true)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/override.db", cfg.Store.Path)
	assert.Equal(t, 2*time.Second, cfg.ScriptTimeout())
	assert.Equal(t, map[string]string{"com.example.a": "tok-a", "com.example.b": "tok-b"}, cfg.Trust.Tokens)
	assert.Equal(t, "error", cfg.Log.Level)

	// Untouched by the environment.
	assert.Equal(t, "1.4.0", cfg.Host.Version)
	assert.Len(t, cfg.Hotkeys.Bindings, 1)
}

func TestLoadMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.toml")

	cfg, err := Load(path, false)
	require.NoError(t, err)
	assert.Equal(t, Default().Host.Version, cfg.Host.Version)

	_, err = Load(path, true)
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	data, err := cfg.Marshal()
	require.NoError(t, err)

	again, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestPluginLimits(t *testing.T) {
	cfg := Default()
	cfg.Plugins.ScriptTimeout = "750ms"
	cfg.Plugins.RequestRate = 20

	l := cfg.PluginLimits(false)
	assert.Equal(t, 750*time.Millisecond, l.ExecutionTimeout)
	assert.Equal(t, 20, l.RequestsPerSecond)
	assert.Equal(t, security.DefaultLimits().CallStackSize, l.CallStackSize)

	cfg.Plugins.Limits = LimitsStrict
	assert.Equal(t, security.StrictLimits().CallStackSize, cfg.PluginLimits(false).CallStackSize)
	assert.Equal(t, security.RelaxedLimits().CallStackSize, cfg.PluginLimits(true).CallStackSize)
}
