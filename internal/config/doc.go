// Package config loads the host configuration.
//
// Configuration is read from a TOML file and then overridden from
// PHOBOS_* environment variables:
//
//	[host]
//	version = "1.4.0"
//
//	[store]
//	path = "/var/lib/phobos/phobos.db"
//
//	[plugins]
//	paths = ["/opt/phobos/plugins"]
//	watch = true
//	script_timeout = "5s"
//
//	[trust]
//	system_grants = ["com.example.settings"]
//
//	[trust.tokens]
//	"com.example.settings" = "s3cret"
//
//	[[hotkeys.binding]]
//	id = "open-mail"
//	combo = "ctrl+alt+m"
//	command = "open"
//	args = "mailto:"
//
//	[log]
//	level = "debug"
//
// Environment variables follow the section and field names, for example
// PHOBOS_STORE_PATH, PHOBOS_PLUGINS_PATHS (comma separated) and
// PHOBOS_TRUST_TOKENS ("id:token,id:token"). Hotkey bindings are only read
// from the file.
package config
