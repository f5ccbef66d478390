// Package capability is the single path from plugins to host services.
//
// The host builds one Table per plugin with Router.Bind. Every call through
// the table is stamped with a fresh CallerContext derived from the plugin's
// bound metadata, never from values the plugin passes, and is then
// delegated to the settings store, the protocol registry or the boot
// registry. Calls never panic and never return Go errors: the outcome is
// always a Result, with a Kind describing the failure.
//
// # Trust
//
// Trust is decided once, at bind time: a plugin is trusted when its
// manifest secret matches the token configured for its package id.
// Trusted callers may read and write other packages' configuration and
// system configuration. Untrusted callers may only touch their own keys,
// plus system configuration when the host grants it explicitly.
package capability
