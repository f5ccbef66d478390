// Package plugin hosts Phobos plugins.
//
// A plugin is anything implementing Plugin. Most embed Base, which supplies
// success-returning lifecycle defaults and the capability-calling surface
// over a bound capability.Table:
//
//	type Clock struct {
//	    plugin.Base
//	}
//
//	func (c *Clock) Launch(ctx context.Context) capability.Result {
//	    return c.BootWithPhobos(ctx, "tick", boot.DefaultPriority, "")
//	}
//
// # Lifecycle
//
// The Manager drives plugins through these states:
//
//	Uninstalled -> Installed -> Running -> Closing -> Installed
//	Installed/Running -> Uninstalled
//
// Install runs exactly once per package id; the Manager persists installed
// packages and later starts skip straight to Launch. Update replaces a
// plugin with a newer build only when the version gate allows it.
//
// # Discovery
//
// The Loader scans plugin directories for plugin.json or plugin.yaml
// manifests. A Watcher re-runs discovery when those directories change.
//
//	~/.config/phobos/plugins/
//	└── clock/
//	    ├── plugin.yaml
//	    └── init.lua
package plugin
