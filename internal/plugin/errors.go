package plugin

import "errors"

// Plugin system errors.
var (
	// ErrPluginNotFound is returned when a plugin cannot be located.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrNilPlugin is returned when a nil plugin or manifest is provided.
	ErrNilPlugin = errors.New("plugin is nil")

	// ErrInvalidPlugin is returned when a plugin's metadata fails validation.
	ErrInvalidPlugin = errors.New("invalid plugin")

	// ErrAlreadyLoaded is returned when a package id is already loaded.
	ErrAlreadyLoaded = errors.New("plugin is already loaded")

	// ErrNamespaceInUse is returned when a plugin's database key is already
	// used by another loaded plugin.
	ErrNamespaceInUse = errors.New("plugin database key is already in use")

	// ErrNotRunning is returned when a running plugin is required.
	ErrNotRunning = errors.New("plugin is not running")

	// ErrInvalidTransition is returned for a lifecycle move the state
	// machine does not allow.
	ErrInvalidTransition = errors.New("invalid plugin state transition")

	// ErrDependencyNotFound is returned when a required dependency is missing.
	ErrDependencyNotFound = errors.New("plugin dependency not found")

	// ErrDependencyVersion is returned when a loaded dependency is older
	// than the required minimum.
	ErrDependencyVersion = errors.New("plugin dependency version too old")

	// ErrCyclicDependency is returned when plugins have circular dependencies.
	ErrCyclicDependency = errors.New("cyclic plugin dependency detected")

	// ErrUpdateDenied is returned when the version gate refuses an update.
	ErrUpdateDenied = errors.New("plugin update denied by version gate")

	// ErrLifecycle is returned when a lifecycle call reports failure.
	ErrLifecycle = errors.New("plugin lifecycle call failed")

	// ErrNoFactory is returned when discovered plugins cannot be
	// instantiated because no factory is configured.
	ErrNoFactory = errors.New("no plugin factory configured")
)
