// Package hotkey owns the process-wide table of global keyboard shortcuts.
//
// A Registry is bound to exactly one Window, whose message pump delivers
// WMHotkey notifications carrying the numeric id assigned at registration.
// The OS side of a binding goes through a Binder: SystemBinder calls the
// platform primitives directly, while TerminalWindow acts as both window
// and binder for hosts running inside a terminal.
//
// Only the goroutine running the window's message pump should receive
// notifications. Registry methods may be called from any goroutine.
package hotkey
