package hotkey

import "errors"

// WMHotkey is the notification message posted when a bound combination fires.
// The fired numeric id travels in wParam.
const WMHotkey uint32 = 0x0312

// Errors reported by binders and windows.
var (
	// ErrAlreadyOwned indicates the combination is held by someone else.
	ErrAlreadyOwned = errors.New("hotkey combination already owned")

	// ErrNotBound indicates an unbind for an id that holds no binding.
	ErrNotBound = errors.New("hotkey id not bound")

	// ErrUnsupported indicates the platform has no global hotkey primitive.
	ErrUnsupported = errors.New("global hotkeys not supported on this platform")

	// ErrNoWindow indicates a nil window was supplied.
	ErrNoWindow = errors.New("hotkey window is nil")
)

// MessageHook receives messages from a window's message loop and reports
// whether the message was handled.
type MessageHook func(msg uint32, wParam, lParam uintptr) bool

// Window is the single owner of the message pump hotkey notifications
// arrive on.
type Window interface {
	// Handle returns the value passed to the binder as the window handle.
	Handle() uintptr

	// SetHook installs h into the message loop. A nil h removes the hook.
	SetHook(h MessageHook)
}

// Binder binds modifier+key combinations at the OS level.
type Binder interface {
	// Bind asks the OS to post WMHotkey with id to window when the
	// combination fires. mods is an OS modifier mask.
	Bind(window uintptr, id int, mods uint32, vk uint32) error

	// Unbind releases the binding for id.
	Unbind(window uintptr, id int) error
}
