package app

import (
	"errors"
	"fmt"
)

// Application errors.
var (
	// ErrAlreadyRunning indicates Run was called twice.
	ErrAlreadyRunning = errors.New("application already running")

	// ErrUnknownCommand indicates a command that no host handler or plugin
	// answers.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrReentrant indicates a plugin asked the host to dispatch a URL back
	// to itself.
	ErrReentrant = errors.New("dispatch back to calling plugin")

	// ErrClosed indicates the application was shut down.
	ErrClosed = errors.New("application closed")
)

// InitError reports which component failed to start.
type InitError struct {
	Component string
	Err       error
}

func (e *InitError) Error() string {
	return "init " + e.Component + ": " + e.Err.Error()
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// DispatchError wraps a failed URL dispatch.
type DispatchError struct {
	URL       string
	PackageID string
	Err       error
}

func (e *DispatchError) Error() string {
	if e.PackageID == "" {
		return fmt.Sprintf("dispatch %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("dispatch %s to %s: %v", e.URL, e.PackageID, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}
