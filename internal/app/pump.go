package app

import (
	"context"

	"github.com/dshills/phobos/internal/hotkey"
)

// Pump owns the hotkey message loop. It is both the window the registry
// binds to and the binder it binds with.
type Pump interface {
	hotkey.Window
	hotkey.Binder

	// Run pumps messages until ctx is done.
	Run(ctx context.Context) error
}

// TerminalPump captures hotkeys from the controlling terminal.
func TerminalPump() (Pump, error) {
	w, err := hotkey.NewTerminal()
	if err != nil {
		return nil, err
	}
	if err := w.Init(); err != nil {
		return nil, err
	}
	return w, nil
}
