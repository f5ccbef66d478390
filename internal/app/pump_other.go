//go:build !windows

package app

import "github.com/dshills/phobos/internal/hotkey"

// SystemPump reports hotkey.ErrUnsupported; use TerminalPump.
func SystemPump() (Pump, error) {
	return nil, hotkey.ErrUnsupported
}
