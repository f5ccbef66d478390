//go:build windows

package app

import "github.com/dshills/phobos/internal/hotkey"

// SystemPump returns the OS-level hotkey pump.
func SystemPump() (Pump, error) {
	return hotkey.NewThreadPump(), nil
}
