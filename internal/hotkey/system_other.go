//go:build !windows

package hotkey

// SystemBinder reports ErrUnsupported on platforms without a global hotkey
// primitive. Use TerminalWindow instead.
type SystemBinder struct{}

// Bind always fails.
func (SystemBinder) Bind(uintptr, int, uint32, uint32) error {
	return ErrUnsupported
}

// Unbind always fails.
func (SystemBinder) Unbind(uintptr, int) error {
	return ErrUnsupported
}
