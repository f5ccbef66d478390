package security

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidLimits is returned by Limits.Validate.
var ErrInvalidLimits = errors.New("invalid resource limits")

// Limits defines resource limits for a plugin.
type Limits struct {
	// Maximum execution time per call into the interpreter. Zero disables
	// the deadline.
	ExecutionTimeout time.Duration

	// Lua call stack depth.
	CallStackSize int

	// Upper bound for the Lua registry (value stack) size. Zero leaves the
	// registry fixed at its initial size.
	RegistryMaxSize int

	// Capability calls per second. Zero means unlimited.
	RequestsPerSecond int
}

// DefaultLimits returns the limits applied to ordinary plugins.
func DefaultLimits() Limits {
	return Limits{
		ExecutionTimeout:  5 * time.Second,
		CallStackSize:     256,
		RegistryMaxSize:   256 * 1024,
		RequestsPerSecond: 0,
	}
}

// StrictLimits returns tighter limits for plugins that should be kept on
// a short leash.
func StrictLimits() Limits {
	return Limits{
		ExecutionTimeout:  2 * time.Second,
		CallStackSize:     128,
		RegistryMaxSize:   64 * 1024,
		RequestsPerSecond: 50,
	}
}

// RelaxedLimits returns limits for trusted plugins.
func RelaxedLimits() Limits {
	return Limits{
		ExecutionTimeout:  30 * time.Second,
		CallStackSize:     1024,
		RegistryMaxSize:   1024 * 1024,
		RequestsPerSecond: 0,
	}
}

// WithTimeout returns a copy of l with the execution timeout replaced.
func (l Limits) WithTimeout(d time.Duration) Limits {
	l.ExecutionTimeout = d
	return l
}

// Validate reports negative or inconsistent values.
func (l Limits) Validate() error {
	switch {
	case l.ExecutionTimeout < 0:
		return fmt.Errorf("%w: negative execution timeout", ErrInvalidLimits)
	case l.CallStackSize < 0:
		return fmt.Errorf("%w: negative call stack size", ErrInvalidLimits)
	case l.RegistryMaxSize < 0:
		return fmt.Errorf("%w: negative registry size", ErrInvalidLimits)
	case l.RequestsPerSecond < 0:
		return fmt.Errorf("%w: negative request rate", ErrInvalidLimits)
	}
	return nil
}
