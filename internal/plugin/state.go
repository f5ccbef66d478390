package plugin

// State represents the lifecycle state of a plugin.
type State int

// Plugin states.
const (
	// StateUninstalled - Plugin is known but not installed.
	StateUninstalled State = iota

	// StateInstalled - Plugin is installed and idle.
	StateInstalled

	// StateRunning - Plugin has launched.
	StateRunning

	// StateClosing - Plugin is shutting down.
	StateClosing
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateUninstalled:
		return "uninstalled"
	case StateInstalled:
		return "installed"
	case StateRunning:
		return "running"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

var transitions = map[State][]State{
	StateUninstalled: {StateInstalled},
	StateInstalled:   {StateRunning, StateUninstalled},
	StateRunning:     {StateClosing, StateUninstalled},
	StateClosing:     {StateInstalled},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanUpdate reports whether a plugin in state s may be updated.
func (s State) CanUpdate() bool {
	return s == StateInstalled || s == StateRunning
}
