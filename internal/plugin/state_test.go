package plugin

import "testing"

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateUninstalled, "uninstalled"},
		{StateInstalled, "installed"},
		{StateRunning, "running"},
		{StateClosing, "closing"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateUninstalled, StateInstalled, true},
		{StateUninstalled, StateRunning, false},
		{StateInstalled, StateRunning, true},
		{StateInstalled, StateUninstalled, true},
		{StateRunning, StateClosing, true},
		{StateRunning, StateUninstalled, true},
		{StateRunning, StateInstalled, false},
		{StateClosing, StateInstalled, true},
		{StateClosing, StateRunning, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestCanUpdate(t *testing.T) {
	if !StateInstalled.CanUpdate() || !StateRunning.CanUpdate() {
		t.Error("installed and running plugins should be updatable")
	}
	if StateUninstalled.CanUpdate() || StateClosing.CanUpdate() {
		t.Error("uninstalled and closing plugins should not be updatable")
	}
}
