package event

import "testing"

func TestTopicMatches(t *testing.T) {
	tests := []struct {
		topic   Topic
		pattern Topic
		want    bool
	}{
		{"plugin.installed", "plugin.installed", true},
		{"plugin.installed", "plugin.*", true},
		{"plugin.installed", "*.installed", true},
		{"plugin.installed", "plugin", false},
		{"plugin.installed", "plugin.*.x", false},
		{"protocol.default.changed", "protocol.*", false},
		{"protocol.default.changed", "protocol.**", true},
		{"protocol", "protocol.**", true},
		{"a.b.c.d", "a.**.d", true},
		{"a.d", "a.**.d", true},
		{"a.b.c", "**", true},
		{"a.b.c", "a.**.x", false},
	}

	for _, tt := range tests {
		if got := tt.topic.Matches(tt.pattern); got != tt.want {
			t.Errorf("%q.Matches(%q) = %v, want %v", tt.topic, tt.pattern, got, tt.want)
		}
	}
}

func TestTopicValid(t *testing.T) {
	tests := []struct {
		topic Topic
		want  bool
	}{
		{"plugin.installed", true},
		{"single", true},
		{"", false},
		{"a..b", false},
		{".a", false},
		{"a.", false},
	}

	for _, tt := range tests {
		if got := tt.topic.Valid(); got != tt.want {
			t.Errorf("%q.Valid() = %v, want %v", tt.topic, got, tt.want)
		}
	}
}

func TestTopicIsPattern(t *testing.T) {
	if !Topic("plugin.*").IsPattern() {
		t.Error("plugin.* should be a pattern")
	}
	if !Topic("**").IsPattern() {
		t.Error("** should be a pattern")
	}
	if Topic("plugin.installed").IsPattern() {
		t.Error("plugin.installed should not be a pattern")
	}
}
