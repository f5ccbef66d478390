package key

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestParse(t *testing.T) {
	tests := []struct {
		spec string
		want Combo
	}{
		{"Ctrl+Alt+T", Combo{ModCtrl | ModAlt, Letter('t')}},
		{"ctrl+alt+t", Combo{ModCtrl | ModAlt, Letter('t')}},
		{"Ctrl + Alt + T", Combo{ModCtrl | ModAlt, Letter('t')}},
		{"Shift+F5", Combo{ModShift, Function(5)}},
		{"Win+E", Combo{ModWin, Letter('e')}},
		{"Cmd+Space", Combo{ModWin, VKSpace}},
		{"F12", Combo{ModNone, Function(12)}},
		{"<C-A-t>", Combo{ModCtrl | ModAlt, Letter('t')}},
		{"<S-F5>", Combo{ModShift, Function(5)}},
		{"<D-Space>", Combo{ModWin, VKSpace}},
		{"<Esc>", Combo{ModNone, VKEscape}},
		{"Alt+PrintScreen", Combo{ModAlt, VKPrintScreen}},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := Parse(tt.spec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		spec string
		err  error
	}{
		{"", ErrEmptySpec},
		{"   ", ErrEmptySpec},
		{"Ctrl+Alt", ErrNoKey},
		{"Ctrl+", ErrNoKey},
		{"Hyper+T", ErrInvalidSpec},
		{"Ctrl+Bogus", ErrInvalidSpec},
		{"<>", ErrInvalidSpec},
		{"<X-t>", ErrInvalidSpec},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			_, err := Parse(tt.spec)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestComboDisplay(t *testing.T) {
	c := MustParse("alt+ctrl+t")
	assert.Equal(t, "Ctrl + Alt + T", c.String())
	assert.Equal(t, "Ctrl+Alt+T", c.Spec())
	assert.False(t, c.IsZero())
	assert.True(t, Combo{}.IsZero())

	assert.Panics(t, func() { MustParse("Ctrl+") })
}

func TestNormalizeSpec(t *testing.T) {
	got, err := NormalizeSpec("<c-s-p>")
	require.NoError(t, err)
	assert.Equal(t, "Ctrl+Shift+P", got)

	_, err = NormalizeSpec("nope+x")
	assert.Error(t, err)
}

func TestDisplayRoundTrip(t *testing.T) {
	keys := []VirtualKey{
		Letter('a'), Letter('z'), Digit('0'), Function(1), Function(24),
		VKSpace, VKEnter, VKTab, VKEscape, VKUp, VKHome, VKPageDown,
		VKInsert, VKDelete, VKBackspace, VKPause, VKPrintScreen,
		VKNumpad0 + 5, VKAdd, VKDivide,
	}
	rapid.Check(t, func(t *rapid.T) {
		c := Combo{
			Mods: Modifier(rapid.IntRange(0, 15).Draw(t, "mods")) << 1,
			Key:  rapid.SampledFrom(keys).Draw(t, "key"),
		}
		got, err := Parse(c.String())
		if err != nil {
			t.Fatalf("Parse(%q): %v", c.String(), err)
		}
		if got != c {
			t.Fatalf("Parse(%q) = %+v, want %+v", c.String(), got, c)
		}
	})
}
