package key

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVirtualKeyCodes(t *testing.T) {
	tests := []struct {
		key  VirtualKey
		code uint16
	}{
		{VKA, 0x41},
		{VKZ, 0x5A},
		{VK0, 0x30},
		{VK9, 0x39},
		{VKF1, 0x70},
		{VKF24, 0x87},
		{VKSpace, 0x20},
		{VKEnter, 0x0D},
		{VKTab, 0x09},
		{VKEscape, 0x1B},
		{VKLeft, 0x25},
		{VKDown, 0x28},
		{VKHome, 0x24},
		{VKEnd, 0x23},
		{VKPageUp, 0x21},
		{VKPageDown, 0x22},
		{VKInsert, 0x2D},
		{VKDelete, 0x2E},
		{VKBackspace, 0x08},
		{VKPause, 0x13},
		{VKPrintScreen, 0x2C},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.code, uint16(tt.key), tt.key.String())
	}
}

func TestVirtualKeyString(t *testing.T) {
	tests := []struct {
		key  VirtualKey
		want string
	}{
		{Letter('t'), "T"},
		{Digit('7'), "7"},
		{Function(12), "F12"},
		{Function(24), "F24"},
		{VKNumpad0 + 3, "Num3"},
		{VKSpace, "Space"},
		{VKPageDown, "PgDn"},
		{VKNone, "None"},
		{VirtualKey(0xFF), "VK(0xFF)"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.key.String())
	}
}

func TestKeyFromName(t *testing.T) {
	tests := []struct {
		name string
		want VirtualKey
	}{
		{"t", VKA + 19},
		{"T", VKA + 19},
		{"5", VK0 + 5},
		{"f5", Function(5)},
		{"F24", VKF24},
		{"F25", VKNone},
		{"f05", VKNone},
		{"Esc", VKEscape},
		{"escape", VKEscape},
		{"Return", VKEnter},
		{"PgUp", VKPageUp},
		{"num4", VKNumpad0 + 4},
		{"numadd", VKAdd},
		{"bogus", VKNone},
		{"", VKNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KeyFromName(tt.name))
		})
	}
}

func TestKeyClassification(t *testing.T) {
	assert.True(t, VKF1.IsFunctionKey())
	assert.False(t, VKA.IsFunctionKey())
	assert.True(t, Letter('q').IsLetter())
	assert.True(t, VK0.IsDigit())
	assert.True(t, VKUp.IsArrowKey())
	assert.False(t, VKHome.IsArrowKey())
	assert.True(t, VKHome.IsNavigationKey())
	assert.False(t, VKInsert.IsNavigationKey())
}

func TestFunctionOutOfRange(t *testing.T) {
	assert.Equal(t, VKNone, Function(0))
	assert.Equal(t, VKNone, Function(25))
	assert.Equal(t, VKNone, Letter('!'))
	assert.Equal(t, VKNone, Digit('x'))
}
