package key

import (
	"fmt"
	"strings"
)

// VirtualKey is a platform virtual-key code in the Windows VK_* numbering.
type VirtualKey uint16

// VKNone represents no key.
const VKNone VirtualKey = 0

// Special keys
const (
	VKBackspace   VirtualKey = 0x08
	VKTab         VirtualKey = 0x09
	VKEnter       VirtualKey = 0x0D
	VKPause       VirtualKey = 0x13
	VKCapsLock    VirtualKey = 0x14
	VKEscape      VirtualKey = 0x1B
	VKSpace       VirtualKey = 0x20
	VKPageUp      VirtualKey = 0x21
	VKPageDown    VirtualKey = 0x22
	VKEnd         VirtualKey = 0x23
	VKHome        VirtualKey = 0x24
	VKLeft        VirtualKey = 0x25
	VKUp          VirtualKey = 0x26
	VKRight       VirtualKey = 0x27
	VKDown        VirtualKey = 0x28
	VKPrintScreen VirtualKey = 0x2C
	VKInsert      VirtualKey = 0x2D
	VKDelete      VirtualKey = 0x2E
	VKNumLock     VirtualKey = 0x90
	VKScrollLock  VirtualKey = 0x91
)

// Ranges
const (
	VK0   VirtualKey = 0x30
	VK9   VirtualKey = 0x39
	VKA   VirtualKey = 0x41
	VKZ   VirtualKey = 0x5A
	VKF1  VirtualKey = 0x70
	VKF24 VirtualKey = 0x87
)

// Keypad keys
const (
	VKNumpad0  VirtualKey = 0x60
	VKNumpad9  VirtualKey = 0x69
	VKMultiply VirtualKey = 0x6A
	VKAdd      VirtualKey = 0x6B
	VKSubtract VirtualKey = 0x6D
	VKDecimal  VirtualKey = 0x6E
	VKDivide   VirtualKey = 0x6F
)

// Function returns the code for function key n (1..24), or VKNone.
func Function(n int) VirtualKey {
	if n < 1 || n > 24 {
		return VKNone
	}
	return VKF1 + VirtualKey(n-1)
}

// Letter returns the code for an ASCII letter, or VKNone.
func Letter(r rune) VirtualKey {
	switch {
	case r >= 'a' && r <= 'z':
		return VKA + VirtualKey(r-'a')
	case r >= 'A' && r <= 'Z':
		return VKA + VirtualKey(r-'A')
	}
	return VKNone
}

// Digit returns the code for an ASCII digit on the main row, or VKNone.
func Digit(r rune) VirtualKey {
	if r >= '0' && r <= '9' {
		return VK0 + VirtualKey(r-'0')
	}
	return VKNone
}

var keyNames = map[VirtualKey]string{
	VKBackspace:   "Backspace",
	VKTab:         "Tab",
	VKEnter:       "Enter",
	VKPause:       "Pause",
	VKCapsLock:    "CapsLock",
	VKEscape:      "Esc",
	VKSpace:       "Space",
	VKPageUp:      "PgUp",
	VKPageDown:    "PgDn",
	VKEnd:         "End",
	VKHome:        "Home",
	VKLeft:        "Left",
	VKUp:          "Up",
	VKRight:       "Right",
	VKDown:        "Down",
	VKPrintScreen: "PrintScreen",
	VKInsert:      "Insert",
	VKDelete:      "Delete",
	VKNumLock:     "NumLock",
	VKScrollLock:  "ScrollLock",
	VKMultiply:    "NumMultiply",
	VKAdd:         "NumAdd",
	VKSubtract:    "NumSubtract",
	VKDecimal:     "NumDecimal",
	VKDivide:      "NumDivide",
}

// String returns the display name of the key.
func (k VirtualKey) String() string {
	if name, ok := keyNames[k]; ok {
		return name
	}
	switch {
	case k >= VKA && k <= VKZ:
		return string(rune('A' + (k - VKA)))
	case k >= VK0 && k <= VK9:
		return string(rune('0' + (k - VK0)))
	case k >= VKF1 && k <= VKF24:
		return fmt.Sprintf("F%d", int(k-VKF1)+1)
	case k >= VKNumpad0 && k <= VKNumpad9:
		return fmt.Sprintf("Num%d", int(k-VKNumpad0))
	case k == VKNone:
		return "None"
	}
	return fmt.Sprintf("VK(0x%02X)", uint16(k))
}

// IsFunctionKey returns true for F1 through F24.
func (k VirtualKey) IsFunctionKey() bool {
	return k >= VKF1 && k <= VKF24
}

// IsLetter returns true for A through Z.
func (k VirtualKey) IsLetter() bool {
	return k >= VKA && k <= VKZ
}

// IsDigit returns true for the main-row digits.
func (k VirtualKey) IsDigit() bool {
	return k >= VK0 && k <= VK9
}

// IsArrowKey returns true for the four arrow keys.
func (k VirtualKey) IsArrowKey() bool {
	return k >= VKLeft && k <= VKDown
}

// IsNavigationKey returns true for arrows, Home, End, PgUp and PgDn.
func (k VirtualKey) IsNavigationKey() bool {
	return k >= VKPageUp && k <= VKDown
}

// nameToKey maps lowercase key names and aliases to codes.
var nameToKey = map[string]VirtualKey{
	"backspace":   VKBackspace,
	"bs":          VKBackspace,
	"tab":         VKTab,
	"enter":       VKEnter,
	"return":      VKEnter,
	"cr":          VKEnter,
	"pause":       VKPause,
	"break":       VKPause,
	"capslock":    VKCapsLock,
	"esc":         VKEscape,
	"escape":      VKEscape,
	"space":       VKSpace,
	"spacebar":    VKSpace,
	"pgup":        VKPageUp,
	"pageup":      VKPageUp,
	"pgdn":        VKPageDown,
	"pagedown":    VKPageDown,
	"end":         VKEnd,
	"home":        VKHome,
	"left":        VKLeft,
	"up":          VKUp,
	"right":       VKRight,
	"down":        VKDown,
	"printscreen": VKPrintScreen,
	"prtsc":       VKPrintScreen,
	"print":       VKPrintScreen,
	"insert":      VKInsert,
	"ins":         VKInsert,
	"delete":      VKDelete,
	"del":         VKDelete,
	"numlock":     VKNumLock,
	"scrolllock":  VKScrollLock,
	"nummultiply": VKMultiply,
	"numadd":      VKAdd,
	"numsubtract": VKSubtract,
	"numdecimal":  VKDecimal,
	"numdivide":   VKDivide,
}

// KeyFromName returns the VirtualKey for a name (case-insensitive).
// Accepts single letters and digits, "F1".."F24", "Num0".."Num9" and the
// special key names. Returns VKNone if the name is not recognized.
func KeyFromName(name string) VirtualKey {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return VKNone
	}
	if k, ok := nameToKey[name]; ok {
		return k
	}

	runes := []rune(name)
	if len(runes) == 1 {
		if k := Letter(runes[0]); k != VKNone {
			return k
		}
		return Digit(runes[0])
	}

	var n int
	if strings.HasPrefix(name, "f") {
		if _, err := fmt.Sscanf(name, "f%d", &n); err == nil && fmt.Sprintf("f%d", n) == name {
			return Function(n)
		}
	}
	if strings.HasPrefix(name, "num") {
		if _, err := fmt.Sscanf(name, "num%d", &n); err == nil && n >= 0 && n <= 9 && len(name) == 4 {
			return VKNumpad0 + VirtualKey(n)
		}
	}
	return VKNone
}
