package key

import "strings"

// Modifier represents keyboard modifier keys.
type Modifier uint8

const (
	// ModNone indicates no modifiers.
	ModNone Modifier = 0

	// ModShift indicates the Shift key.
	ModShift Modifier = 1 << iota

	// ModCtrl indicates the Control key.
	ModCtrl

	// ModAlt indicates the Alt key (Option on macOS).
	ModAlt

	// ModWin indicates the Windows key (Cmd on macOS, Super on Linux).
	ModWin
)

// OS modifier mask bits as used by RegisterHotKey.
const (
	maskAlt      uint32 = 0x0001
	maskControl  uint32 = 0x0002
	maskShift    uint32 = 0x0004
	maskWin      uint32 = 0x0008
	MaskNoRepeat uint32 = 0x4000
)

// Has returns true if m contains the specified modifier.
func (m Modifier) Has(mod Modifier) bool {
	return m&mod != 0
}

// HasShift returns true if Shift is pressed.
func (m Modifier) HasShift() bool {
	return m.Has(ModShift)
}

// HasCtrl returns true if Control is pressed.
func (m Modifier) HasCtrl() bool {
	return m.Has(ModCtrl)
}

// HasAlt returns true if Alt is pressed.
func (m Modifier) HasAlt() bool {
	return m.Has(ModAlt)
}

// HasWin returns true if the Windows/Super key is pressed.
func (m Modifier) HasWin() bool {
	return m.Has(ModWin)
}

// With returns a new Modifier with the specified modifier added.
func (m Modifier) With(mod Modifier) Modifier {
	return m | mod
}

// Without returns a new Modifier with the specified modifier removed.
func (m Modifier) Without(mod Modifier) Modifier {
	return m &^ mod
}

// IsEmpty returns true if no modifiers are set.
func (m Modifier) IsEmpty() bool {
	return m == ModNone
}

// Names returns the modifier names in display order: Ctrl, Alt, Shift, Win.
func (m Modifier) Names() []string {
	var parts []string
	if m.HasCtrl() {
		parts = append(parts, "Ctrl")
	}
	if m.HasAlt() {
		parts = append(parts, "Alt")
	}
	if m.HasShift() {
		parts = append(parts, "Shift")
	}
	if m.HasWin() {
		parts = append(parts, "Win")
	}
	return parts
}

// String returns a compact representation like "Ctrl+Alt".
func (m Modifier) String() string {
	return strings.Join(m.Names(), "+")
}

// Mask returns the OS modifier bitmask (MOD_ALT, MOD_CONTROL, ...).
func (m Modifier) Mask() uint32 {
	var mask uint32
	if m.HasAlt() {
		mask |= maskAlt
	}
	if m.HasCtrl() {
		mask |= maskControl
	}
	if m.HasShift() {
		mask |= maskShift
	}
	if m.HasWin() {
		mask |= maskWin
	}
	return mask
}

// ModifierFromMask converts an OS modifier bitmask back to a Modifier.
// MaskNoRepeat and unknown bits are ignored.
func ModifierFromMask(mask uint32) Modifier {
	var m Modifier
	if mask&maskAlt != 0 {
		m |= ModAlt
	}
	if mask&maskControl != 0 {
		m |= ModCtrl
	}
	if mask&maskShift != 0 {
		m |= ModShift
	}
	if mask&maskWin != 0 {
		m |= ModWin
	}
	return m
}

// modifierNameMap maps modifier names (lowercase) to Modifier values.
var modifierNameMap = map[string]Modifier{
	"ctrl":    ModCtrl,
	"control": ModCtrl,
	"c":       ModCtrl,
	"alt":     ModAlt,
	"a":       ModAlt,
	"option":  ModAlt,
	"opt":     ModAlt,
	"shift":   ModShift,
	"s":       ModShift,
	"win":     ModWin,
	"windows": ModWin,
	"meta":    ModWin,
	"m":       ModWin,
	"cmd":     ModWin,
	"command": ModWin,
	"super":   ModWin,
	"d":       ModWin, // Vim uses D for command/meta
}

// ModifierFromName returns the Modifier for a given name (case-insensitive).
// Returns ModNone if the name is not recognized.
func ModifierFromName(name string) Modifier {
	if m, ok := modifierNameMap[strings.ToLower(strings.TrimSpace(name))]; ok {
		return m
	}
	return ModNone
}
