package key

import (
	"errors"
	"fmt"
	"strings"
)

// Parse errors
var (
	ErrEmptySpec   = errors.New("empty key specification")
	ErrInvalidSpec = errors.New("invalid key specification")
	ErrNoKey       = errors.New("key specification has no primary key")
)

// DisplaySeparator joins the parts of a combo's display string.
const DisplaySeparator = " + "

// Combo is a modifier set plus one primary key.
type Combo struct {
	Mods Modifier
	Key  VirtualKey
}

// NewCombo creates a Combo.
func NewCombo(mods Modifier, k VirtualKey) Combo {
	return Combo{Mods: mods, Key: k}
}

// IsZero returns true if the combo has no primary key.
func (c Combo) IsZero() bool {
	return c.Key == VKNone
}

// Parts returns the modifier names followed by the key name.
func (c Combo) Parts() []string {
	return append(c.Mods.Names(), c.Key.String())
}

// String returns the display form, e.g. "Ctrl + Alt + T".
func (c Combo) String() string {
	return strings.Join(c.Parts(), DisplaySeparator)
}

// Spec returns the compact form, e.g. "Ctrl+Alt+T".
func (c Combo) Spec() string {
	return strings.Join(c.Parts(), "+")
}

// Parse parses a key specification string into a Combo.
//
// Supported formats:
//   - Key names: "T", "F5", "Space", "PrintScreen"
//   - With modifiers: "Ctrl+Alt+T", "Ctrl + Shift + P", "Win+E"
//   - Vim-style: "<C-A-t>", "<S-F5>", "<D-Space>", "<Esc>"
func Parse(spec string) (Combo, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return Combo{}, ErrEmptySpec
	}

	// Check for Vim-style <...> notation
	if strings.HasPrefix(spec, "<") && strings.HasSuffix(spec, ">") {
		return parseVimStyle(spec[1 : len(spec)-1])
	}

	return parseModifierStyle(spec)
}

// parseVimStyle parses notation like "C-A-t" or "Esc".
func parseVimStyle(inner string) (Combo, error) {
	inner = strings.TrimSpace(inner)
	if inner == "" {
		return Combo{}, ErrInvalidSpec
	}

	parts := strings.Split(inner, "-")
	keyPart := parts[len(parts)-1]

	var mods Modifier
	for _, p := range parts[:len(parts)-1] {
		p = strings.ToLower(strings.TrimSpace(p))
		if len(p) != 1 {
			return Combo{}, fmt.Errorf("%w: unknown modifier %q", ErrInvalidSpec, p)
		}
		mod := ModifierFromName(p)
		if mod == ModNone {
			return Combo{}, fmt.Errorf("%w: unknown modifier %q", ErrInvalidSpec, p)
		}
		mods = mods.With(mod)
	}

	return parseKeyWithModifiers(keyPart, mods)
}

// parseModifierStyle parses "Ctrl+Alt+T" style notation.
func parseModifierStyle(spec string) (Combo, error) {
	idx := strings.LastIndex(spec, "+")
	if idx < 0 {
		return parseKeyWithModifiers(spec, ModNone)
	}
	keyPart := spec[idx+1:]
	rest := spec[:idx]

	var mods Modifier
	if strings.TrimSpace(rest) != "" {
		for _, p := range strings.Split(rest, "+") {
			p = strings.TrimSpace(p)
			mod := ModifierFromName(p)
			if mod == ModNone {
				return Combo{}, fmt.Errorf("%w: unknown modifier %q", ErrInvalidSpec, p)
			}
			mods = mods.With(mod)
		}
	}

	return parseKeyWithModifiers(keyPart, mods)
}

// parseKeyWithModifiers resolves the primary key.
func parseKeyWithModifiers(keyPart string, mods Modifier) (Combo, error) {
	keyPart = strings.TrimSpace(keyPart)
	if keyPart == "" {
		return Combo{}, ErrNoKey
	}

	k := KeyFromName(keyPart)
	if k == VKNone {
		// A modifier name in key position means the combo is incomplete.
		if ModifierFromName(keyPart) != ModNone {
			return Combo{}, fmt.Errorf("%w: %q", ErrNoKey, keyPart)
		}
		return Combo{}, fmt.Errorf("%w: unknown key %q", ErrInvalidSpec, keyPart)
	}
	return Combo{Mods: mods, Key: k}, nil
}

// MustParse is like Parse but panics on error.
// Use only for static key specifications known to be valid.
func MustParse(spec string) Combo {
	c, err := Parse(spec)
	if err != nil {
		panic(fmt.Sprintf("key.MustParse(%q): %v", spec, err))
	}
	return c
}

// NormalizeSpec parses and re-formats a specification in compact form.
func NormalizeSpec(spec string) (string, error) {
	c, err := Parse(spec)
	if err != nil {
		return "", err
	}
	return c.Spec(), nil
}
