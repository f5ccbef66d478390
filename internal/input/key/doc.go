// Package key defines keyboard combinations for global shortcuts.
//
// A Combo pairs a Modifier set with a primary VirtualKey. Virtual-key codes
// follow the Windows VK_* numbering so they can be handed to the OS
// unchanged; other platforms translate them at the binder.
//
// # Combo Specifications
//
// Combos can be written in two formats:
//
//   - Plus style: "Ctrl+Alt+T", "Shift+F5", "Win+Space"
//   - Vim style: "<C-A-t>", "<S-F5>", "<D-Space>"
//
// Parsing is case-insensitive and tolerates spaces around "+", so the
// display form "Ctrl + Alt + T" parses back to the same Combo.
package key
