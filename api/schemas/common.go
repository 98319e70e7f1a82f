package schemas

import (
	"strings"
)

// -- Common Schemas --

// KeyEventData represents a structured key event, including the main key and active modifiers.
type KeyEventData struct {
	// Key is the primary key pressed (e.g., "a", "Enter", "Tab").
	Key string `json:"key"`
	// Modifiers is a bitmask of active modifiers.
	Modifiers KeyModifier `json:"modifiers,omitempty"`
}

// KeyModifier represents keyboard modifiers (Ctrl, Alt, Shift, Meta).
// These values correspond directly to the CDP input.DispatchKeyEvent modifiers bitfield.
type KeyModifier int

const (
	ModNone  KeyModifier = 0
	ModAlt   KeyModifier = 1 // Corresponds to CDP modifier 1
	ModCtrl  KeyModifier = 2 // Corresponds to CDP modifier 2
	ModMeta  KeyModifier = 4 // Corresponds to CDP modifier 4
	ModShift KeyModifier = 8 // Corresponds to CDP modifier 8
)

var modifierNames = map[string]KeyModifier{
	"alt":     ModAlt,
	"option":  ModAlt,
	"ctrl":    ModCtrl,
	"control": ModCtrl,
	"meta":    ModMeta,
	"cmd":     ModMeta,
	"command": ModMeta,
	"shift":   ModShift,
}

// ParseKeyCombo turns "Ctrl+Shift+a" or a recorded keys slice such as
// ["Control", "Enter"] into a KeyEventData. The last non-modifier token wins.
func ParseKeyCombo(keys ...string) KeyEventData {
	var data KeyEventData
	for _, raw := range keys {
		for _, token := range strings.Split(raw, "+") {
			token = strings.TrimSpace(token)
			if token == "" {
				continue
			}
			if mod, ok := modifierNames[strings.ToLower(token)]; ok {
				data.Modifiers |= mod
				continue
			}
			data.Key = token
		}
	}
	return data
}
