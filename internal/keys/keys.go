// Package keys parses key specs such as "cmd+shift+t".
package keys

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrInvalid is returned for key specs that cannot be pressed
var ErrInvalid = errors.New("invalid key spec")

// Combo is a parsed key spec such as "cmd+shift+t"
type Combo struct {
	Modifiers []string // normalized: meta, ctrl, alt, shift
	Key       string   // empty when only modifiers are tapped
}

func (k Combo) String() string {
	parts := append([]string(nil), k.Modifiers...)
	if k.Key != "" {
		parts = append(parts, k.Key)
	}
	return strings.Join(parts, "+")
}

var modifierAliases = map[string]string{
	"cmd": "meta", "command": "meta", "win": "meta", "meta": "meta", "super": "meta",
	"ctrl": "ctrl", "control": "ctrl",
	"alt": "alt", "option": "alt", "opt": "alt",
	"shift": "shift",
}

var specialAliases = map[string]string{
	"enter": "enter", "return": "enter",
	"space": "space",
	"tab":   "tab",
	"esc":   "escape", "escape": "escape",
	"backspace": "backspace",
	"delete":    "delete", "del": "delete",
	"up": "up", "arrowup": "up", "arrow_up": "up",
	"down": "down", "arrowdown": "down", "arrow_down": "down",
	"left": "left", "arrowleft": "left", "arrow_left": "left",
	"right": "right", "arrowright": "right", "arrow_right": "right",
	"home": "home", "end": "end",
	"page_up": "page_up", "pageup": "page_up", "pgup": "page_up",
	"page_down": "page_down", "pagedown": "page_down", "pgdn": "page_down",
	"insert": "insert",
	"f1":     "f1", "f2": "f2", "f3": "f3", "f4": "f4", "f5": "f5", "f6": "f6",
	"f7": "f7", "f8": "f8", "f9": "f9", "f10": "f10", "f11": "f11", "f12": "f12",
}

// Parse parses specs like "enter", "Cmd+Space" or "ctrl-c"
func Parse(spec string) (Combo, error) {
	spec = strings.ToLower(strings.TrimSpace(spec))
	if spec == "" {
		return Combo{}, fmt.Errorf("%w: empty", ErrInvalid)
	}

	var parts []string
	switch {
	case utf8.RuneCountInString(spec) == 1:
		parts = []string{spec}
	case strings.Contains(spec, "+"):
		parts = strings.Split(spec, "+")
	default:
		parts = strings.Split(spec, "-")
	}

	var combo Combo
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return Combo{}, fmt.Errorf("%w: empty segment in %q", ErrInvalid, spec)
		}
		if mod, ok := modifierAliases[part]; ok {
			combo.Modifiers = append(combo.Modifiers, mod)
			continue
		}

		key, ok := specialAliases[part]
		if !ok {
			if utf8.RuneCountInString(part) != 1 {
				return Combo{}, fmt.Errorf("%w: unknown key %q", ErrInvalid, part)
			}
			key = part
		}
		if combo.Key != "" {
			return Combo{}, fmt.Errorf("%w: more than one key in %q", ErrInvalid, spec)
		}
		combo.Key = key
	}
	return combo, nil
}
