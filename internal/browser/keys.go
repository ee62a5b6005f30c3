package browser

import (
	"unicode/utf8"

	"github.com/go-rod/rod/lib/input"

	"github.com/v0xg/omniagent/internal/keys"
)

var rodModifiers = map[string]input.Key{
	"meta":  input.MetaLeft,
	"ctrl":  input.ControlLeft,
	"alt":   input.AltLeft,
	"shift": input.ShiftLeft,
}

var rodSpecial = map[string]input.Key{
	"enter":     input.Enter,
	"space":     input.Space,
	"tab":       input.Tab,
	"escape":    input.Escape,
	"backspace": input.Backspace,
	"delete":    input.Delete,
	"up":        input.ArrowUp,
	"down":      input.ArrowDown,
	"left":      input.ArrowLeft,
	"right":     input.ArrowRight,
	"home":      input.Home,
	"end":       input.End,
	"page_up":   input.PageUp,
	"page_down": input.PageDown,
	"insert":    input.Insert,
	"f1":        input.F1,
	"f2":        input.F2,
	"f3":        input.F3,
	"f4":        input.F4,
	"f5":        input.F5,
	"f6":        input.F6,
	"f7":        input.F7,
	"f8":        input.F8,
	"f9":        input.F9,
	"f10":       input.F10,
	"f11":       input.F11,
	"f12":       input.F12,
}

// rodKeys maps a combo to rod keys
func rodKeys(combo keys.Combo) (mods []input.Key, key input.Key, hasKey bool) {
	for _, m := range combo.Modifiers {
		mods = append(mods, rodModifiers[m])
	}
	if combo.Key == "" {
		return mods, 0, false
	}
	if k, ok := rodSpecial[combo.Key]; ok {
		return mods, k, true
	}
	r, _ := utf8.DecodeRuneInString(combo.Key)
	return mods, input.Key(r), true
}
