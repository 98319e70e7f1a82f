package browser

import (
	"strings"
	"unicode/utf8"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp/kb"

	"github.com/browzerlabs/browzer-engine/api/schemas"
)

// namedKeys maps DOM key names, as recorded by the page listener, onto the
// runes chromedp's kb table is keyed by.
var namedKeys = map[string]string{
	"enter":      kb.Enter,
	"return":     kb.Enter,
	"tab":        kb.Tab,
	"escape":     kb.Escape,
	"esc":        kb.Escape,
	"backspace":  kb.Backspace,
	"delete":     kb.Delete,
	"arrowup":    kb.ArrowUp,
	"arrowdown":  kb.ArrowDown,
	"arrowleft":  kb.ArrowLeft,
	"arrowright": kb.ArrowRight,
	"home":       kb.Home,
	"end":        kb.End,
	"pageup":     kb.PageUp,
	"pagedown":   kb.PageDown,
	"space":      " ",
}

type keyInfo struct {
	key     string
	code    string
	text    string
	keyCode int64
}

// describeKey resolves a key name or single character into CDP key fields.
// Unknown names are passed through as the key value.
func describeKey(name string) keyInfo {
	r, ok := keyRune(name)
	if !ok {
		return keyInfo{key: name}
	}
	k, ok := kb.Keys[r]
	if !ok {
		return keyInfo{key: name, text: string(r)}
	}
	info := keyInfo{key: k.Key, code: k.Code, keyCode: k.Windows}
	if k.Print {
		info.text = k.Text
	}
	return info
}

func keyRune(name string) (rune, bool) {
	if mapped, ok := namedKeys[strings.ToLower(name)]; ok {
		r, _ := utf8.DecodeRuneInString(mapped)
		return r, true
	}
	if utf8.RuneCountInString(name) == 1 {
		r, _ := utf8.DecodeRuneInString(name)
		return r, true
	}
	return 0, false
}

func toCDPModifiers(m schemas.KeyModifier) input.Modifier {
	var mods input.Modifier
	if m&schemas.ModAlt != 0 {
		mods |= input.ModifierAlt
	}
	if m&schemas.ModCtrl != 0 {
		mods |= input.ModifierCtrl
	}
	if m&schemas.ModMeta != 0 {
		mods |= input.ModifierMeta
	}
	if m&schemas.ModShift != 0 {
		mods |= input.ModifierShift
	}
	return mods
}
