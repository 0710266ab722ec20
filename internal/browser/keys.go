// internal/browser/keys.go
package browser

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/chromedp/chromedp/kb"
)

// namedKeys maps the key names accepted by press_key to their kb runes.
var namedKeys = map[string]string{
	"enter":      kb.Enter,
	"return":     kb.Enter,
	"tab":        kb.Tab,
	"escape":     kb.Escape,
	"esc":        kb.Escape,
	"backspace":  kb.Backspace,
	"delete":     kb.Delete,
	"del":        kb.Delete,
	"space":      " ",
	"up":         kb.ArrowUp,
	"arrowup":    kb.ArrowUp,
	"down":       kb.ArrowDown,
	"arrowdown":  kb.ArrowDown,
	"left":       kb.ArrowLeft,
	"arrowleft":  kb.ArrowLeft,
	"right":      kb.ArrowRight,
	"arrowright": kb.ArrowRight,
	"home":       kb.Home,
	"end":        kb.End,
	"pageup":     kb.PageUp,
	"pagedown":   kb.PageDown,
	"insert":     kb.Insert,
	"f1":         kb.F1,
	"f2":         kb.F2,
	"f3":         kb.F3,
	"f4":         kb.F4,
	"f5":         kb.F5,
	"f6":         kb.F6,
	"f7":         kb.F7,
	"f8":         kb.F8,
	"f9":         kb.F9,
	"f10":        kb.F10,
	"f11":        kb.F11,
	"f12":        kb.F12,
}

// keyFor resolves a press_key name. Single characters pass through; names
// are matched case-insensitively, ignoring '_' and '-'.
func keyFor(name string) (string, error) {
	if utf8.RuneCountInString(name) == 1 {
		return name, nil
	}
	norm := strings.NewReplacer("_", "", "-", "").Replace(strings.ToLower(strings.TrimSpace(name)))
	if k, ok := namedKeys[norm]; ok {
		return k, nil
	}
	return "", fmt.Errorf("unknown key %q", name)
}
