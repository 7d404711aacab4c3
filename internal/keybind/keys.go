package keybind

import (
	"fmt"
	"strconv"
	"strings"
)

// Windows virtual-key codes for keys that are not a single letter or digit.
var namedKeys = map[string]uint32{
	"backspace": 0x08,
	"tab":       0x09,
	"enter":     0x0D,
	"pause":     0x13,
	"escape":    0x1B,
	"esc":       0x1B,
	"space":     0x20,
	"pageup":    0x21,
	"pagedown":  0x22,
	"end":       0x23,
	"home":      0x24,
	"left":      0x25,
	"up":        0x26,
	"right":     0x27,
	"down":      0x28,
	"insert":    0x2D,
	"delete":    0x2E,
}

const vkF1 = 0x70

func keyCode(name string) (uint32, bool) {
	name = strings.TrimSpace(name)
	if len(name) == 1 {
		c := name[0]
		switch {
		case c >= 'a' && c <= 'z':
			return uint32(c - 'a' + 'A'), true
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			return uint32(c), true
		}
		return 0, false
	}

	lower := strings.ToLower(name)
	if code, ok := namedKeys[lower]; ok {
		return code, true
	}
	if strings.HasPrefix(lower, "f") {
		n, err := strconv.Atoi(lower[1:])
		if err == nil && n >= 1 && n <= 24 {
			return uint32(vkF1 + n - 1), true
		}
	}
	return 0, false
}

func keyName(code uint32) string {
	switch {
	case code >= 'A' && code <= 'Z', code >= '0' && code <= '9':
		return string(rune(code))
	case code >= vkF1 && code < vkF1+24:
		return fmt.Sprintf("F%d", code-vkF1+1)
	}
	best := ""
	for name, c := range namedKeys {
		if c == code && (best == "" || len(name) > len(best)) {
			best = name
		}
	}
	if best != "" {
		return strings.ToUpper(best[:1]) + best[1:]
	}
	return fmt.Sprintf("0x%02X", code)
}
