// Package keybind parses the plain-text key-chord file that maps chords such
// as Ctrl+Alt+P to named overlay actions.
package keybind

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Built-in action names.
const (
	ActionDumpDiagnostics          = "dump-diagnostics"
	ActionRestartProducer          = "restart-producer"
	ActionToggleRendering          = "toggle-rendering"
	ActionToggleInputProcessing    = "toggle-input-processing"
	ActionToggleDiagnosticsOverlay = "toggle-diagnostics-overlay"
	ActionCycleDiagnosticsMode     = "cycle-diagnostics-mode"
)

var builtinActions = map[string]bool{
	ActionDumpDiagnostics:          true,
	ActionRestartProducer:          true,
	ActionToggleRendering:          true,
	ActionToggleInputProcessing:    true,
	ActionToggleDiagnosticsOverlay: true,
	ActionCycleDiagnosticsMode:     true,
}

var (
	ErrUnknownAction = errors.New("unknown action")
	ErrBadChord      = errors.New("invalid key chord")
)

// IsBuiltin reports whether name is a built-in action.
func IsBuiltin(name string) bool {
	return builtinActions[name]
}

// KeyBind is a virtual-key code plus the modifier state that must be held.
type KeyBind struct {
	Key   uint32
	Ctrl  bool
	Alt   bool
	Shift bool
}

func (k KeyBind) String() string {
	var parts []string
	if k.Ctrl {
		parts = append(parts, "Ctrl")
	}
	if k.Alt {
		parts = append(parts, "Alt")
	}
	if k.Shift {
		parts = append(parts, "Shift")
	}
	return strings.Join(append(parts, keyName(k.Key)), "+")
}

// Binding pairs a chord with an action name.
type Binding struct {
	Chord  KeyBind
	Action string
}

// Defaults are written to a fresh keybind file.
var Defaults = []Binding{
	{KeyBind{Key: 'P', Ctrl: true, Alt: true}, ActionDumpDiagnostics},
	{KeyBind{Key: 'O', Ctrl: true, Alt: true}, ActionRestartProducer},
	{KeyBind{Key: 'B', Ctrl: true, Alt: true}, ActionToggleRendering},
	{KeyBind{Key: 'N', Ctrl: true, Alt: true}, ActionToggleInputProcessing},
	{KeyBind{Key: 'D', Ctrl: true, Alt: true}, ActionToggleDiagnosticsOverlay},
}

// Table maps chords to action names. It is immutable after load.
type Table map[KeyBind]string

// Lookup returns the action bound to k.
func (t Table) Lookup(k KeyBind) (string, bool) {
	a, ok := t[k]
	return a, ok
}

// Bindings returns the table sorted by chord text.
func (t Table) Bindings() []Binding {
	out := make([]Binding, 0, len(t))
	for k, a := range t {
		out = append(out, Binding{Chord: k, Action: a})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Chord.String() < out[j].Chord.String() })
	return out
}

// ParseChord parses "Modifier+Modifier+Key". Modifiers are case-insensitive.
func ParseChord(s string) (KeyBind, error) {
	parts := strings.Split(strings.TrimSpace(s), "+")
	if len(parts) == 0 || parts[len(parts)-1] == "" {
		return KeyBind{}, fmt.Errorf("%w: %q", ErrBadChord, s)
	}

	var kb KeyBind
	for _, mod := range parts[:len(parts)-1] {
		switch strings.ToLower(strings.TrimSpace(mod)) {
		case "ctrl", "control":
			kb.Ctrl = true
		case "alt":
			kb.Alt = true
		case "shift":
			kb.Shift = true
		default:
			return KeyBind{}, fmt.Errorf("%w: unknown modifier %q in %q", ErrBadChord, mod, s)
		}
	}

	key, ok := keyCode(parts[len(parts)-1])
	if !ok {
		return KeyBind{}, fmt.Errorf("%w: unknown key %q in %q", ErrBadChord, parts[len(parts)-1], s)
	}
	kb.Key = key
	return kb, nil
}

// Parse reads one "<chord> <action>" binding per line. Blank lines and lines
// starting with # are ignored. valid decides which action names are accepted;
// nil means the built-in set. Any unknown action fails the whole load.
func Parse(r io.Reader, valid func(string) bool) (Table, error) {
	if valid == nil {
		valid = IsBuiltin
	}

	table := make(Table)
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("line %d: want \"<chord> <action>\", got %q", lineNo, line)
		}
		chord, err := ParseChord(fields[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if !valid(fields[1]) {
			return nil, fmt.Errorf("line %d: %w %q", lineNo, ErrUnknownAction, fields[1])
		}
		table[chord] = fields[1]
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read keybinds: %w", err)
	}
	return table, nil
}

// LoadFile parses path, first writing Defaults there if it does not exist.
func LoadFile(path string, valid func(string) bool) (Table, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := WriteDefaults(path); err != nil {
			return nil, err
		}
		f, err = os.Open(path)
	}
	if err != nil {
		return nil, fmt.Errorf("open keybinds: %w", err)
	}
	defer f.Close()

	table, err := Parse(f, valid)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return table, nil
}

// WriteDefaults writes the default bindings to path.
func WriteDefaults(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create keybinds directory: %w", err)
	}
	var b strings.Builder
	for _, d := range Defaults {
		fmt.Fprintf(&b, "%s %s\n", d.Chord, d.Action)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write default keybinds: %w", err)
	}
	return nil
}
