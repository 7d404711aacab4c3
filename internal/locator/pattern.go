// Package locator finds the host's frame-presentation entry point, either by
// probing a throwaway swap chain or by scanning the main module image for a
// byte signature.
package locator

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNotFound is returned when no address could be resolved.
var ErrNotFound = errors.New("locator: target not found")

// Pattern is a byte signature. Positions listed in Wildcards match any byte.
type Pattern struct {
	Bytes     []byte
	Wildcards map[int]bool
}

// ParsePattern parses space-separated hex bytes where "?" or "??" marks a
// wildcard, e.g. "48 89 5C 24 ?? 57".
func ParsePattern(s string) (Pattern, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return Pattern{}, fmt.Errorf("locator: empty pattern")
	}

	p := Pattern{Bytes: make([]byte, len(fields)), Wildcards: map[int]bool{}}
	for i, f := range fields {
		if f == "?" || f == "??" {
			p.Wildcards[i] = true
			continue
		}
		v, err := strconv.ParseUint(f, 16, 8)
		if err != nil {
			return Pattern{}, fmt.Errorf("locator: pattern byte %d %q: %w", i, f, err)
		}
		p.Bytes[i] = byte(v)
	}
	return p, nil
}

func (p Pattern) String() string {
	parts := make([]string, len(p.Bytes))
	for i, b := range p.Bytes {
		if p.Wildcards[i] {
			parts[i] = "??"
			continue
		}
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, " ")
}

func (p Pattern) matches(i int, b byte) bool {
	return p.Wildcards[i] || p.Bytes[i] == b
}

// failureTable is the KMP longest-proper-prefix-suffix table. It is built
// with literal byte equality; wildcards only relax the comparison during the
// scan itself.
func failureTable(pattern []byte) []int {
	lps := make([]int, len(pattern))
	k := 0
	for i := 1; i < len(pattern); i++ {
		for k > 0 && pattern[i] != pattern[k] {
			k = lps[k-1]
		}
		if pattern[i] == pattern[k] {
			k++
		}
		lps[i] = k
	}
	return lps
}

func (p Pattern) firstWildcard() int {
	first := len(p.Bytes)
	for i := range p.Wildcards {
		if i < first && i >= 0 {
			first = i
		}
	}
	return first
}

// Index returns the offset of the first match of p in span, or -1.
//
// The failure table is only followed while the partial match covers literal
// bytes. Once a partial match has crossed a wildcard the text under it is
// unknown, so a mismatch restarts one byte after the candidate start.
func Index(span []byte, p Pattern) int {
	n := len(p.Bytes)
	if n == 0 || len(span) < n {
		return -1
	}

	lps := failureTable(p.Bytes)
	literal := p.firstWildcard()

	i, j := 0, 0
	for i < len(span) {
		if p.matches(j, span[i]) {
			i++
			j++
			if j == n {
				return i - n
			}
			continue
		}
		switch {
		case j == 0:
			i++
		case j <= literal:
			j = lps[j-1]
		default:
			i = i - j + 1
			j = 0
		}
	}
	return -1
}

// Scan searches span, which is mapped at base, and returns the absolute
// address of the first match or 0 when absent. Callers must treat 0 as "no
// such hook point" and never dereference it.
func Scan(span []byte, base uintptr, p Pattern) uintptr {
	off := Index(span, p)
	if off < 0 {
		return 0
	}
	return base + uintptr(off)
}
