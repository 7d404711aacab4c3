package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
)

// DefaultRingSize is the number of lines the diagnostics panel can show.
const DefaultRingSize = 12

// Ring is a fixed-size buffer of formatted log lines. It is safe for
// concurrent use.
type Ring struct {
	mu      sync.Mutex
	lines   []string
	next    int
	full    bool
	version atomic.Uint64

	subMu  sync.Mutex
	subs   map[int]func()
	nextID int
}

// NewRing creates a ring holding at most size lines.
func NewRing(size int) *Ring {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &Ring{
		lines: make([]string, size),
		subs:  make(map[int]func()),
	}
}

// Add appends a line, evicting the oldest when full, and notifies subscribers.
func (r *Ring) Add(line string) {
	r.mu.Lock()
	r.lines[r.next] = line
	r.next = (r.next + 1) % len(r.lines)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
	r.version.Add(1)

	r.subMu.Lock()
	subs := make([]func(), 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	r.subMu.Unlock()

	for _, fn := range subs {
		fn()
	}
}

// Lines returns the buffered lines, newest first.
func (r *Ring) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.next
	if r.full {
		n = len(r.lines)
	}
	out := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		idx := (r.next - i + len(r.lines)) % len(r.lines)
		out = append(out, r.lines[idx])
	}
	return out
}

// Version increases every time a line is added.
func (r *Ring) Version() uint64 {
	return r.version.Load()
}

// Subscribe registers fn to run after each Add. The returned func removes it.
// fn runs on the logging goroutine and must not log.
func (r *Ring) Subscribe(fn func()) func() {
	r.subMu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = fn
	r.subMu.Unlock()

	return func() {
		r.subMu.Lock()
		delete(r.subs, id)
		r.subMu.Unlock()
	}
}

// ringHandler wraps a base slog.Handler to also record lines in a Ring.
type ringHandler struct {
	base  slog.Handler
	ring  *Ring
	attrs []slog.Attr
}

func (h *ringHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

func (h *ringHandler) Handle(ctx context.Context, record slog.Record) error {
	if h.ring != nil {
		h.ring.Add(formatLine(record, h.attrs))
	}
	return h.base.Handle(ctx, record)
}

func (h *ringHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &ringHandler{base: h.base.WithAttrs(attrs), ring: h.ring, attrs: merged}
}

func (h *ringHandler) WithGroup(name string) slog.Handler {
	return &ringHandler{base: h.base.WithGroup(name), ring: h.ring, attrs: h.attrs}
}

// formatLine renders a record as "15:04:05 INFO [component] message k=v".
func formatLine(record slog.Record, attrs []slog.Attr) string {
	var b strings.Builder
	b.WriteString(record.Time.Format("15:04:05"))
	b.WriteByte(' ')
	b.WriteString(record.Level.String())

	component := ""
	extra := make([]slog.Attr, 0, len(attrs)+record.NumAttrs())
	for _, a := range attrs {
		if a.Key == KeyComponent {
			component = a.Value.String()
			continue
		}
		extra = append(extra, a)
	}
	record.Attrs(func(a slog.Attr) bool {
		if a.Key == KeyComponent {
			component = a.Value.String()
			return true
		}
		extra = append(extra, a)
		return true
	})

	if component != "" {
		fmt.Fprintf(&b, " [%s]", component)
	}
	b.WriteByte(' ')
	b.WriteString(record.Message)
	for _, a := range extra {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value.Any())
	}
	return b.String()
}
