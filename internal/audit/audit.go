// Package audit keeps a tamper-evident journal of operations performed on
// the overlay: attaches, detaches, actions and feature switches. Entries are
// JSON lines linked by a SHA-256 hash chain.
package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/breeze-rmm/overlay/internal/clock"
	"github.com/breeze-rmm/overlay/internal/logging"
)

var log = logging.L("audit")

// FileName is the journal file inside the data directory.
const FileName = "journal.jsonl"

// Event types.
const (
	EventAttach          = "attach"
	EventDetach          = "detach"
	EventActionRequested = "action_requested"
	EventActionCompleted = "action_completed"
	EventFeatureChanged  = "feature_changed"
	EventJournalRotated  = "journal_rotated"
)

// Sources of an operation.
const (
	SourceKeybind = "keybind"
	SourceControl = "control"
	SourceOverlay = "overlay"
)

const genesis = "genesis"

// syncedEvents are flushed to disk as soon as they are written.
var syncedEvents = map[string]bool{
	EventAttach: true,
	EventDetach: true,
}

// ErrChainBroken is returned by Verify when an entry does not link to the
// one before it or its hash does not match its content.
var ErrChainBroken = errors.New("journal hash chain broken")

// Entry is one journal record.
type Entry struct {
	Timestamp string         `json:"timestamp"`
	Event     string         `json:"event"`
	Session   string         `json:"session,omitempty"`
	Source    string         `json:"source,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	PrevHash  string         `json:"prevHash"`
	EntryHash string         `json:"entryHash"`
}

// Logger appends entries to the journal. A nil *Logger discards everything.
type Logger struct {
	mu         sync.Mutex
	file       *os.File
	path       string
	session    string
	clk        clock.Clock
	maxSize    int64
	maxBackups int
	written    int64
	prevHash   string
	dropped    atomic.Int64
}

// NewLogger opens dir/journal.jsonl for appending. Every entry is stamped
// with session.
func NewLogger(dir string, maxSizeMB, maxBackups int, session string, clk clock.Clock) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 5
	}
	if maxBackups <= 0 {
		maxBackups = 3
	}
	if clk == nil {
		clk = clock.Real{}
	}

	l := &Logger{
		path:       filepath.Join(dir, FileName),
		session:    session,
		clk:        clk,
		maxSize:    int64(maxSizeMB) * 1024 * 1024,
		maxBackups: maxBackups,
		prevHash:   genesis,
	}
	if last, err := lastHash(l.path); err == nil && last != "" {
		l.prevHash = last
	}
	if err := l.openFile(); err != nil {
		return nil, err
	}
	return l, nil
}

// Path returns the journal file path.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Log appends one entry. The chain only advances once the write succeeds,
// so a failed write leaves no gap.
func (l *Logger) Log(event, source string, details map[string]any) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		l.dropped.Add(1)
		return
	}
	entry := Entry{
		Timestamp: l.clk.Now().UTC().Format(time.RFC3339Nano),
		Event:     event,
		Session:   l.session,
		Source:    source,
		Details:   details,
		PrevHash:  l.prevHash,
	}
	data, err := seal(&entry)
	if err != nil {
		log.Error("journal entry not encodable", "event", event, "error", err.Error())
		l.dropped.Add(1)
		return
	}

	if l.written+int64(len(data)) > l.maxSize {
		if err := l.rotate(); err != nil {
			log.Error("journal rotation failed", "error", err.Error())
			l.dropped.Add(1)
			return
		}
		entry.PrevHash = l.prevHash
		if data, err = seal(&entry); err != nil {
			l.dropped.Add(1)
			return
		}
	}

	n, err := l.file.Write(data)
	if err != nil {
		log.Error("journal write failed", "event", event, "error", err.Error())
		l.dropped.Add(1)
		return
	}
	l.written += int64(n)
	l.prevHash = entry.EntryHash

	if syncedEvents[event] {
		if err := l.file.Sync(); err != nil {
			log.Warn("journal sync failed", "event", event, "error", err.Error())
		}
	}
}

// Close closes the journal file.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// DroppedCount returns how many entries failed to write, or -1 for a nil
// logger.
func (l *Logger) DroppedCount() int64 {
	if l == nil {
		return -1
	}
	return l.dropped.Load()
}

// seal sets e.EntryHash and returns the encoded line.
func seal(e *Entry) ([]byte, error) {
	h, err := computeHash(*e)
	if err != nil {
		return nil, err
	}
	e.EntryHash = h
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// computeHash length-prefixes every field so no two field combinations
// hash alike.
func computeHash(e Entry) (string, error) {
	h := sha256.New()
	for _, field := range []string{e.Timestamp, e.Event, e.Session, e.Source, e.PrevHash} {
		fmt.Fprintf(h, "%d:%s", len(field), field)
	}
	if e.Details != nil {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return "", fmt.Errorf("marshal details: %w", err)
		}
		fmt.Fprintf(h, "%d:", len(b))
		h.Write(b)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (l *Logger) openFile() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat journal: %w", err)
	}
	l.file = f
	l.written = info.Size()
	return nil
}

// rotate shifts the backups, reopens an empty journal and writes a
// rotation entry linked to the last entry of the old file.
func (l *Logger) rotate() error {
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
	for i := l.maxBackups; i >= 2; i-- {
		src, dst := l.backupName(i-1), l.backupName(i)
		if i == l.maxBackups {
			if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
				log.Warn("remove oldest journal backup", "path", dst, "error", err.Error())
			}
		}
		if err := os.Rename(src, dst); err != nil && !os.IsNotExist(err) {
			log.Warn("rename journal backup", "src", src, "dst", dst, "error", err.Error())
		}
	}
	if err := os.Rename(l.path, l.backupName(1)); err != nil && !os.IsNotExist(err) {
		log.Warn("rename journal", "error", err.Error())
	}
	if err := l.openFile(); err != nil {
		return err
	}

	marker := Entry{
		Timestamp: l.clk.Now().UTC().Format(time.RFC3339Nano),
		Event:     EventJournalRotated,
		Session:   l.session,
		Details:   map[string]any{"previousFile": filepath.Base(l.backupName(1))},
		PrevHash:  l.prevHash,
	}
	data, err := seal(&marker)
	if err != nil {
		return err
	}
	n, err := l.file.Write(data)
	if err != nil {
		return err
	}
	l.written += int64(n)
	l.prevHash = marker.EntryHash
	return nil
}

func (l *Logger) backupName(index int) string {
	if index == 0 {
		return l.path
	}
	return fmt.Sprintf("%s.%d", l.path, index)
}

// ReadFile decodes every entry in a journal file.
func ReadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for line := 1; sc.Scan(); line++ {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return entries, fmt.Errorf("line %d: %w", line, err)
		}
		entries = append(entries, e)
	}
	return entries, sc.Err()
}

// Verify checks every entry's hash and its link to the entry before it.
// The first entry may link to anything, since older entries can have been
// rotated away. It returns the number of entries checked.
func Verify(path string) (int, error) {
	entries, err := ReadFile(path)
	if err != nil {
		return 0, err
	}
	for i, e := range entries {
		want, err := computeHash(e)
		if err != nil {
			return i, err
		}
		if e.EntryHash != want {
			return i, fmt.Errorf("%w: entry %d hash mismatch", ErrChainBroken, i+1)
		}
		if i > 0 && e.PrevHash != entries[i-1].EntryHash {
			return i, fmt.Errorf("%w: entry %d does not link to entry %d", ErrChainBroken, i+1, i)
		}
	}
	return len(entries), nil
}

func lastHash(path string) (string, error) {
	entries, err := ReadFile(path)
	if err != nil || len(entries) == 0 {
		return "", err
	}
	return entries[len(entries)-1].EntryHash, nil
}
