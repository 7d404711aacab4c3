package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// FileName is the name of the log file inside the log directory.
const FileName = "overlay.log"

// Options configures Setup.
type Options struct {
	Format     string
	Level      string
	Dir        string
	MaxSizeMB  int
	MaxBackups int
	// Stdout also mirrors output to the process stdout when true.
	Stdout bool
}

// Session is an open log sink with a unique id for this attach.
type Session struct {
	ID     string
	writer *RotatingWriter
}

// Setup opens the rotating log file, installs it as the global handler and
// writes a session marker so consecutive attaches can be told apart.
func Setup(opts Options) (*Session, error) {
	rw, err := NewRotatingWriter(filepath.Join(opts.Dir, FileName), opts.MaxSizeMB, opts.MaxBackups)
	if err != nil {
		return nil, err
	}

	var out io.Writer = rw
	if opts.Stdout {
		out = io.MultiWriter(rw, os.Stdout)
	}
	Init(opts.Format, opts.Level, out)

	s := &Session{ID: uuid.NewString(), writer: rw}
	fmt.Fprintf(rw, "\n========== new session %s ==========\n", s.ID)
	L("logging").Info("log session started", KeySession, s.ID, "path", rw.Path())
	return s, nil
}

// Close detaches the log file. Subsequent records go to stdout.
func (s *Session) Close() error {
	if s == nil || s.writer == nil {
		return nil
	}
	Init("text", "info", os.Stdout)
	return s.writer.Close()
}
