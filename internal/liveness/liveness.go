// Package liveness reports whether the producer process is running by
// probing a named mutex the producer holds for its whole lifetime.
package liveness

import (
	"errors"
	"sync"
	"syscall"

	"github.com/breeze-rmm/overlay/internal/logging"
)

var log = logging.L("liveness")

// Open errors that mean the object does not exist.
const (
	errFileNotFound syscall.Errno = 2
	errInvalidName  syscall.Errno = 123
)

// Prober opens and immediately closes the named object.
type Prober interface {
	Probe(name string) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(name string) error

func (f ProberFunc) Probe(name string) error { return f(name) }

// Classify maps a probe result to alive. Only "not found" style errors mean
// dead; anything else, access denied included, is treated as alive.
func Classify(err error) bool {
	if err == nil {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno != errFileNotFound && errno != errInvalidName
	}
	return true
}

// Monitor tracks producer liveness and logs transitions.
type Monitor struct {
	name   string
	prober Prober

	mu       sync.Mutex
	known    bool
	alive    bool
	onChange []func(alive bool)
}

// New returns a Monitor for the named liveness object.
func New(name string, prober Prober) *Monitor {
	return &Monitor{name: name, prober: prober}
}

// Name returns the probed object name.
func (m *Monitor) Name() string { return m.name }

// OnChange registers fn to run after every alive/dead transition. fn runs
// on the goroutine that called Alive, without the monitor lock.
func (m *Monitor) OnChange(fn func(alive bool)) {
	m.mu.Lock()
	m.onChange = append(m.onChange, fn)
	m.mu.Unlock()
}

// Alive probes once. It is a single non-blocking OS call.
func (m *Monitor) Alive() bool {
	err := m.prober.Probe(m.name)
	alive := Classify(err)

	m.mu.Lock()
	changed := !m.known || m.alive != alive
	m.known = true
	m.alive = alive
	fns := m.onChange
	m.mu.Unlock()

	if !changed {
		return alive
	}
	if alive {
		if err != nil {
			log.Info("producer assumed alive", "object", m.name, "error", err.Error())
		} else {
			log.Info("producer alive", "object", m.name)
		}
	} else {
		log.Info("producer not running", "object", m.name)
	}
	for _, fn := range fns {
		fn(alive)
	}
	return alive
}

// Last returns the most recent probe result without probing.
func (m *Monitor) Last() (alive, known bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alive, m.known
}
