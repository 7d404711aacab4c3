package transport

import (
	"fmt"
	"io"
	"sync"
	"syscall"
	"time"
)

// MemoryNamespace is an in-process stand-in for the OS object namespace.
// Objects live while at least one handle is open, as kernel objects do.
type MemoryNamespace struct {
	mu      sync.Mutex
	regions map[string]*memObject
	events  map[string]*memEventObj
	mutexes map[string]int
}

type memObject struct {
	refs int
	buf  []byte
}

type memEventObj struct {
	refs int
	ch   chan struct{}
}

func NewMemoryNamespace() *MemoryNamespace {
	return &MemoryNamespace{
		regions: make(map[string]*memObject),
		events:  make(map[string]*memEventObj),
		mutexes: make(map[string]int),
	}
}

func notFound(name string) error {
	return fmt.Errorf("%w: %s", ErrNoObject, name)
}

func (ns *MemoryNamespace) CreateRegion(name string, size int) (Region, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	obj, ok := ns.regions[name]
	if !ok {
		obj = &memObject{buf: make([]byte, size)}
		ns.regions[name] = obj
	}
	if len(obj.buf) < size {
		return nil, fmt.Errorf("transport: %s exists with %d bytes", name, len(obj.buf))
	}
	obj.refs++
	return &memRegion{ns: ns, name: name, obj: obj, size: size}, nil
}

func (ns *MemoryNamespace) OpenRegion(name string, size int) (Region, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	obj, ok := ns.regions[name]
	if !ok {
		return nil, notFound(name)
	}
	if len(obj.buf) < size {
		return nil, fmt.Errorf("transport: %s has %d bytes, want %d", name, len(obj.buf), size)
	}
	obj.refs++
	return &memRegion{ns: ns, name: name, obj: obj, size: size}, nil
}

func (ns *MemoryNamespace) CreateEvent(name string) (Event, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	obj, ok := ns.events[name]
	if !ok {
		obj = &memEventObj{ch: make(chan struct{}, 1)}
		ns.events[name] = obj
	}
	obj.refs++
	return &memEvent{ns: ns, name: name, obj: obj}, nil
}

func (ns *MemoryNamespace) OpenEvent(name string) (Event, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	obj, ok := ns.events[name]
	if !ok {
		return nil, notFound(name)
	}
	obj.refs++
	return &memEvent{ns: ns, name: name, obj: obj}, nil
}

func (ns *MemoryNamespace) CreateMutex(name string) (io.Closer, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.mutexes[name]++
	return closerFunc(func() error {
		ns.mu.Lock()
		defer ns.mu.Unlock()
		if ns.mutexes[name]--; ns.mutexes[name] <= 0 {
			delete(ns.mutexes, name)
		}
		return nil
	}), nil
}

// Probe reports a missing mutex with the same errno the OS uses, so it can
// back a liveness monitor.
func (ns *MemoryNamespace) Probe(name string) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if ns.mutexes[name] > 0 {
		return nil
	}
	return syscall.Errno(2)
}

// Exists reports whether a region with name is still referenced.
func (ns *MemoryNamespace) Exists(name string) bool {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	_, ok := ns.regions[name]
	return ok
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

type memRegion struct {
	ns     *MemoryNamespace
	name   string
	obj    *memObject
	size   int
	closed bool
}

func (r *memRegion) Bytes() []byte { return r.obj.buf[:r.size] }

func (r *memRegion) Close() error {
	r.ns.mu.Lock()
	defer r.ns.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.obj.refs--; r.obj.refs <= 0 && r.ns.regions[r.name] == r.obj {
		delete(r.ns.regions, r.name)
	}
	return nil
}

type memEvent struct {
	ns     *MemoryNamespace
	name   string
	obj    *memEventObj
	closed bool
}

func (e *memEvent) Wait(timeout time.Duration) (bool, error) {
	select {
	case <-e.obj.ch:
		return true, nil
	default:
	}
	if timeout <= 0 {
		return false, nil
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-e.obj.ch:
		return true, nil
	case <-t.C:
		return false, nil
	}
}

func (e *memEvent) Set() error {
	select {
	case e.obj.ch <- struct{}{}:
	default:
	}
	return nil
}

func (e *memEvent) Close() error {
	e.ns.mu.Lock()
	defer e.ns.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.obj.refs--; e.obj.refs <= 0 && e.ns.events[e.name] == e.obj {
		delete(e.ns.events, e.name)
	}
	return nil
}
