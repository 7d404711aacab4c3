package transport

import (
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrNoObject is returned when a named object does not exist.
var ErrNoObject = errors.New("transport: named object not found")

// Region is a mapped view of a named shared-memory object.
type Region interface {
	Bytes() []byte
	Close() error
}

// Event is a named auto-reset event.
type Event interface {
	// Wait blocks for at most timeout and reports whether the event fired.
	Wait(timeout time.Duration) (bool, error)
	Set() error
	Close() error
}

// Namespace opens objects the producer created.
type Namespace interface {
	OpenRegion(name string, size int) (Region, error)
	OpenEvent(name string) (Event, error)
}

// ProducerNamespace creates the objects a producer owns.
type ProducerNamespace interface {
	Namespace
	CreateRegion(name string, size int) (Region, error)
	CreateEvent(name string) (Event, error)
	// CreateMutex creates and holds the liveness object until closed.
	CreateMutex(name string) (io.Closer, error)
}

// Names are the agreed object names.
type Names struct {
	Header        string
	Body          string
	Resize        string
	FrameReady    string
	FrameConsumed string
	ResizeSignal  string
}

// BodyName is the per-size pixel body object. Carrying the size in the
// name lets the producer publish a new size while the consumer still maps
// the old body.
func BodyName(base string, w, h uint32) string {
	return fmt.Sprintf("%s_%dx%d", base, w, h)
}
