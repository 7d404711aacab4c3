package input

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"sync"

	"github.com/breeze-rmm/overlay/internal/metrics"
)

// Packet kinds. Only pointer moves are sent; button state reaches the
// producer through the system's global input.
const (
	KindMove uint8 = 2
)

// PacketSize is the packed wire size of a Packet.
const PacketSize = 9

// DefaultQueueSize bounds the packets waiting for the writer.
const DefaultQueueSize = 256

// Packet is a pointer event in host client coordinates.
type Packet struct {
	Kind uint8
	X, Y int32
}

// Encode writes the packed little-endian form: kind u8, x i32, y i32.
func (p Packet) Encode() [PacketSize]byte {
	var b [PacketSize]byte
	b[0] = p.Kind
	binary.LittleEndian.PutUint32(b[1:], uint32(p.X))
	binary.LittleEndian.PutUint32(b[5:], uint32(p.Y))
	return b
}

func ParsePacket(b []byte) (Packet, error) {
	if len(b) != PacketSize {
		return Packet{}, fmt.Errorf("input packet is %d bytes, want %d", len(b), PacketSize)
	}
	return Packet{
		Kind: b[0],
		X:    int32(binary.LittleEndian.Uint32(b[1:])),
		Y:    int32(binary.LittleEndian.Uint32(b[5:])),
	}, nil
}

// Sender forwards packets to the producer over loopback UDP. Send never
// blocks; a writer goroutine drains the queue.
type Sender struct {
	conn    net.Conn
	queue   chan Packet
	metrics *metrics.Metrics

	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects a datagram socket to addr. Nothing needs to listen there.
func Dial(ctx context.Context, addr string, queueSize int, m *metrics.Metrics) (*Sender, error) {
	if queueSize < 1 {
		queueSize = DefaultQueueSize
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial input relay %s: %w", addr, err)
	}
	return &Sender{
		conn:    conn,
		queue:   make(chan Packet, queueSize),
		metrics: m,
		done:    make(chan struct{}),
	}, nil
}

// Addr is the local address packets are sent from.
func (s *Sender) Addr() net.Addr {
	return s.conn.LocalAddr()
}

// Send queues p. It reports false, and counts a drop, when the queue is
// full or the sender is closed.
func (s *Sender) Send(p Packet) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.queue <- p:
		return true
	default:
		s.metrics.PacketDropped()
		return false
	}
}

// Run writes queued packets until ctx is done or the sender is closed.
func (s *Sender) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("input writer panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	var lastErr string
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case p := <-s.queue:
			b := p.Encode()
			if _, err := s.conn.Write(b[:]); err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				// Nobody listening yields ICMP errors on loopback; log once.
				if err.Error() != lastErr {
					log.Debug("input packet not delivered", "error", err.Error())
					lastErr = err.Error()
				}
				s.metrics.PacketDropped()
				continue
			}
			lastErr = ""
			s.metrics.PacketSent()
		}
	}
}

func (s *Sender) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}
