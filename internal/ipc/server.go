package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"
)

const (
	// IdleTimeout disconnects clients that send nothing for this long.
	IdleTimeout = 5 * time.Minute

	// ActionRateLimit is how many times one action may be requested per
	// ActionRateWindow.
	ActionRateLimit  = 5
	ActionRateWindow = 10 * time.Second
)

// ErrRateLimited is reported to clients that request an action too often.
var ErrRateLimited = errors.New("action rate limited")

// Handler executes control requests.
type Handler interface {
	// RunAction queues a named action and returns once it is accepted.
	RunAction(name string) error
	// Status returns a JSON-encodable status document.
	Status() any
	SetFeature(name string, on bool) error
	Features() map[string]bool
}

// Server answers control requests on a listener.
type Server struct {
	listener net.Listener
	handler  Handler
	limiter  *RateLimiter
	session  string

	mu     sync.Mutex
	conns  map[*Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewServer creates a server for l. session is reported in pongs. limiter
// nil uses ActionRateLimit per ActionRateWindow.
func NewServer(l net.Listener, h Handler, limiter *RateLimiter, session string) *Server {
	if limiter == nil {
		limiter = NewRateLimiter(ActionRateLimit, ActionRateWindow, nil)
	}
	return &Server{
		listener: l,
		handler:  h,
		limiter:  limiter,
		session:  session,
		conns:    make(map[*Conn]struct{}),
	}
}

// Serve accepts connections until ctx is cancelled or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	log.Info("control pipe listening", "addr", s.listener.Addr().String())
	for {
		raw, err := s.listener.Accept()
		if err != nil {
			if s.isClosed() {
				return nil
			}
			log.Warn("accept error", "error", err.Error())
			continue
		}
		conn := NewConn(raw)
		if !s.track(conn) {
			conn.Close()
			return nil
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.serveConn(conn)
		}()
	}
}

// Close stops the listener and every open connection, then waits for the
// connection goroutines.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	err := s.listener.Close()
	for _, c := range conns {
		c.Close()
	}
	s.wg.Wait()
	log.Info("control pipe closed")
	return err
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) track(c *Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	c.Close()
}

func (s *Server) serveConn(c *Conn) {
	for {
		_ = c.SetReadDeadline(time.Now().Add(IdleTimeout))
		env, err := c.Recv()
		if err != nil {
			if !s.isClosed() && !errors.Is(err, os.ErrDeadlineExceeded) {
				log.Debug("control client gone", "error", err.Error())
			}
			return
		}
		if err := s.dispatch(c, env); err != nil {
			log.Warn("control reply failed", "type", env.Type, "error", err.Error())
			return
		}
	}
}

func (s *Server) dispatch(c *Conn, env *Envelope) error {
	switch env.Type {
	case TypePing:
		return c.SendTyped(env.ID, TypePong, Pong{
			ProtocolVersion: ProtocolVersion,
			PID:             os.Getpid(),
			Session:         s.session,
		})

	case TypeAction:
		var req ActionRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil || req.Action == "" {
			return c.SendError(env.ID, "action request needs an action name")
		}
		if !s.limiter.Allow(req.Action) {
			log.Warn("control action rate limited", "action", req.Action)
			return c.SendError(env.ID, fmt.Sprintf("%s: %v", req.Action, ErrRateLimited))
		}
		if err := s.handler.RunAction(req.Action); err != nil {
			return c.SendError(env.ID, err.Error())
		}
		log.Info("control action queued", "action", req.Action)
		return c.SendTyped(env.ID, TypeActionResult, ActionResult{Action: req.Action, Queued: true})

	case TypeStatus:
		return c.SendTyped(env.ID, TypeStatusResult, s.handler.Status())

	case TypeFeature:
		var req FeatureRequest
		if len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, &req); err != nil {
				return c.SendError(env.ID, "malformed feature request")
			}
		}
		if req.Enabled != nil {
			if err := s.handler.SetFeature(req.Name, *req.Enabled); err != nil {
				return c.SendError(env.ID, err.Error())
			}
		}
		return c.SendTyped(env.ID, TypeFeatureResult, FeatureResult{Features: s.handler.Features()})
	}
	return c.SendError(env.ID, fmt.Sprintf("unknown message type %q", env.Type))
}
