package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTimeout bounds a request when the context has no deadline.
const DefaultTimeout = 5 * time.Second

// Client issues control requests over one connection. Requests are
// serialized.
type Client struct {
	conn *Conn
	mu   sync.Mutex
}

// NewClient wraps an established connection.
func NewClient(raw net.Conn) *Client {
	return &Client{conn: NewConn(raw)}
}

// Dial connects to the control pipe at path.
func Dial(ctx context.Context, path string) (*Client, error) {
	raw, err := dialPipe(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("dial control pipe %s: %w", path, err)
	}
	return NewClient(raw), nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Ping checks the overlay is alive.
func (c *Client) Ping(ctx context.Context) (Pong, error) {
	var pong Pong
	err := c.call(ctx, TypePing, struct{}{}, TypePong, &pong)
	return pong, err
}

// Action runs a named action in the overlay.
func (c *Client) Action(ctx context.Context, name string) error {
	var res ActionResult
	return c.call(ctx, TypeAction, ActionRequest{Action: name}, TypeActionResult, &res)
}

// Status decodes the overlay's status document into out.
func (c *Client) Status(ctx context.Context, out any) error {
	return c.call(ctx, TypeStatus, struct{}{}, TypeStatusResult, out)
}

// Features returns the feature switches.
func (c *Client) Features(ctx context.Context) (map[string]bool, error) {
	var res FeatureResult
	err := c.call(ctx, TypeFeature, FeatureRequest{}, TypeFeatureResult, &res)
	return res.Features, err
}

// SetFeature switches a feature and returns every switch afterwards.
func (c *Client) SetFeature(ctx context.Context, name string, on bool) (map[string]bool, error) {
	var res FeatureResult
	err := c.call(ctx, TypeFeature, FeatureRequest{Name: name, Enabled: &on}, TypeFeatureResult, &res)
	return res.Features, err
}

func (c *Client) call(ctx context.Context, reqType string, payload any, wantType string, out any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(DefaultTimeout)
	}
	_ = c.conn.SetDeadline(deadline)
	defer c.conn.SetDeadline(time.Time{})

	stop := context.AfterFunc(ctx, func() { _ = c.conn.SetDeadline(time.Now()) })
	defer stop()

	id := uuid.NewString()
	if err := c.conn.SendTyped(id, reqType, payload); err != nil {
		return err
	}
	env, err := c.conn.Recv()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	if env.ID != id {
		return fmt.Errorf("ipc: reply %q does not answer %q", env.ID, id)
	}
	if env.Type == TypeError {
		return errors.New(env.Error)
	}
	if env.Type != wantType {
		return fmt.Errorf("ipc: unexpected reply type %q", env.Type)
	}
	if out == nil || len(env.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Payload, out); err != nil {
		return fmt.Errorf("ipc: decode %s: %w", wantType, err)
	}
	return nil
}
