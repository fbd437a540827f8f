// Package client exposes the daemon's hardware actions as blocking calls.
//
//   - Client multiplexes any number of concurrent calls over one connection;
//     a background reader routes each reply to its caller.
//   - Lockstep sends one request, pumps exactly one reply and waits, the way
//     the daemon's first clients did. It needs one request outstanding at a time.
//   - Simple wraps either and swallows every error, returning defaults.
package client

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"hal-rpc/message"
	"hal-rpc/transport"
)

// Client is safe for concurrent use.
type Client struct {
	actions
	t           *transport.ClientTransport
	log         *zap.Logger
	callTimeout time.Duration
}

var _ HAL = (*Client)(nil)

// Dial connects to the daemon socket at path and starts the reader.
func Dial(ctx context.Context, path string, opts ...Option) (*Client, error) {
	o := buildOptions(opts)
	t, err := transport.DialContext(ctx, path, o.transportOptions()...)
	if err != nil {
		return nil, err
	}
	return newClient(t, o), nil
}

// New takes ownership of t and starts its background reader. t must not be
// pumped by anyone else.
func New(t *transport.ClientTransport, opts ...Option) *Client {
	return newClient(t, buildOptions(opts))
}

func newClient(t *transport.ClientTransport, o options) *Client {
	c := &Client{t: t, log: o.logger, callTimeout: o.callTimeout}
	c.actions = actions{call: c.Call}
	t.Start()
	return c
}

// Call sends req and waits for its reply or for ctx to end. When ctx ends
// first the request is forgotten and a late reply is dropped as unclaimed.
func (c *Client) Call(ctx context.Context, req message.Request) (message.Response, error) {
	ctx, cancel := withTimeout(ctx, c.callTimeout)
	defer cancel()

	sink := transport.NewSink()
	id, err := c.t.Send(req, sink)
	if err != nil {
		if errors.Is(err, transport.ErrStream) {
			// the write failed after registration; nobody will answer this id
			c.t.Forget(id)
		}
		return message.Response{}, err
	}

	select {
	case res := <-sink:
		if res.Err != nil {
			return message.Response{}, res.Err
		}
		return checkResponse(req, res.Response)
	case <-ctx.Done():
		c.t.Forget(id)
		c.log.Warn("call abandoned", zap.Uint64("id", id), zap.Stringer("request", req), zap.Error(ctx.Err()))
		return message.Response{}, ctx.Err()
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

// Transport returns the underlying connection.
func (c *Client) Transport() *transport.ClientTransport {
	return c.t
}

// Close shuts the connection; calls still waiting fail with transport.ErrClosed.
func (c *Client) Close() error {
	return c.t.Close()
}
