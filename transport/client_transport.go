// Package transport implements the client side of one daemon connection: id
// allocation, the pending table and the pump that matches replies to calls.
//
// Two ways of driving the read side are supported:
//
//   - lockstep: the caller sends, then calls PumpOnce to read exactly one
//     reply. Correct only while one request is outstanding at a time.
//   - background: Start launches recvLoop, which pumps continuously and routes
//     every reply to its own sink, so any number of goroutines can share the
//     connection.
//
// In background mode:
//
//	goroutine-1 ──Send(id=0)──┐
//	goroutine-2 ──Send(id=1)──┼──→ unix socket ──→ daemon
//	goroutine-3 ──Send(id=2)──┘
//
//	recvLoop:  ←── response(id=1) → pending[1] ← Result → goroutine-2 wakes up
//
// Ids come from a 64-bit counter starting at 0. A connection is assumed never
// to issue 2^64 requests; wraparound is outside the contract.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"hal-rpc/codec"
	"hal-rpc/message"
	"hal-rpc/metrics"
	"hal-rpc/protocol"
)

// State of a connection. There is no way back from StateClosed.
type State int32

const (
	StateConnected State = iota
	StateClosed
)

func (s State) String() string {
	if s == StateClosed {
		return "closed"
	}
	return "connected"
}

type options struct {
	codec   codec.Codec
	logger  *zap.Logger
	metrics *metrics.Pump
}

// Option configures a ClientTransport.
type Option func(*options)

// WithByteOrder selects the wire byte order. The default is host-native.
func WithByteOrder(order codec.ByteOrder) Option {
	return func(o *options) { o.codec = codec.GetCodec(order) }
}

// WithCodec replaces the wire codec.
func WithCodec(c codec.Codec) Option {
	return func(o *options) { o.codec = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithMetrics(m *metrics.Pump) Option {
	return func(o *options) { o.metrics = m }
}

func buildOptions(opts []Option) options {
	o := options{
		codec:  codec.GetCodec(codec.ByteOrderNative),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ClientTransport owns one stream to the daemon.
type ClientTransport struct {
	conn    net.Conn
	codec   codec.Codec
	log     *zap.Logger
	metrics *metrics.Pump

	nextID  uint64     // protected by sending
	sending sync.Mutex // one envelope on the wire at a time, ids leave in order

	receiving sync.Mutex // one decoder at a time, envelopes have no delimiter
	pending   *PendingTable

	state      atomic.Int32
	reading    atomic.Bool
	readerDone chan struct{}
	closeOnce  sync.Once
	closed     chan struct{}
	cause      error // set before closed is closed
}

// Dial connects to the daemon socket at path.
func Dial(path string, opts ...Option) (*ClientTransport, error) {
	return DialContext(context.Background(), path, opts...)
}

// DialContext connects to the daemon socket at path. Failures wrap ErrConnect.
func DialContext(ctx context.Context, path string, opts ...Option) (*ClientTransport, error) {
	o := buildOptions(opts)

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		o.logger.Error("failed to connect to hal daemon", zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("%w at %s: %w", ErrConnect, path, err)
	}
	return newClientTransport(conn, o), nil
}

// NewClientTransport wraps an established stream. Nothing is read until
// PumpOnce or Start is called.
func NewClientTransport(conn net.Conn, opts ...Option) *ClientTransport {
	return newClientTransport(conn, buildOptions(opts))
}

func newClientTransport(conn net.Conn, o options) *ClientTransport {
	return &ClientTransport{
		conn:       conn,
		codec:      o.codec,
		log:        o.logger,
		metrics:    o.metrics,
		pending:    NewPendingTable(),
		closed:     make(chan struct{}),
		readerDone: make(chan struct{}),
	}
}

// Send allocates the next id, registers sink under it and writes the request.
//
// The id is registered before the envelope is written, so a reply can never
// beat its own registration. If the write fails the id stays registered and
// will not be resolved by a reply; callers that give up on it call Forget.
func (t *ClientTransport) Send(req message.Request, sink chan<- Result) (uint64, error) {
	if t.State() == StateClosed {
		return 0, ErrClosed
	}

	t.sending.Lock()
	defer t.sending.Unlock()

	id := t.nextID
	t.nextID++

	if err := t.pending.Register(id, sink); err != nil {
		return id, err
	}
	t.metrics.Sent(req.Kind.String())

	env := protocol.OutboundEnvelope{ID: id, Request: req}
	if err := protocol.EncodeOutbound(t.conn, t.codec, &env); err != nil {
		t.metrics.StreamError()
		t.log.Error("failed to send request", zap.Uint64("id", id), zap.Stringer("request", req), zap.Error(err))
		return id, fmt.Errorf("%w: send #%d: %w", ErrStream, id, err)
	}

	t.log.Debug("request sent", zap.Uint64("id", id), zap.Stringer("request", req))
	return id, nil
}

// PumpOnce blocks until one full response is decoded, then hands it to the
// sink registered for its id without waiting for that sink to be read.
//
// A decode failure wraps ErrStream and closes the transport: the stream
// position is unknown and cannot be recovered. An id with no pending entry
// wraps ErrNoListener; that reply is lost but the stream stays usable. In both
// the success and the NoListener case the decoded envelope is returned.
func (t *ClientTransport) PumpOnce() (*protocol.InboundEnvelope, error) {
	if t.reading.Load() {
		return nil, ErrReaderRunning
	}
	return t.pumpOnce()
}

// PumpOnceContext is PumpOnce bounded by ctx. If ctx ends before a full
// envelope arrives the read is cut short and the transport closes with
// ErrStream, since part of an envelope may already be consumed. The returned
// error then also wraps ctx.Err().
func (t *ClientTransport) PumpOnceContext(ctx context.Context) (*protocol.InboundEnvelope, error) {
	if t.reading.Load() {
		return nil, ErrReaderRunning
	}
	if ctx.Done() == nil {
		return t.pumpOnce()
	}

	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(fired)
		// a deadline in the past wakes the blocked read
		_ = t.conn.SetReadDeadline(time.Unix(1, 0))
	})

	env, err := t.pumpOnce()

	if !stop() {
		<-fired
		if t.State() == StateConnected {
			// ctx ended right after the read finished; the stream is intact
			_ = t.conn.SetReadDeadline(time.Time{})
		}
	}
	if err != nil && ctx.Err() != nil && errors.Is(err, ErrStream) {
		return env, fmt.Errorf("%w: %w", err, ctx.Err())
	}
	return env, err
}

func (t *ClientTransport) pumpOnce() (*protocol.InboundEnvelope, error) {
	t.receiving.Lock()
	defer t.receiving.Unlock()

	if t.State() == StateClosed {
		return nil, t.closedErr()
	}

	env, err := protocol.DecodeInbound(t.conn, t.codec)
	if err != nil {
		if t.State() == StateClosed {
			// Close raced the read; the connection was shut on purpose
			return nil, t.closedErr()
		}
		t.metrics.StreamError()
		t.log.Error("failed to decode response", zap.Error(err))
		err = fmt.Errorf("%w: %w", ErrStream, err)
		t.shutdown(err)
		return nil, err
	}
	t.metrics.Received(env.Response.Kind.String())

	sink, ok := t.pending.Resolve(env.ID)
	if !ok {
		t.metrics.Miss()
		t.log.Error("no listener registered for message", zap.Uint64("id", env.ID), zap.Stringer("response", env.Response))
		return env, fmt.Errorf("%w for message #%d", ErrNoListener, env.ID)
	}
	t.metrics.Resolved(1)

	select {
	case sink <- Result{ID: env.ID, Response: env.Response}:
	default:
		t.log.Warn("response sink is full, dropping response", zap.Uint64("id", env.ID))
	}
	return env, nil
}

// Start launches the background reader. Afterwards PumpOnce returns
// ErrReaderRunning. Calling Start again is a no-op.
func (t *ClientTransport) Start() {
	if !t.reading.CompareAndSwap(false, true) {
		return
	}
	go t.recvLoop()
}

// recvLoop is the only reader once started: the stream has no delimiters, so
// a second concurrent reader would split envelopes.
func (t *ClientTransport) recvLoop() {
	defer close(t.readerDone)
	for {
		_, err := t.pumpOnce()
		if err == nil || errors.Is(err, ErrNoListener) {
			continue
		}
		// pumpOnce has already shut the transport down and failed every pending sink
		t.log.Debug("reader stopped", zap.Error(err))
		return
	}
}

// Forget drops the pending entry for id. Used by callers that stop waiting.
func (t *ClientTransport) Forget(id uint64) bool {
	if t.pending.Forget(id) {
		t.metrics.Resolved(1)
		return true
	}
	return false
}

// Pending returns the number of unresolved requests.
func (t *ClientTransport) Pending() int {
	return t.pending.Len()
}

// PendingIDs returns the unresolved request ids in ascending order.
func (t *ClientTransport) PendingIDs() []uint64 {
	return t.pending.IDs()
}

// NextID returns the id the next Send will use.
func (t *ClientTransport) NextID() uint64 {
	t.sending.Lock()
	defer t.sending.Unlock()
	return t.nextID
}

func (t *ClientTransport) State() State {
	return State(t.state.Load())
}

// Done is closed once the transport is closed.
func (t *ClientTransport) Done() <-chan struct{} {
	return t.closed
}

// Err returns why the transport closed, or nil while it is connected.
func (t *ClientTransport) Err() error {
	select {
	case <-t.closed:
		return t.cause
	default:
		return nil
	}
}

func (t *ClientTransport) closedErr() error {
	<-t.closed
	return t.cause
}

// Conn returns the underlying stream.
func (t *ClientTransport) Conn() net.Conn {
	return t.conn
}

// Close shuts the stream. Every pending request receives ErrClosed. When the
// background reader runs, Close returns after it has stopped.
func (t *ClientTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = t.closeWith(ErrClosed)
	})
	if t.reading.Load() {
		<-t.readerDone
	}
	return err
}

func (t *ClientTransport) shutdown(cause error) {
	t.closeOnce.Do(func() {
		_ = t.closeWith(cause)
	})
}

func (t *ClientTransport) closeWith(cause error) error {
	t.cause = cause
	t.state.Store(int32(StateClosed))
	err := t.conn.Close()

	n := t.pending.Drain(cause)
	t.metrics.Resolved(n)
	if n > 0 {
		t.log.Warn("connection closed with requests pending", zap.Int("pending", n), zap.Error(cause))
	}
	close(t.closed)
	return err
}
