// Package server implements a reference hal daemon: it accepts clients on a
// unix socket, answers every request envelope with a response envelope
// carrying the same id, and drives a Backend.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (single goroutine reads envelopes)
//	  → for each request: handleRequest (inline, or in its own goroutine with WithConcurrentDispatch)
//	    → Middleware Chain → Dispatch(Backend) → EncodeInbound under the connection's write lock
//
// Inline dispatch answers in receipt order, which is what a lockstep client
// expects. Concurrent dispatch lets replies overtake each other and is only
// safe for clients that correlate by id.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"hal-rpc/codec"
	"hal-rpc/message"
	"hal-rpc/metrics"
	"hal-rpc/middleware"
	"hal-rpc/protocol"
	"hal-rpc/registry"
)

type options struct {
	logger     *zap.Logger
	codec      codec.Codec
	concurrent bool
	metrics    *metrics.Daemon
	registry   registry.Registry
	service    string
	ttl        int64
}

type Option func(*options)

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithByteOrder(order codec.ByteOrder) Option {
	return func(o *options) { o.codec = codec.GetCodec(order) }
}

func WithCodec(c codec.Codec) Option {
	return func(o *options) { o.codec = c }
}

// WithConcurrentDispatch handles every request in its own goroutine.
func WithConcurrentDispatch() Option {
	return func(o *options) { o.concurrent = true }
}

func WithMetrics(m *metrics.Daemon) Option {
	return func(o *options) { o.metrics = m }
}

// WithRegistry publishes the listening socket under service with a lease of
// ttl seconds.
func WithRegistry(reg registry.Registry, service string, ttl int64) Option {
	return func(o *options) {
		o.registry = reg
		o.service = service
		o.ttl = ttl
	}
}

// Server is the reference daemon.
type Server struct {
	backend     Backend
	codec       codec.Codec
	log         *zap.Logger
	concurrent  bool
	metrics     *metrics.Daemon
	registry    registry.Registry
	service     string
	ttl         int64
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc

	mu        sync.Mutex
	listener  net.Listener
	path      string // registered socket path, empty when not registered
	conns     map[net.Conn]struct{}
	ready     chan struct{}
	readyOnce sync.Once

	wg       sync.WaitGroup // in-flight requests
	connWG   sync.WaitGroup // connection goroutines
	shutdown atomic.Bool
}

func NewServer(backend Backend, opts ...Option) *Server {
	o := options{
		logger: zap.NewNop(),
		codec:  codec.GetCodec(codec.ByteOrderNative),
		ttl:    10,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Server{
		backend:    backend,
		codec:      o.codec,
		log:        o.logger,
		concurrent: o.concurrent,
		metrics:    o.metrics,
		registry:   o.registry,
		service:    o.service,
		ttl:        o.ttl,
		conns:      make(map[net.Conn]struct{}),
		ready:      make(chan struct{}),
	}
}

// Use registers a middleware. Middlewares run in the order they are added.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

// Ready is closed once Serve is accepting connections.
func (svr *Server) Ready() <-chan struct{} {
	return svr.ready
}

// Addr returns the listening address, or nil before Serve.
func (svr *Server) Addr() net.Addr {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.listener == nil {
		return nil
	}
	return svr.listener.Addr()
}

// Serve listens on address and handles connections until Shutdown. For unix
// sockets a stale socket file left by a crashed daemon is removed first; a
// socket another daemon still accepts on fails with ErrSocketInUse.
func (svr *Server) Serve(network, address string) error {
	if network == "unix" {
		if err := removeStaleSocket(address); err != nil {
			return err
		}
	}

	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}

	svr.mu.Lock()
	if svr.shutdown.Load() {
		svr.mu.Unlock()
		listener.Close()
		return nil
	}
	svr.listener = listener
	svr.mu.Unlock()

	// built once here, not per request
	svr.handler = middleware.Chain(svr.middlewares...)(svr.businessHandler)

	if svr.registry != nil {
		if err := svr.register(listener.Addr().String()); err != nil {
			listener.Close()
			return err
		}
	}

	svr.log.Info("daemon listening", zap.String("network", network), zap.String("path", listener.Addr().String()))
	svr.readyOnce.Do(func() { close(svr.ready) })

	for {
		conn, err := listener.Accept()
		if err != nil {
			if svr.shutdown.Load() {
				return nil
			}
			return err
		}
		if !svr.track(conn) {
			conn.Close()
			continue
		}
		go svr.handleConn(conn)
	}
}

func (svr *Server) register(path string) error {
	host, _ := os.Hostname()
	ep := registry.Endpoint{
		Path:      path,
		Host:      host,
		ByteOrder: svr.codec.Order().String(),
		Version:   "1",
	}
	if err := svr.registry.Register(svr.service, ep, svr.ttl); err != nil {
		return fmt.Errorf("server: register %s: %w", svr.service, err)
	}
	svr.mu.Lock()
	svr.path = path
	svr.mu.Unlock()
	return nil
}

// ErrSocketInUse means another daemon is accepting on the socket path.
var ErrSocketInUse = errors.New("server: socket in use by a running daemon")

// removeStaleSocket unlinks path only when it is a socket nobody accepts on.
func removeStaleSocket(path string) error {
	fi, err := os.Lstat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if fi.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("server: %s exists and is not a socket", path)
	}

	conn, err := net.DialTimeout("unix", path, time.Second)
	if err == nil {
		conn.Close()
		return fmt.Errorf("%w: %s", ErrSocketInUse, path)
	}
	if !errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("server: checking %s: %w", path, err)
	}
	return os.Remove(path)
}

func (svr *Server) track(conn net.Conn) bool {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.shutdown.Load() {
		return false
	}
	svr.conns[conn] = struct{}{}
	svr.connWG.Add(1)
	return true
}

func (svr *Server) untrack(conn net.Conn) {
	svr.mu.Lock()
	delete(svr.conns, conn)
	svr.mu.Unlock()
	conn.Close()
}

// handleConn reads envelopes one after another; the stream has no length
// prefix, so there can only be one reader per connection. Responses share a
// per-connection write lock so envelopes never interleave.
func (svr *Server) handleConn(conn net.Conn) {
	defer svr.connWG.Done()
	defer svr.untrack(conn)
	svr.metrics.ConnOpened()
	defer svr.metrics.ConnClosed()

	log := svr.log.With(peerFields(conn)...)
	log.Debug("client connected")

	r := bufio.NewReader(conn)
	writeMu := &sync.Mutex{}
	for {
		env, err := protocol.DecodeOutbound(r, svr.codec)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), svr.shutdown.Load():
				log.Debug("client disconnected")
			default:
				// no way to find the next envelope boundary
				log.Warn("dropping connection", zap.Error(err))
			}
			return
		}

		if !svr.begin() {
			return
		}
		if svr.concurrent {
			go svr.handleRequest(log, env, conn, writeMu)
		} else {
			svr.handleRequest(log, env, conn, writeMu)
		}
	}
}

// begin counts a request as in flight unless the daemon is shutting down.
func (svr *Server) begin() bool {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.shutdown.Load() {
		return false
	}
	svr.wg.Add(1)
	return true
}

func (svr *Server) handleRequest(log *zap.Logger, env *protocol.OutboundEnvelope, conn net.Conn, writeMu *sync.Mutex) {
	defer svr.wg.Done()

	start := time.Now()
	resp := svr.handler(context.Background(), env.Request)
	svr.metrics.Observe(env.Request.Kind.String(), resp.Kind.String(), time.Since(start))

	writeMu.Lock()
	defer writeMu.Unlock()

	reply := &protocol.InboundEnvelope{ID: env.ID, Response: resp}
	if err := protocol.EncodeInbound(conn, svr.codec, reply); err != nil {
		log.Warn("failed to write reply", zap.Uint64("id", env.ID), zap.Stringer("kind", resp.Kind), zap.Error(err))
	}
}

func (svr *Server) businessHandler(ctx context.Context, req message.Request) message.Response {
	return Dispatch(ctx, svr.backend, req)
}

// Shutdown stops the daemon:
//  1. Deregister the endpoint so clients stop resolving it
//  2. Close the listener
//  3. Wait for in-flight requests, at most timeout
//  4. Close every client connection and wait for its reader to exit
func (svr *Server) Shutdown(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	svr.mu.Lock()
	path := svr.path
	svr.path = ""
	svr.mu.Unlock()
	if svr.registry != nil && path != "" {
		if err := svr.registry.Deregister(svr.service, path); err != nil {
			svr.log.Warn("deregister failed", zap.String("service", svr.service), zap.Error(err))
		}
	}

	// flag before closing, so Accept's error reads as intentional
	svr.mu.Lock()
	svr.shutdown.Store(true)
	listener := svr.listener
	svr.mu.Unlock()
	if listener != nil {
		listener.Close()
	}

	var err error
	if !waitUntil(&svr.wg, deadline) {
		err = errors.New("server: timeout waiting for ongoing requests to finish")
	}

	svr.mu.Lock()
	for conn := range svr.conns {
		conn.Close()
	}
	svr.mu.Unlock()
	if !waitUntil(&svr.connWG, deadline) && err == nil {
		err = errors.New("server: timeout waiting for connections to close")
	}
	return err
}

func waitUntil(wg *sync.WaitGroup, deadline time.Time) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(time.Until(deadline)):
		return false
	}
}
