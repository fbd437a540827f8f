package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"hal-rpc/message"
	"hal-rpc/transport"
)

// Lockstep performs each call as send, one PumpOnce, then wait for the sink.
// There is no background reader.
//
// It is correct only while the connection has a single request outstanding.
// Lockstep serializes its own calls, but if anything else sends on the same
// transport, the one reply a call pumps may belong to someone else: the call
// then wakes the other caller and waits for its own reply until ctx ends.
//
// A call whose ctx ends while it is still reading closes the connection: the
// read may have stopped inside an envelope.
type Lockstep struct {
	actions
	mu          sync.Mutex // one send+pump pair at a time
	t           *transport.ClientTransport
	log         *zap.Logger
	callTimeout time.Duration
}

var _ HAL = (*Lockstep)(nil)

// DialLockstep connects to the daemon socket at path.
func DialLockstep(ctx context.Context, path string, opts ...Option) (*Lockstep, error) {
	o := buildOptions(opts)
	t, err := transport.DialContext(ctx, path, o.transportOptions()...)
	if err != nil {
		return nil, err
	}
	return newLockstep(t, o), nil
}

// NewLockstep drives t in lockstep. t must not have its background reader started.
func NewLockstep(t *transport.ClientTransport, opts ...Option) *Lockstep {
	return newLockstep(t, buildOptions(opts))
}

func newLockstep(t *transport.ClientTransport, o options) *Lockstep {
	l := &Lockstep{t: t, log: o.logger, callTimeout: o.callTimeout}
	l.actions = actions{call: l.Call}
	return l
}

// Call sends req, pumps exactly one reply and waits for req's sink.
func (l *Lockstep) Call(ctx context.Context, req message.Request) (message.Response, error) {
	ctx, cancel := withTimeout(ctx, l.callTimeout)
	defer cancel()

	l.mu.Lock()
	defer l.mu.Unlock()

	sink := transport.NewSink()
	id, err := l.t.Send(req, sink)
	if err != nil {
		if errors.Is(err, transport.ErrStream) {
			l.t.Forget(id)
		}
		return message.Response{}, err
	}

	// A NoListener here means the reply we read was not ours. Ours may still
	// be on the wire, but a lockstep call never pumps twice. When ctx ends
	// mid-read the transport is closed, see PumpOnceContext.
	if _, err := l.t.PumpOnceContext(ctx); err != nil {
		l.t.Forget(id)
		return message.Response{}, err
	}

	select {
	case res := <-sink:
		if res.Err != nil {
			return message.Response{}, res.Err
		}
		return checkResponse(req, res.Response)
	case <-ctx.Done():
		l.t.Forget(id)
		l.log.Warn("lockstep call pumped a reply that was not its own",
			zap.Uint64("id", id), zap.Stringer("request", req), zap.Error(ctx.Err()))
		return message.Response{}, ctx.Err()
	}
}

// Transport returns the underlying connection.
func (l *Lockstep) Transport() *transport.ClientTransport {
	return l.t
}

func (l *Lockstep) Close() error {
	return l.t.Close()
}
