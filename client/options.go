package client

import (
	"time"

	"go.uber.org/zap"

	"hal-rpc/codec"
	"hal-rpc/metrics"
	"hal-rpc/transport"
)

type options struct {
	logger      *zap.Logger
	callTimeout time.Duration
	order       codec.ByteOrder
	metrics     *metrics.Pump
}

// Option configures a Client, a Lockstep or a Simple.
type Option func(*options)

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithCallTimeout bounds every call that does not already carry a shorter
// deadline. Zero, the default, waits as long as the caller's context allows.
// On a Lockstep the bound also covers the socket read.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) { o.callTimeout = d }
}

// WithByteOrder selects the wire byte order used when dialing.
func WithByteOrder(order codec.ByteOrder) Option {
	return func(o *options) { o.order = order }
}

func WithMetrics(m *metrics.Pump) Option {
	return func(o *options) { o.metrics = m }
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) transportOptions() []transport.Option {
	return []transport.Option{
		transport.WithByteOrder(o.order),
		transport.WithLogger(o.logger),
		transport.WithMetrics(o.metrics),
	}
}
