// Package metrics holds the Prometheus collectors of the client pump and the
// reference daemon. A nil collector set is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "halrpc"

// Pump counts what goes through one or more client transports.
type Pump struct {
	RequestsSent      *prometheus.CounterVec
	ResponsesReceived *prometheus.CounterVec
	NoListener        prometheus.Counter
	StreamErrors      prometheus.Counter
	Pending           prometheus.Gauge
}

// NewPump creates the pump collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewPump(reg prometheus.Registerer) *Pump {
	f := promauto.With(reg)
	return &Pump{
		RequestsSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "requests_sent_total",
			Help:      "Requests written to the daemon socket, by request kind.",
		}, []string{"kind"}),
		ResponsesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "responses_received_total",
			Help:      "Responses decoded from the daemon socket, by response kind.",
		}, []string{"kind"}),
		NoListener: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "no_listener_total",
			Help:      "Responses whose id had no pending request.",
		}),
		StreamErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "stream_errors_total",
			Help:      "Write or decode failures on an established connection.",
		}),
		Pending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "pending_requests",
			Help:      "Requests sent and not yet resolved.",
		}),
	}
}

func (p *Pump) Sent(kind string) {
	if p == nil {
		return
	}
	p.RequestsSent.WithLabelValues(kind).Inc()
	p.Pending.Inc()
}

func (p *Pump) Received(kind string) {
	if p == nil {
		return
	}
	p.ResponsesReceived.WithLabelValues(kind).Inc()
}

// Resolved lowers the pending gauge by n entries.
func (p *Pump) Resolved(n int) {
	if p == nil {
		return
	}
	p.Pending.Sub(float64(n))
}

func (p *Pump) Miss() {
	if p == nil {
		return
	}
	p.NoListener.Inc()
}

func (p *Pump) StreamError() {
	if p == nil {
		return
	}
	p.StreamErrors.Inc()
}

// Daemon measures the reference daemon.
type Daemon struct {
	Requests    *prometheus.CounterVec
	Duration    *prometheus.HistogramVec
	Connections prometheus.Gauge
}

// NewDaemon creates the daemon collectors and registers them with reg.
func NewDaemon(reg prometheus.Registerer) *Daemon {
	f := promauto.With(reg)
	return &Daemon{
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "daemon",
			Name:      "requests_total",
			Help:      "Requests handled, by request kind and response kind.",
		}, []string{"kind", "response"}),
		Duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "daemon",
			Name:      "request_duration_seconds",
			Help:      "Time spent in the handler chain.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"kind"}),
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "daemon",
			Name:      "connections",
			Help:      "Open client connections.",
		}),
	}
}

func (d *Daemon) Observe(kind, response string, took time.Duration) {
	if d == nil {
		return
	}
	d.Requests.WithLabelValues(kind, response).Inc()
	d.Duration.WithLabelValues(kind).Observe(took.Seconds())
}

func (d *Daemon) ConnOpened() {
	if d == nil {
		return
	}
	d.Connections.Inc()
}

func (d *Daemon) ConnClosed() {
	if d == nil {
		return
	}
	d.Connections.Dec()
}
