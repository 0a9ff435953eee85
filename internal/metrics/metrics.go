package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"garthen-realtime/internal/realtime"
	"garthen-realtime/internal/wire"
)

const DefaultNamespace = "garthen_realtime"

// Metrics records realtime connection telemetry.
type Metrics struct {
	framesSent     *prometheus.CounterVec
	framesReceived *prometheus.CounterVec
	reconnects     prometheus.Counter
	closes         *prometheus.CounterVec
	pending        prometheus.Gauge
	authorized     prometheus.Gauge
	gatherer       prometheus.Gatherer
}

var _ realtime.Observer = (*Metrics)(nil)

// New registers the collectors on registry. A nil registry gets a private
// one, so repeated calls never collide on the default registerer.
func New(registry *prometheus.Registry, namespace string) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	factory := promauto.With(registry)

	return &Metrics{
		framesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Frames written to the realtime connection",
		}, []string{"opcode"}),
		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Frames decoded from the realtime connection",
		}, []string{"opcode"}),
		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Scheduled reconnect attempts",
		}),
		closes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "closes_total",
			Help:      "Connection closes by close code",
		}, []string{"code"}),
		pending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_requests",
			Help:      "Requests waiting for a correlated reply",
		}),
		authorized: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "authorized",
			Help:      "1 while the session is authorized",
		}),
		gatherer: registry,
	}
}

func (m *Metrics) FrameSent(op wire.Opcode) {
	m.framesSent.WithLabelValues(op.String()).Inc()
}

func (m *Metrics) FrameReceived(op wire.Opcode) {
	m.framesReceived.WithLabelValues(op.String()).Inc()
}

func (m *Metrics) Reconnecting() {
	m.reconnects.Inc()
}

func (m *Metrics) Closed(code int) {
	m.closes.WithLabelValues(strconv.Itoa(code)).Inc()
}

func (m *Metrics) PendingRequests(n int) {
	m.pending.Set(float64(n))
}

func (m *Metrics) Authorized(ok bool) {
	if ok {
		m.authorized.Set(1)
		return
	}
	m.authorized.Set(0)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
