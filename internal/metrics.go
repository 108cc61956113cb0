package internal

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are registered on a private registry so several servers can run
// in one process (tests, local mode).
type Metrics struct {
	registry *prometheus.Registry

	activeConns        prometheus.Gauge
	inboundEvents      *prometheus.CounterVec
	broadcasts         *prometheus.CounterVec
	slowConsumers      prometheus.Counter
	presenceRecomputes prometheus.Counter
	messageOps         *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		activeConns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "tubechat",
			Name:      "active_connections",
			Help:      "Open websocket connections.",
		}),
		inboundEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tubechat",
			Name:      "inbound_events_total",
			Help:      "Client events received, by event name.",
		}, []string{"event"}),
		broadcasts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tubechat",
			Name:      "broadcasts_total",
			Help:      "Room broadcasts, by event name.",
		}, []string{"event"}),
		slowConsumers: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tubechat",
			Name:      "slow_consumer_evictions_total",
			Help:      "Connections dropped because their send queue was full.",
		}),
		presenceRecomputes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tubechat",
			Name:      "presence_recomputes_total",
			Help:      "Online list recomputations.",
		}),
		messageOps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tubechat",
			Name:      "message_operations_total",
			Help:      "Message create/edit/delete requests, by op and outcome.",
		}, []string{"op", "outcome"}),
	}
}

func (m *Metrics) IncConn() { m.activeConns.Inc() }
func (m *Metrics) DecConn() { m.activeConns.Dec() }

func (m *Metrics) InboundEvent(event string) { m.inboundEvents.WithLabelValues(event).Inc() }
func (m *Metrics) Broadcast(event string)    { m.broadcasts.WithLabelValues(event).Inc() }
func (m *Metrics) SlowConsumerEvicted()      { m.slowConsumers.Inc() }
func (m *Metrics) PresenceRecomputed()       { m.presenceRecomputes.Inc() }

// MessageOp records the outcome of a message lifecycle request. An empty
// outcome means success.
func (m *Metrics) MessageOp(op string, kind string) {
	if kind == "" {
		kind = "ok"
	}
	m.messageOps.WithLabelValues(op, kind).Inc()
}

// Registry exposes the underlying registry for tests and custom collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
}
