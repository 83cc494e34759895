// Package metrics exports relay and connection metrics to Prometheus.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace      = "layerlink"
	eventTypeLabel = "event_type"
	codeLabel      = "code"
)

// Metrics holds the collectors of one server process. A nil *Metrics is
// valid and records nothing, so components can run without it in tests.
type Metrics struct {
	registry *prometheus.Registry

	connections         prometheus.Gauge
	relayRooms          prometheus.Gauge
	relayPublishedTotal *prometheus.CounterVec
	relayDroppedTotal   prometheus.Counter
	rejectedTotal       *prometheus.CounterVec
	commentsWritten     prometheus.Counter
	commentWriteFailed  prometheus.Counter
}

// NewMetrics creates a new instance of Metrics with its own registry.
func NewMetrics() (*Metrics, error) {
	reg := prometheus.NewRegistry()

	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("register process collector: %w", err)
	}
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("register go collector: %w", err)
	}

	return &Metrics{
		registry: reg,
		connections: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "connections",
			Help:      "The number of open websocket connections.",
		}),
		relayRooms: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "rooms",
			Help:      "The number of documents with at least one local subscriber.",
		}),
		relayPublishedTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "published_total",
			Help:      "The total count of events published to the relay.",
		}, []string{eventTypeLabel}),
		relayDroppedTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "dropped_total",
			Help:      "The total count of deliveries dropped because a recipient buffer was full.",
		}),
		rejectedTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "rejected_messages_total",
			Help:      "The total count of client messages answered with an error event.",
		}, []string{codeLabel}),
		commentsWritten: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "comments",
			Name:      "written_total",
			Help:      "The total count of comments written to the comment store.",
		}),
		commentWriteFailed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "comments",
			Name:      "write_failed_total",
			Help:      "The total count of comments the comment store did not accept.",
		}),
	}, nil
}

// Registry returns the registry of this metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// AddConnection adjusts the open connection gauge by delta.
func (m *Metrics) AddConnection(delta int) {
	if m == nil {
		return
	}
	m.connections.Add(float64(delta))
}

// AddRelayRoom adjusts the room gauge by delta.
func (m *Metrics) AddRelayRoom(delta int) {
	if m == nil {
		return
	}
	m.relayRooms.Add(float64(delta))
}

// AddRelayPublished counts one published event of the given type.
func (m *Metrics) AddRelayPublished(eventType string) {
	if m == nil {
		return
	}
	m.relayPublishedTotal.With(prometheus.Labels{eventTypeLabel: eventType}).Inc()
}

// AddRelayDropped counts one dropped delivery.
func (m *Metrics) AddRelayDropped() {
	if m == nil {
		return
	}
	m.relayDroppedTotal.Inc()
}

// AddRejected counts one rejected client message.
func (m *Metrics) AddRejected(code string) {
	if m == nil {
		return
	}
	m.rejectedTotal.With(prometheus.Labels{codeLabel: code}).Inc()
}

// AddCommentsWritten records the outcome of one comment batch write.
func (m *Metrics) AddCommentsWritten(written int, failed int) {
	if m == nil {
		return
	}
	m.commentsWritten.Add(float64(written))
	m.commentWriteFailed.Add(float64(failed))
}
