// Package metrics exposes the server's Prometheus collectors. A nil *Metrics
// is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "leadfeed"

// Metrics groups the collectors registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	connections    *prometheus.GaugeVec
	messages       *prometheus.CounterVec
	dropped        prometheus.Counter
	restarts       prometheus.Counter
	resyncs        *prometheus.CounterVec
	submissions    *prometheus.CounterVec
	faults         *prometheus.CounterVec
	clientEvents   prometheus.Counter
	notifyFailures *prometheus.CounterVec
	feedSeq        prometheus.Gauge
	idemRecords    prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "connections",
			Help:      "Open realtime connections by protocol.",
		}, []string{"protocol"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "messages_total",
			Help:      "Realtime messages broadcast by type.",
		}, []string{"type"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "dropped_total",
			Help:      "Messages dropped because a connection's send buffer was full.",
		}),
		restarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "restarts_total",
			Help:      "Simulated service restarts.",
		}),
		feedSeq: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "sequence",
			Help:      "Latest availability sequence number.",
		}),
		idemRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "idempotency_records",
			Help:      "Distinct idempotency keys recorded.",
		}),
		resyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resync_requests_total",
			Help:      "Resync requests by outcome (event or current).",
		}, []string{"outcome"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Lead submissions by outcome.",
		}, []string{"outcome"}),
		faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "injected_faults_total",
			Help:      "Faults injected by the chaos layer.",
		}, []string{"endpoint", "mode"}),
		clientEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_events_total",
			Help:      "Telemetry events reported by clients.",
		}),
		notifyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_failures_total",
			Help:      "Accepted-lead notifications that failed, by sink.",
		}, []string{"sink"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.connections,
		m.messages,
		m.dropped,
		m.restarts,
		m.feedSeq,
		m.idemRecords,
		m.resyncs,
		m.submissions,
		m.faults,
		m.clientEvents,
		m.notifyFailures,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ConnectionOpened(protocol string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(protocol).Inc()
}

func (m *Metrics) ConnectionClosed(protocol string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(protocol).Dec()
}

func (m *Metrics) MessageSent(msgType string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(msgType).Inc()
}

func (m *Metrics) MessageDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

func (m *Metrics) Restart() {
	if m == nil {
		return
	}
	m.restarts.Inc()
}

func (m *Metrics) Sequence(seq uint64) {
	if m == nil {
		return
	}
	m.feedSeq.Set(float64(seq))
}

func (m *Metrics) Resync(outcome string) {
	if m == nil {
		return
	}
	m.resyncs.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Submission(outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) FaultInjected(endpoint, mode string) {
	if m == nil {
		return
	}
	m.faults.WithLabelValues(endpoint, mode).Inc()
}

func (m *Metrics) ClientEvent() {
	if m == nil {
		return
	}
	m.clientEvents.Inc()
}

func (m *Metrics) NotifyFailed(sink string) {
	if m == nil {
		return
	}
	m.notifyFailures.WithLabelValues(sink).Inc()
}

func (m *Metrics) IdempotencyRecords(n int) {
	if m == nil {
		return
	}
	m.idemRecords.Set(float64(n))
}
