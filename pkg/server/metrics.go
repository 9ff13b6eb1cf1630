package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the server.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Directory metrics
	registeredPeers       prometheus.Gauge
	registrations         prometheus.Counter
	registrationsRejected *prometheus.CounterVec // by reason

	// Connection metrics
	activeConnections prometheus.Gauge

	// Broadcast metrics
	broadcasts        *prometheus.CounterVec // by kind
	broadcastFanout   prometheus.Histogram
	deliveryFailures  prometheus.Counter
	broadcastDuration prometheus.Histogram

	// Message metrics
	messagesReceived *prometheus.CounterVec // by command
	errorsSent       prometheus.Counter
}

// NewMetrics creates the metrics on a private registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		registeredPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "peerchat_registered_peers",
			Help: "Number of nicknames currently held in the directory",
		}),
		registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "peerchat_registrations_total",
			Help: "Total number of completed registrations",
		}),
		registrationsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "peerchat_registrations_rejected_total",
			Help: "Total number of registrations that did not complete, by reason",
		}, []string{"reason"}),
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "peerchat_active_connections",
			Help: "Current number of open client connections",
		}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "peerchat_broadcasts_total",
			Help: "Total number of fan-out operations, by kind",
		}, []string{"kind"}),
		broadcastFanout: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "peerchat_broadcast_fanout",
			Help:    "Number of peers that received each fan-out",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		deliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "peerchat_delivery_failures_total",
			Help: "Total number of fan-out writes that failed",
		}),
		broadcastDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "peerchat_broadcast_duration_seconds",
			Help:    "Time taken to write a fan-out to all recipients",
			Buckets: prometheus.DefBuckets,
		}),
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "peerchat_messages_received_total",
			Help: "Total number of commands received from registered peers, by command",
		}, []string{"command"}),
		errorsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "peerchat_errors_sent_total",
			Help: "Total number of ERROR replies sent to clients",
		}),
	}

	reg.MustRegister(
		m.registeredPeers,
		m.registrations,
		m.registrationsRejected,
		m.activeConnections,
		m.broadcasts,
		m.broadcastFanout,
		m.deliveryFailures,
		m.broadcastDuration,
		m.messagesReceived,
		m.errorsSent,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRegisteredPeers updates the directory size
func (m *Metrics) RecordRegisteredPeers(count int) {
	if m == nil {
		return
	}
	m.registeredPeers.Set(float64(count))
}

// RecordRegistration increments the completed registration counter
func (m *Metrics) RecordRegistration() {
	if m == nil {
		return
	}
	m.registrations.Inc()
}

// RecordRegistrationRejected increments the rejection counter for a reason
func (m *Metrics) RecordRegistrationRejected(reason string) {
	if m == nil {
		return
	}
	m.registrationsRejected.WithLabelValues(reason).Inc()
}

// RecordConnectionOpened increments the open connection gauge
func (m *Metrics) RecordConnectionOpened() {
	if m == nil {
		return
	}
	m.activeConnections.Inc()
}

// RecordConnectionClosed decrements the open connection gauge
func (m *Metrics) RecordConnectionClosed() {
	if m == nil {
		return
	}
	m.activeConnections.Dec()
}

// RecordBroadcast records one fan-out of the given kind
func (m *Metrics) RecordBroadcast(kind string, delivered, failed int, durationSeconds float64) {
	if m == nil {
		return
	}
	m.broadcasts.WithLabelValues(kind).Inc()
	m.broadcastFanout.Observe(float64(delivered))
	m.deliveryFailures.Add(float64(failed))
	m.broadcastDuration.Observe(durationSeconds)
}

// RecordMessageReceived increments the received counter for a command
func (m *Metrics) RecordMessageReceived(command string) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(command).Inc()
}

// RecordErrorSent increments the ERROR reply counter
func (m *Metrics) RecordErrorSent() {
	if m == nil {
		return
	}
	m.errorsSent.Inc()
}
