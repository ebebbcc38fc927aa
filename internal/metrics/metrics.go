// Package metrics defines the Prometheus collectors farmlink exports.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "farmlink"

// Failure reasons recorded on IngestFailures.
const (
	ReasonValidation = "validation"
	ReasonStorage    = "storage"
	ReasonFrame      = "frame"
)

// Metrics groups the collectors on their own registry.
type Metrics struct {
	Registry *prometheus.Registry

	ReadingsIngested  *prometheus.CounterVec
	IngestFailures    *prometheus.CounterVec
	StatusPolls       prometheus.Counter
	MessagesDelivered prometheus.Counter
	SinkFailures      *prometheus.CounterVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		ReadingsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_ingested_total",
			Help:      "Readings stored, by transport.",
		}, []string{"transport"}),
		IngestFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_failures_total",
			Help:      "Readings rejected or not stored, by reason.",
		}, []string{"reason"}),
		StatusPolls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_polls_total",
			Help:      "Status polls served to devices.",
		}),
		MessagesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_delivered_total",
			Help:      "Non-empty pending messages handed to a device.",
		}),
		SinkFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_failures_total",
			Help:      "Failed reading forwards, by sink.",
		}, []string{"sink"}),
	}

	m.Registry.MustRegister(
		m.ReadingsIngested,
		m.IngestFailures,
		m.StatusPolls,
		m.MessagesDelivered,
		m.SinkFailures,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// SinkFailed counts a failed forward to sink.
func (m *Metrics) SinkFailed(sink string) {
	m.SinkFailures.WithLabelValues(sink).Inc()
}
