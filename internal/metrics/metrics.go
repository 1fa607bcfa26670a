// Package metrics holds the Prometheus collectors for the tool-call pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "clawtrace"

// Metrics holds all Prometheus metrics for the application. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	EventsReceived  *prometheus.CounterVec
	EventsRejected  *prometheus.CounterVec
	RecordsWritten  *prometheus.CounterVec
	AppendFailures  prometheus.Counter
	Duplicates      prometheus.Counter
	Correlations    *prometheus.CounterVec
	NotesSubmitted  prometheus.Counter
	ObserversOnline prometheus.Gauge
}

// New creates and registers all metrics on a dedicated registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		EventsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Lifecycle events received from the host, by kind.",
		}, []string{"kind"}),
		EventsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_rejected_total",
			Help:      "Lifecycle events rejected before processing, by reason.",
		}, []string{"reason"}),
		RecordsWritten: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_written_total",
			Help:      "Records appended to the ledger, by source.",
		}, []string{"source"}),
		AppendFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_append_failures_total",
			Help:      "Ledger appends that failed.",
		}),
		Duplicates: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_completions_total",
			Help:      "Completions dropped because another source already recorded the call.",
		}),
		Correlations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "correlations_total",
			Help:      "Completion signals by whether a pending start was matched.",
		}, []string{"result"}),
		NotesSubmitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notes_submitted_total",
			Help:      "Operator notes persisted.",
		}),
		ObserversOnline: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "observers_connected",
			Help:      "Live stream observers currently connected.",
		}),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RegisterPending exposes the correlator backlog through fn.
func (m *Metrics) RegisterPending(fn func() float64) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "correlator_pending_starts",
		Help:      "Start observations waiting for a completion.",
	}, fn))
}

func (m *Metrics) EventReceived(kind string) {
	if m != nil {
		m.EventsReceived.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) EventRejected(reason string) {
	if m != nil {
		m.EventsRejected.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) RecordWritten(source string) {
	if m != nil {
		m.RecordsWritten.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) AppendFailed() {
	if m != nil {
		m.AppendFailures.Inc()
	}
}

func (m *Metrics) DuplicateDropped() {
	if m != nil {
		m.Duplicates.Inc()
	}
}

// Correlated counts a completion that did or did not find its start.
func (m *Metrics) Correlated(matched bool) {
	if m == nil {
		return
	}
	result := "missed"
	if matched {
		result = "matched"
	}
	m.Correlations.WithLabelValues(result).Inc()
}

func (m *Metrics) NoteSubmitted() {
	if m != nil {
		m.NotesSubmitted.Inc()
	}
}

func (m *Metrics) ObserverConnected() {
	if m != nil {
		m.ObserversOnline.Inc()
	}
}

func (m *Metrics) ObserverDisconnected() {
	if m != nil {
		m.ObserversOnline.Dec()
	}
}
