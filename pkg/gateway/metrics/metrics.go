// Package metrics exposes the gateway's Prometheus metrics on a private
// registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics implements publish.Stats for the data channel and carries the
// viewer session and edit counters.
type Metrics struct {
	registry *prometheus.Registry

	PublishSentTotal    *prometheus.CounterVec
	PublishSkippedTotal *prometheus.CounterVec
	PublishDroppedTotal *prometheus.CounterVec

	ViewerSessionsActive prometheus.Gauge
	ViewerSessionsTotal  *prometheus.CounterVec

	EditsTotal      *prometheus.CounterVec
	EditTokensTotal prometheus.Counter
	SavesTotal      *prometheus.CounterVec
}

func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "playersync"
	}

	registry := prometheus.NewRegistry()

	publishSent := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_sent_total",
			Help:      "Snapshots delivered to the agent data channel",
		},
		[]string{"kind"},
	)

	publishSkipped := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_skipped_total",
			Help:      "Snapshots skipped before send (disconnected, empty, duplicate)",
		},
		[]string{"kind", "reason"},
	)

	publishDropped := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_dropped_total",
			Help:      "Snapshots lost to send or encode failures",
		},
		[]string{"kind"},
	)

	viewerSessionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "viewer_sessions_active",
			Help:      "Number of connected viewer sessions",
		},
	)

	viewerSessionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "viewer_sessions_total",
			Help:      "Total viewer sessions by terminal status",
		},
		[]string{"status"},
	)

	editsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "edits_total",
			Help:      "AI edit sessions by outcome",
		},
		[]string{"outcome"},
	)

	editTokensTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "edit_tokens_total",
			Help:      "Streamed edit tokens relayed to viewers",
		},
	)

	savesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saves_total",
			Help:      "Script save attempts by status",
		},
		[]string{"status"},
	)

	registry.MustRegister(
		publishSent,
		publishSkipped,
		publishDropped,
		viewerSessionsActive,
		viewerSessionsTotal,
		editsTotal,
		editTokensTotal,
		savesTotal,
	)

	return &Metrics{
		registry:             registry,
		PublishSentTotal:     publishSent,
		PublishSkippedTotal:  publishSkipped,
		PublishDroppedTotal:  publishDropped,
		ViewerSessionsActive: viewerSessionsActive,
		ViewerSessionsTotal:  viewerSessionsTotal,
		EditsTotal:           editsTotal,
		EditTokensTotal:      editTokensTotal,
		SavesTotal:           savesTotal,
	}
}

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// PublishSent implements publish.Stats.
func (m *Metrics) PublishSent(kind string) {
	m.PublishSentTotal.WithLabelValues(kind).Inc()
}

// PublishSkipped implements publish.Stats.
func (m *Metrics) PublishSkipped(kind, reason string) {
	m.PublishSkippedTotal.WithLabelValues(kind, reason).Inc()
}

// PublishDropped implements publish.Stats.
func (m *Metrics) PublishDropped(kind string) {
	m.PublishDroppedTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) ViewerSessionStarted() {
	m.ViewerSessionsActive.Inc()
}

func (m *Metrics) ViewerSessionEnded(status string) {
	m.ViewerSessionsActive.Dec()
	m.ViewerSessionsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) EditFinished(outcome string) {
	m.EditsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) EditTokenRelayed() {
	m.EditTokensTotal.Inc()
}

func (m *Metrics) SaveAttempted(status string) {
	m.SavesTotal.WithLabelValues(status).Inc()
}
