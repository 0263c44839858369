// Package metrics exposes session counters in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the client's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	StatusTransitions *prometheus.CounterVec
	CurrentStatus     *prometheus.GaugeVec
	AudioBytesTotal   *prometheus.CounterVec
	PlaybackUnits     *prometheus.CounterVec
	BargeIns          prometheus.Counter
	ChannelOpens      *prometheus.CounterVec
	TurnLatency       prometheus.Histogram
	ErrorsTotal       *prometheus.CounterVec
}

func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "voice_client"
	}
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		StatusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Session status transitions",
		}, []string{"from", "to"}),
		CurrentStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "status",
			Help:      "1 for the session's current status, 0 otherwise",
		}, []string{"status"}),
		AudioBytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "Audio bytes sent to and received from the agent",
		}, []string{"direction"}),
		PlaybackUnits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_units_total",
			Help:      "Agent audio units by outcome",
		}, []string{"outcome"}),
		BargeIns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barge_ins_total",
			Help:      "Times the user interrupted agent playback",
		}),
		ChannelOpens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_opens_total",
			Help:      "Channel open attempts by result",
		}, []string{"result"}),
		TurnLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_latency_seconds",
			Help:      "Time from sending user input to the agent's first reply",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Session errors by kind",
		}, []string{"kind"}),
	}
	registry.MustRegister(
		m.StatusTransitions,
		m.CurrentStatus,
		m.AudioBytesTotal,
		m.PlaybackUnits,
		m.BargeIns,
		m.ChannelOpens,
		m.TurnLatency,
		m.ErrorsTotal,
	)
	return m
}

// Handler serves the registry for /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.StatusTransitions.WithLabelValues(from, to).Inc()
	m.CurrentStatus.WithLabelValues(from).Set(0)
	m.CurrentStatus.WithLabelValues(to).Set(1)
}

func (m *Metrics) RecordAudio(direction string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.AudioBytesTotal.WithLabelValues(direction).Add(float64(n))
}

func (m *Metrics) RecordPlayback(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.PlaybackUnits.WithLabelValues(outcome).Add(float64(n))
}

func (m *Metrics) RecordBargeIn() {
	if m == nil {
		return
	}
	m.BargeIns.Inc()
}

func (m *Metrics) RecordChannelOpen(result string) {
	if m == nil {
		return
	}
	m.ChannelOpens.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordTurnLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.TurnLatency.Observe(d.Seconds())
}

func (m *Metrics) RecordError(kind string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(kind).Inc()
}
