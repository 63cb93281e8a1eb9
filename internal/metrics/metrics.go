package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service's Prometheus collectors. It implements
// audio.Observer and practice.Observer.
type Metrics struct {
	AudioSessions        *prometheus.CounterVec
	AudioSessionDuration *prometheus.HistogramVec
	ActiveAudioSession   *prometheus.GaugeVec

	Evaluations        *prometheus.CounterVec
	EvaluationDuration prometheus.Histogram
	PersistFailures    prometheus.Counter

	HTTPRequests *prometheus.CounterVec
}

// New registers every collector on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		AudioSessions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rehearsal_audio_sessions_total",
			Help: "Audio sessions started, by kind",
		}, []string{"kind"}),
		AudioSessionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rehearsal_audio_session_duration_seconds",
			Help:    "How long each audio session held the device",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4 minutes
		}, []string{"kind"}),
		ActiveAudioSession: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rehearsal_audio_session_active",
			Help: "1 while a session of the kind holds the device",
		}, []string{"kind"}),

		Evaluations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rehearsal_evaluations_total",
			Help: "Finished evaluations by outcome (success or fallback)",
		}, []string{"outcome"}),
		EvaluationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rehearsal_evaluation_duration_seconds",
			Help:    "Time spent waiting for an evaluation",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2 minutes
		}),
		PersistFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "rehearsal_persist_failures_total",
			Help: "Practice sessions that could not be saved",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rehearsal_http_requests_total",
			Help: "HTTP API requests",
		}, []string{"method", "route", "status_code"}),
	}
}

func (m *Metrics) SessionStarted(kind string) {
	m.AudioSessions.WithLabelValues(kind).Inc()
	m.ActiveAudioSession.WithLabelValues(kind).Set(1)
}

func (m *Metrics) SessionEnded(kind string, held time.Duration) {
	m.ActiveAudioSession.WithLabelValues(kind).Set(0)
	m.AudioSessionDuration.WithLabelValues(kind).Observe(held.Seconds())
}

func (m *Metrics) EvaluationFinished(outcome string, took time.Duration) {
	m.Evaluations.WithLabelValues(outcome).Inc()
	m.EvaluationDuration.Observe(took.Seconds())
}

func (m *Metrics) PersistFailed() {
	m.PersistFailures.Inc()
}

func (m *Metrics) RecordRequest(method, route, status string) {
	m.HTTPRequests.WithLabelValues(method, route, status).Inc()
}
