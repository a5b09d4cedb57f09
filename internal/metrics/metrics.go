package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drop reasons recorded on UtterancesDropped.
const (
	DropBelowThreshold = "below_threshold"
	DropBusy           = "busy"
)

// Metrics holds the Prometheus collectors for the interpreter. All Record*
// methods are safe on a nil *Metrics so callers never need to guard them.
type Metrics struct {
	registry *prometheus.Registry

	ActiveSessions    prometheus.Gauge
	SessionsOpened    prometheus.Counter
	SessionsClosed    prometheus.Counter
	FramesReceived    prometheus.Counter
	InvalidMessages   prometheus.Counter
	UtterancesSent    prometheus.Counter
	UtterancesDropped *prometheus.CounterVec
	RemoteCalls       *prometheus.CounterVec
	RemoteCallSeconds *prometheus.HistogramVec
	EventsEmitted     *prometheus.CounterVec
}

// New creates the collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "interpreter_active_sessions",
			Help: "Current number of connected sessions",
		}),
		SessionsOpened: f.NewCounter(prometheus.CounterOpts{
			Name: "interpreter_sessions_opened_total",
			Help: "Total number of sessions opened",
		}),
		SessionsClosed: f.NewCounter(prometheus.CounterOpts{
			Name: "interpreter_sessions_closed_total",
			Help: "Total number of sessions closed",
		}),
		FramesReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "interpreter_audio_frames_received_total",
			Help: "Total number of audio frames appended to accumulators",
		}),
		InvalidMessages: f.NewCounter(prometheus.CounterOpts{
			Name: "interpreter_invalid_messages_total",
			Help: "Total number of malformed client messages dropped",
		}),
		UtterancesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "interpreter_utterances_submitted_total",
			Help: "Total number of utterances submitted to recognition",
		}),
		UtterancesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "interpreter_utterances_dropped_total",
			Help: "Total number of drains whose frames were discarded",
		}, []string{"reason"}),
		RemoteCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "interpreter_remote_calls_total",
			Help: "Remote capability calls by stage and outcome",
		}, []string{"stage", "outcome"}),
		RemoteCallSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "interpreter_remote_call_duration_seconds",
			Help:    "Duration of remote capability calls",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"stage"}),
		EventsEmitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "interpreter_events_emitted_total",
			Help: "Server events written to clients",
		}, []string{"event"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordSessionOpened(active int) {
	if m == nil {
		return
	}
	m.SessionsOpened.Inc()
	m.ActiveSessions.Set(float64(active))
}

func (m *Metrics) RecordSessionClosed(active int) {
	if m == nil {
		return
	}
	m.SessionsClosed.Inc()
	m.ActiveSessions.Set(float64(active))
}

func (m *Metrics) RecordFrame() {
	if m == nil {
		return
	}
	m.FramesReceived.Inc()
}

func (m *Metrics) RecordInvalidMessage() {
	if m == nil {
		return
	}
	m.InvalidMessages.Inc()
}

func (m *Metrics) RecordUtteranceSubmitted() {
	if m == nil {
		return
	}
	m.UtterancesSent.Inc()
}

func (m *Metrics) RecordUtteranceDropped(reason string) {
	if m == nil {
		return
	}
	m.UtterancesDropped.WithLabelValues(reason).Inc()
}

// RecordRemoteCall records one capability call. outcome is "ok" or "error".
func (m *Metrics) RecordRemoteCall(stage, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.RemoteCalls.WithLabelValues(stage, outcome).Inc()
	m.RemoteCallSeconds.WithLabelValues(stage).Observe(seconds)
}

func (m *Metrics) RecordEvent(event string) {
	if m == nil {
		return
	}
	m.EventsEmitted.WithLabelValues(event).Inc()
}
