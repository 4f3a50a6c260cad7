// Package metrics exposes Prometheus metrics for calls.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the call metrics. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	CallsActive  prometheus.Gauge
	CallsTotal   *prometheus.CounterVec
	CallDuration prometheus.Histogram

	TurnsTotal prometheus.Counter
	WordsTotal prometheus.Counter

	StateTransitions *prometheus.CounterVec
	ListenDuration   *prometheus.HistogramVec
	ReplyDuration    prometheus.Histogram

	FailoversTotal prometheus.Counter
	FallbacksTotal prometheus.Counter
	ErrorsTotal    *prometheus.CounterVec
}

// New registers every metric on a private registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "voicecall"
	}
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		CallsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calls_active",
			Help:      "Number of calls in progress",
		}),
		CallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Total number of finished calls",
		}, []string{"status"}),
		CallDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Call duration in seconds",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200, 1800},
		}),
		TurnsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "user_turns_total",
			Help:      "Finalized user utterances",
		}),
		WordsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "user_words_total",
			Help:      "Words spoken by users",
		}),
		StateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Turn controller state transitions",
		}, []string{"from", "to"}),
		ListenDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "listen_duration_seconds",
			Help:      "Time from listening start to a final utterance",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 60},
		}, []string{"source"}),
		ReplyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reply_duration_seconds",
			Help:      "AI reply latency in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}),
		FailoversTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_failovers_total",
			Help:      "Switches from the streaming to the batch recognizer",
		}),
		FallbacksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tts_fallbacks_total",
			Help:      "Replies spoken by the local voice",
		}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors by component",
		}, []string{"component", "error_type"}),
	}

	registry.MustRegister(
		m.CallsActive,
		m.CallsTotal,
		m.CallDuration,
		m.TurnsTotal,
		m.WordsTotal,
		m.StateTransitions,
		m.ListenDuration,
		m.ReplyDuration,
		m.FailoversTotal,
		m.FallbacksTotal,
		m.ErrorsTotal,
	)
	return m
}

// Handler serves the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordCallStart() {
	if m == nil {
		return
	}
	m.CallsActive.Inc()
}

func (m *Metrics) RecordCallEnd(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.CallsActive.Dec()
	m.CallsTotal.WithLabelValues(status).Inc()
	m.CallDuration.Observe(duration.Seconds())
}

// RecordUtterance counts one accepted user utterance.
func (m *Metrics) RecordUtterance(source string, words int, listened time.Duration) {
	if m == nil {
		return
	}
	m.TurnsTotal.Inc()
	m.WordsTotal.Add(float64(words))
	m.ListenDuration.WithLabelValues(source).Observe(listened.Seconds())
}

func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.StateTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) RecordReply(d time.Duration) {
	if m == nil {
		return
	}
	m.ReplyDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordFailover() {
	if m == nil {
		return
	}
	m.FailoversTotal.Inc()
}

func (m *Metrics) RecordFallback() {
	if m == nil {
		return
	}
	m.FallbacksTotal.Inc()
}

func (m *Metrics) RecordError(component, errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
