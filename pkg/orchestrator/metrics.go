package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the process-wide Prometheus collectors scraped by the
// /metrics HTTP endpoint. Grounded on the pack's observability approach
// (MrWong99-glyphoxa wires Prometheus as its metrics backend) but reached
// directly through client_golang's registry rather than the full OTel
// SDK bridge, since this package only needs gauges and counters, not
// distributed tracing.
type Metrics struct {
	ActiveSessions        prometheus.Gauge
	ActiveTranscriptions  prometheus.Gauge
	VATTransitions        *prometheus.CounterVec
	ReplyTasksTotal        *prometheus.CounterVec
	SynthTasksTotal        *prometheus.CounterVec
	InterruptionsTotal     prometheus.Counter
}

// NewMetrics registers a fresh set of collectors against reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the global
// default registry across parallel test binaries.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "aurevox",
			Name:      "active_sessions",
			Help:      "Number of sessions currently registered.",
		}),
		ActiveTranscriptions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "aurevox",
			Name:      "active_transcriptions",
			Help:      "Number of sessions with a currently open Transcriber.",
		}),
		VATTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aurevox",
			Name:      "vat_transitions_total",
			Help:      "Voice activity tracker state transitions, by resulting state.",
		}, []string{"state"}),
		ReplyTasksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aurevox",
			Name:      "reply_tasks_total",
			Help:      "ReplyTask completions, by outcome.",
		}, []string{"outcome"}),
		SynthTasksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aurevox",
			Name:      "synth_tasks_total",
			Help:      "SynthTask completions, by outcome.",
		}, []string{"outcome"}),
		InterruptionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "aurevox",
			Name:      "interruptions_total",
			Help:      "Barge-in interruptions of a live ReplyTask or SynthTask.",
		}),
	}
}
