// Package metrics exposes Prometheus instruments for the settlement engine.
// All recording methods are safe to call on a nil *Registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "weighsettle"

type Registry struct {
	reg *prometheus.Registry

	Transitions      *prometheus.CounterVec
	PolicyDecisions  *prometheus.CounterVec
	ProviderCalls    *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec
	SweepEscalations prometheus.Counter
	SweepRuns        prometheus.Counter
	EventsPublished  *prometheus.CounterVec
	GateChecks       *prometheus.CounterVec
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "adjustment_transitions_total",
		Help:      "Weight adjustment status transitions by target status.",
	}, []string{"to"})
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "policy_decisions_total",
		Help:      "Approval policy outcomes.",
	}, []string{"decision"})
	providerCalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provider_calls_total",
		Help:      "Payment provider calls by operation and outcome.",
	}, []string{"operation", "outcome"})
	providerLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "provider_call_duration_seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
	escalations := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sweep_escalations_total",
		Help:      "Adjustments escalated by the authorization expiry sweep.",
	})
	sweepRuns := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sweep_runs_total",
	})
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_published_total",
	}, []string{"sink", "outcome"})
	gate := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "delivery_gate_checks_total",
	}, []string{"result"})

	r.MustRegister(transitions, decisions, providerCalls, providerLatency, escalations, sweepRuns, events, gate)
	return &Registry{
		reg:              r,
		Transitions:      transitions,
		PolicyDecisions:  decisions,
		ProviderCalls:    providerCalls,
		ProviderLatency:  providerLatency,
		SweepEscalations: escalations,
		SweepRuns:        sweepRuns,
		EventsPublished:  events,
		GateChecks:       gate,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }

func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

func (r *Registry) ObserveTransition(to string) {
	if r == nil {
		return
	}
	r.Transitions.WithLabelValues(to).Inc()
}

func (r *Registry) ObserveDecision(decision string) {
	if r == nil {
		return
	}
	r.PolicyDecisions.WithLabelValues(decision).Inc()
}

func (r *Registry) ObserveProviderCall(operation, outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.ProviderCalls.WithLabelValues(operation, outcome).Inc()
	r.ProviderLatency.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (r *Registry) ObserveSweep(escalated int) {
	if r == nil {
		return
	}
	r.SweepRuns.Inc()
	r.SweepEscalations.Add(float64(escalated))
}

func (r *Registry) ObserveEvent(sink string, err error) {
	if r == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.EventsPublished.WithLabelValues(sink, outcome).Inc()
}

func (r *Registry) ObserveGate(allowed bool) {
	if r == nil {
		return
	}
	result := "allowed"
	if !allowed {
		result = "blocked"
	}
	r.GateChecks.WithLabelValues(result).Inc()
}
