// Package metrics defines the Prometheus collectors for varpol.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "varpol"

// Metrics holds all Prometheus metrics for varpol.
// Pass to components that need to record metrics. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	Decisions     *prometheus.CounterVec
	Registrations *prometheus.CounterVec
	Validations   *prometheus.CounterVec
	Transitions   *prometheus.CounterVec
	Policies      prometheus.Gauge
	MailboxCalls  *prometheus.CounterVec
}

// New creates and registers all metrics with the given registry.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Decisions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "write_decisions_total",
				Help:      "Total write authorization decisions",
			},
			[]string{"result", "reason"}, // result=allow/deny
		),
		Registrations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_registrations_total",
				Help:      "Total policy registration attempts",
			},
			[]string{"result"},
		),
		Validations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_validations_total",
				Help:      "Total authenticated update validations",
			},
			[]string{"result"},
		),
		Transitions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "engine_transitions_total",
				Help:      "Engine state transitions (lock, disable, reset)",
			},
			[]string{"event"},
		),
		Policies: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "registered_policies",
				Help:      "Number of policies registered in the current session",
			},
		),
		MailboxCalls: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mailbox_commands_total",
				Help:      "Total mailbox commands dispatched",
			},
			[]string{"command", "status"},
		),
	}
}

// ObserveDecision counts one Authorize outcome.
func (m *Metrics) ObserveDecision(allowed bool, reason string) {
	if m == nil {
		return
	}
	result := "deny"
	if allowed {
		result = "allow"
	}
	m.Decisions.WithLabelValues(result, reason).Inc()
}

// ObserveRegistration counts one Register outcome.
func (m *Metrics) ObserveRegistration(result string) {
	if m == nil {
		return
	}
	m.Registrations.WithLabelValues(result).Inc()
}

// ObserveValidation counts one authenticated update validation.
func (m *Metrics) ObserveValidation(result string) {
	if m == nil {
		return
	}
	m.Validations.WithLabelValues(result).Inc()
}

// ObserveTransition counts an engine state transition.
func (m *Metrics) ObserveTransition(event string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(event).Inc()
}

// SetPolicies sets the registered policy gauge.
func (m *Metrics) SetPolicies(n int) {
	if m == nil {
		return
	}
	m.Policies.Set(float64(n))
}

// ObserveMailbox counts one mailbox command.
func (m *Metrics) ObserveMailbox(command, status string) {
	if m == nil {
		return
	}
	m.MailboxCalls.WithLabelValues(command, status).Inc()
}
