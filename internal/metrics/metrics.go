// Package metrics exposes the orchestration counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for advancement attempts.
const (
	OutcomeAdvanced  = "advanced"
	OutcomeCompleted = "completed"
	OutcomeMismatch  = "step_mismatch"
	OutcomeNotActive = "not_active"
	OutcomeFailed    = "failed"
	OutcomePartial   = "partial"
)

// Metrics is safe to use as a nil pointer; every method becomes a no-op.
type Metrics struct {
	advancements      *prometheus.CounterVec
	instancesStarted  prometheus.Counter
	unassignedSteps   prometheus.Counter
	orphansReconciled *prometheus.CounterVec
	repairs           *prometheus.CounterVec
	jobs              *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		advancements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowdesk_advancements_total",
				Help: "Advancement attempts by outcome",
			},
			[]string{"outcome"},
		),
		instancesStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "flowdesk_instances_started_total",
				Help: "Workflow instances started",
			},
		),
		unassignedSteps: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "flowdesk_unassigned_steps_total",
				Help: "Steps reached that had no configured assignee",
			},
		),
		orphansReconciled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowdesk_orphan_assignments_total",
				Help: "Orphan assignments handled by reconciliation",
			},
			[]string{"result"},
		),
		repairs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowdesk_instance_repairs_total",
				Help: "Repairs of half-applied advancements",
			},
			[]string{"problem", "result"},
		),
		jobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowdesk_jobs_total",
				Help: "Background jobs processed",
			},
			[]string{"kind", "result"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.advancements,
			m.instancesStarted,
			m.unassignedSteps,
			m.orphansReconciled,
			m.repairs,
			m.jobs,
		)
	}
	return m
}

func (m *Metrics) Advancement(outcome string) {
	if m == nil {
		return
	}
	m.advancements.WithLabelValues(outcome).Inc()
}

func (m *Metrics) InstanceStarted() {
	if m == nil {
		return
	}
	m.instancesStarted.Inc()
}

func (m *Metrics) UnassignedStep() {
	if m == nil {
		return
	}
	m.unassignedSteps.Inc()
}

// OrphanReconciled records "deleted" or "failed".
func (m *Metrics) OrphanReconciled(result string) {
	if m == nil {
		return
	}
	m.orphansReconciled.WithLabelValues(result).Inc()
}

func (m *Metrics) Repair(problem, result string) {
	if m == nil {
		return
	}
	m.repairs.WithLabelValues(problem, result).Inc()
}

func (m *Metrics) Job(kind, result string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(kind, result).Inc()
}
