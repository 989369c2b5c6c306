package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics of the policy and audit core.
// A nil *Metrics records nothing, so components work without a registry.
type Metrics struct {
	CommandsTotal             *prometheus.CounterVec
	CommandDuration           *prometheus.HistogramVec
	PolicyEvaluations         *prometheus.CounterVec
	AuditEventsTotal          *prometheus.CounterVec
	AuditWriteFailures        *prometheus.CounterVec
	TenantIsolationViolations *prometheus.CounterVec
	RetentionDeleted          *prometheus.CounterVec
	RetentionRuns             *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		CommandsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tenantguard",
				Name:      "commands_total",
				Help:      "Total commands processed by the pipeline",
			},
			[]string{"action", "result"}, // result=ok/access_denied/tenant_isolation/...
		),
		CommandDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "tenantguard",
				Name:      "command_duration_seconds",
				Help:      "Command pipeline duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"action"},
		),
		PolicyEvaluations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tenantguard",
				Name:      "policy_evaluations_total",
				Help:      "Total policy evaluations",
			},
			[]string{"outcome"}, // outcome=ALLOW/DENY
		),
		AuditEventsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tenantguard",
				Name:      "audit_events_total",
				Help:      "Total audit events written",
			},
			[]string{"outcome"},
		),
		AuditWriteFailures: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tenantguard",
				Name:      "audit_write_failures_total",
				Help:      "Total audit writes that failed",
			},
			[]string{"level"}, // level=BASIC/FULL
		),
		TenantIsolationViolations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tenantguard",
				Name:      "tenant_isolation_violations_total",
				Help:      "Total tenant isolation violations detected",
			},
			[]string{"source"},
		),
		RetentionDeleted: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tenantguard",
				Name:      "retention_deleted_total",
				Help:      "Total audit events deleted by retention",
			},
			[]string{"tenant"},
		),
		RetentionRuns: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tenantguard",
				Name:      "retention_runs_total",
				Help:      "Total retention runs",
			},
			[]string{"result"}, // result=ok/dry_run/error
		),
	}
}

// ReportViolation implements tenant.ViolationReporter.
func (m *Metrics) ReportViolation(kind, tenantID, entityID string) {
	if m == nil {
		return
	}
	m.TenantIsolationViolations.WithLabelValues(kind).Inc()
}

func (m *Metrics) command(action, result string, seconds float64) {
	if m == nil {
		return
	}
	m.CommandsTotal.WithLabelValues(action, result).Inc()
	m.CommandDuration.WithLabelValues(action).Observe(seconds)
}

func (m *Metrics) evaluation(outcome string) {
	if m == nil {
		return
	}
	m.PolicyEvaluations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) auditWritten(outcome string) {
	if m == nil {
		return
	}
	m.AuditEventsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) auditFailed(level string) {
	if m == nil {
		return
	}
	m.AuditWriteFailures.WithLabelValues(level).Inc()
}

func (m *Metrics) retention(tenantID, result string, deleted int) {
	if m == nil {
		return
	}
	m.RetentionRuns.WithLabelValues(result).Inc()
	if deleted > 0 {
		m.RetentionDeleted.WithLabelValues(tenantID).Add(float64(deleted))
	}
}
