package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	JobRuns      *prometheus.CounterVec
	JobSkips     *prometheus.CounterVec
	JobFailures  *prometheus.CounterVec
	Contacts     *prometheus.CounterVec
	Retries      *prometheus.CounterVec
	Inbound      *prometheus.CounterVec
	AlertsOpened prometheus.Counter
	StagesFired  *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "heatwatch", Name: "job_runs_total",
			Help: "Scheduled job runs that started.",
		}, []string{"job"}),
		JobSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "heatwatch", Name: "job_skips_total",
			Help: "Ticks skipped because the previous run was still in flight.",
		}, []string{"job"}),
		JobFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "heatwatch", Name: "job_failures_total",
			Help: "Job runs that returned an error or panicked.",
		}, []string{"job"}),
		Contacts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "heatwatch", Name: "contacts_total",
			Help: "Outbound contact attempts by channel and outcome.",
		}, []string{"channel", "outcome"}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "heatwatch", Name: "retries_total",
			Help: "Retried outbound calls by operation.",
		}, []string{"op"}),
		Inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "heatwatch", Name: "inbound_events_total",
			Help: "Inbound provider events by kind and outcome.",
		}, []string{"kind", "outcome"}),
		AlertsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "heatwatch", Name: "alerts_opened_total",
			Help: "Alerts created by the heat alert job.",
		}),
		StagesFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "heatwatch", Name: "escalation_stages_total",
			Help: "Escalation stages executed.",
		}, []string{"stage"}),
	}
	if reg != nil {
		reg.MustRegister(m.JobRuns, m.JobSkips, m.JobFailures, m.Contacts, m.Retries, m.Inbound, m.AlertsOpened, m.StagesFired)
	}
	return m
}

func (m *Metrics) JobRun(job string) {
	if m != nil {
		m.JobRuns.WithLabelValues(job).Inc()
	}
}

func (m *Metrics) JobSkipped(job string) {
	if m != nil {
		m.JobSkips.WithLabelValues(job).Inc()
	}
}

func (m *Metrics) JobFailed(job string) {
	if m != nil {
		m.JobFailures.WithLabelValues(job).Inc()
	}
}

func (m *Metrics) Contact(channel, outcome string) {
	if m != nil {
		m.Contacts.WithLabelValues(channel, outcome).Inc()
	}
}

func (m *Metrics) Retry(op string) {
	if m != nil {
		m.Retries.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) InboundEvent(kind, outcome string) {
	if m != nil {
		m.Inbound.WithLabelValues(kind, outcome).Inc()
	}
}

func (m *Metrics) AlertOpened() {
	if m != nil {
		m.AlertsOpened.Inc()
	}
}

func (m *Metrics) StageFired(stage string) {
	if m != nil {
		m.StagesFired.WithLabelValues(stage).Inc()
	}
}
