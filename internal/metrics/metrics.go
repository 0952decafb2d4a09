package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"studio-gateway/internal/domain"
)

// Prometheus implements ports.MetricsSink over prometheus counters.
type Prometheus struct {
	workflowsCreated   *prometheus.CounterVec
	workflowsStarted   *prometheus.CounterVec
	workflowsCompleted *prometheus.CounterVec
	workflowsFailed    *prometheus.CounterVec
	workflowsStalled   *prometheus.CounterVec
	stepsCompleted     *prometheus.CounterVec
	stepsRetried       *prometheus.CounterVec
	stepsTimedOut      *prometheus.CounterVec
	txSubmitted        *prometheus.CounterVec
	txConfirmed        *prometheus.CounterVec
	txReverted         *prometheus.CounterVec
	admissionRejected  *prometheus.CounterVec
	reconciliations    *prometheus.CounterVec
}

func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		c := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      name,
			Help:      help,
		}, labels)
		reg.MustRegister(c)
		return c
	}

	return &Prometheus{
		workflowsCreated:   counter("workflows_created_total", "Workflows created.", "type"),
		workflowsStarted:   counter("workflows_started_total", "Workflows started.", "type"),
		workflowsCompleted: counter("workflows_completed_total", "Workflows completed.", "type"),
		workflowsFailed:    counter("workflows_failed_total", "Workflows terminally failed.", "type", "code"),
		workflowsStalled:   counter("workflows_stalled_total", "Workflow stalls.", "type", "reason"),
		stepsCompleted:     counter("steps_completed_total", "Steps completed.", "type", "step"),
		stepsRetried:       counter("steps_retried_total", "Step retry attempts.", "type", "step"),
		stepsTimedOut:      counter("steps_timed_out_total", "Step timeout expiries.", "type", "step"),
		txSubmitted:        counter("tx_submitted_total", "Transactions dispatched.", "signer"),
		txConfirmed:        counter("tx_confirmed_total", "Transactions confirmed.", "signer"),
		txReverted:         counter("tx_reverted_total", "Transactions reverted.", "signer"),
		admissionRejected:  counter("admission_rejected_total", "Admission rejections.", "reason"),
		reconciliations:    counter("reconciliations_total", "Reconciliation passes.", "changed"),
	}
}

func (p *Prometheus) WorkflowCreated(t domain.WorkflowType) {
	p.workflowsCreated.WithLabelValues(string(t)).Inc()
}

func (p *Prometheus) WorkflowStarted(t domain.WorkflowType) {
	p.workflowsStarted.WithLabelValues(string(t)).Inc()
}

func (p *Prometheus) WorkflowCompleted(t domain.WorkflowType) {
	p.workflowsCompleted.WithLabelValues(string(t)).Inc()
}

func (p *Prometheus) WorkflowFailed(t domain.WorkflowType, code string) {
	p.workflowsFailed.WithLabelValues(string(t), code).Inc()
}

func (p *Prometheus) WorkflowStalled(t domain.WorkflowType, reason string) {
	p.workflowsStalled.WithLabelValues(string(t), reason).Inc()
}

func (p *Prometheus) StepCompleted(t domain.WorkflowType, step domain.StepName) {
	p.stepsCompleted.WithLabelValues(string(t), string(step)).Inc()
}

func (p *Prometheus) StepRetried(t domain.WorkflowType, step domain.StepName) {
	p.stepsRetried.WithLabelValues(string(t), string(step)).Inc()
}

func (p *Prometheus) StepTimedOut(t domain.WorkflowType, step domain.StepName) {
	p.stepsTimedOut.WithLabelValues(string(t), string(step)).Inc()
}

func (p *Prometheus) TxSubmitted(signer string) {
	p.txSubmitted.WithLabelValues(signer).Inc()
}

func (p *Prometheus) TxConfirmed(signer string) {
	p.txConfirmed.WithLabelValues(signer).Inc()
}

func (p *Prometheus) TxReverted(signer string) {
	p.txReverted.WithLabelValues(signer).Inc()
}

func (p *Prometheus) AdmissionRejected(reason string) {
	p.admissionRejected.WithLabelValues(reason).Inc()
}

func (p *Prometheus) ReconciliationRan(changed bool) {
	label := "false"
	if changed {
		label = "true"
	}
	p.reconciliations.WithLabelValues(label).Inc()
}

// Noop discards every metric; a fully valid MetricsSink substitute.
type Noop struct{}

func (Noop) WorkflowCreated(domain.WorkflowType)                {}
func (Noop) WorkflowStarted(domain.WorkflowType)                {}
func (Noop) WorkflowCompleted(domain.WorkflowType)              {}
func (Noop) WorkflowFailed(domain.WorkflowType, string)         {}
func (Noop) WorkflowStalled(domain.WorkflowType, string)        {}
func (Noop) StepCompleted(domain.WorkflowType, domain.StepName) {}
func (Noop) StepRetried(domain.WorkflowType, domain.StepName)   {}
func (Noop) StepTimedOut(domain.WorkflowType, domain.StepName)  {}
func (Noop) TxSubmitted(string)                                 {}
func (Noop) TxConfirmed(string)                                 {}
func (Noop) TxReverted(string)                                  {}
func (Noop) AdmissionRejected(string)                           {}
func (Noop) ReconciliationRan(bool)                             {}
