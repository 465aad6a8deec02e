package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gorenbridge"

var (
	PhaseTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "flow_phase_transitions_total",
		Help:      "Lifecycle phase transitions by target phase.",
	}, []string{"phase"})

	SubmissionErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "submission_errors_total",
		Help:      "Rejected or cancelled broadcasts by stage.",
	}, []string{"stage"})

	StoreWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "local_tx_writes_total",
		Help:      "Local transaction store writes by done flag.",
	}, []string{"done"})

	Recoveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "recoveries_total",
		Help:      "Recovery attempts by outcome.",
	}, []string{"outcome"})

	ActiveFlows = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_flows",
		Help:      "Flows currently held by the registry.",
	})
)

// Registry holds every collector of this package
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(PhaseTransitions, SubmissionErrors, StoreWrites, Recoveries, ActiveFlows)
}
