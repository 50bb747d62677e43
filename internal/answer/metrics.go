// Package answer — metrics.go registers the Prometheus metrics that track
// per-branch outcomes across the orchestrator's fan-out.
package answer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics owned by the orchestrator.
// A single instance is created per Orchestrator so that tests can inject a
// fresh prometheus.Registry without polluting the default one.
type Metrics struct {
	// questionsTotal counts questions processed, partitioned by whether
	// every branch came back empty.
	questionsTotal *prometheus.CounterVec

	// branchesTotal counts completed intent branches, partitioned by
	// family and outcome status.
	branchesTotal *prometheus.CounterVec

	// branchDurationSeconds records the wall-clock duration of each intent
	// branch from rewrite to answer.
	branchDurationSeconds *prometheus.HistogramVec

	// branchCandidates records how many documents cleared the threshold
	// per branch.
	branchCandidates *prometheus.HistogramVec
}

// NewMetrics registers the orchestrator metrics against reg.
// promauto.With(reg) is used so that each call registers into the provided
// registry rather than the global default — this keeps unit tests hermetic.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		questionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dbrag",
			Subsystem: "orchestrator",
			Name:      "questions_total",
			Help:      "Total number of questions processed, partitioned by outcome.",
		}, []string{"outcome"}),

		branchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dbrag",
			Subsystem: "orchestrator",
			Name:      "branches_total",
			Help:      "Total number of completed intent branches, partitioned by family and status.",
		}, []string{"family", "status"}),

		branchDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dbrag",
			Subsystem: "orchestrator",
			Name:      "branch_duration_seconds",
			Help:      "Wall-clock duration of each intent branch from rewrite to answer.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		}, []string{"family"}),

		branchCandidates: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dbrag",
			Subsystem: "orchestrator",
			Name:      "branch_candidates",
			Help:      "Number of documents that cleared the similarity threshold per branch.",
			Buckets:   []float64{0, 1, 2, 4, 6, 8, 10},
		}, []string{"family"}),
	}
}
