// Package observability holds the bridge's prometheus metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	RunsSubmitted   *prometheus.CounterVec
	SubmitFailures  *prometheus.CounterVec
	StatusRefreshes prometheus.Counter
	EngineErrors    *prometheus.CounterVec
	ResultFallbacks prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RunsSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "exray_runs_submitted_total",
			Help: "Workflow runs successfully submitted, by kind.",
		}, []string{"kind"}),
		SubmitFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "exray_run_submit_failures_total",
			Help: "Run submissions that failed before a record was created, by kind.",
		}, []string{"kind"}),
		StatusRefreshes: factory.NewCounter(prometheus.CounterOpts{
			Name: "exray_status_refreshes_total",
			Help: "Status refresh queries issued to the workflow engine.",
		}),
		EngineErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "exray_engine_errors_total",
			Help: "Workflow engine call failures, by operation.",
		}, []string{"op"}),
		ResultFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "exray_result_key_fallbacks_total",
			Help: "Result downloads that needed the stale-key fallback.",
		}),
	}
}
