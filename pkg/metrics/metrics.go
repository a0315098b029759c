package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	appAnalyzer = "appanalyzer"

	// Pipeline metrics
	pipelineJobsTotal = "pipeline_jobs_total"

	// Worker metrics
	workerRequestsTotal = "worker_requests_total"

	// Orchestrator metrics
	analysisRunsTotal = "analysis_runs_total"

	// Labels
	stageLabel       = "stage"
	resultLabel      = "result"
	workerClassLabel = "worker_class"
	statusLabel      = "status"
)

/**
* Metrics definition
**/
var PipelineJobsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: appAnalyzer,
		Name:      pipelineJobsTotal,
		Help:      "number of pipeline jobs finished, by stage and result",
	},
	[]string{stageLabel, resultLabel},
)

var workerRequestsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: appAnalyzer,
		Name:      workerRequestsTotal,
		Help:      "number of requests sent to analyzer workers, by class and outcome",
	},
	[]string{workerClassLabel, statusLabel},
)

var analysisRunsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: appAnalyzer,
		Name:      analysisRunsTotal,
		Help:      "number of consolidated analysis runs, by overall status",
	},
	[]string{statusLabel},
)

func IncreaseWorkerRequestsMetric(workerClass, status string) {
	labels := prometheus.Labels{
		workerClassLabel: workerClass,
		statusLabel:      status,
	}
	workerRequestsTotalMetric.With(labels).Inc()
}

func IncreaseAnalysisRunsMetric(status string) {
	labels := prometheus.Labels{
		statusLabel: status,
	}
	analysisRunsTotalMetric.With(labels).Inc()
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(PipelineJobsTotal)
	prometheus.MustRegister(workerRequestsTotalMetric)
	prometheus.MustRegister(analysisRunsTotalMetric)
}
