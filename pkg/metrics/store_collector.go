package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/GrabowMar/appanalyzer/internal/store"
)

type storeStatsCollector struct {
	store             store.Store
	totalResults      *prometheus.Desc
	totalResultBytes  *prometheus.Desc
	tasksByStatus     *prometheus.Desc
	pipelinesByStatus *prometheus.Desc
}

// NewStoreStatsCollector exposes store row counts as gauges, refreshed on
// every scrape.
func NewStoreStatsCollector(s store.Store) prometheus.Collector {
	fqName := func(name string) string {
		return fmt.Sprintf("%s_store_%s", appAnalyzer, name)
	}

	return &storeStatsCollector{
		store: s,
		totalResults: prometheus.NewDesc(
			fqName("results_total"),
			"Total number of stored analysis results.",
			nil,
			prometheus.Labels{},
		),
		totalResultBytes: prometheus.NewDesc(
			fqName("result_bytes_total"),
			"Total compressed size of stored analysis results.",
			nil,
			prometheus.Labels{},
		),
		tasksByStatus: prometheus.NewDesc(
			fqName("tasks_total"),
			"Analysis tasks by status.",
			[]string{"status"},
			prometheus.Labels{},
		),
		pipelinesByStatus: prometheus.NewDesc(
			fqName("pipelines_total"),
			"Pipeline executions by status.",
			[]string{"status"},
			prometheus.Labels{},
		),
	}
}

func (c *storeStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.totalResults
	ch <- c.totalResultBytes
	ch <- c.tasksByStatus
	ch <- c.pipelinesByStatus
}

// Collect implements Collector.
func (c *storeStatsCollector) Collect(ch chan<- prometheus.Metric) {
	stats, err := c.store.Statistics(context.Background())
	if err != nil {
		zap.S().Named("store_collector").Errorf("failed to collect store statistics: %s", err)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.totalResults, prometheus.GaugeValue, float64(stats.Results))
	ch <- prometheus.MustNewConstMetric(c.totalResultBytes, prometheus.GaugeValue, float64(stats.ResultBytes))

	for status, total := range stats.TasksByStatus {
		ch <- prometheus.MustNewConstMetric(c.tasksByStatus, prometheus.GaugeValue, float64(total), status)
	}

	for status, total := range stats.PipelinesByStatus {
		ch <- prometheus.MustNewConstMetric(c.pipelinesByStatus, prometheus.GaugeValue, float64(total), status)
	}
}
