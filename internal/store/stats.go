package store

import (
	"context"

	"github.com/GrabowMar/appanalyzer/internal/store/model"
)

// Stats is a point-in-time census of the store, consumed by the metrics
// collector.
type Stats struct {
	Results           int64
	ResultBytes       int64
	TasksByStatus     map[string]int64
	PipelinesByStatus map[string]int64
}

type statusCount struct {
	Status string
	Count  int64
}

// Statistics gathers row counts grouped by status.
func (s *DataStore) Statistics(ctx context.Context) (Stats, error) {
	stats := Stats{
		TasksByStatus:     map[string]int64{},
		PipelinesByStatus: map[string]int64{},
	}

	if err := s.db.WithContext(ctx).Model(&model.ResultRecord{}).Count(&stats.Results).Error; err != nil {
		return stats, err
	}
	var totalBytes *int64
	if err := s.db.WithContext(ctx).Model(&model.ResultRecord{}).
		Select("SUM(size_bytes)").Scan(&totalBytes).Error; err != nil {
		return stats, err
	}
	if totalBytes != nil {
		stats.ResultBytes = *totalBytes
	}

	var taskCounts []statusCount
	if err := s.db.WithContext(ctx).Model(&model.AnalysisTask{}).
		Select("status, COUNT(*) as count").Group("status").Scan(&taskCounts).Error; err != nil {
		return stats, err
	}
	for _, row := range taskCounts {
		stats.TasksByStatus[row.Status] = row.Count
	}

	var pipelineCounts []statusCount
	if err := s.db.WithContext(ctx).Model(&model.PipelineExecution{}).
		Select("status, COUNT(*) as count").Group("status").Scan(&pipelineCounts).Error; err != nil {
		return stats, err
	}
	for _, row := range pipelineCounts {
		stats.PipelinesByStatus[row.Status] = row.Count
	}

	return stats, nil
}
