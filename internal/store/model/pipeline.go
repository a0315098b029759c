package model

import "time"

// Pipeline stages in execution order.
const (
	StageGeneration = "generation"
	StageAnalysis   = "analysis"
	StageReports    = "reports"
	StageCompleted  = "completed"
	StageFailed     = "failed"
)

// Top-level pipeline statuses.
const (
	PipelineStatusRunning   = "running"
	PipelineStatusCompleted = "completed"
	PipelineStatusFailed    = "failed"
	PipelineStatusCancelled = "cancelled"
)

// PipelineExecution is the durable row for one multi-stage run. Config is
// immutable after creation; Progress is rewritten on every poll tick that
// changes anything, and is persisted before the job index advances so a
// restart never re-submits a job.
type PipelineExecution struct {
	ID              string    `gorm:"column:id;primaryKey"`
	Owner           string    `gorm:"column:owner;index"`
	Config          []byte    `gorm:"column:config"`   // JSON, immutable
	Progress        []byte    `gorm:"column:progress"` // JSON
	Status          string    `gorm:"column:status;index"`
	CurrentStage    string    `gorm:"column:current_stage"`
	CurrentJobIndex int       `gorm:"column:current_job_index"`
	CreatedAt       time.Time `gorm:"column:created_at"`
	UpdatedAt       time.Time `gorm:"column:updated_at"`
}

func (PipelineExecution) TableName() string {
	return "pipeline_executions"
}
