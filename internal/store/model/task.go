package model

import "time"

// AnalysisTask statuses. Completed and partial_success are terminal
// successes; failed and cancelled are terminal failures.
const (
	TaskStatusPending        = "pending"
	TaskStatusRunning        = "running"
	TaskStatusCompleted      = "completed"
	TaskStatusPartialSuccess = "partial_success"
	TaskStatusFailed         = "failed"
	TaskStatusCancelled      = "cancelled"
)

// TaskTerminal reports whether a status ends the task lifecycle.
func TaskTerminal(status string) bool {
	switch status {
	case TaskStatusCompleted, TaskStatusPartialSuccess, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// TaskSucceeded reports whether a terminal status counts as success.
func TaskSucceeded(status string) bool {
	return status == TaskStatusCompleted || status == TaskStatusPartialSuccess
}

// AnalysisTask is the durable row tracking one delegated analysis job.
// The pipeline only reads status; tool-execution internals stay with the
// orchestrator.
type AnalysisTask struct {
	ID             string     `gorm:"column:id;primaryKey"`
	ModelSlug      string     `gorm:"column:model_slug;index"`
	AppNumber      int        `gorm:"column:app_number"`
	Tools          []byte     `gorm:"column:tools"` // JSON list of canonical names
	Status         string     `gorm:"column:status;index"`
	ErrorMessage   string     `gorm:"column:error_message"`
	TotalIssues    int        `gorm:"column:total_issues"`
	SeverityCounts []byte     `gorm:"column:severity_counts"` // JSON map
	CreatedAt      time.Time  `gorm:"column:created_at"`
	StartedAt      *time.Time `gorm:"column:started_at"`
	CompletedAt    *time.Time `gorm:"column:completed_at"`
}

func (AnalysisTask) TableName() string {
	return "analysis_tasks"
}
