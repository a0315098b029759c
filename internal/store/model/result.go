package model

import "time"

// ResultRecord is one consolidated analysis output. The payload blob is a
// zstd-compressed canonical JSON document with tool-level sub-segments
// extracted into ToolPayload rows and replaced by reference markers.
type ResultRecord struct {
	RecordKey    string    `gorm:"column:record_key;primaryKey"`
	ModelSlug    string    `gorm:"column:model_slug;index"`
	ModelSafe    string    `gorm:"column:model_safe;index"`
	AppNumber    int       `gorm:"column:app_number;index"`
	AnalysisType string    `gorm:"column:analysis_type"`
	CreatedAt    time.Time `gorm:"column:created_at;index"`
	Summary      []byte    `gorm:"column:summary"`
	SizeBytes    int64     `gorm:"column:size_bytes"`
	Payload      []byte    `gorm:"column:payload"`
}

func (ResultRecord) TableName() string {
	return "result_records"
}

// ToolPayload holds one extracted tool sub-segment. ToolTable is the
// sanitized per-tool namespace ([a-z0-9_]+); Path locates where the
// segment is rehydrated back into the parent document.
type ToolPayload struct {
	RecordKey string `gorm:"column:record_key;primaryKey"`
	Path      string `gorm:"column:path;primaryKey"`
	ToolTable string `gorm:"column:tool_table;index"`
	Payload   []byte `gorm:"column:payload"`
}

func (ToolPayload) TableName() string {
	return "tool_payloads"
}

// ResultSummary is the lightweight listing row: everything but the blob.
type ResultSummary struct {
	RecordKey    string    `json:"record_key"`
	ModelSlug    string    `json:"model_slug"`
	AppNumber    int       `json:"app_number"`
	AnalysisType string    `json:"analysis_type"`
	CreatedAt    time.Time `json:"created_at"`
	Summary      []byte    `json:"summary,omitempty"`
	SizeBytes    int64     `json:"size_bytes"`
}
