// Package pipeline drives multi-stage evaluation runs through
// generation → analysis → reports, with durable progress so a restarted
// process picks up where it stopped without re-submitting jobs.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Config is the immutable specification of one pipeline execution.
type Config struct {
	Generation GenerationSpec `json:"generation"`
	Analysis   AnalysisSpec   `json:"analysis"`
	Reports    ReportSpec     `json:"reports"`
}

// GenerationSpec lists the apps to generate.
type GenerationSpec struct {
	Jobs []GenerationJob `json:"jobs"`
}

// GenerationJob generates one app for one model.
type GenerationJob struct {
	ModelSlug    string `json:"model_slug"`
	TemplateSlug string `json:"template_slug"`
	AppNumber    int    `json:"app_number"`
}

// AnalysisSpec selects the tools for the analysis stage. When Targets is
// empty the stage analyzes every app the generation stage produced.
type AnalysisSpec struct {
	Tools   []string         `json:"tools,omitempty"`
	Tags    []string         `json:"tags,omitempty"`
	Targets []AnalysisTarget `json:"targets,omitempty"`
}

// AnalysisTarget names one generated app.
type AnalysisTarget struct {
	ModelSlug string `json:"model_slug"`
	AppNumber int    `json:"app_number"`
}

// ReportSpec configures the reports stage.
type ReportSpec struct {
	Type   string `json:"type"`
	Format string `json:"format"`
}

func parseConfig(raw []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parsing pipeline config: %w", err)
	}
	return &cfg, nil
}

// GenerationService produces one app; a blocking call executed inside the
// executor's worker pool.
type GenerationService interface {
	Generate(ctx context.Context, modelSlug, templateSlug string, appNumber int) (GenerationOutcome, error)
}

// GenerationOutcome is the collaborator's verdict for one generation call.
type GenerationOutcome struct {
	Success   bool   `json:"success"`
	AppNumber int    `json:"app_number"`
	Error     string `json:"error,omitempty"`
}

// ReportService renders one report; invoked once per successful app
// during the reports stage.
type ReportService interface {
	Generate(ctx context.Context, reportType, format string, config map[string]any) (string, error)
}

// Progress is the mutable per-execution state persisted on every change.
type Progress struct {
	Stages  map[string]*StageProgress `json:"stages"`
	TaskIDs map[string]string         `json:"task_ids,omitempty"` // job key -> AnalysisTask id
	Events  []Event                   `json:"events,omitempty"`
}

// StageProgress tracks one stage's counters and per-job results.
type StageProgress struct {
	Total     int                  `json:"total"`
	Submitted int                  `json:"submitted"`
	Completed int                  `json:"completed"`
	Failed    int                  `json:"failed"`
	Jobs      map[string]JobResult `json:"jobs,omitempty"`
}

// JobResult records the outcome of one submitted job.
type JobResult struct {
	Model   string `json:"model"`
	Target  string `json:"target"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Event is one line of the free-form execution log.
type Event struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

func parseProgress(raw []byte) (*Progress, error) {
	progress := &Progress{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, progress); err != nil {
			return nil, fmt.Errorf("parsing pipeline progress: %w", err)
		}
	}
	if progress.Stages == nil {
		progress.Stages = map[string]*StageProgress{}
	}
	if progress.TaskIDs == nil {
		progress.TaskIDs = map[string]string{}
	}
	return progress, nil
}

func (p *Progress) stage(name string) *StageProgress {
	s, ok := p.Stages[name]
	if !ok {
		s = &StageProgress{Jobs: map[string]JobResult{}}
		p.Stages[name] = s
	}
	if s.Jobs == nil {
		s.Jobs = map[string]JobResult{}
	}
	return s
}

func (p *Progress) logEvent(format string, args ...any) {
	p.Events = append(p.Events, Event{
		Time:    time.Now().UTC(),
		Message: fmt.Sprintf(format, args...),
	})
}

func jobKey(stage string, index int) string {
	return fmt.Sprintf("%s:%d", stage, index)
}
