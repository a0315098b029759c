// Package orchestrator fans an analysis request out to the worker fleet,
// one framed request per worker class, and folds the per-tool outcomes
// into a single deduplicated result tree.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GrabowMar/appanalyzer/internal/registry"
	"github.com/GrabowMar/appanalyzer/internal/worker"
	"github.com/GrabowMar/appanalyzer/pkg/metrics"
)

// Per-tool outcome statuses.
const (
	OutcomeCompleted    = "completed"
	OutcomeFailed       = "failed"
	OutcomeTimeout      = "timeout"
	OutcomeNotAvailable = "not_available"
)

// request types per worker class, per the wire protocol.
var requestTypes = map[registry.WorkerClass]string{
	registry.WorkerStatic:      "static_analyze",
	registry.WorkerDynamic:     "dynamic_analyze",
	registry.WorkerPerformance: "performance_test",
	registry.WorkerAI:          "ai_analyze",
}

// ResultSaver is the slice of the result store the orchestrator needs.
type ResultSaver interface {
	Save(ctx context.Context, modelSlug string, appNumber int, payload map[string]any, analysisType string) (string, error)
}

// Target identifies the application under analysis.
type Target struct {
	ModelSlug  string
	AppNumber  int
	Languages  []string
	TargetURLs []string
}

// RunOptions selects and configures the tools for one run.
type RunOptions struct {
	Tools   []string
	Tags    []string
	Config  map[string]any
	Persist bool
}

// ToolOutcome records what happened to one requested tool.
type ToolOutcome struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// AnalysisResult is the consolidated output of one orchestrated run.
type AnalysisResult struct {
	ModelSlug string                 `json:"model_slug"`
	AppNumber int                    `json:"app_number"`
	Tools     map[string]ToolOutcome `json:"tools"`
	Analysis  map[string]any         `json:"analysis"`
	Summary   Summary                `json:"summary"`
	RecordKey string                 `json:"record_key,omitempty"`
}

// Succeeded reports whether at least one tool produced a real outcome.
func (r *AnalysisResult) Succeeded() bool {
	for _, outcome := range r.Tools {
		if outcome.Status == OutcomeCompleted {
			return true
		}
	}
	return false
}

type Orchestrator struct {
	registry       *registry.Registry
	pool           *worker.Pool
	health         *worker.HealthMonitor
	results        ResultSaver
	requestTimeout time.Duration
	log            *zap.SugaredLogger
}

func New(reg *registry.Registry, pool *worker.Pool, health *worker.HealthMonitor, results ResultSaver, requestTimeout time.Duration) *Orchestrator {
	return &Orchestrator{
		registry:       reg,
		pool:           pool,
		health:         health,
		results:        results,
		requestTimeout: requestTimeout,
		log:            zap.S().Named("orchestrator"),
	}
}

// Run resolves the requested tool set, groups it by worker class,
// dispatches one request per reachable class and merges everything the
// workers sent back. Unreachable classes mark their tools not_available
// instead of failing the run.
func (o *Orchestrator) Run(ctx context.Context, target Target, opts RunOptions) (*AnalysisResult, error) {
	tools := o.selectTools(target, opts)
	if len(tools) == 0 {
		return nil, fmt.Errorf("no known tools selected for %s/app%d", target.ModelSlug, target.AppNumber)
	}

	groups := o.groupByClass(tools)

	result := &AnalysisResult{
		ModelSlug: target.ModelSlug,
		AppNumber: target.AppNumber,
		Tools:     make(map[string]ToolOutcome, len(tools)),
		Analysis:  map[string]any{},
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for class, classTools := range groups {
		if !o.health.Reachable(ctx, class) {
			o.log.Warnw("worker class unreachable, marking tools not available",
				"class", class, "tools", classTools)
			mu.Lock()
			for _, tool := range classTools {
				result.Tools[tool] = ToolOutcome{
					Status: OutcomeNotAvailable,
					Error:  fmt.Sprintf("%s worker is not reachable", class),
				}
			}
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(class registry.WorkerClass, classTools []string) {
			defer wg.Done()
			frame := o.dispatch(ctx, class, classTools, target, opts)

			mu.Lock()
			defer mu.Unlock()
			o.fold(result, frame, classTools)
		}(class, classTools)
	}
	wg.Wait()

	result.Summary = Summarize(overallStatus(result.Tools), result.Analysis)
	metrics.IncreaseAnalysisRunsMetric(result.Summary.Status)

	if opts.Persist && o.results != nil {
		key, err := o.results.Save(ctx, target.ModelSlug, target.AppNumber, o.document(result), "analysis")
		if err != nil {
			// best-effort persistence: the result is still returned
			o.log.Errorw("failed to persist analysis result",
				"model", target.ModelSlug, "app", target.AppNumber, "error", err)
		} else {
			result.RecordKey = key
		}
	}

	return result, nil
}

// selectTools resolves the explicit tool list, or derives one from the
// target's detected languages plus the requested tags.
func (o *Orchestrator) selectTools(target Target, opts RunOptions) []string {
	if len(opts.Tools) > 0 {
		return o.registry.Resolve(opts.Tools)
	}

	var names []string
	for _, lang := range target.Languages {
		for _, tool := range o.registry.ByLanguage(lang) {
			if tool.Available {
				names = append(names, tool.Name)
			}
		}
	}
	if len(opts.Tags) > 0 {
		tagged := map[string]struct{}{}
		for _, tool := range o.registry.ByTag(opts.Tags...) {
			tagged[tool.Name] = struct{}{}
		}
		kept := names[:0]
		for _, name := range names {
			if _, ok := tagged[name]; ok {
				kept = append(kept, name)
			}
		}
		names = kept
	}
	return o.registry.Resolve(names)
}

func (o *Orchestrator) groupByClass(tools []string) map[registry.WorkerClass][]string {
	groups := map[registry.WorkerClass][]string{}
	for _, name := range tools {
		tool, ok := o.registry.Get(name)
		if !ok {
			continue
		}
		groups[tool.WorkerClass] = append(groups[tool.WorkerClass], name)
	}
	return groups
}

func (o *Orchestrator) dispatch(ctx context.Context, class registry.WorkerClass, tools []string, target Target, opts RunOptions) worker.Frame {
	message := map[string]any{
		"type":       requestTypes[class],
		"model_slug": target.ModelSlug,
		"app_number": target.AppNumber,
		"tools":      tools,
	}
	if len(target.TargetURLs) > 0 {
		message["target_urls"] = target.TargetURLs
	}
	if len(opts.Config) > 0 {
		message["config"] = opts.Config
	}

	frame, err := o.pool.Send(ctx, class, message, o.requestTimeout)
	if err != nil {
		return worker.Frame{"status": worker.StatusError, "error": err.Error()}
	}
	return frame
}

// fold extracts per-tool outcomes from a response frame and merges its
// analysis tree into the consolidated result.
func (o *Orchestrator) fold(result *AnalysisResult, frame worker.Frame, tools []string) {
	analysis := frame.Analysis()
	if analysis != nil {
		result.Analysis = Merge(result.Analysis, analysis)
	}

	for _, tool := range tools {
		result.Tools[tool] = outcomeFor(frame, analysis, tool)
	}
}

func outcomeFor(frame worker.Frame, analysis map[string]any, tool string) ToolOutcome {
	if analysis != nil {
		if tools, ok := analysis["tools"].(map[string]any); ok {
			if entry, ok := tools[tool].(map[string]any); ok {
				status, _ := entry["status"].(string)
				errMsg, _ := entry["error"].(string)
				if status == "" {
					status = OutcomeCompleted
				}
				return ToolOutcome{Status: status, Error: errMsg}
			}
			// a per-tool breakdown that omits a requested tool is not a
			// success for that tool
			return ToolOutcome{Status: OutcomeFailed, Error: "worker reported no outcome for this tool"}
		}
	}

	switch frame.Status() {
	case worker.StatusTimeout:
		return ToolOutcome{Status: OutcomeTimeout, Error: frame.Err()}
	case worker.StatusError:
		return ToolOutcome{Status: OutcomeFailed, Error: frame.Err()}
	default:
		if analysis != nil {
			return ToolOutcome{Status: OutcomeCompleted}
		}
		return ToolOutcome{Status: OutcomeFailed, Error: "worker returned no analysis payload"}
	}
}

func overallStatus(tools map[string]ToolOutcome) string {
	completed := 0
	for _, outcome := range tools {
		if outcome.Status == OutcomeCompleted {
			completed++
		}
	}
	switch {
	case completed == len(tools):
		return "completed"
	case completed > 0:
		return "partial_success"
	default:
		return "failed"
	}
}

// document shapes the consolidated result for persistence, matching the
// layout importers and report generators expect.
func (o *Orchestrator) document(result *AnalysisResult) map[string]any {
	tools := map[string]any{}
	for name, outcome := range result.Tools {
		entry := map[string]any{"status": outcome.Status}
		if outcome.Error != "" {
			entry["error"] = outcome.Error
		}
		tools[name] = entry
	}
	return map[string]any{
		"metadata": map[string]any{
			"model_slug":    result.ModelSlug,
			"app_number":    result.AppNumber,
			"analysis_type": "analysis",
			"timestamp":     time.Now().UTC().Format(time.RFC3339),
			"version":       1,
		},
		"results": map[string]any{
			"summary":  summaryDoc(result.Summary),
			"tools":    tools,
			"analysis": result.Analysis,
		},
	}
}

func summaryDoc(s Summary) map[string]any {
	bySeverity := map[string]any{}
	for k, v := range s.BySeverity {
		bySeverity[k] = v
	}
	byTool := map[string]any{}
	for k, v := range s.ByTool {
		byTool[k] = v
	}
	return map[string]any{
		"status":         s.Status,
		"total_findings": s.TotalFindings,
		"by_severity":    bySeverity,
		"by_tool":        byTool,
	}
}
