package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lthibault/jitterbug/v2"
	"go.uber.org/zap"

	"github.com/GrabowMar/appanalyzer/internal/orchestrator"
	"github.com/GrabowMar/appanalyzer/internal/store"
	"github.com/GrabowMar/appanalyzer/internal/store/model"
	"github.com/GrabowMar/appanalyzer/pkg/metrics"
)

// AnalysisRunner is the slice of the orchestrator the executor needs.
type AnalysisRunner interface {
	Run(ctx context.Context, target orchestrator.Target, opts orchestrator.RunOptions) (*orchestrator.AnalysisResult, error)
}

// Options tune the executor's polling loop and concurrency ceilings.
type Options struct {
	PollInterval      time.Duration
	GenerationCeiling int
	AnalysisCeiling   int
	Workers           int
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.GenerationCeiling <= 0 {
		o.GenerationCeiling = 2
	}
	if o.AnalysisCeiling <= 0 {
		o.AnalysisCeiling = 4
	}
	if o.Workers <= 0 {
		o.Workers = 8
	}
	return o
}

type jobOutcome struct {
	pipelineID string
	stage      string
	key        string
	result     JobResult
}

// Executor owns the single polling goroutine that advances every running
// pipeline: it harvests finished jobs, submits new ones up to the
// per-stage ceiling and performs stage transitions. A failure while
// processing one pipeline never aborts processing of the others.
type Executor struct {
	store     store.Store
	runner    AnalysisRunner
	generator GenerationService
	reporter  ReportService
	gate      *HealthGate
	opts      Options

	pool     *jobPool
	outcomes chan jobOutcome

	mu       sync.Mutex
	inflight map[string]map[string]struct{}
	started  bool

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
	log      *zap.SugaredLogger
}

func NewExecutor(s store.Store, runner AnalysisRunner, generator GenerationService, reporter ReportService, gate *HealthGate, opts Options) *Executor {
	opts = opts.withDefaults()
	return &Executor{
		store:     s,
		runner:    runner,
		generator: generator,
		reporter:  reporter,
		gate:      gate,
		opts:      opts,
		pool:      newJobPool(opts.Workers, opts.Workers*8),
		outcomes:  make(chan jobOutcome, 256),
		inflight:  make(map[string]map[string]struct{}),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		log:       zap.S().Named("pipeline"),
	}
}

// Submit creates a new pipeline execution in the generation stage.
func (e *Executor) Submit(ctx context.Context, owner string, cfg Config) (*model.PipelineExecution, error) {
	return e.store.Pipeline().Create(ctx, owner, cfg)
}

// Cancel sets the terminal cancelled status and, best-effort, cancels any
// durable analysis tasks still pending or running. In-flight job results
// are discarded when they surface; nothing is force-killed.
func (e *Executor) Cancel(ctx context.Context, id string) error {
	execution, err := e.store.Pipeline().Get(ctx, id)
	if err != nil {
		return err
	}
	if execution.Status != model.PipelineStatusRunning {
		return fmt.Errorf("pipeline %s is %s, not running", id, execution.Status)
	}

	if err := e.store.Pipeline().SetStatus(ctx, id, model.PipelineStatusCancelled, execution.CurrentStage); err != nil {
		return err
	}

	progress, err := parseProgress(execution.Progress)
	if err == nil {
		ids := make([]string, 0, len(progress.TaskIDs))
		for _, taskID := range progress.TaskIDs {
			ids = append(ids, taskID)
		}
		if cancelled, err := e.store.Task().CancelActive(ctx, ids); err != nil {
			e.log.Warnw("best-effort task cancellation failed", "pipeline", id, "error", err)
		} else if cancelled > 0 {
			e.log.Infow("cancelled analysis tasks", "pipeline", id, "count", cancelled)
		}
	}

	e.mu.Lock()
	delete(e.inflight, id)
	e.mu.Unlock()
	return nil
}

// Start launches the polling loop. It returns immediately; Stop shuts the
// loop and the job pool down.
func (e *Executor) Start(ctx context.Context) {
	ticker := jitterbug.New(e.opts.PollInterval, &jitterbug.Norm{Stdev: e.opts.PollInterval / 20})

	e.mu.Lock()
	e.started = true
	e.mu.Unlock()

	go func() {
		defer close(e.doneCh)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-e.stopCh:
				return
			case <-ticker.C:
				e.tick(ctx)
			}
		}
	}()
}

// Stop halts the polling loop and waits for in-flight job bodies to
// finish naturally.
func (e *Executor) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
		e.mu.Lock()
		started := e.started
		e.mu.Unlock()
		if started {
			<-e.doneCh
		}
		e.pool.Close()
	})
}

// Tick runs one poll cycle synchronously. Exposed for tests; the normal
// path is the Start loop.
func (e *Executor) Tick(ctx context.Context) {
	e.tick(ctx)
}

func (e *Executor) tick(ctx context.Context) {
	harvested := e.drainOutcomes()

	executions, err := e.store.Pipeline().ListByStatus(ctx, model.PipelineStatusRunning)
	if err != nil {
		e.log.Errorw("listing running pipelines failed", "error", err)
		return
	}

	for i := range executions {
		execution := &executions[i]
		outcomes := harvested[execution.ID]
		delete(harvested, execution.ID)

		if err := e.safeProcess(ctx, execution, outcomes); err != nil {
			e.log.Errorw("pipeline processing failed", "pipeline", execution.ID, "error", err)
			e.failPipeline(ctx, execution.ID, err.Error())
		}
	}

	// outcomes for pipelines no longer running (cancelled, failed) are
	// discarded, but their in-flight bookkeeping still needs clearing
	for pipelineID, outcomes := range harvested {
		for _, outcome := range outcomes {
			e.removeInflight(pipelineID, outcome.key)
		}
	}
}

// safeProcess isolates one pipeline's poll step; a panic in stage logic
// is converted into an error for this pipeline only.
func (e *Executor) safeProcess(ctx context.Context, execution *model.PipelineExecution, outcomes []jobOutcome) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing pipeline: %v", r)
		}
	}()
	return e.process(ctx, execution, outcomes)
}

func (e *Executor) process(ctx context.Context, execution *model.PipelineExecution, outcomes []jobOutcome) error {
	cfg, err := parseConfig(execution.Config)
	if err != nil {
		return err
	}
	progress, err := parseProgress(execution.Progress)
	if err != nil {
		return err
	}

	for _, outcome := range outcomes {
		e.removeInflight(execution.ID, outcome.key)
		stage := progress.stage(outcome.stage)
		stage.Jobs[outcome.key] = outcome.result
		if outcome.result.Success {
			stage.Completed++
			metrics.PipelineJobsTotal.WithLabelValues(outcome.stage, "success").Inc()
		} else {
			stage.Failed++
			metrics.PipelineJobsTotal.WithLabelValues(outcome.stage, "failure").Inc()
		}
	}

	switch execution.CurrentStage {
	case model.StageGeneration:
		err = e.processGeneration(ctx, execution, cfg, progress)
	case model.StageAnalysis:
		err = e.processAnalysis(ctx, execution, cfg, progress)
	case model.StageReports:
		err = e.processReports(ctx, execution, cfg, progress)
	default:
		err = fmt.Errorf("pipeline in unexpected stage %q", execution.CurrentStage)
	}
	if err != nil {
		return err
	}

	return e.store.Pipeline().SaveProgress(ctx, execution.ID, progress, execution.CurrentStage, execution.CurrentJobIndex)
}

func (e *Executor) processGeneration(ctx context.Context, execution *model.PipelineExecution, cfg *Config, progress *Progress) error {
	jobs := cfg.Generation.Jobs
	stage := progress.stage(model.StageGeneration)
	stage.Total = len(jobs)

	for execution.CurrentJobIndex < len(jobs) && e.inflightCount(execution.ID) < e.opts.GenerationCeiling {
		index := execution.CurrentJobIndex
		job := jobs[index]
		key := jobKey(model.StageGeneration, index)

		stage.Submitted = index + 1
		// progress must hit the store before the index advances so a
		// restart never re-submits this job
		if err := e.store.Pipeline().SaveProgress(ctx, execution.ID, progress, model.StageGeneration, index+1); err != nil {
			stage.Submitted = index
			return err
		}

		e.addInflight(execution.ID, key)
		submitErr := e.pool.Submit(func() {
			e.runGeneration(execution.ID, key, job)
		})
		if submitErr != nil {
			// pool is closing: leave the job un-submitted for a later tick
			e.removeInflight(execution.ID, key)
			stage.Submitted = index
			if err := e.store.Pipeline().SaveProgress(ctx, execution.ID, progress, model.StageGeneration, index); err != nil {
				return err
			}
			e.log.Warnw("job submission refused, will retry", "pipeline", execution.ID, "job", key)
			return nil
		}
		execution.CurrentJobIndex = index + 1
	}

	if execution.CurrentJobIndex >= len(jobs) && e.inflightCount(execution.ID) == 0 {
		progress.logEvent("generation complete: %d succeeded, %d failed", stage.Completed, stage.Failed)
		execution.CurrentStage = model.StageAnalysis
		execution.CurrentJobIndex = 0
	}
	return nil
}

func (e *Executor) processAnalysis(ctx context.Context, execution *model.PipelineExecution, cfg *Config, progress *Progress) error {
	targets := analysisTargets(cfg, progress)
	stage := progress.stage(model.StageAnalysis)
	stage.Total = len(targets)

	// health gate before the first analysis job of this pipeline
	if stage.Submitted == 0 && len(targets) > 0 && e.gate != nil {
		if err := e.gate.Ensure(ctx); err != nil {
			return fmt.Errorf("health gate: %w", err)
		}
	}

	for execution.CurrentJobIndex < len(targets) && e.inflightCount(execution.ID) < e.opts.AnalysisCeiling {
		index := execution.CurrentJobIndex
		target := targets[index]
		key := jobKey(model.StageAnalysis, index)

		task, err := e.store.Task().Create(ctx, target.ModelSlug, target.AppNumber, cfg.Analysis.Tools)
		if err != nil {
			return fmt.Errorf("creating analysis task: %w", err)
		}
		progress.TaskIDs[key] = task.ID

		stage.Submitted = index + 1
		if err := e.store.Pipeline().SaveProgress(ctx, execution.ID, progress, model.StageAnalysis, index+1); err != nil {
			stage.Submitted = index
			return err
		}

		e.addInflight(execution.ID, key)
		submitErr := e.pool.Submit(func() {
			e.runAnalysis(execution.ID, key, task.ID, target, cfg.Analysis)
		})
		if submitErr != nil {
			e.removeInflight(execution.ID, key)
			stage.Submitted = index
			delete(progress.TaskIDs, key)
			_ = e.store.Task().Finish(ctx, task.ID, model.TaskStatusCancelled, "submission refused", 0, nil)
			if err := e.store.Pipeline().SaveProgress(ctx, execution.ID, progress, model.StageAnalysis, index); err != nil {
				return err
			}
			e.log.Warnw("job submission refused, will retry", "pipeline", execution.ID, "job", key)
			return nil
		}
		execution.CurrentJobIndex = index + 1
	}

	if execution.CurrentJobIndex >= len(targets) && e.inflightCount(execution.ID) == 0 {
		done, err := e.allTasksTerminal(ctx, progress)
		if err != nil {
			return err
		}
		if !done {
			// a pending or running task blocks the transition
			return nil
		}
		progress.logEvent("analysis complete: %d succeeded, %d failed", stage.Completed, stage.Failed)
		execution.CurrentStage = model.StageReports
		execution.CurrentJobIndex = 0
	}
	return nil
}

// processReports is synchronous: one report per successful analysis
// target, each success or failure recorded, then the pipeline completes.
func (e *Executor) processReports(ctx context.Context, execution *model.PipelineExecution, cfg *Config, progress *Progress) error {
	targets := successfulTargets(ctx, e.store, cfg, progress)
	stage := progress.stage(model.StageReports)
	stage.Total = len(targets)

	for index, target := range targets {
		key := jobKey(model.StageReports, index)
		stage.Submitted = index + 1
		execution.CurrentJobIndex = index + 1

		result := JobResult{Model: target.ModelSlug, Target: fmt.Sprintf("app%d", target.AppNumber)}
		if e.reporter == nil {
			result.Error = "report service not configured"
		} else {
			reportID, err := e.reporter.Generate(ctx, cfg.Reports.Type, cfg.Reports.Format, map[string]any{
				"model_slug": target.ModelSlug,
				"app_number": target.AppNumber,
			})
			if err != nil {
				result.Error = err.Error()
			} else {
				result.Success = true
				result.Target = fmt.Sprintf("app%d:%s", target.AppNumber, reportID)
			}
		}

		stage.Jobs[key] = result
		if result.Success {
			stage.Completed++
			metrics.PipelineJobsTotal.WithLabelValues(model.StageReports, "success").Inc()
		} else {
			stage.Failed++
			metrics.PipelineJobsTotal.WithLabelValues(model.StageReports, "failure").Inc()
		}
	}

	progress.logEvent("reports complete: %d succeeded, %d failed", stage.Completed, stage.Failed)
	execution.CurrentStage = model.StageCompleted
	if err := e.store.Pipeline().SaveProgress(ctx, execution.ID, progress, model.StageCompleted, execution.CurrentJobIndex); err != nil {
		return err
	}
	return e.store.Pipeline().SetStatus(ctx, execution.ID, model.PipelineStatusCompleted, model.StageCompleted)
}

// runGeneration is a job body executed on the pool.
func (e *Executor) runGeneration(pipelineID, key string, job GenerationJob) {
	result := JobResult{Model: job.ModelSlug, Target: fmt.Sprintf("app%d", job.AppNumber)}

	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.Error = fmt.Sprintf("panic: %v", r)
		}
		e.outcomes <- jobOutcome{pipelineID: pipelineID, stage: model.StageGeneration, key: key, result: result}
	}()

	if e.generator == nil {
		result.Error = "generation service not configured"
		return
	}

	outcome, err := e.generator.Generate(context.Background(), job.ModelSlug, job.TemplateSlug, job.AppNumber)
	if err != nil {
		result.Error = err.Error()
		return
	}
	result.Success = outcome.Success
	result.Error = outcome.Error
}

// runAnalysis is a job body executed on the pool. It owns the durable
// task row's lifecycle from running to a terminal status.
func (e *Executor) runAnalysis(pipelineID, key, taskID string, target AnalysisTarget, spec AnalysisSpec) {
	ctx := context.Background()
	result := JobResult{Model: target.ModelSlug, Target: fmt.Sprintf("app%d", target.AppNumber)}

	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.Error = fmt.Sprintf("panic: %v", r)
			_ = e.store.Task().Finish(ctx, taskID, model.TaskStatusFailed, result.Error, 0, nil)
		}
		e.outcomes <- jobOutcome{pipelineID: pipelineID, stage: model.StageAnalysis, key: key, result: result}
	}()

	if err := e.store.Task().MarkRunning(ctx, taskID); err != nil {
		// cancelled before it started; record and bail
		result.Error = fmt.Sprintf("task not startable: %v", err)
		return
	}

	analysis, err := e.runner.Run(ctx,
		orchestrator.Target{ModelSlug: target.ModelSlug, AppNumber: target.AppNumber},
		orchestrator.RunOptions{Tools: spec.Tools, Tags: spec.Tags, Persist: true})
	if err != nil {
		result.Error = err.Error()
		_ = e.store.Task().Finish(ctx, taskID, model.TaskStatusFailed, err.Error(), 0, nil)
		return
	}

	status := taskStatusFor(analysis)
	if err := e.store.Task().Finish(ctx, taskID, status, "", analysis.Summary.TotalFindings, analysis.Summary.BySeverity); err != nil {
		if errors.Is(err, store.ErrTaskTerminal) {
			// cancelled while the job was running; the result is discarded
			result.Error = "task cancelled, result discarded"
			return
		}
		e.log.Warnw("failed to finish analysis task", "task", taskID, "error", err)
	}
	result.Success = model.TaskSucceeded(status)
	if !result.Success {
		result.Error = "no tool produced a usable outcome"
	}
}

func taskStatusFor(analysis *orchestrator.AnalysisResult) string {
	switch analysis.Summary.Status {
	case "completed":
		return model.TaskStatusCompleted
	case "partial_success":
		return model.TaskStatusPartialSuccess
	default:
		return model.TaskStatusFailed
	}
}

// allTasksTerminal gates the analysis → reports transition on the durable
// task rows: every id must have reached a terminal status; an id that
// cannot be found counts as failed (terminal).
func (e *Executor) allTasksTerminal(ctx context.Context, progress *Progress) (bool, error) {
	for _, taskID := range progress.TaskIDs {
		task, err := e.store.Task().Get(ctx, taskID)
		if err != nil {
			if errors.Is(err, store.ErrRecordNotFound) {
				continue
			}
			return false, err
		}
		if !model.TaskTerminal(task.Status) {
			return false, nil
		}
	}
	return true, nil
}

// analysisTargets derives the analysis job list: explicit targets when
// configured, otherwise every app the generation stage produced.
func analysisTargets(cfg *Config, progress *Progress) []AnalysisTarget {
	if len(cfg.Analysis.Targets) > 0 {
		return cfg.Analysis.Targets
	}

	generation := progress.stage(model.StageGeneration)
	targets := make([]AnalysisTarget, 0, len(cfg.Generation.Jobs))
	for index, job := range cfg.Generation.Jobs {
		result, ok := generation.Jobs[jobKey(model.StageGeneration, index)]
		if ok && result.Success {
			targets = append(targets, AnalysisTarget{ModelSlug: job.ModelSlug, AppNumber: job.AppNumber})
		}
	}
	return targets
}

// successfulTargets lists the analysis targets whose durable task reached
// a successful terminal status.
func successfulTargets(ctx context.Context, s store.Store, cfg *Config, progress *Progress) []AnalysisTarget {
	targets := analysisTargets(cfg, progress)
	var out []AnalysisTarget
	for index, target := range targets {
		taskID, ok := progress.TaskIDs[jobKey(model.StageAnalysis, index)]
		if !ok {
			continue
		}
		task, err := s.Task().Get(ctx, taskID)
		if err != nil {
			continue
		}
		if model.TaskSucceeded(task.Status) {
			out = append(out, target)
		}
	}
	return out
}

func (e *Executor) failPipeline(ctx context.Context, id, message string) {
	if err := e.store.Pipeline().SetStatus(ctx, id, model.PipelineStatusFailed, model.StageFailed); err != nil {
		e.log.Errorw("failed to mark pipeline failed", "pipeline", id, "error", err)
		return
	}
	execution, err := e.store.Pipeline().Get(ctx, id)
	if err != nil {
		return
	}
	if progress, err := parseProgress(execution.Progress); err == nil {
		progress.logEvent("pipeline failed: %s", message)
		_ = e.store.Pipeline().SaveProgress(ctx, id, progress, model.StageFailed, execution.CurrentJobIndex)
	}
}

func (e *Executor) drainOutcomes() map[string][]jobOutcome {
	harvested := map[string][]jobOutcome{}
	for {
		select {
		case outcome := <-e.outcomes:
			harvested[outcome.pipelineID] = append(harvested[outcome.pipelineID], outcome)
		default:
			return harvested
		}
	}
}

func (e *Executor) addInflight(pipelineID, key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	set, ok := e.inflight[pipelineID]
	if !ok {
		set = map[string]struct{}{}
		e.inflight[pipelineID] = set
	}
	set[key] = struct{}{}
}

func (e *Executor) removeInflight(pipelineID, key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if set, ok := e.inflight[pipelineID]; ok {
		delete(set, key)
		if len(set) == 0 {
			delete(e.inflight, pipelineID)
		}
	}
}

func (e *Executor) inflightCount(pipelineID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.inflight[pipelineID])
}
