package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/GrabowMar/appanalyzer/internal/store/model"
)

// Task is the durable AnalysisTask store. The pipeline polls these rows to
// gate its analysis → reports transition.
type Task interface {
	Create(ctx context.Context, modelSlug string, appNumber int, tools []string) (*model.AnalysisTask, error)
	Get(ctx context.Context, id string) (*model.AnalysisTask, error)
	MarkRunning(ctx context.Context, id string) error
	Finish(ctx context.Context, id string, status string, errMsg string, totalIssues int, bySeverity map[string]int) error
	CancelActive(ctx context.Context, ids []string) (int, error)
	List(ctx context.Context, statuses ...string) ([]model.AnalysisTask, error)
}

type TaskStore struct {
	db *gorm.DB
}

// Make sure we conform to Task interface
var _ Task = (*TaskStore)(nil)

func NewTaskStore(db *gorm.DB) Task {
	return &TaskStore{db: db}
}

func (t *TaskStore) Create(ctx context.Context, modelSlug string, appNumber int, tools []string) (*model.AnalysisTask, error) {
	toolsJSON, err := json.Marshal(tools)
	if err != nil {
		return nil, err
	}
	task := model.AnalysisTask{
		ID:        uuid.NewString(),
		ModelSlug: modelSlug,
		AppNumber: appNumber,
		Tools:     toolsJSON,
		Status:    model.TaskStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := t.getDB(ctx).Create(&task).Error; err != nil {
		return nil, fmt.Errorf("creating analysis task: %w", err)
	}
	return &task, nil
}

func (t *TaskStore) Get(ctx context.Context, id string) (*model.AnalysisTask, error) {
	var task model.AnalysisTask
	result := t.getDB(ctx).First(&task, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying analysis task: %w", result.Error)
	}
	return &task, nil
}

func (t *TaskStore) MarkRunning(ctx context.Context, id string) error {
	now := time.Now().UTC()
	result := t.getDB(ctx).Model(&model.AnalysisTask{}).
		Where("id = ? AND status = ?", id, model.TaskStatusPending).
		Updates(map[string]any{"status": model.TaskStatusRunning, "started_at": &now})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// Finish sets a terminal status together with the issue counters. Only a
// pending or running task can be finished: a row that already reached a
// terminal status (a cancel racing a still-running job) stays as it is
// and ErrTaskTerminal tells the caller to discard its result.
func (t *TaskStore) Finish(ctx context.Context, id string, status string, errMsg string, totalIssues int, bySeverity map[string]int) error {
	if !model.TaskTerminal(status) {
		return fmt.Errorf("status %q is not terminal", status)
	}
	counts, err := json.Marshal(bySeverity)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	result := t.getDB(ctx).Model(&model.AnalysisTask{}).
		Where("id = ? AND status IN ?", id, []string{model.TaskStatusPending, model.TaskStatusRunning}).
		Updates(map[string]any{
			"status":          status,
			"error_message":   errMsg,
			"total_issues":    totalIssues,
			"severity_counts": counts,
			"completed_at":    &now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := t.Get(ctx, id); err != nil {
			return err
		}
		return ErrTaskTerminal
	}
	return nil
}

// CancelActive marks every pending or running task in ids cancelled and
// returns how many rows changed.
func (t *TaskStore) CancelActive(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	result := t.getDB(ctx).Model(&model.AnalysisTask{}).
		Where("id IN ? AND status IN ?", ids, []string{model.TaskStatusPending, model.TaskStatusRunning}).
		Updates(map[string]any{"status": model.TaskStatusCancelled, "completed_at": &now})
	if result.Error != nil {
		return 0, result.Error
	}
	return int(result.RowsAffected), nil
}

func (t *TaskStore) List(ctx context.Context, statuses ...string) ([]model.AnalysisTask, error) {
	tx := t.getDB(ctx).Model(&model.AnalysisTask{}).Order("created_at DESC")
	if len(statuses) > 0 {
		tx = tx.Where("status IN ?", statuses)
	}
	var tasks []model.AnalysisTask
	if err := tx.Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

func (t *TaskStore) getDB(ctx context.Context) *gorm.DB {
	if tx := FromContext(ctx); tx != nil {
		return tx
	}
	return t.db
}
