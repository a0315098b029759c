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

// Pipeline persists PipelineExecution rows. Progress is saved before the
// job index advances, so a restarted process never re-submits a job.
type Pipeline interface {
	Create(ctx context.Context, owner string, config any) (*model.PipelineExecution, error)
	Get(ctx context.Context, id string) (*model.PipelineExecution, error)
	ListByStatus(ctx context.Context, status string) ([]model.PipelineExecution, error)
	SaveProgress(ctx context.Context, id string, progress any, stage string, jobIndex int) error
	SetStatus(ctx context.Context, id string, status string, stage string) error
}

type PipelineStore struct {
	db *gorm.DB
}

// Make sure we conform to Pipeline interface
var _ Pipeline = (*PipelineStore)(nil)

func NewPipelineStore(db *gorm.DB) Pipeline {
	return &PipelineStore{db: db}
}

func (p *PipelineStore) Create(ctx context.Context, owner string, config any) (*model.PipelineExecution, error) {
	configJSON, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("serializing pipeline config: %w", err)
	}
	now := time.Now().UTC()
	execution := model.PipelineExecution{
		ID:              uuid.NewString(),
		Owner:           owner,
		Config:          configJSON,
		Progress:        []byte("{}"),
		Status:          model.PipelineStatusRunning,
		CurrentStage:    model.StageGeneration,
		CurrentJobIndex: 0,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := p.getDB(ctx).Create(&execution).Error; err != nil {
		return nil, fmt.Errorf("creating pipeline execution: %w", err)
	}
	return &execution, nil
}

func (p *PipelineStore) Get(ctx context.Context, id string) (*model.PipelineExecution, error) {
	var execution model.PipelineExecution
	result := p.getDB(ctx).First(&execution, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying pipeline execution: %w", result.Error)
	}
	return &execution, nil
}

func (p *PipelineStore) ListByStatus(ctx context.Context, status string) ([]model.PipelineExecution, error) {
	var executions []model.PipelineExecution
	if err := p.getDB(ctx).Where("status = ?", status).Order("created_at ASC").Find(&executions).Error; err != nil {
		return nil, err
	}
	return executions, nil
}

func (p *PipelineStore) SaveProgress(ctx context.Context, id string, progress any, stage string, jobIndex int) error {
	progressJSON, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("serializing pipeline progress: %w", err)
	}
	result := p.getDB(ctx).Model(&model.PipelineExecution{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"progress":          progressJSON,
			"current_stage":     stage,
			"current_job_index": jobIndex,
			"updated_at":        time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (p *PipelineStore) SetStatus(ctx context.Context, id string, status string, stage string) error {
	result := p.getDB(ctx).Model(&model.PipelineExecution{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        status,
			"current_stage": stage,
			"updated_at":    time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (p *PipelineStore) getDB(ctx context.Context) *gorm.DB {
	if tx := FromContext(ctx); tx != nil {
		return tx
	}
	return p.db
}
