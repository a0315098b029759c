// Package store is the durable persistence layer: consolidated analysis
// results (compressed, with tool-level extraction), analysis task rows and
// pipeline execution rows, all behind one gorm-backed Store.
package store

import (
	"context"

	"gorm.io/gorm"

	"github.com/GrabowMar/appanalyzer/internal/store/model"
)

type Store interface {
	NewTransactionContext(ctx context.Context) (context.Context, error)
	Result() Result
	Task() Task
	Pipeline() Pipeline
	Statistics(ctx context.Context) (Stats, error)
	InitialMigration() error
	Close() error
}

type DataStore struct {
	db       *gorm.DB
	result   Result
	task     Task
	pipeline Pipeline
}

func NewStore(db *gorm.DB, cacheEntries int) Store {
	return &DataStore{
		db:       db,
		result:   NewResultStore(db, cacheEntries),
		task:     NewTaskStore(db),
		pipeline: NewPipelineStore(db),
	}
}

func (s *DataStore) NewTransactionContext(ctx context.Context) (context.Context, error) {
	return newTransactionContext(ctx, s.db)
}

func (s *DataStore) Result() Result {
	return s.result
}

func (s *DataStore) Task() Task {
	return s.task
}

func (s *DataStore) Pipeline() Pipeline {
	return s.pipeline
}

func (s *DataStore) InitialMigration() error {
	return s.db.AutoMigrate(
		&model.ResultRecord{},
		&model.ToolPayload{},
		&model.AnalysisTask{},
		&model.PipelineExecution{},
	)
}

func (s *DataStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
