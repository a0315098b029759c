package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/GrabowMar/appanalyzer/internal/store/model"
)

// Result persists consolidated analysis output: compressed payloads with
// tool-level sub-segments extracted into their own namespace, a
// read-through cache, and a legacy flat-file importer.
type Result interface {
	Save(ctx context.Context, modelSlug string, appNumber int, payload map[string]any, analysisType string) (string, error)
	SaveWithKey(ctx context.Context, recordKey, modelSlug string, appNumber int, payload map[string]any, analysisType string) (string, error)
	Load(ctx context.Context, modelSlug string, appNumber int, recordKey string) (map[string]any, error)
	List(ctx context.Context, modelFilter string) ([]model.ResultSummary, error)
	Delete(ctx context.Context, modelSlug string, appNumber int, recordKey string) error
	ImportLegacy(ctx context.Context, dir string, limit int, deleteSource bool) (int, error)
}

type ResultStore struct {
	db    *gorm.DB
	cache *resultCache
	log   *zap.SugaredLogger
}

// Make sure we conform to Result interface
var _ Result = (*ResultStore)(nil)

func NewResultStore(db *gorm.DB, cacheEntries int) Result {
	return &ResultStore{
		db:    db,
		cache: newResultCache(cacheEntries),
		log:   zap.S().Named("resultstore"),
	}
}

var modelSafeRe = regexp.MustCompile(`[^a-z0-9_-]+`)

// SafeModelSlug normalizes a model slug for filesystem and db use.
func SafeModelSlug(slug string) string {
	safe := modelSafeRe.ReplaceAllString(strings.ToLower(slug), "_")
	return strings.Trim(safe, "_")
}

// Save derives a record key from model, app, analysis type and timestamp,
// then persists the payload.
func (s *ResultStore) Save(ctx context.Context, modelSlug string, appNumber int, payload map[string]any, analysisType string) (string, error) {
	key := fmt.Sprintf("%s_app%d_%s_%s",
		SafeModelSlug(modelSlug), appNumber, analysisType,
		time.Now().UTC().Format("20060102T150405.000000Z"))
	return s.SaveWithKey(ctx, key, modelSlug, appNumber, payload, analysisType)
}

// SaveWithKey persists the payload under an explicit record key. Repeated
// saves with the same key replace the record and its extracted segments,
// so the call is idempotent.
func (s *ResultStore) SaveWithKey(ctx context.Context, recordKey, modelSlug string, appNumber int, payload map[string]any, analysisType string) (string, error) {
	doc, err := deepCopy(payload)
	if err != nil {
		return "", fmt.Errorf("canonicalizing payload: %w", err)
	}

	segments := extractToolSegments(doc)

	parent, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("serializing payload: %w", err)
	}

	record := model.ResultRecord{
		RecordKey:    recordKey,
		ModelSlug:    modelSlug,
		ModelSafe:    SafeModelSlug(modelSlug),
		AppNumber:    appNumber,
		AnalysisType: analysisType,
		CreatedAt:    time.Now().UTC(),
		Summary:      extractSummary(payload),
		SizeBytes:    int64(len(parent)),
		Payload:      compress(parent),
	}

	err = s.getDB(ctx).Transaction(func(dbtx *gorm.DB) error {
		// stale segments from a previous save under the same key
		if err := dbtx.Where("record_key = ?", recordKey).Delete(&model.ToolPayload{}).Error; err != nil {
			return err
		}
		if err := dbtx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&record).Error; err != nil {
			return err
		}
		for _, segment := range segments {
			body, err := json.Marshal(segment.Body)
			if err != nil {
				return fmt.Errorf("serializing tool segment %s: %w", segment.Path, err)
			}
			row := model.ToolPayload{
				RecordKey: recordKey,
				Path:      segment.Path,
				ToolTable: sanitizeToolName(segment.Tool),
				Payload:   compress(body),
			}
			if err := dbtx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("saving result %s: %w", recordKey, err)
	}

	s.cache.evict(recordKey)
	s.log.Debugw("result saved", "key", recordKey, "segments", len(segments), "size_bytes", record.SizeBytes)
	return recordKey, nil
}

// Load returns the rehydrated payload. An empty recordKey loads the newest
// record for the model/app pair.
func (s *ResultStore) Load(ctx context.Context, modelSlug string, appNumber int, recordKey string) (map[string]any, error) {
	if recordKey == "" {
		var latest model.ResultRecord
		result := s.getDB(ctx).
			Select("record_key").
			Where("model_safe = ? AND app_number = ?", SafeModelSlug(modelSlug), appNumber).
			Order("created_at DESC").
			First(&latest)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return nil, ErrRecordNotFound
			}
			return nil, result.Error
		}
		recordKey = latest.RecordKey
	}

	if doc, hit := s.cache.get(recordKey); hit {
		return doc, nil
	}

	var record model.ResultRecord
	result := s.getDB(ctx).First(&record, "record_key = ?", recordKey)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, result.Error
	}

	parent, err := decompress(record.Payload)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(parent, &doc); err != nil {
		return nil, fmt.Errorf("parsing stored payload %s: %w", recordKey, err)
	}

	var rows []model.ToolPayload
	if err := s.getDB(ctx).Where("record_key = ?", recordKey).Find(&rows).Error; err != nil {
		return nil, err
	}
	segments := make(map[string]map[string]any, len(rows))
	for _, row := range rows {
		body, err := decompress(row.Payload)
		if err != nil {
			return nil, err
		}
		var segment map[string]any
		if err := json.Unmarshal(body, &segment); err != nil {
			return nil, fmt.Errorf("parsing tool segment %s: %w", row.Path, err)
		}
		segments[row.Path] = segment
	}

	rehydrated, err := rehydrate(doc, func(path string) (map[string]any, error) {
		segment, ok := segments[path]
		if !ok {
			return nil, fmt.Errorf("missing tool segment %s for record %s", path, recordKey)
		}
		return segment, nil
	})
	if err != nil {
		return nil, err
	}

	final := rehydrated.(map[string]any)
	s.cache.put(recordKey, final)
	return final, nil
}

// List returns lightweight summaries, newest first, optionally filtered by
// model slug.
func (s *ResultStore) List(ctx context.Context, modelFilter string) ([]model.ResultSummary, error) {
	tx := s.getDB(ctx).Model(&model.ResultRecord{}).Order("created_at DESC")
	if modelFilter != "" {
		tx = tx.Where("model_safe = ?", SafeModelSlug(modelFilter))
	}

	var records []model.ResultRecord
	if err := tx.Select("record_key", "model_slug", "app_number", "analysis_type", "created_at", "summary", "size_bytes").
		Find(&records).Error; err != nil {
		return nil, err
	}

	summaries := make([]model.ResultSummary, 0, len(records))
	for _, r := range records {
		summaries = append(summaries, model.ResultSummary{
			RecordKey:    r.RecordKey,
			ModelSlug:    r.ModelSlug,
			AppNumber:    r.AppNumber,
			AnalysisType: r.AnalysisType,
			CreatedAt:    r.CreatedAt,
			Summary:      r.Summary,
			SizeBytes:    r.SizeBytes,
		})
	}
	return summaries, nil
}

// Delete removes one record, or every record for the model/app pair when
// recordKey is empty, and evicts the corresponding cache entries.
func (s *ResultStore) Delete(ctx context.Context, modelSlug string, appNumber int, recordKey string) error {
	var keys []string
	tx := s.getDB(ctx).Model(&model.ResultRecord{})
	if recordKey != "" {
		tx = tx.Where("record_key = ?", recordKey)
	} else {
		tx = tx.Where("model_safe = ? AND app_number = ?", SafeModelSlug(modelSlug), appNumber)
	}
	if err := tx.Pluck("record_key", &keys).Error; err != nil {
		return err
	}
	if len(keys) == 0 {
		return ErrRecordNotFound
	}

	err := s.getDB(ctx).Transaction(func(dbtx *gorm.DB) error {
		if err := dbtx.Where("record_key IN ?", keys).Delete(&model.ToolPayload{}).Error; err != nil {
			return err
		}
		return dbtx.Where("record_key IN ?", keys).Delete(&model.ResultRecord{}).Error
	})
	if err != nil {
		return fmt.Errorf("deleting results: %w", err)
	}

	s.cache.evict(keys...)
	return nil
}

func (s *ResultStore) getDB(ctx context.Context) *gorm.DB {
	if tx := FromContext(ctx); tx != nil {
		return tx
	}
	return s.db
}

// deepCopy canonicalizes the payload through a JSON round trip so
// extraction never mutates the caller's tree.
func deepCopy(payload map[string]any) (map[string]any, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// extractSummary pulls the lightweight summary out of a consolidated
// document when one is present.
func extractSummary(payload map[string]any) []byte {
	results, ok := payload["results"].(map[string]any)
	if !ok {
		return nil
	}
	summary, ok := results["summary"].(map[string]any)
	if !ok {
		return nil
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return nil
	}
	return data
}
