package store_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	st "github.com/GrabowMar/appanalyzer/internal/store"
	"github.com/GrabowMar/appanalyzer/internal/store/model"
)

func openTestStore() (st.Store, *gorm.DB) {
	dir, err := os.MkdirTemp("", "appanalyzer-store-*")
	Expect(err).To(BeNil())
	DeferCleanup(func() { _ = os.RemoveAll(dir) })

	db, err := gorm.Open(sqlite.Open(filepath.Join(dir, "test.db")),
		&gorm.Config{Logger: logger.Default.LogMode(logger.Silent), TranslateError: true})
	Expect(err).To(BeNil())

	s := st.NewStore(db, 8)
	Expect(s.InitialMigration()).To(Succeed())
	DeferCleanup(func() { _ = s.Close() })
	return s, db
}

// canonical reserializes a document so structural equality ignores map
// iteration order.
func canonical(v any) string {
	data, err := json.Marshal(v)
	Expect(err).To(BeNil())
	return string(data)
}

func samplePayload() map[string]any {
	return map[string]any{
		"metadata": map[string]any{
			"model_slug":    "anthropic_claude-3.5",
			"app_number":    1.0,
			"analysis_type": "analysis",
			"version":       1.0,
		},
		"results": map[string]any{
			"summary": map[string]any{
				"status":         "completed",
				"total_findings": 2.0,
			},
			"tools": map[string]any{
				"bandit": map[string]any{
					"status": "completed",
					"findings": []any{
						map[string]any{"severity": "high", "message": "eval used"},
					},
				},
				"zap": map[string]any{
					"status": "completed",
					"findings": []any{
						map[string]any{"severity": "medium", "message": "missing csp header"},
					},
				},
			},
			"services": []any{"backend", "frontend"},
			"scanner_report": map[string]any{
				"tool_name": "locust",
				"rps":       120.5,
			},
		},
	}
}

var _ = Describe("result store", Ordered, func() {
	var (
		s      st.Store
		gormdb *gorm.DB
		ctx    context.Context
	)

	BeforeAll(func() {
		s, gormdb = openTestStore()
		ctx = context.Background()
	})

	Context("save and load", func() {
		It("round-trips a payload with extracted tool segments", func() {
			payload := samplePayload()
			key, err := s.Result().SaveWithKey(ctx, "rec-roundtrip", "anthropic_claude-3.5", 1, payload, "analysis")
			Expect(err).To(BeNil())
			Expect(key).To(Equal("rec-roundtrip"))

			loaded, err := s.Result().Load(ctx, "anthropic_claude-3.5", 1, key)
			Expect(err).To(BeNil())
			Expect(canonical(loaded)).To(Equal(canonical(samplePayload())))
		})

		It("extracts tool segments into their own namespace", func() {
			var rows []model.ToolPayload
			Expect(gormdb.Where("record_key = ?", "rec-roundtrip").Find(&rows).Error).To(BeNil())
			Expect(rows).To(HaveLen(3)) // bandit, zap, locust (tool_name)

			tables := map[string]bool{}
			for _, row := range rows {
				tables[row.ToolTable] = true
				Expect(row.ToolTable).To(MatchRegexp(`^[a-z0-9_]+$`))
			}
			Expect(tables).To(HaveKey("bandit"))
			Expect(tables).To(HaveKey("locust"))
		})

		It("stores the parent payload without inline tool bodies", func() {
			var record model.ResultRecord
			Expect(gormdb.First(&record, "record_key = ?", "rec-roundtrip").Error).To(BeNil())
			Expect(record.ModelSafe).To(Equal("anthropic_claude-3_5"))
			Expect(record.SizeBytes).To(BeNumerically(">", 0))
			Expect(record.Summary).ToNot(BeEmpty())
		})

		It("round-trips a payload with zero tool segments", func() {
			payload := map[string]any{"results": map[string]any{"notes": []any{"a", "b"}}}
			key, err := s.Result().SaveWithKey(ctx, "rec-flat", "m2", 1, payload, "analysis")
			Expect(err).To(BeNil())

			loaded, err := s.Result().Load(ctx, "m2", 1, key)
			Expect(err).To(BeNil())
			Expect(canonical(loaded)).To(Equal(canonical(payload)))
		})

		It("is idempotent on repeated save with the same key", func() {
			payload := samplePayload()
			_, err := s.Result().SaveWithKey(ctx, "rec-roundtrip", "anthropic_claude-3.5", 1, payload, "analysis")
			Expect(err).To(BeNil())

			var count int64
			Expect(gormdb.Model(&model.ToolPayload{}).Where("record_key = ?", "rec-roundtrip").Count(&count).Error).To(BeNil())
			Expect(count).To(Equal(int64(3)))

			loaded, err := s.Result().Load(ctx, "anthropic_claude-3.5", 1, "rec-roundtrip")
			Expect(err).To(BeNil())
			Expect(canonical(loaded)).To(Equal(canonical(samplePayload())))
		})

		It("loads the newest record when no key is given", func() {
			_, err := s.Result().SaveWithKey(ctx, "rec-older", "m3", 7, map[string]any{"v": 1.0}, "analysis")
			Expect(err).To(BeNil())
			_, err = s.Result().SaveWithKey(ctx, "rec-newer", "m3", 7, map[string]any{"v": 2.0}, "analysis")
			Expect(err).To(BeNil())

			// force distinct created_at ordering
			Expect(gormdb.Model(&model.ResultRecord{}).
				Where("record_key = ?", "rec-older").
				Update("created_at", "2020-01-01 00:00:00").Error).To(BeNil())

			loaded, err := s.Result().Load(ctx, "m3", 7, "")
			Expect(err).To(BeNil())
			Expect(loaded["v"]).To(Equal(2.0))
		})

		It("isolates loaded documents from caller mutation", func() {
			_, err := s.Result().SaveWithKey(ctx, "rec-isolated", "m4", 1, samplePayload(), "analysis")
			Expect(err).To(BeNil())

			first, err := s.Result().Load(ctx, "m4", 1, "rec-isolated")
			Expect(err).To(BeNil())
			first["results"].(map[string]any)["summary"].(map[string]any)["status"] = "tampered"
			delete(first, "metadata")

			second, err := s.Result().Load(ctx, "m4", 1, "rec-isolated")
			Expect(err).To(BeNil())
			Expect(canonical(second)).To(Equal(canonical(samplePayload())))
		})

		It("returns ErrRecordNotFound for unknown keys", func() {
			_, err := s.Result().Load(ctx, "m3", 7, "no-such-key")
			Expect(err).To(MatchError(st.ErrRecordNotFound))

			_, err = s.Result().Load(ctx, "never-saved", 1, "")
			Expect(err).To(MatchError(st.ErrRecordNotFound))
		})
	})

	Context("list", func() {
		It("returns lightweight rows newest first", func() {
			summaries, err := s.Result().List(ctx, "")
			Expect(err).To(BeNil())
			Expect(len(summaries)).To(BeNumerically(">=", 3))
			for i := 1; i < len(summaries); i++ {
				Expect(summaries[i].CreatedAt.After(summaries[i-1].CreatedAt)).To(BeFalse())
			}
		})

		It("filters by model", func() {
			summaries, err := s.Result().List(ctx, "m3")
			Expect(err).To(BeNil())
			Expect(summaries).To(HaveLen(2))
			for _, row := range summaries {
				Expect(row.ModelSlug).To(Equal("m3"))
			}
		})
	})

	Context("delete", func() {
		It("removes one record and its tool payloads", func() {
			Expect(s.Result().Delete(ctx, "anthropic_claude-3.5", 1, "rec-roundtrip")).To(Succeed())

			var count int64
			Expect(gormdb.Model(&model.ToolPayload{}).Where("record_key = ?", "rec-roundtrip").Count(&count).Error).To(BeNil())
			Expect(count).To(BeZero())

			_, err := s.Result().Load(ctx, "anthropic_claude-3.5", 1, "rec-roundtrip")
			Expect(err).To(MatchError(st.ErrRecordNotFound))
		})

		It("removes every record for a model/app pair", func() {
			Expect(s.Result().Delete(ctx, "m3", 7, "")).To(Succeed())

			summaries, err := s.Result().List(ctx, "m3")
			Expect(err).To(BeNil())
			Expect(summaries).To(BeEmpty())
		})

		It("reports missing records", func() {
			Expect(s.Result().Delete(ctx, "m3", 7, "")).To(MatchError(st.ErrRecordNotFound))
		})
	})

	Context("legacy import", func() {
		It("imports flat files, bounded and fault tolerant", func() {
			dir, err := os.MkdirTemp("", "legacy-*")
			Expect(err).To(BeNil())
			DeferCleanup(func() { _ = os.RemoveAll(dir) })

			appDir := filepath.Join(dir, "some_model", "app1", "analysis")
			Expect(os.MkdirAll(appDir, 0o755)).To(Succeed())

			good, err := json.Marshal(map[string]any{
				"metadata": map[string]any{"model_slug": "legacy-model", "app_number": 1, "analysis_type": "analysis"},
				"results":  map[string]any{"tools": map[string]any{}},
			})
			Expect(err).To(BeNil())
			Expect(os.WriteFile(filepath.Join(appDir, "result_one.json"), good, 0o644)).To(Succeed())
			Expect(os.WriteFile(filepath.Join(appDir, "broken.json"), []byte("{nope"), 0o644)).To(Succeed())
			Expect(os.WriteFile(filepath.Join(appDir, "manifest.json"), []byte(`{"task_id":"t"}`), 0o644)).To(Succeed())

			imported, err := s.Result().ImportLegacy(ctx, dir, 10, true)
			Expect(err).To(BeNil())
			Expect(imported).To(Equal(1))

			// imported source deleted, broken one left in place
			_, statErr := os.Stat(filepath.Join(appDir, "result_one.json"))
			Expect(os.IsNotExist(statErr)).To(BeTrue())
			_, statErr = os.Stat(filepath.Join(appDir, "broken.json"))
			Expect(statErr).To(BeNil())

			summaries, err := s.Result().List(ctx, "legacy-model")
			Expect(err).To(BeNil())
			Expect(summaries).To(HaveLen(1))
		})

		It("keeps same-named files from different apps distinct", func() {
			dir, err := os.MkdirTemp("", "legacy-apps-*")
			Expect(err).To(BeNil())
			DeferCleanup(func() { _ = os.RemoveAll(dir) })

			for app := 1; app <= 2; app++ {
				appDir := filepath.Join(dir, "multi_model", fmt.Sprintf("app%d", app), "analysis")
				Expect(os.MkdirAll(appDir, 0o755)).To(Succeed())
				doc, err := json.Marshal(map[string]any{
					"metadata": map[string]any{"model_slug": "legacy-multi", "app_number": app, "analysis_type": "analysis"},
					"results":  map[string]any{"tools": map[string]any{}},
				})
				Expect(err).To(BeNil())
				Expect(os.WriteFile(filepath.Join(appDir, "result.json"), doc, 0o644)).To(Succeed())
			}

			imported, err := s.Result().ImportLegacy(ctx, dir, 10, false)
			Expect(err).To(BeNil())
			Expect(imported).To(Equal(2))

			summaries, err := s.Result().List(ctx, "legacy-multi")
			Expect(err).To(BeNil())
			Expect(summaries).To(HaveLen(2))

			apps := map[int]bool{}
			for _, row := range summaries {
				apps[row.AppNumber] = true
			}
			Expect(apps).To(HaveKey(1))
			Expect(apps).To(HaveKey(2))
		})

		It("is a no-op for a missing directory", func() {
			imported, err := s.Result().ImportLegacy(ctx, "/definitely/not/here", 10, false)
			Expect(err).To(BeNil())
			Expect(imported).To(BeZero())
		})
	})
})
