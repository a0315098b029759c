package store_test

import (
	"context"
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	st "github.com/GrabowMar/appanalyzer/internal/store"
	"github.com/GrabowMar/appanalyzer/internal/store/model"
)

var _ = Describe("pipeline store", Ordered, func() {
	var (
		s   st.Store
		ctx context.Context
	)

	BeforeAll(func() {
		s, _ = openTestStore()
		ctx = context.Background()
	})

	It("creates executions in the generation stage", func() {
		execution, err := s.Pipeline().Create(ctx, "researcher", map[string]any{
			"generation": map[string]any{"models": []string{"m1", "m2"}},
		})
		Expect(err).To(BeNil())
		Expect(execution.Status).To(Equal(model.PipelineStatusRunning))
		Expect(execution.CurrentStage).To(Equal(model.StageGeneration))
		Expect(execution.CurrentJobIndex).To(BeZero())

		var config map[string]any
		Expect(json.Unmarshal(execution.Config, &config)).To(Succeed())
		Expect(config).To(HaveKey("generation"))
	})

	It("persists progress and job index together", func() {
		execution, err := s.Pipeline().Create(ctx, "researcher", map[string]any{})
		Expect(err).To(BeNil())

		progress := map[string]any{"generation": map[string]any{"submitted": 3}}
		Expect(s.Pipeline().SaveProgress(ctx, execution.ID, progress, model.StageGeneration, 3)).To(Succeed())

		fetched, err := s.Pipeline().Get(ctx, execution.ID)
		Expect(err).To(BeNil())
		Expect(fetched.CurrentJobIndex).To(Equal(3))
		Expect(string(fetched.Progress)).To(ContainSubstring("submitted"))
	})

	It("lists executions by status", func() {
		execution, err := s.Pipeline().Create(ctx, "researcher", map[string]any{})
		Expect(err).To(BeNil())

		running, err := s.Pipeline().ListByStatus(ctx, model.PipelineStatusRunning)
		Expect(err).To(BeNil())
		Expect(len(running)).To(BeNumerically(">=", 1))

		Expect(s.Pipeline().SetStatus(ctx, execution.ID, model.PipelineStatusFailed, model.StageFailed)).To(Succeed())

		failed, err := s.Pipeline().ListByStatus(ctx, model.PipelineStatusFailed)
		Expect(err).To(BeNil())
		Expect(failed).To(HaveLen(1))
		Expect(failed[0].CurrentStage).To(Equal(model.StageFailed))
	})

	It("returns ErrRecordNotFound for unknown executions", func() {
		_, err := s.Pipeline().Get(ctx, "nope")
		Expect(err).To(MatchError(st.ErrRecordNotFound))
		Expect(s.Pipeline().SetStatus(ctx, "nope", model.PipelineStatusFailed, model.StageFailed)).To(MatchError(st.ErrRecordNotFound))
	})
})
