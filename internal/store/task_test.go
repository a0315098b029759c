package store_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	st "github.com/GrabowMar/appanalyzer/internal/store"
	"github.com/GrabowMar/appanalyzer/internal/store/model"
)

var _ = Describe("task store", Ordered, func() {
	var (
		s   st.Store
		ctx context.Context
	)

	BeforeAll(func() {
		s, _ = openTestStore()
		ctx = context.Background()
	})

	It("creates tasks in pending state", func() {
		task, err := s.Task().Create(ctx, "m", 1, []string{"bandit", "zap"})
		Expect(err).To(BeNil())
		Expect(task.ID).ToNot(BeEmpty())
		Expect(task.Status).To(Equal(model.TaskStatusPending))

		fetched, err := s.Task().Get(ctx, task.ID)
		Expect(err).To(BeNil())
		Expect(fetched.ModelSlug).To(Equal("m"))
	})

	It("marks a pending task running exactly once", func() {
		task, err := s.Task().Create(ctx, "m", 2, []string{"bandit"})
		Expect(err).To(BeNil())

		Expect(s.Task().MarkRunning(ctx, task.ID)).To(Succeed())
		Expect(s.Task().MarkRunning(ctx, task.ID)).To(MatchError(st.ErrRecordNotFound))

		fetched, err := s.Task().Get(ctx, task.ID)
		Expect(err).To(BeNil())
		Expect(fetched.Status).To(Equal(model.TaskStatusRunning))
		Expect(fetched.StartedAt).ToNot(BeNil())
	})

	It("finishes a task with counters", func() {
		task, err := s.Task().Create(ctx, "m", 3, []string{"bandit"})
		Expect(err).To(BeNil())

		Expect(s.Task().Finish(ctx, task.ID, model.TaskStatusPartialSuccess, "", 4,
			map[string]int{"high": 1, "medium": 3})).To(Succeed())

		fetched, err := s.Task().Get(ctx, task.ID)
		Expect(err).To(BeNil())
		Expect(fetched.Status).To(Equal(model.TaskStatusPartialSuccess))
		Expect(fetched.TotalIssues).To(Equal(4))
		Expect(fetched.CompletedAt).ToNot(BeNil())
	})

	It("rejects non-terminal finish statuses", func() {
		task, err := s.Task().Create(ctx, "m", 4, nil)
		Expect(err).To(BeNil())
		Expect(s.Task().Finish(ctx, task.ID, model.TaskStatusRunning, "", 0, nil)).ToNot(Succeed())
	})

	It("cancels only active tasks", func() {
		pending, err := s.Task().Create(ctx, "m", 5, nil)
		Expect(err).To(BeNil())
		done, err := s.Task().Create(ctx, "m", 6, nil)
		Expect(err).To(BeNil())
		Expect(s.Task().Finish(ctx, done.ID, model.TaskStatusCompleted, "", 0, nil)).To(Succeed())

		changed, err := s.Task().CancelActive(ctx, []string{pending.ID, done.ID, "missing-id"})
		Expect(err).To(BeNil())
		Expect(changed).To(Equal(1))

		fetched, err := s.Task().Get(ctx, pending.ID)
		Expect(err).To(BeNil())
		Expect(fetched.Status).To(Equal(model.TaskStatusCancelled))

		fetched, err = s.Task().Get(ctx, done.ID)
		Expect(err).To(BeNil())
		Expect(fetched.Status).To(Equal(model.TaskStatusCompleted))
	})

	It("keeps a cancelled task cancelled", func() {
		task, err := s.Task().Create(ctx, "m", 7, []string{"bandit"})
		Expect(err).To(BeNil())
		Expect(s.Task().MarkRunning(ctx, task.ID)).To(Succeed())

		changed, err := s.Task().CancelActive(ctx, []string{task.ID})
		Expect(err).To(BeNil())
		Expect(changed).To(Equal(1))

		// the job body finishing after the cancel must not flip the status
		err = s.Task().Finish(ctx, task.ID, model.TaskStatusCompleted, "", 3, map[string]int{"high": 1})
		Expect(err).To(MatchError(st.ErrTaskTerminal))

		fetched, err := s.Task().Get(ctx, task.ID)
		Expect(err).To(BeNil())
		Expect(fetched.Status).To(Equal(model.TaskStatusCancelled))

		Expect(s.Task().Finish(ctx, "missing-id", model.TaskStatusFailed, "", 0, nil)).
			To(MatchError(st.ErrRecordNotFound))
	})

	It("returns ErrRecordNotFound for unknown ids", func() {
		_, err := s.Task().Get(ctx, "nope")
		Expect(err).To(MatchError(st.ErrRecordNotFound))
	})
})
