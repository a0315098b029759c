package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GrabowMar/appanalyzer/internal/worker"
)

const startPollInterval = 5 * time.Second

// LifecycleManager is the slice of the container lifecycle the gate needs
// for auto-start.
type LifecycleManager interface {
	Start(ctx context.Context, project string) error
}

// HealthGate blocks analysis submission until the worker fleet is
// reachable. The verdict is cached for a short interval so the executor's
// poll loop does not re-probe every tick; with auto-start enabled an
// unhealthy fleet is brought up through the lifecycle manager and polled
// for accessibility up to a bounded wait.
type HealthGate struct {
	monitor   *worker.HealthMonitor
	lifecycle LifecycleManager
	project   string
	autoStart bool
	startWait time.Duration
	ttl       time.Duration

	mu        sync.Mutex
	verdict   error
	checkedAt time.Time
	log       *zap.SugaredLogger
}

func NewHealthGate(monitor *worker.HealthMonitor, lm LifecycleManager, project string, autoStart bool, startWait, ttl time.Duration) *HealthGate {
	return &HealthGate{
		monitor:   monitor,
		lifecycle: lm,
		project:   project,
		autoStart: autoStart,
		startWait: startWait,
		ttl:       ttl,
		log:       zap.S().Named("healthgate"),
	}
}

// Ensure returns nil when the fleet is reachable. The returned error
// carries a remediation message suitable for surfacing to the pipeline
// owner.
func (g *HealthGate) Ensure(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if time.Since(g.checkedAt) < g.ttl {
		return g.verdict
	}

	g.verdict = g.check(ctx)
	g.checkedAt = time.Now()
	return g.verdict
}

func (g *HealthGate) check(ctx context.Context) error {
	ok, down := g.monitor.AllReachable(ctx)
	if ok {
		return nil
	}

	if !g.autoStart {
		return fmt.Errorf("analyzer workers unreachable (%v); start them with 'docker compose -p %s up -d' or enable auto-start", down, g.project)
	}

	g.log.Infow("workers unreachable, attempting auto-start", "down", down, "project", g.project)
	if err := g.lifecycle.Start(ctx, g.project); err != nil {
		return fmt.Errorf("auto-starting analyzer workers failed: %w", err)
	}

	deadline := time.Now().Add(g.startWait)
	for {
		for _, class := range down {
			g.monitor.Invalidate(class)
		}
		if ok, down = g.monitor.AllReachable(ctx); ok {
			g.log.Infow("workers accessible after auto-start", "project", g.project)
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("analyzer workers (%v) still unreachable %s after auto-start", down, g.startWait)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(startPollInterval):
		}
	}
}
