package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GrabowMar/appanalyzer/internal/registry"
)

const pingTimeout = 5 * time.Second

// HealthMonitor probes worker classes with ping frames and caches the
// verdict for a short TTL so pipeline poll ticks do not hammer the fleet.
type HealthMonitor struct {
	pool *Pool
	ttl  time.Duration

	mu       sync.Mutex
	verdicts map[registry.WorkerClass]verdict
	log      *zap.SugaredLogger
}

type verdict struct {
	reachable bool
	checkedAt time.Time
}

// NewHealthMonitor wraps a pool with TTL-cached reachability checks.
func NewHealthMonitor(pool *Pool, ttl time.Duration) *HealthMonitor {
	return &HealthMonitor{
		pool:     pool,
		ttl:      ttl,
		verdicts: make(map[registry.WorkerClass]verdict),
		log:      zap.S().Named("health"),
	}
}

// Reachable reports whether the class answered a ping recently. A cached
// verdict younger than the TTL is returned without probing.
func (h *HealthMonitor) Reachable(ctx context.Context, class registry.WorkerClass) bool {
	h.mu.Lock()
	if v, ok := h.verdicts[class]; ok && time.Since(v.checkedAt) < h.ttl {
		h.mu.Unlock()
		return v.reachable
	}
	h.mu.Unlock()

	reachable := h.probe(ctx, class)

	h.mu.Lock()
	h.verdicts[class] = verdict{reachable: reachable, checkedAt: time.Now()}
	h.mu.Unlock()
	return reachable
}

// Invalidate drops the cached verdict for a class, forcing the next
// Reachable call to probe.
func (h *HealthMonitor) Invalidate(class registry.WorkerClass) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.verdicts, class)
}

// AllReachable probes every worker class and reports the unreachable ones.
func (h *HealthMonitor) AllReachable(ctx context.Context) (bool, []registry.WorkerClass) {
	var down []registry.WorkerClass
	for _, class := range registry.AllWorkerClasses {
		if !h.Reachable(ctx, class) {
			down = append(down, class)
		}
	}
	return len(down) == 0, down
}

func (h *HealthMonitor) probe(ctx context.Context, class registry.WorkerClass) bool {
	frame, err := h.pool.Send(ctx, class, map[string]any{"type": "ping"}, pingTimeout)
	if err != nil {
		h.log.Debugw("health probe refused", "class", class, "error", err)
		return false
	}
	if frame.Type() == "pong" || frame.Status() == StatusOK {
		return true
	}
	h.log.Debugw("health probe failed", "class", class, "status", frame.Status(), "error", frame.Err())
	return false
}
