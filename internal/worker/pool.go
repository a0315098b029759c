package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/GrabowMar/appanalyzer/internal/registry"
	"github.com/GrabowMar/appanalyzer/pkg/metrics"
)

var (
	// ErrNoWorkers means no replica address is configured for the class.
	ErrNoWorkers = errors.New("no worker replicas configured")
	// ErrDuplicateToken rejects a second in-flight send for a live
	// correlation token: at most one terminal wait per token.
	ErrDuplicateToken = errors.New("correlation token already in flight")
)

// Pool spreads requests across the replicas of each worker class using
// round-robin selection and guards against duplicate sends for the same
// correlation token.
type Pool struct {
	mu       sync.Mutex
	replicas map[registry.WorkerClass][]*Client
	next     map[registry.WorkerClass]int
	inflight map[string]struct{}
	log      *zap.SugaredLogger
}

// NewPool builds a pool from per-class replica addresses.
func NewPool(addrs map[registry.WorkerClass][]string, connectTimeout time.Duration) *Pool {
	p := &Pool{
		replicas: make(map[registry.WorkerClass][]*Client),
		next:     make(map[registry.WorkerClass]int),
		inflight: make(map[string]struct{}),
		log:      zap.S().Named("workerpool"),
	}
	for class, list := range addrs {
		for _, addr := range list {
			p.replicas[class] = append(p.replicas[class], NewClient(addr, connectTimeout))
		}
	}
	return p
}

// Send picks the next replica of the class and forwards the request. The
// returned frame follows the Client.Send contract; the error is non-nil
// only for pool-level refusals (unknown class, duplicate token).
func (p *Pool) Send(ctx context.Context, class registry.WorkerClass, message map[string]any, timeout time.Duration) (Frame, error) {
	token, _ := message["id"].(string)
	if token == "" {
		token = uuid.NewString()
	}

	client, err := p.acquire(class, token)
	if err != nil {
		return nil, err
	}
	defer p.release(token)

	request := make(map[string]any, len(message)+1)
	for k, v := range message {
		request[k] = v
	}
	request["id"] = token

	frame := client.Send(ctx, request, timeout)
	metrics.IncreaseWorkerRequestsMetric(string(class), frame.Status())
	return frame, nil
}

// Addresses returns the replica addresses configured for a class.
func (p *Pool) Addresses(class registry.WorkerClass) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]string, 0, len(p.replicas[class]))
	for _, c := range p.replicas[class] {
		out = append(out, c.Addr())
	}
	return out
}

func (p *Pool) acquire(class registry.WorkerClass, token string) (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	replicas := p.replicas[class]
	if len(replicas) == 0 {
		return nil, fmt.Errorf("%w: class %s", ErrNoWorkers, class)
	}
	if _, live := p.inflight[token]; live {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateToken, token)
	}
	p.inflight[token] = struct{}{}

	idx := p.next[class] % len(replicas)
	p.next[class] = idx + 1
	return replicas[idx], nil
}

func (p *Pool) release(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inflight, token)
}
