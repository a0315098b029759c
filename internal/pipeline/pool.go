package pipeline

import (
	"errors"
	"sync"
)

// ErrPoolClosed is returned by Submit once the pool has stopped accepting
// work; the caller leaves the job un-submitted so a later tick can retry.
var ErrPoolClosed = errors.New("job pool closed")

// jobPool is a fixed set of worker goroutines draining a task queue.
// Concurrency ceilings are enforced by the executor's in-flight sets, not
// here; the pool just bounds parallelism of blocking job bodies.
type jobPool struct {
	tasks chan func()
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func newJobPool(workers, queueDepth int) *jobPool {
	if workers <= 0 {
		workers = 1
	}
	if queueDepth < workers {
		queueDepth = workers * 4
	}
	p := &jobPool{tasks: make(chan func(), queueDepth)}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for task := range p.tasks {
				task()
			}
		}()
	}
	return p
}

func (p *jobPool) Submit(task func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.tasks <- task:
		return nil
	default:
		// queue full counts as a transient refusal, same retry path
		return ErrPoolClosed
	}
}

// Close stops accepting work and waits for running jobs to finish
// naturally; nothing is force-killed.
func (p *jobPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
}
