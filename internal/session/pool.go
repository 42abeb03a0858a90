package session

import (
	"context"
	"sync"

	"cardtelemetryd/internal/errcode"
)

// PoolSize is the fixed worker count, matching ThreadPool(5) in the
// original daemon.
const PoolSize = 5

// MaxClaims is the maximum number of concurrent request claims the
// pool accepts before rejecting with TooBusy, matching
// acquire_request's 32-claim ceiling.
const MaxClaims = 32

// WorkerPool runs submitted jobs on a fixed-size set of goroutines,
// matching the original's ThreadPool: a bounded job channel plus a
// separate claim counter that rejects once 32 requests are
// outstanding, independent of how many workers exist.
type WorkerPool struct {
	jobs chan func()

	mu      sync.Mutex
	claims  int
	wg      sync.WaitGroup
	started bool
}

// NewWorkerPool builds a pool with PoolSize workers.
func NewWorkerPool() *WorkerPool {
	return &WorkerPool{jobs: make(chan func(), MaxClaims)}
}

// Start launches the fixed worker goroutines; they run until ctx is done.
func (p *WorkerPool) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	for i := 0; i < PoolSize; i++ {
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-p.jobs:
					if !ok {
						return
					}
					job()
				}
			}
		}()
	}
}

// AcquireClaim reserves one of MaxClaims concurrent request slots,
// returning errcode.TooBusy once the 32nd slot is already taken.
func (p *WorkerPool) AcquireClaim() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.claims >= MaxClaims {
		return errcode.TooBusy
	}
	p.claims++
	p.wg.Add(1)
	return nil
}

// ReleaseClaim frees a slot acquired by AcquireClaim.
func (p *WorkerPool) ReleaseClaim() {
	p.mu.Lock()
	p.claims--
	p.mu.Unlock()
	p.wg.Done()
}

// Submit enqueues job on the fixed worker goroutines. It does not
// itself acquire a claim: internal/handler.Dispatch calls
// AcquireClaim/ReleaseClaim around the request body so a TooBusy
// rejection can be sent back on the wire instead of silently
// blocking on a full job channel.
func (p *WorkerPool) Submit(job func()) {
	p.jobs <- job
}

// Quiesce blocks until every acquired claim has been released. The
// daemon calls it on shutdown to drain in-flight requests; the
// RestartSmba handler does not call it, and relies on the I2C
// arbiter's busy/bus locking instead.
func (p *WorkerPool) Quiesce() {
	p.wg.Wait()
}
