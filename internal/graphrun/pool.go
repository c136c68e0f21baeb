// Package graphrun wires the router, repeaters, joins, folds, unfolds
// and gates from the sibling packages into one running graph: node
// registration, a bounded worker pool and execution metrics. Modeled on
// the three-phase workflow engine this project grew out of, generalized
// from a fixed workflow plan to an open-ended hierarchical data cell
// stream.
package graphrun

import (
	"runtime"
	"sync"
	"sync/atomic"

	"code.hybscloud.com/lfq"
)

type task struct {
	fn func()
}

// workerPool bounds the number of node invocations in flight at once
// using a fixed-capacity lock-free queue, draining it with a fixed
// number of goroutines rather than spawning one goroutine per cell.
type workerPool struct {
	queue  *lfq.MPMC[task]
	closed atomic.Bool
	wg     sync.WaitGroup
}

func newWorkerPool(capacity, workers int) *workerPool {
	if capacity < 1 {
		capacity = 1
	}
	if workers < 1 {
		workers = 1
	}
	p := &workerPool{queue: lfq.NewMPMC[task](capacity)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.loop()
	}
	return p
}

func (p *workerPool) loop() {
	defer p.wg.Done()
	for {
		t, err := p.queue.Dequeue()
		if err == nil {
			t.fn()
			continue
		}
		if lfq.IsWouldBlock(err) {
			if p.closed.Load() {
				return
			}
			runtime.Gosched()
			continue
		}
		return
	}
}

// Submit enqueues fn, spinning if the pool is momentarily at capacity.
// The queue and its workers are shared by every node of the graph;
// per-node concurrency limits are applied by nodeLimiter, not here.
func (p *workerPool) Submit(fn func()) {
	t := &task{fn: fn}
	for {
		err := p.queue.Enqueue(t)
		if err == nil {
			return
		}
		if lfq.IsWouldBlock(err) {
			runtime.Gosched()
			continue
		}
		return
	}
}

// Close signals every worker goroutine to exit once the queue drains,
// then waits for them.
func (p *workerPool) Close() {
	p.closed.Store(true)
	p.wg.Wait()
}

// nodeLimiter bounds how many invocations of one node run concurrently,
// independent of the graph's shared worker pool: the pool bounds total
// in-flight work across every node, a nodeLimiter bounds one node's
// share of it. Modeled on WorkflowEngine.executeWave's per-wave
// semaphore (`make(chan struct{}, maxParallel)`), scoped per node
// instead of per wave.
type nodeLimiter struct {
	sem chan struct{}
}

// newNodeLimiter builds a limiter for n, the node's configured
// concurrency policy: n <= 0 (config.Unlimited) means no per-node gate
// at all, so the node is bounded only by the shared pool; n == 1
// (config.Serial) or any larger n creates a buffered semaphore of that
// size.
func newNodeLimiter(n int) *nodeLimiter {
	if n <= 0 {
		return &nodeLimiter{}
	}
	return &nodeLimiter{sem: make(chan struct{}, n)}
}

// run calls fn, first acquiring a semaphore slot if the limiter is
// bounded. Intended to wrap the body submitted to the shared pool, so a
// node at its concurrency limit blocks a pool worker rather than
// starting another invocation.
func (l *nodeLimiter) run(fn func()) {
	if l.sem == nil {
		fn()
		return
	}
	l.sem <- struct{}{}
	defer func() { <-l.sem }()
	fn()
}
