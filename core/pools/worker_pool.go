package pools

import (
	"sync/atomic"
)

// Job is one unit of connection work popped by a worker.
type Job interface {
	Process()
}

// WorkerPool is a bounded FIFO of pending connections drained by a
// fixed set of worker goroutines. The reactor appends an entry after a
// successful drain-read; exactly one worker pops it and runs Process.
// One-shot readiness re-arming guarantees the same entry is never
// queued twice concurrently.
type WorkerPool struct {
	jobs       chan Job
	numWorkers int
	closed     atomic.Bool

	stats struct {
		submitted atomic.Uint64
		completed atomic.Uint64
		rejected  atomic.Uint64
	}
}

// NewWorkerPool starts numWorkers workers over a queue of the given
// capacity.
func NewWorkerPool(numWorkers, capacity int) *WorkerPool {
	p := &WorkerPool{
		jobs:       make(chan Job, capacity),
		numWorkers: numWorkers,
	}
	for i := 0; i < numWorkers; i++ {
		go p.run()
	}
	return p
}

// Append enqueues a job. A full queue rejects the job; the caller
// (the reactor) closes the connection in that case.
func (p *WorkerPool) Append(j Job) bool {
	if p.closed.Load() {
		return false
	}
	select {
	case p.jobs <- j:
		p.stats.submitted.Add(1)
		return true
	default:
		p.stats.rejected.Add(1)
		return false
	}
}

func (p *WorkerPool) run() {
	for j := range p.jobs {
		if j == nil {
			continue
		}
		j.Process()
		p.stats.completed.Add(1)
	}
}

// Depth returns the number of jobs waiting in the queue.
func (p *WorkerPool) Depth() int {
	return len(p.jobs)
}

// Close stops accepting jobs and lets the workers drain and exit.
func (p *WorkerPool) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	close(p.jobs)
}

// Stats returns pool counters.
func (p *WorkerPool) Stats() WorkerPoolStats {
	return WorkerPoolStats{
		NumWorkers: p.numWorkers,
		Submitted:  p.stats.submitted.Load(),
		Completed:  p.stats.completed.Load(),
		Rejected:   p.stats.rejected.Load(),
	}
}

// WorkerPoolStats contains pool counters.
type WorkerPoolStats struct {
	NumWorkers int
	Submitted  uint64
	Completed  uint64
	Rejected   uint64
}
