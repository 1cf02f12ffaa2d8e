// Package workerpool bounds the goroutines observer notification
// fan-out can spawn (SPEC_FULL.md §4.12). Grounded on the
// teacher's WorkerPool (src/worker_pool.go): same fixed-size pool,
// buffered task queue, and drop-under-backpressure design, adapted
// from broadcast fan-out to local observer-dispatch tasks
// and with panic recovery added so one bad task can't take a worker
// goroutine down with it.
package workerpool

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Task is a unit of work submitted to the pool.
type Task func()

// Pool runs a fixed number of worker goroutines pulling from a
// buffered queue. Safe for concurrent use.
type Pool struct {
	workerCount int
	taskQueue   chan Task
	log         zerolog.Logger

	ctx context.Context
	wg  sync.WaitGroup

	droppedTasks int64
	panickedTasks int64
}

// New builds a Pool. workerCount <= 0 defaults to 2*NumCPU, matching
// the teacher's recommended production sizing.
func New(workerCount int, log zerolog.Logger) *Pool {
	if workerCount <= 0 {
		workerCount = 2 * runtime.NumCPU()
	}
	return &Pool{
		workerCount: workerCount,
		taskQueue:   make(chan Task, workerCount*100),
		log:         log,
	}
}

// Start launches the worker goroutines. ctx cancellation is the pool's
// shutdown signal; workers finish their current task and exit.
func (p *Pool) Start(ctx context.Context) {
	p.ctx = ctx
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case task, ok := <-p.taskQueue:
			if !ok {
				return
			}
			p.runTask(task)
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *Pool) runTask(task Task) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&p.panickedTasks, 1)
			p.log.Error().Interface("panic", r).Msg("workerpool: task panicked, worker recovered")
		}
	}()
	task()
}

// Submit enqueues task for asynchronous execution. If the queue is
// full the task is dropped rather than blocking the caller or
// spawning an unbounded goroutine.
func (p *Pool) Submit(task Task) {
	select {
	case p.taskQueue <- task:
	default:
		atomic.AddInt64(&p.droppedTasks, 1)
		p.log.Warn().Msg("workerpool: queue full, task dropped")
	}
}

// Stop closes the task queue and waits for in-flight/queued tasks to
// drain. Safe to call once.
func (p *Pool) Stop() {
	close(p.taskQueue)
	p.wg.Wait()
}

// DroppedTasks returns the number of tasks dropped due to a full queue.
func (p *Pool) DroppedTasks() int64 { return atomic.LoadInt64(&p.droppedTasks) }

// PanickedTasks returns the number of tasks that panicked and were
// recovered.
func (p *Pool) PanickedTasks() int64 { return atomic.LoadInt64(&p.panickedTasks) }
