package download

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tidaldl/tidaldl-go/internal/api"
	"github.com/tidaldl/tidaldl-go/internal/monitoring"
)

// Job is one unit of batch work producing a Result.
type Job struct {
	ID    string
	Kind  api.Kind
	Title string
	Run   func(ctx context.Context) *Result
	// Abort reports a job that was never started. When nil the job becomes
	// a bare failed Result.
	Abort func(err error) *Result
}

func (j *Job) abort(err error) *Result {
	if j.Abort != nil {
		return j.Abort(err)
	}
	return failedResult(j.Kind, j.ID, j.Title, err)
}

// Handle is the explicit join point of a submitted job.
type Handle struct {
	JobID  string
	done   chan struct{}
	result *Result
}

// Wait blocks until the job finishes and returns its result.
func (h *Handle) Wait() *Result {
	<-h.done
	return h.result
}

// WorkerPool runs batch jobs on a bounded number of goroutines. With one
// worker jobs run strictly in submission order.
type WorkerPool struct {
	maxWorkers int
	jobs       chan *queuedJob
	active     atomic.Int32
	wg         sync.WaitGroup
	mu         sync.Mutex
	started    bool
	stopped    bool
}

type queuedJob struct {
	ctx    context.Context
	job    *Job
	handle *Handle
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(maxWorkers int) *WorkerPool {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	return &WorkerPool{
		maxWorkers: maxWorkers,
		jobs:       make(chan *queuedJob, maxWorkers),
	}
}

// Start spawns the worker goroutines.
func (wp *WorkerPool) Start() error {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.started {
		return fmt.Errorf("worker pool already started")
	}
	for i := 0; i < wp.maxWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker()
	}
	wp.started = true
	return nil
}

func (wp *WorkerPool) worker() {
	defer wp.wg.Done()
	for q := range wp.jobs {
		wp.processJob(q)
	}
}

func (wp *WorkerPool) processJob(q *queuedJob) {
	wp.active.Add(1)
	monitoring.RecordBatchActive(wp.GetActiveJobCount())
	defer func() {
		wp.active.Add(-1)
		monitoring.RecordBatchActive(wp.GetActiveJobCount())
		close(q.handle.done)
	}()
	q.handle.result = q.job.Run(q.ctx)
}

// Submit queues job and returns its handle. It blocks while every worker is
// busy and the queue is full.
func (wp *WorkerPool) Submit(ctx context.Context, job *Job) (*Handle, error) {
	wp.mu.Lock()
	if !wp.started || wp.stopped {
		wp.mu.Unlock()
		return nil, fmt.Errorf("worker pool not running")
	}
	wp.mu.Unlock()

	handle := &Handle{JobID: job.ID, done: make(chan struct{})}
	select {
	case wp.jobs <- &queuedJob{ctx: ctx, job: job, handle: handle}:
		return handle, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop closes the queue and waits for running jobs to finish.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if !wp.started || wp.stopped {
		wp.mu.Unlock()
		return
	}
	wp.stopped = true
	wp.mu.Unlock()

	close(wp.jobs)
	wp.wg.Wait()
}

// GetActiveJobCount returns the number of currently running jobs
func (wp *WorkerPool) GetActiveJobCount() int {
	return int(wp.active.Load())
}

// GetMaxWorkers returns the maximum number of workers
func (wp *WorkerPool) GetMaxWorkers() int {
	return wp.maxWorkers
}

// RunAll starts the pool, runs jobs and returns their results in
// submission order once every handle has been joined. The pool is stopped
// afterwards. Jobs not yet submitted when ctx is cancelled are aborted.
func (wp *WorkerPool) RunAll(ctx context.Context, jobs []*Job) []*Result {
	results := make([]*Result, len(jobs))
	if err := wp.Start(); err != nil {
		for i, job := range jobs {
			results[i] = job.abort(err)
		}
		return results
	}
	defer wp.Stop()
	monitoring.RecordBatchWorkers(wp.GetMaxWorkers())

	handles := make([]*Handle, len(jobs))
	for i, job := range jobs {
		h, err := wp.Submit(ctx, job)
		if err != nil {
			results[i] = job.abort(err)
			continue
		}
		handles[i] = h
	}
	for i, h := range handles {
		if h != nil {
			results[i] = h.Wait()
		}
	}
	return results
}
