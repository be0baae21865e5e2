// Package workerpool implements the bounded, backpressured worker pool
// that runs CPU-bound transform jobs off the request goroutine, per
// spec.md §4.9.
package workerpool

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/ionifyjs/ionify/internal/ionerr"
)

// DefaultSize is max(1, cpu_count-1), the spec-mandated default pool
// size.
func DefaultSize() int {
	if n := runtime.NumCPU() - 1; n > 1 {
		return n
	}
	return 1
}

// Task is a unit of work submitted to the pool. Size is counted
// against the pool's max queue bytes for backpressure; Label appears
// in the TransformError surfaced after a job fails twice.
type Task struct {
	Label string
	Size  int64
	Fn    func() (interface{}, error)
}

type job struct {
	task     Task
	resultCh chan jobResult
	retried  bool
}

type jobResult struct {
	value interface{}
	err   error
}

// Pool is a fixed-size worker pool with a FIFO job queue and
// byte-based backpressure. A worker that panics while running a job is
// replaced by a fresh worker goroutine; the job it was running is
// re-queued at the head and retried exactly once.
type Pool struct {
	mu            sync.Mutex
	cond          *sync.Cond
	queue         []*job
	bytesInFlight int64
	maxQueueBytes int64
	closed        bool
}

// New creates a Pool with size worker goroutines. maxQueueBytes <= 0
// disables backpressure.
func New(size int, maxQueueBytes int64) *Pool {
	if size <= 0 {
		size = DefaultSize()
	}
	p := &Pool{maxQueueBytes: maxQueueBytes}
	p.cond = sync.NewCond(&p.mu)

	for i := 0; i < size; i++ {
		go p.workerLoop()
	}
	return p
}

// Submit enqueues task and blocks until it completes, the pool closes,
// or ctx is done.
func (p *Pool) Submit(ctx context.Context, task Task) (interface{}, error) {
	j := &job{task: task, resultCh: make(chan jobResult, 1)}
	if err := p.enqueue(ctx, j); err != nil {
		return nil, err
	}
	select {
	case res := <-j.resultCh:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SubmitMany runs every task and returns results in the same order as
// tasks, regardless of completion order. It returns the first error
// encountered, still populating every result that did complete.
func (p *Pool) SubmitMany(ctx context.Context, tasks []Task) ([]interface{}, error) {
	results := make([]interface{}, len(tasks))
	errs := make([]error, len(tasks))

	var wg sync.WaitGroup
	for i, t := range tasks {
		wg.Add(1)
		go func(i int, t Task) {
			defer wg.Done()
			v, err := p.Submit(ctx, t)
			results[i] = v
			errs[i] = err
		}(i, t)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// Close stops accepting new work. Submissions made after Close returns
// ionerr.ErrPoolClosed. Close is idempotent.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()
}

func (p *Pool) enqueue(ctx context.Context, j *job) error {
	if done := ctx.Done(); done != nil {
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			select {
			case <-done:
				p.mu.Lock()
				p.cond.Broadcast()
				p.mu.Unlock()
			case <-stop:
			}
		}()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for !p.closed && p.maxQueueBytes > 0 && p.bytesInFlight > 0 && p.bytesInFlight+j.task.Size > p.maxQueueBytes {
		p.cond.Wait()
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	if p.closed {
		return ionerr.ErrPoolClosed
	}

	p.bytesInFlight += j.task.Size
	p.queue = append(p.queue, j)
	p.cond.Signal()
	return nil
}

func (p *Pool) dequeue() (*job, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.queue) == 0 {
		if p.closed {
			return nil, false
		}
		p.cond.Wait()
	}
	j := p.queue[0]
	p.queue = p.queue[1:]
	return j, true
}

// requeueHead puts j back at the front of the queue, ahead of any job
// submitted after it, so a retried job does not lose its place.
func (p *Pool) requeueHead(j *job) {
	p.mu.Lock()
	p.queue = append([]*job{j}, p.queue...)
	p.mu.Unlock()
	p.cond.Signal()
}

func (p *Pool) complete(j *job, value interface{}, err error) {
	p.mu.Lock()
	p.bytesInFlight -= j.task.Size
	p.mu.Unlock()
	p.cond.Broadcast()
	j.resultCh <- jobResult{value: value, err: err}
}

func (p *Pool) workerLoop() {
	for {
		j, ok := p.dequeue()
		if !ok {
			return
		}
		if p.runOne(j) {
			// The worker that ran j panicked; it is gone, so a
			// replacement takes over the loop in its place.
			go p.workerLoop()
			return
		}
	}
}

// runOne executes j.task.Fn with panic recovery, reporting crashed=true
// if it panicked (an "abnormal exit" per spec.md §4.9).
func (p *Pool) runOne(j *job) (crashed bool) {
	defer func() {
		if r := recover(); r != nil {
			crashed = true
			p.onCrash(j, fmt.Errorf("panic: %v", r))
		}
	}()

	value, err := j.task.Fn()
	p.complete(j, value, err)
	return false
}

func (p *Pool) onCrash(j *job, crashErr error) {
	if !j.retried {
		j.retried = true
		p.requeueHead(j)
		return
	}
	p.complete(j, nil, &ionerr.TransformError{Path: j.task.Label, Loader: "workerpool", Err: crashErr})
}
