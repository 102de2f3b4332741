// Package jobqueue provides the background write queue. Instead of
// fire-and-forget closures, writes are messages sent to a fixed worker pool;
// failures are routed to the logger rather than vanishing inside an
// unobserved goroutine.
package jobqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/agentpipe/core"
	"github.com/hupe1980/agentpipe/logging"
)

// Options configures the in-memory queue.
type Options struct {
	// Workers is the number of goroutines draining the queue.
	Workers int
	// Buffer is the channel capacity; Enqueue blocks once it is full.
	Buffer int
	// Logger receives job failures and lifecycle messages.
	Logger logging.Logger
}

type queuedJob struct {
	id   string
	spec core.JobSpec
}

type jobResult struct {
	done chan struct{}
	err  error
	// abandoned marks a slot whose waiter gave up; the worker removes it on
	// completion instead of the waiter.
	abandoned bool
}

// InMemoryQueue is a core.JobQueue executing append jobs against an event
// log with a bounded worker pool. Safe for concurrent producers. In-flight
// jobs are not cancellable; they run to completion or failure even after the
// producing turn has finished.
type InMemoryQueue struct {
	log    core.EventLog
	logger logging.Logger
	jobs   chan queuedJob
	group  *errgroup.Group

	// producers counts Enqueue calls that passed the closed check and may
	// still be sending; Shutdown waits them out before closing the channel.
	producers sync.WaitGroup

	mu      sync.Mutex
	results map[string]*jobResult
	closed  bool
}

// NewInMemoryQueue creates the queue and starts its workers.
func NewInMemoryQueue(log core.EventLog, optFns ...func(o *Options)) *InMemoryQueue {
	opts := Options{
		Workers: 4,
		Buffer:  64,
		Logger:  logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	q := &InMemoryQueue{
		log:     log,
		logger:  opts.Logger,
		jobs:    make(chan queuedJob, opts.Buffer),
		group:   &errgroup.Group{},
		results: make(map[string]*jobResult),
	}

	for i := 0; i < opts.Workers; i++ {
		q.group.Go(q.worker)
	}

	return q
}

// Enqueue submits one write job and returns its ID immediately. Blocks only
// if the buffer is full or ctx is cancelled, never on job execution. Only
// jobs enqueued with spec.Confirm can later be awaited; all others run
// fire-and-forget and leave no result state behind.
func (q *InMemoryQueue) Enqueue(ctx context.Context, spec core.JobSpec) (string, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", core.ErrQueueClosed
	}
	jobID := core.NewID()
	if spec.Confirm {
		q.results[jobID] = &jobResult{done: make(chan struct{})}
	}
	q.producers.Add(1)
	q.mu.Unlock()
	defer q.producers.Done()

	select {
	case q.jobs <- queuedJob{id: jobID, spec: spec}:
		return jobID, nil
	case <-ctx.Done():
		q.mu.Lock()
		delete(q.results, jobID)
		q.mu.Unlock()
		return "", ctx.Err()
	}
}

// AwaitCompletion blocks until the job finishes, the timeout expires
// (core.ErrJobTimeout) or ctx is cancelled. Only jobs enqueued with Confirm
// are awaitable; a finished job's result is consumed by the first successful
// await, and a waiter that gives up hands its slot back to the worker.
func (q *InMemoryQueue) AwaitCompletion(ctx context.Context, jobID string, timeout time.Duration) error {
	q.mu.Lock()
	result, ok := q.results[jobID]
	q.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown job %s", jobID)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-result.done:
		q.mu.Lock()
		delete(q.results, jobID)
		q.mu.Unlock()
		return result.err
	case <-timer.C:
		q.abandon(jobID, result)
		return fmt.Errorf("job %s: %w", jobID, core.ErrJobTimeout)
	case <-ctx.Done():
		q.abandon(jobID, result)
		return ctx.Err()
	}
}

// abandon releases a confirmable job's result slot once its waiter stops
// waiting. A job that already finished is removed here; one still running is
// marked for the worker to remove on completion.
func (q *InMemoryQueue) abandon(jobID string, result *jobResult) {
	q.mu.Lock()
	defer q.mu.Unlock()

	select {
	case <-result.done:
		delete(q.results, jobID)
	default:
		result.abandoned = true
	}
}

// Shutdown stops accepting jobs, drains the queue and waits for the workers,
// or returns early when ctx expires.
func (q *InMemoryQueue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	// Producers that passed the closed check may still be sending; once Wait
	// returns, nobody can touch the channel and closing it is safe.
	q.producers.Wait()
	close(q.jobs)

	waitCh := make(chan struct{})
	go func() {
		_ = q.group.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *InMemoryQueue) worker() error {
	for job := range q.jobs {
		// Writes run detached from the producing turn's context: once
		// accepted, a job completes or fails on its own.
		err := q.execute(context.Background(), job.spec)
		if err != nil {
			q.logger.Error("background write failed job_id=%s kind=%s session_id=%s: %v", job.id, job.spec.Kind, job.spec.SessionID, err)
		}

		q.mu.Lock()
		if result, ok := q.results[job.id]; ok {
			result.err = err
			close(result.done)
			if result.abandoned {
				delete(q.results, job.id)
			}
		}
		q.mu.Unlock()
	}
	return nil
}

func (q *InMemoryQueue) execute(ctx context.Context, spec core.JobSpec) error {
	if spec.Sequence != nil {
		_, err := q.log.AppendEventWithSequence(ctx, spec.SessionID, spec.EventType, spec.Payload, *spec.Sequence)
		return err
	}
	_, err := q.log.AppendEvent(ctx, spec.SessionID, spec.EventType, spec.Payload)
	return err
}
