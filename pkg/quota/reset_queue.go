package quota

import (
	"context"
	"sync"
	"time"

	"github.com/mihaimyh/paddlequota/pkg/billing"
)

// Job is a unit of background work.
type Job func(ctx context.Context) error

// ResetQueue runs jobs on a single background worker, in submission order.
// Jobs still buffered at Close are drained before Close returns.
type ResetQueue struct {
	jobs     chan Job
	shutdown chan struct{}
	stopped  chan struct{}
	wg       sync.WaitGroup

	// mu orders Enqueue against Close so an accepted job is always drained.
	mu     sync.RWMutex
	closed bool

	timeout time.Duration
	onError func(error)
}

// NewResetQueue starts a queue buffering up to size jobs. Each job runs with
// its own timeout; onError (optional) receives job failures.
func NewResetQueue(size int, timeout time.Duration, onError func(error)) *ResetQueue {
	if size <= 0 {
		size = 1
	}
	q := &ResetQueue{
		jobs:     make(chan Job, size),
		shutdown: make(chan struct{}),
		stopped:  make(chan struct{}),
		timeout:  timeout,
		onError:  onError,
	}
	q.startWorker()
	return q
}

func (q *ResetQueue) startWorker() {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		defer close(q.stopped)
		for {
			select {
			case job := <-q.jobs:
				q.run(job)
			case <-q.shutdown:
				for {
					select {
					case job := <-q.jobs:
						q.run(job)
					default:
						return
					}
				}
			}
		}
	}()
}

func (q *ResetQueue) run(job Job) {
	ctx := context.Background()
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}
	if err := job(ctx); err != nil && q.onError != nil {
		q.onError(err)
	}
}

// Enqueue buffers job without blocking. It returns ErrQueueFull when the buffer
// is full and ErrQueueClosed after Close.
func (q *ResetQueue) Enqueue(job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Flush blocks until every job enqueued before the call has run, or ctx is done.
// It returns nil immediately on a closed queue.
func (q *ResetQueue) Flush(ctx context.Context) error {
	select {
	case <-q.shutdown:
		return nil
	default:
	}

	done := make(chan struct{})
	barrier := func(context.Context) error {
		close(done)
		return nil
	}
	select {
	case q.jobs <- barrier:
	case <-q.shutdown:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-q.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs, drains the buffer and waits for the worker.
func (q *ResetQueue) Close() error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.shutdown)
	}
	q.mu.Unlock()
	q.wg.Wait()
	return nil
}

// resetJob clears the daily counter of userID as of now.
func resetJob(store billing.UserStore, userID string, now time.Time) Job {
	return func(ctx context.Context) error {
		return store.UpsertByUserID(ctx, userID, billing.Update{
			APICallCountDaily: billing.Set[int64](0),
			LastAPICallReset:  billing.Set(now),
		})
	}
}
