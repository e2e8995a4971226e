// Package scheduler runs seed reconciliations on a pool of workers.
//
// A seed is never reconciled by two workers at the same time. Enqueuing a
// seed that is already queued is a no-op; enqueuing a seed that is being
// reconciled queues it again once the running reconciliation finishes.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/func/seeder/failure"
	"github.com/func/seeder/seed"
	"go.uber.org/zap"
)

// DefaultWorkers is the default number of workers.
var DefaultWorkers = 4

// A Handler reconciles a seed. A positive requeueAfter schedules the seed
// again after the delay. A transient error without a delay is retried with
// backoff; a permanent error is not retried.
type Handler func(ctx context.Context, ref seed.Ref) (requeueAfter time.Duration, err error)

// A Queue schedules reconciliations.
type Queue struct {
	Handler Handler

	// Workers sets the number of concurrent reconciliations. If not set,
	// DefaultWorkers is used.
	Workers int

	// Backoff creates the retry algorithm for a seed failing with a
	// transient error. If not set, exponential backoff without a time limit
	// is used.
	Backoff func() backoff.BackOff

	// Logger logs scheduling updates. If not set, logs are discarded.
	Logger *zap.Logger

	// Metrics are updated if set.
	Metrics *Metrics

	once     sync.Once
	mu       sync.Mutex
	pending  []seed.Ref
	queued   map[seed.Ref]bool
	running  map[seed.Ref]bool
	dirty    map[seed.Ref]bool
	timers   map[seed.Ref]*time.Timer
	backoffs map[seed.Ref]backoff.BackOff
	notify   chan struct{}
	stopped  bool
}

func (q *Queue) init() {
	q.once.Do(func() {
		q.queued = make(map[seed.Ref]bool)
		q.running = make(map[seed.Ref]bool)
		q.dirty = make(map[seed.Ref]bool)
		q.timers = make(map[seed.Ref]*time.Timer)
		q.backoffs = make(map[seed.Ref]backoff.BackOff)
		q.notify = make(chan struct{}, 1)
		if q.Logger == nil {
			q.Logger = zap.NewNop()
		}
	})
}

// Enqueue schedules a seed for reconciliation as soon as a worker is free.
// A pending delayed reconciliation of the seed is cancelled.
func (q *Queue) Enqueue(ref seed.Ref) {
	q.init()
	q.mu.Lock()
	defer q.mu.Unlock()
	if t, ok := q.timers[ref]; ok {
		t.Stop()
		delete(q.timers, ref)
	}
	q.add(ref)
}

// add adds a ref to the queue. Must be called with the lock held.
func (q *Queue) add(ref seed.Ref) {
	if q.stopped || q.queued[ref] {
		return
	}
	if q.running[ref] {
		q.dirty[ref] = true
		return
	}
	q.pending = append(q.pending, ref)
	q.queued[ref] = true
	q.Metrics.setDepth(len(q.pending))
	q.signal()
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// EnqueueAfter schedules a seed for reconciliation after a delay. A
// previously scheduled delay for the seed is replaced.
func (q *Queue) EnqueueAfter(ref seed.Ref, delay time.Duration) {
	if delay <= 0 {
		q.Enqueue(ref)
		return
	}
	q.init()
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}
	if t, ok := q.timers[ref]; ok {
		t.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if q.timers[ref] != t {
			return
		}
		delete(q.timers, ref)
		q.add(ref)
	})
	q.timers[ref] = t
}

// Forget cancels delayed reconciliations and resets the retry backoff of a
// seed. A queued or running reconciliation is not affected.
func (q *Queue) Forget(ref seed.Ref) {
	q.init()
	q.mu.Lock()
	defer q.mu.Unlock()
	if t, ok := q.timers[ref]; ok {
		t.Stop()
		delete(q.timers, ref)
	}
	delete(q.backoffs, ref)
}

// Len returns the number of seeds waiting for a worker.
func (q *Queue) Len() int {
	q.init()
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Scheduled returns the number of seeds waiting for a delay to pass.
func (q *Queue) Scheduled() int {
	q.init()
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.timers)
}

// Run starts the workers. Run blocks until ctx is cancelled and all running
// reconciliations have finished.
func (q *Queue) Run(ctx context.Context) error {
	q.init()
	n := q.Workers
	if n <= 0 {
		n = DefaultWorkers
	}
	q.Logger.Info("Starting workers", zap.Int("workers", n))

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			q.worker(ctx, q.Logger.With(zap.Int("worker", id)))
		}(i)
	}

	<-ctx.Done()
	q.mu.Lock()
	q.stopped = true
	for ref, t := range q.timers {
		t.Stop()
		delete(q.timers, ref)
	}
	q.mu.Unlock()

	wg.Wait()
	q.Logger.Info("Workers stopped")
	return nil
}

func (q *Queue) worker(ctx context.Context, logger *zap.Logger) {
	for {
		ref, ok := q.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-q.notify:
				continue
			}
		}
		if ctx.Err() != nil {
			q.done(ref)
			return
		}
		q.process(ctx, ref, logger)
	}
}

func (q *Queue) pop() (seed.Ref, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return seed.Ref{}, false
	}
	ref := q.pending[0]
	q.pending = q.pending[1:]
	delete(q.queued, ref)
	q.running[ref] = true
	q.Metrics.setDepth(len(q.pending))
	q.Metrics.running(1)
	if len(q.pending) > 0 {
		q.signal()
	}
	return ref, true
}

// done marks a reconciliation as finished. Reports whether the seed was
// enqueued again while it was running.
func (q *Queue) done(ref seed.Ref) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.running, ref)
	q.Metrics.running(-1)
	if !q.dirty[ref] {
		return false
	}
	delete(q.dirty, ref)
	delete(q.backoffs, ref)
	q.add(ref)
	return true
}

func (q *Queue) process(ctx context.Context, ref seed.Ref, logger *zap.Logger) {
	logger = logger.With(zap.Stringer("seed", ref))
	logger.Debug("Processing")

	start := time.Now()
	delay, err := q.Handler(ctx, ref)
	q.Metrics.observe(err, time.Since(start))

	if q.done(ref) {
		logger.Debug("Changed while reconciling, requeued")
		return
	}

	switch {
	case err != nil && failure.IsPermanent(err):
		q.Forget(ref)
		logger.Info("Permanent failure, not retrying", zap.Error(err))
	case delay > 0:
		if err == nil {
			q.Forget(ref)
		}
		logger.Debug("Requeue", zap.Duration("after", delay), zap.Error(err))
		q.EnqueueAfter(ref, delay)
	case err != nil:
		d := q.nextBackoff(ref)
		if d == backoff.Stop {
			q.Forget(ref)
			logger.Info("Giving up", zap.Error(err))
			return
		}
		logger.Info("Retrying", zap.Error(err), zap.Duration("duration", d))
		q.EnqueueAfter(ref, d)
	default:
		q.Forget(ref)
	}
}

func (q *Queue) nextBackoff(ref seed.Ref) time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	b, ok := q.backoffs[ref]
	if !ok {
		if q.Backoff != nil {
			b = q.Backoff()
		} else {
			eb := backoff.NewExponentialBackOff()
			eb.MaxElapsedTime = 0
			b = eb
		}
		b.Reset()
		q.backoffs[ref] = b
	}
	return b.NextBackOff()
}
