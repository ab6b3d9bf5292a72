package billing

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/NoraXie/echoid/internal/metrics"
	"github.com/NoraXie/echoid/internal/models"
	"github.com/NoraXie/echoid/internal/util"
)

const poolQueueName = "pool"

// PoolQueue runs jobs on a fixed set of goroutines fed by a bounded channel.
type PoolQueue struct {
	jobs       chan models.BillingJob
	handler    Handler
	jobTimeout time.Duration
	logger     *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewPoolQueue(handler Handler, workers, size int) *PoolQueue {
	q := &PoolQueue{
		jobs:       make(chan models.BillingJob, max(size, 1)),
		handler:    handler,
		jobTimeout: 30 * time.Second,
		logger:     util.Named("billing"),
	}
	workers = max(workers, 1)
	q.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go q.worker()
	}
	q.logger.Info("Billing worker pool started", zap.Int("workers", workers), zap.Int("queue_size", cap(q.jobs)))
	return q
}

// Submit enqueues job or fails fast with ErrQueueFull.
func (q *PoolQueue) Submit(_ context.Context, job models.BillingJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.jobs <- job:
		metrics.RecordBillingJob(poolQueueName, "queued")
		return nil
	default:
		metrics.RecordBillingJob(poolQueueName, "dropped")
		q.logger.Error("Billing queue full, job dropped",
			zap.String("job_id", job.JobID),
			zap.String("tenant_id", job.TenantID))
		return ErrQueueFull
	}
}

func (q *PoolQueue) worker() {
	defer q.wg.Done()
	for job := range q.jobs {
		q.process(job)
	}
}

func (q *PoolQueue) process(job models.BillingJob) {
	ctx, cancel := context.WithTimeout(context.Background(), q.jobTimeout)
	defer cancel()

	if err := q.handler(ctx, job); err != nil {
		metrics.RecordBillingJob(poolQueueName, "failed")
		q.logger.Error("Billing job failed",
			zap.String("job_id", job.JobID),
			zap.String("tenant_id", job.TenantID),
			util.Secret("token", job.Token),
			zap.Error(err))
		return
	}
	metrics.RecordBillingJob(poolQueueName, "processed")
}

// Close stops intake and waits for queued jobs to finish until ctx is done.
func (q *PoolQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("Billing worker pool stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
