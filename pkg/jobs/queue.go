package jobs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/siga-api/pkg/middleware/requestid"
)

// Job types dispatched by the service layer.
const (
	TypePaymentReceipt = "payment_receipt"
)

const (
	maxRetryDelay = time.Minute
	drainPoll     = 20 * time.Millisecond
)

// Job represents a queued background task. RequestID links the job to the
// HTTP request that queued it and is restored on the handler context.
type Job struct {
	ID        string
	Type      string
	RequestID string
	Payload   interface{}
	Attempt   int
	Enqueued  time.Time
}

// Handler processes a job.
type Handler func(context.Context, Job) error

// GiveUpFunc is invoked once a job has exhausted its retries.
type GiveUpFunc func(context.Context, Job, error)

// QueueConfig configures worker pool behaviour. RetryDelay doubles on every
// attempt up to one minute.
type QueueConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
	Logger     *zap.Logger
	OnGiveUp   GiveUpFunc
}

// Queue is an in-memory worker pool. Jobs do not survive a restart; Drain
// lets the process finish what it accepted before exiting.
type Queue struct {
	name    string
	handler Handler

	workers    int
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger
	onGiveUp   GiveUpFunc

	jobs     chan Job
	pending  atomic.Int64
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.Mutex
	started  bool
	draining bool
}

// NewQueue builds a new queue with the provided handler.
func NewQueue(name string, handler Handler, cfg QueueConfig) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = cfg.Workers * 4
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Queue{
		name:       name,
		handler:    handler,
		workers:    cfg.Workers,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     cfg.Logger.With(zap.String("queue", name)),
		onGiveUp:   cfg.OnGiveUp,
		jobs:       make(chan Job, cfg.BufferSize),
	}
}

// Start begins worker consumption. Safe to call once.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	q.started = true
	q.logger.Info("queue started", zap.Int("workers", q.workers))
}

// Stop cancels workers and waits for them to exit. Queued jobs are dropped.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.cancel()
	q.mu.Unlock()
	q.wg.Wait()
	q.logger.Info("queue stopped", zap.Int64("dropped", q.pending.Load()))
}

// Drain refuses new jobs, waits up to timeout for accepted ones (retries
// included) to finish, then stops the workers. It returns how many were
// still unfinished.
func (q *Queue) Drain(timeout time.Duration) int64 {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return 0
	}
	q.draining = true
	ctx := q.ctx
	q.mu.Unlock()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(drainPoll)
	defer ticker.Stop()

wait:
	for q.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			break wait
		case <-deadline.C:
			break wait
		case <-ticker.C:
		}
	}

	left := q.pending.Load()
	if left > 0 {
		q.logger.Warn("queue drained with unfinished jobs", zap.Int64("unfinished", left))
	}
	q.Stop()
	return left
}

// Pending reports accepted jobs that have not yet succeeded or been given up.
func (q *Queue) Pending() int64 {
	return q.pending.Load()
}

// Enqueue pushes a job onto the queue.
func (q *Queue) Enqueue(job Job) error {
	q.mu.Lock()
	started, draining := q.started, q.draining
	ctx := q.ctx
	q.mu.Unlock()

	if !started {
		return fmt.Errorf("queue %s not started", q.name)
	}
	if draining {
		return fmt.Errorf("queue %s is draining", q.name)
	}
	if job.Enqueued.IsZero() {
		job.Enqueued = time.Now().UTC()
	}

	q.pending.Add(1)
	if err := q.push(ctx, job); err != nil {
		q.pending.Add(-1)
		return err
	}
	return nil
}

func (q *Queue) push(ctx context.Context, job Job) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("queue %s stopped: %w", q.name, ctx.Err())
	case q.jobs <- job:
		return nil
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case job := <-q.jobs:
			ctx := q.ctx
			if job.RequestID != "" {
				ctx = requestid.WithContext(ctx, job.RequestID)
			}
			if err := q.handler(ctx, job); err != nil {
				q.handleFailure(job, err)
				continue
			}
			q.pending.Add(-1)
		}
	}
}

func (q *Queue) backoff(attempt int) time.Duration {
	delay := q.retryDelay
	for i := 1; i < attempt && delay < maxRetryDelay; i++ {
		delay *= 2
	}
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}

func (q *Queue) handleFailure(job Job, err error) {
	job.Attempt++
	fields := []zap.Field{zap.String("job_id", job.ID), zap.String("type", job.Type), zap.Int("attempt", job.Attempt), zap.Error(err)}
	if job.RequestID != "" {
		fields = append(fields, zap.String("request_id", job.RequestID))
	}
	if job.Attempt > q.maxRetries {
		q.logger.Error("job exceeded retries", fields...)
		if q.onGiveUp != nil {
			q.onGiveUp(q.ctx, job, err)
		}
		q.pending.Add(-1)
		return
	}

	delay := q.backoff(job.Attempt)
	q.logger.Warn("job failed, retrying", append(fields, zap.Duration("delay", delay))...)
	go func(j Job) {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-q.ctx.Done():
			q.pending.Add(-1)
		case <-timer.C:
			if err := q.push(q.ctx, j); err != nil {
				q.logger.Error("failed to requeue job", zap.String("job_id", j.ID), zap.Error(err))
				q.pending.Add(-1)
			}
		}
	}(job)
}
