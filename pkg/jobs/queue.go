package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Status is the lifecycle state of a submitted job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Job represents a queued background task.
type Job struct {
	ID       string
	Type     string
	Payload  interface{}
	Attempt  int
	Enqueued time.Time
}

// Record is the observable state of a job.
type Record struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	Status     Status      `json:"status"`
	Attempts   int         `json:"attempts"`
	Result     interface{} `json:"result,omitempty"`
	Error      string      `json:"error,omitempty"`
	EnqueuedAt time.Time   `json:"enqueued_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
}

// Handler processes a job and returns an optional result kept on its record.
type Handler func(context.Context, Job) (interface{}, error)

// QueueConfig configures worker pool behaviour.
type QueueConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
	// HistoryLimit bounds how many finished records are retained.
	HistoryLimit int
	Logger       *zap.Logger
}

// Queue is a lightweight in-memory job dispatcher backed by goroutines.
type Queue struct {
	name    string
	handler Handler

	workers      int
	maxRetries   int
	retryDelay   time.Duration
	historyLimit int
	logger       *zap.Logger

	jobs    chan Job
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool

	records  map[string]*Record
	finished []string
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
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 100
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Queue{
		name:         name,
		handler:      handler,
		workers:      cfg.Workers,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		historyLimit: cfg.HistoryLimit,
		logger:       cfg.Logger,
		jobs:         make(chan Job, cfg.BufferSize),
		records:      make(map[string]*Record),
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
	q.logger.Info("queue started", zap.String("queue", q.name), zap.Int("workers", q.workers))
}

// Stop cancels workers and waits for them to exit.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.cancel()
	q.mu.Unlock()
	q.wg.Wait()
	q.logger.Info("queue stopped", zap.String("queue", q.name))
}

// Submit enqueues a new job of jobType and returns its tracking record.
func (q *Queue) Submit(jobType string, payload interface{}) (Record, error) {
	job := Job{ID: uuid.NewString(), Type: jobType, Payload: payload, Enqueued: time.Now().UTC()}

	q.mu.Lock()
	q.records[job.ID] = &Record{ID: job.ID, Type: jobType, Status: StatusQueued, EnqueuedAt: job.Enqueued}
	rec := *q.records[job.ID]
	q.mu.Unlock()

	if err := q.Enqueue(job); err != nil {
		q.mu.Lock()
		delete(q.records, job.ID)
		q.mu.Unlock()
		return Record{}, err
	}
	return rec, nil
}

// Status returns a snapshot of the record for id.
func (q *Queue) Status(id string) (Record, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	rec, ok := q.records[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Enqueue pushes a job onto the queue.
func (q *Queue) Enqueue(job Job) error {
	q.mu.Lock()
	ctx := q.ctx
	started := q.started
	q.mu.Unlock()

	if !started {
		return fmt.Errorf("queue %s not started", q.name)
	}
	if job.Enqueued.IsZero() {
		job.Enqueued = time.Now().UTC()
	}

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
			q.update(job.ID, func(r *Record) {
				r.Status = StatusRunning
				r.Attempts = job.Attempt + 1
			})
			result, err := q.handler(q.ctx, job)
			if err != nil {
				q.handleFailure(job, err)
				continue
			}
			q.finish(job.ID, StatusSucceeded, result, "")
		}
	}
}

func (q *Queue) handleFailure(job Job, err error) {
	job.Attempt++
	if job.Attempt > q.maxRetries {
		q.logger.Error("job exceeded retries",
			zap.String("queue", q.name), zap.String("job_id", job.ID), zap.String("type", job.Type), zap.Error(err))
		q.finish(job.ID, StatusFailed, nil, err.Error())
		return
	}
	q.logger.Warn("job failed, retrying",
		zap.String("queue", q.name), zap.String("job_id", job.ID), zap.String("type", job.Type),
		zap.Int("attempt", job.Attempt), zap.Error(err))
	q.update(job.ID, func(r *Record) {
		r.Status = StatusQueued
		r.Error = err.Error()
	})

	go func(j Job) {
		timer := time.NewTimer(q.retryDelay)
		defer timer.Stop()
		select {
		case <-q.ctx.Done():
			return
		case <-timer.C:
			if err := q.Enqueue(j); err != nil {
				q.logger.Error("failed to requeue job", zap.String("queue", q.name), zap.String("job_id", j.ID), zap.Error(err))
				q.finish(j.ID, StatusFailed, nil, err.Error())
			}
		}
	}(job)
}

func (q *Queue) update(id string, fn func(*Record)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if rec, ok := q.records[id]; ok {
		fn(rec)
	}
}

func (q *Queue) finish(id string, status Status, result interface{}, errMsg string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	rec, ok := q.records[id]
	if !ok {
		return
	}
	now := time.Now().UTC()
	rec.Status = status
	rec.Result = result
	rec.Error = errMsg
	rec.FinishedAt = &now

	q.finished = append(q.finished, id)
	for len(q.finished) > q.historyLimit {
		delete(q.records, q.finished[0])
		q.finished = q.finished[1:]
	}
}
