package aifallback

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kharcha/reconciler/internal/domain"
	"github.com/kharcha/reconciler/internal/logger"
)

var (
	ErrQueueClosed = errors.New("fallback queue is closed")
	ErrQueueFull   = errors.New("fallback queue is full")
)

// Sink receives a successful parse and reports the ingestion outcome.
type Sink func(ctx context.Context, msg domain.Message, p domain.ParsedTransaction) (outcome string, err error)

// Options configures a Queue. Zero values take defaults.
type Options struct {
	Workers     int
	BufferSize  int
	MaxAttempts int
	// Backoff is multiplied by the attempt number before a retry.
	Backoff time.Duration
	// Timeout bounds a single parse.
	Timeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 2
	}
	if o.BufferSize <= 0 {
		o.BufferSize = 100
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.Backoff <= 0 {
		o.Backoff = time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	return o
}

// Queue is an in-memory job queue that runs a Parser over rejected
// messages. It is safe for concurrent use. Jobs do not survive a restart.
type Queue struct {
	parser Parser
	sink   Sink
	opts   Options
	log    zerolog.Logger

	jobChan   chan *Job
	closeChan chan struct{}
	wg        sync.WaitGroup

	mu     sync.RWMutex
	jobs   map[string]*Job
	closed bool
}

func NewQueue(parser Parser, sink Sink, opts Options, log zerolog.Logger) *Queue {
	opts = opts.withDefaults()
	return &Queue{
		parser:    parser,
		sink:      sink,
		opts:      opts,
		log:       logger.Component(log, "aifallback"),
		jobChan:   make(chan *Job, opts.BufferSize),
		closeChan: make(chan struct{}),
		jobs:      make(map[string]*Job),
	}
}

// Enqueue schedules msg for a model parse and returns the job id. It never
// blocks: a full buffer returns ErrQueueFull.
func (q *Queue) Enqueue(msg domain.Message) (string, error) {
	job := &Job{
		ID:          uuid.NewString(),
		Message:     msg,
		Status:      JobStatusPending,
		MaxAttempts: q.opts.MaxAttempts,
		CreatedAt:   time.Now().UTC(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", ErrQueueClosed
	}
	select {
	case q.jobChan <- job:
		q.jobs[job.ID] = job
		return job.ID, nil
	default:
		return "", ErrQueueFull
	}
}

// Start launches the workers. They run until ctx is done or Stop is called.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
	q.log.Info().Int("workers", q.opts.Workers).Msg("fallback workers started")
	return nil
}

// Stop refuses new jobs and waits for in-flight jobs, bounded by ctx.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Job returns a snapshot of one job.
func (q *Queue) Job(id string) (Job, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	j, ok := q.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// Jobs returns snapshots of every known job, newest first.
func (q *Queue) Jobs() []Job {
	q.mu.RLock()
	out := make([]Job, 0, len(q.jobs))
	for _, j := range q.jobs {
		out = append(out, *j)
	}
	q.mu.RUnlock()

	sort.Slice(out, func(i, k int) bool {
		if !out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].CreatedAt.After(out[k].CreatedAt)
		}
		return out[i].ID < out[k].ID
	})
	return out
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case job := <-q.jobChan:
			q.process(ctx, job)
		}
	}
}

// process runs one attempt. Job fields are only written under q.mu so
// snapshots stay consistent.
func (q *Queue) process(ctx context.Context, job *Job) {
	now := time.Now().UTC()
	q.mu.Lock()
	job.Status = JobStatusRunning
	job.Attempts++
	job.StartedAt = &now
	msg := job.Message
	q.mu.Unlock()

	log := q.log.With().Str("job", job.ID).Str("sender", msg.SenderID).Logger()

	outcome, err := q.attempt(ctx, msg)

	completed := time.Now().UTC()
	q.mu.Lock()
	defer q.mu.Unlock()
	job.CompletedAt = &completed

	switch {
	case err == nil:
		job.Status = JobStatusCompleted
		job.Outcome = outcome
		job.Error = ""
		log.Debug().Str("outcome", outcome).Msg("fallback parse done")
	case errors.Is(err, ErrNotTransaction):
		job.Status = JobStatusCompleted
		job.Outcome = "not_transaction"
		job.Error = ""
	case job.Attempts < job.MaxAttempts && !q.closed:
		job.Status = JobStatusRetrying
		job.Error = err.Error()
		backoff := time.Duration(job.Attempts) * q.opts.Backoff
		log.Warn().Err(err).Int("attempt", job.Attempts).Dur("backoff", backoff).Msg("fallback parse failed, retrying")
		time.AfterFunc(backoff, func() { q.requeue(job) })
	default:
		job.Status = JobStatusFailed
		job.Error = err.Error()
		log.Warn().Err(err).Int("attempts", job.Attempts).Msg("fallback parse failed")
	}
}

func (q *Queue) attempt(ctx context.Context, msg domain.Message) (outcome string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	pctx, cancel := context.WithTimeout(ctx, q.opts.Timeout)
	defer cancel()

	p, err := q.parser.Parse(pctx, msg)
	if err != nil {
		return "", err
	}
	if p == nil {
		return "", ErrNotTransaction
	}
	if q.sink == nil {
		return "parsed", nil
	}
	return q.sink(ctx, msg, *p)
}

func (q *Queue) requeue(job *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		job.Status = JobStatusFailed
		return
	}
	job.Status = JobStatusPending
	select {
	case q.jobChan <- job:
	default:
		job.Status = JobStatusFailed
		job.Error = ErrQueueFull.Error()
	}
}
