// Package worker runs the job processor pool: N goroutines polling the
// durable queue, claiming one job at a time and dispatching it to the handler
// registered for its type.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/basket/go-concierge/internal/persistence"
	"github.com/basket/go-concierge/internal/shared"
)

// DefaultPollInterval is how long an idle worker sleeps between claim
// attempts.
const DefaultPollInterval = 500 * time.Millisecond

// Handler executes one claimed job and returns a result payload for the job
// record. A returned error routes the job through FailJob (retry or terminal).
type Handler interface {
	Handle(ctx context.Context, job *persistence.Job) (result string, err error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, job *persistence.Job) (string, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, job *persistence.Job) (string, error) {
	return f(ctx, job)
}

// Pool claims and executes jobs until its context is canceled. A worker
// finishes the job it holds before exiting, so cancellation never abandons a
// claim.
type Pool struct {
	store        *persistence.Store
	logger       *slog.Logger
	handlers     map[persistence.JobType]Handler
	size         int
	pollInterval time.Duration

	wg sync.WaitGroup
}

// Option configures a Pool.
type Option func(*Pool)

// WithSize sets the number of worker goroutines (default 2).
func WithSize(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.size = n
		}
	}
}

// WithPollInterval sets the idle polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// NewPool creates a pool over the store. Handlers are registered with
// Register before Run.
func NewPool(store *persistence.Store, logger *slog.Logger, opts ...Option) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		store:        store,
		logger:       logger.With("component", "worker"),
		handlers:     make(map[persistence.JobType]Handler),
		size:         2,
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Register binds a handler to a job type. Last registration wins.
func (p *Pool) Register(jobType persistence.JobType, h Handler) {
	p.handlers[jobType] = h
}

// Run starts the workers and blocks until ctx is canceled and every worker
// has drained its in-flight job.
func (p *Pool) Run(ctx context.Context) {
	for i := 0; i < p.size; i++ {
		workerID := fmt.Sprintf("worker-%s", uuid.NewString()[:8])
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.runWorker(ctx, workerID)
		}()
	}
	p.wg.Wait()
}

func (p *Pool) runWorker(ctx context.Context, workerID string) {
	logger := p.logger.With("worker_id", workerID)
	logger.Info("worker started")

	for {
		if ctx.Err() != nil {
			logger.Info("worker stopped")
			return
		}

		job, err := p.store.ClaimNextJob(ctx, workerID)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("worker stopped")
				return
			}
			logger.Error("claim failed", "error", err.Error())
			p.sleep(ctx)
			continue
		}
		if job == nil {
			p.sleep(ctx)
			continue
		}

		p.execute(shared.WithWorkerID(ctx, workerID), logger, job)
	}
}

// execute runs the job under a fresh bookkeeping scope. Completion and
// failure writes use a background context so a shutdown mid-job still records
// the outcome.
func (p *Pool) execute(ctx context.Context, logger *slog.Logger, job *persistence.Job) {
	started := time.Now()
	jobCtx := shared.WithJobID(shared.WithTenantID(ctx, job.TenantID), job.ID)
	logger = logger.With("job_id", job.ID, "job_type", string(job.Type), "tenant_id", job.TenantID)

	result, err := p.dispatch(jobCtx, job)

	writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err != nil {
		logger.Warn("job failed",
			"attempt", job.Attempts,
			"max_attempts", job.MaxAttempts,
			"error", err.Error(),
			"duration_ms", time.Since(started).Milliseconds())
		if failErr := p.store.FailJob(writeCtx, job.ID, err.Error()); failErr != nil {
			logger.Error("recording job failure failed", "error", failErr.Error())
		}
		return
	}

	if completeErr := p.store.CompleteJob(writeCtx, job.ID, result); completeErr != nil {
		logger.Error("recording job completion failed", "error", completeErr.Error())
		return
	}
	logger.Info("job completed", "duration_ms", time.Since(started).Milliseconds())
}

func (p *Pool) dispatch(ctx context.Context, job *persistence.Job) (result string, err error) {
	handler, ok := p.handlers[job.Type]
	if !ok {
		return "", fmt.Errorf("no handler registered for job type %q", job.Type)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler.Handle(ctx, job)
}

func (p *Pool) sleep(ctx context.Context) {
	timer := time.NewTimer(p.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
