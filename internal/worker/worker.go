package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go-flowdesk/internal/core/ports"
	"go-flowdesk/internal/domain"
	"go-flowdesk/internal/metrics"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// Pause after a queue failure so an outage does not spin the pool.
const defaultErrorBackoff = time.Second

type Worker struct {
	workerID     string
	queue        ports.JobQueue
	registry     JobRegistry
	metrics      *metrics.Metrics
	logger       *slog.Logger
	errorBackoff time.Duration
}

func NewWorker(q ports.JobQueue, reg JobRegistry, m *metrics.Metrics, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.New().String()
	return &Worker{
		workerID:     id,
		queue:        q,
		registry:     reg,
		metrics:      m,
		logger:       logger.With("component", "worker", "worker_id", id),
		errorBackoff: defaultErrorBackoff,
	}
}

// WithErrorBackoff sets how long a loop waits after a failed Pop.
func (w *Worker) WithErrorBackoff(d time.Duration) *Worker {
	w.errorBackoff = d
	return w
}

// ProcessNextJob handles exactly ONE job lifecycle
func (w *Worker) ProcessNextJob(ctx context.Context) {
	// 1. POP: Wait until a job is available
	job, err := w.queue.Pop(ctx)
	if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	if err != nil {
		w.logger.Error("failed to pop from queue", "error", err, "retry_in", w.errorBackoff)
		w.wait(ctx)
		return
	}

	// 2. DECODE
	kind, arg, err := domain.ParseJob(job)
	if err != nil {
		w.metrics.Job("unknown", "invalid")
		w.logger.Error("dropping malformed job", "job", job, "error", err)
		return
	}

	// 3. EXECUTE: Find the right handler and run it
	handler, exists := w.registry[kind]
	if !exists {
		w.metrics.Job(string(kind), "invalid")
		w.logger.Error("unknown job kind", "kind", kind)
		return
	}

	if err := handler(ctx, arg); err != nil {
		w.metrics.Job(string(kind), "failed")
		w.logger.Error("job failed", "kind", kind, "arg", arg, "error", err)
		return
	}

	w.metrics.Job(string(kind), "succeeded")
	w.logger.Debug("job finished", "kind", kind, "arg", arg)
}

// StartPool runs concurrency worker loops and blocks until ctx is done.
func (w *Worker) StartPool(ctx context.Context, concurrency int) error {
	w.logger.Info("starting worker pool", "concurrency", concurrency)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		threadID := i
		g.Go(func() error {
			w.logger.Debug("worker thread started", "thread", threadID)
			for {
				select {
				case <-ctx.Done():
					w.logger.Debug("worker thread shutting down", "thread", threadID)
					return nil
				default:
					w.ProcessNextJob(ctx)
				}
			}
		})
	}
	return g.Wait()
}

func (w *Worker) wait(ctx context.Context) {
	timer := time.NewTimer(w.errorBackoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
