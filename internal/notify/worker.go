package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/missionctl/internal/metrics"
	"github.com/kalambet/missionctl/internal/storage"
)

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, errMsg string) error
}

// Sender delivers a rendered message to the gateway.
type Sender interface {
	Send(ctx context.Context, message string) error
}

// Worker processes notify_gateway jobs from the job queue.
type Worker struct {
	store   JobStore
	sender  Sender
	poll    time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms. m may be nil.
func NewWorker(store JobStore, sender Sender, pollInterval time.Duration, m *metrics.Metrics) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:   store,
		sender:  sender,
		poll:    pollInterval,
		metrics: m,
		logger:  slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled. It always returns nil so it can
// run under an errgroup without tearing the server down.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("notify worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single notify_gateway job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(ctx, []string{JobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.metrics.Notification("failed")
		w.logger.Warn("gateway notification failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(ctx, job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	w.metrics.Notification("sent")
	if err := w.store.CompleteJob(ctx, job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var n Notice
	if err := json.Unmarshal([]byte(job.PayloadJSON), &n); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	if err := w.sender.Send(ctx, n.Text()); err != nil {
		return fmt.Errorf("sending %s notice: %w", n.Type, err)
	}
	return nil
}
