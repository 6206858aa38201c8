package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/kalambet/missionctl/internal/storage"
)

// JobType is the jobs-table type drained by Worker.
const JobType = "notify_gateway"

// JobEnqueuer is the slice of the store Queue needs.
type JobEnqueuer interface {
	EnqueueJob(ctx context.Context, job storage.Job) error
}

// Queue turns notices into notify_gateway jobs.
type Queue struct {
	store   JobEnqueuer
	enabled bool
}

// NewQueue returns a queue backed by store. When enabled is false, Enqueue
// is a no-op.
func NewQueue(store JobEnqueuer, enabled bool) *Queue {
	return &Queue{store: store, enabled: enabled}
}

// Enqueue stores n for delivery. Gateway delivery is fire-and-forget, so the
// job allows a single attempt.
func (q *Queue) Enqueue(ctx context.Context, n Notice) error {
	if q == nil || !q.enabled {
		return nil
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshaling notice: %w", err)
	}
	job := storage.Job{
		ID:          uuid.New().String(),
		Type:        JobType,
		PayloadJSON: string(payload),
		MaxAttempts: 1,
	}
	if err := q.store.EnqueueJob(ctx, job); err != nil {
		return fmt.Errorf("enqueuing %s job: %w", JobType, err)
	}
	return nil
}
