package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/Taro112233/Thoen-Substock-sub000/internal/jobs"
	"github.com/Taro112233/Thoen-Substock-sub000/internal/shared"
)

const (
	// TaskIdempotencyCleanup prunes processed idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// IdempotencyCleanupPayload carries scheduling metadata.
type IdempotencyCleanupPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewIdempotencyCleanupTask constructs an Asynq task for the key cleanup.
func NewIdempotencyCleanupTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}

// NewIdempotencyCleanupHandler binds the cleanup to the shared store.
func NewIdempotencyCleanupHandler(store *shared.IdempotencyStore, retention time.Duration, metrics *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload IdempotencyCleanupPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		tracker := metrics.Track("idempotency_cleanup")
		if err := store.Cleanup(ctx, retention); err != nil {
			logger.Error("idempotency cleanup", slog.Any("error", err))
			return tracker.End(err)
		}
		return tracker.End(nil)
	}
}
