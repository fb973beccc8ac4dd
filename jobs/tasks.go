package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeNotifyTransition fans out document status changes.
	TaskTypeNotifyTransition = "notify:transition"
)

// TransitionPayload is the generic notification body for document status
// changes across requisitions, delivery notes and receiving sessions.
type TransitionPayload struct {
	Kind       string    `json:"kind"`
	DocumentID int64     `json:"document_id"`
	Number     string    `json:"number,omitempty"`
	Action     string    `json:"action,omitempty"`
	ActorID    int64     `json:"actor_id"`
	FromStatus string    `json:"from_status,omitempty"`
	ToStatus   string    `json:"to_status,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	At         time.Time `json:"at"`
}

// NewTransitionTask constructs an Asynq task.
func NewTransitionTask(payload TransitionPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeNotifyTransition, data, asynq.Queue(QueueDefault)), nil
}

// HandleTransitionTask processes TaskTypeNotifyTransition tasks. Delivery
// is a structured log line; ward dashboards tail these via the log
// pipeline.
func HandleTransitionTask(ctx context.Context, t *asynq.Task) error {
	var payload TransitionPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	slog.Info("document transition",
		slog.String("kind", payload.Kind),
		slog.Int64("document_id", payload.DocumentID),
		slog.String("number", payload.Number),
		slog.String("action", payload.Action),
		slog.String("from", payload.FromStatus),
		slog.String("to", payload.ToStatus),
		slog.Int64("actor_id", payload.ActorID))
	return nil
}
