package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/Taro112233/Thoen-Substock-sub000/internal/jobs"
	"github.com/Taro112233/Thoen-Substock-sub000/internal/receiving"
)

const (
	// TaskSessionSweep abandons receiving sessions left open too long.
	TaskSessionSweep = "receiving:sweep_stale"
)

// SessionSweepPayload carries scheduling metadata.
type SessionSweepPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewSessionSweepTask constructs an Asynq task for the stale session sweep.
func NewSessionSweepTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(SessionSweepPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSessionSweep, body, asynq.Queue(QueueDefault)), nil
}

// NewSessionSweepHandler binds the sweep to the receiving service.
func NewSessionSweepHandler(svc *receiving.Service, staleAfter time.Duration, metrics *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload SessionSweepPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		tracker := metrics.Track("session_sweep")
		swept, err := svc.SweepStale(ctx, staleAfter)
		if err != nil {
			logger.Error("session sweep", slog.Any("error", err))
			return tracker.End(err)
		}
		metrics.AddStaleSessions(swept)
		if swept > 0 {
			logger.Info("session sweep", slog.Int64("abandoned", swept))
		}
		return tracker.End(nil)
	}
}
