package requisition

import (
	"context"
	"time"
)

// TransitionEvent captures a status change for timeline reconstruction.
type TransitionEvent struct {
	RequisitionID int64
	Number        string
	Action        Action
	ActorID       int64
	FromStatus    Status
	ToStatus      Status
	Notes         string
	At            time.Time
}

// Notifier receives transition events. Emission is fire-and-forget: a
// failing notifier never blocks or rolls back the originating transaction.
type Notifier interface {
	NotifyRequisitionTransition(ctx context.Context, evt TransitionEvent) error
}
