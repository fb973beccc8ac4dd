package receiving

import (
	"context"
	"time"
)

// CompletedEvent reports an applied receiving session.
type CompletedEvent struct {
	SessionID      int64
	WarehouseID    int64
	Operator       int64
	ItemCount      int
	RequisitionIDs []int64
	At             time.Time
}

// Notifier receives completion events. Emission is fire-and-forget.
type Notifier interface {
	NotifyReceivingCompleted(ctx context.Context, evt CompletedEvent) error
}
