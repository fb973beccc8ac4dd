package shipment

import (
	"context"
	"time"
)

// NoteEvent captures a delivery note status change.
type NoteEvent struct {
	DeliveryNoteID int64
	Number         string
	RequisitionID  int64
	ActorID        int64
	FromStatus     NoteStatus
	ToStatus       NoteStatus
	At             time.Time
}

// Notifier receives note events. Emission is fire-and-forget.
type Notifier interface {
	NotifyDeliveryTransition(ctx context.Context, evt NoteEvent) error
}
