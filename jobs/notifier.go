package jobs

import (
	"context"

	"github.com/Taro112233/Thoen-Substock-sub000/internal/receiving"
	"github.com/Taro112233/Thoen-Substock-sub000/internal/requisition"
	"github.com/Taro112233/Thoen-Substock-sub000/internal/shipment"
)

// Notifier forwards domain events onto the task queue. It satisfies the
// notifier ports of the document services; services treat emission as
// fire-and-forget, so enqueue errors surface here and nowhere else.
type Notifier struct {
	client *Client
}

// NewNotifier wraps an Asynq client.
func NewNotifier(client *Client) *Notifier {
	return &Notifier{client: client}
}

// NotifyRequisitionTransition enqueues a requisition status change.
func (n *Notifier) NotifyRequisitionTransition(ctx context.Context, evt requisition.TransitionEvent) error {
	task, err := NewTransitionTask(TransitionPayload{
		Kind:       "requisition",
		DocumentID: evt.RequisitionID,
		Number:     evt.Number,
		Action:     string(evt.Action),
		ActorID:    evt.ActorID,
		FromStatus: string(evt.FromStatus),
		ToStatus:   string(evt.ToStatus),
		Notes:      evt.Notes,
		At:         evt.At,
	})
	if err != nil {
		return err
	}
	_, err = n.client.Enqueue(ctx, task)
	return err
}

// NotifyDeliveryTransition enqueues a delivery note status change.
func (n *Notifier) NotifyDeliveryTransition(ctx context.Context, evt shipment.NoteEvent) error {
	task, err := NewTransitionTask(TransitionPayload{
		Kind:       "delivery_note",
		DocumentID: evt.DeliveryNoteID,
		Number:     evt.Number,
		ActorID:    evt.ActorID,
		FromStatus: string(evt.FromStatus),
		ToStatus:   string(evt.ToStatus),
		At:         evt.At,
	})
	if err != nil {
		return err
	}
	_, err = n.client.Enqueue(ctx, task)
	return err
}

// NotifyReceivingCompleted enqueues a completed receiving session.
func (n *Notifier) NotifyReceivingCompleted(ctx context.Context, evt receiving.CompletedEvent) error {
	task, err := NewTransitionTask(TransitionPayload{
		Kind:       "receiving_session",
		DocumentID: evt.SessionID,
		ActorID:    evt.Operator,
		ToStatus:   string(receiving.SessionCompleted),
		At:         evt.At,
	})
	if err != nil {
		return err
	}
	_, err = n.client.Enqueue(ctx, task)
	return err
}
