package requisition

import (
	"fmt"

	"github.com/Taro112233/Thoen-Substock-sub000/internal/shared"
)

// Action enumerates every mutating operation gated by the guard.
type Action string

const (
	ActionSubmit             Action = "SUBMIT"
	ActionApprove            Action = "APPROVE"
	ActionReject             Action = "REJECT"
	ActionCancel             Action = "CANCEL"
	ActionCreateDeliveryNote Action = "CREATE_DELIVERY_NOTE"
	ActionMarkInTransit      Action = "MARK_IN_TRANSIT"
	ActionMarkDelivered      Action = "MARK_DELIVERED"
	ActionReceive            Action = "RECEIVE"
)

// Side is the caller's relationship to the requisition's warehouse pair.
type Side int

const (
	// SideNone means the caller's warehouse matches neither side.
	SideNone Side = iota
	// SideFulfilling supplies the stock.
	SideFulfilling
	// SideRequesting originated the need.
	SideRequesting
)

// SideOf derives the caller side by comparing the caller's warehouse to the
// document's warehouse pair. This comparison is the entire permission
// surface of the guard.
func SideOf(r Requisition, warehouseID int64) Side {
	switch warehouseID {
	case 0:
		return SideNone
	case r.FulfillingWarehouseID:
		return SideFulfilling
	case r.RequestingWarehouseID:
		return SideRequesting
	}
	return SideNone
}

// requiredSide maps each action to the side allowed to perform it.
// Fulfilling side approves, rejects, prepares, and delivers; requesting side
// submits, cancels, and receives.
func requiredSide(action Action) Side {
	switch action {
	case ActionSubmit, ActionCancel, ActionReceive:
		return SideRequesting
	case ActionApprove, ActionReject, ActionCreateDeliveryNote, ActionMarkInTransit, ActionMarkDelivered:
		return SideFulfilling
	}
	return SideNone
}

// legalFrom reports whether the action may be taken from the given status.
func legalFrom(status Status, action Action) bool {
	switch action {
	case ActionSubmit:
		return status == StatusDraft
	case ActionApprove, ActionReject:
		return status == StatusSubmitted
	case ActionCancel:
		return status == StatusDraft || status == StatusSubmitted
	case ActionCreateDeliveryNote:
		// Sequential partial shipments stay open for further notes until
		// the document closes out.
		return status == StatusApproved || status == StatusPreparing ||
			status == StatusInTransit || status == StatusDelivered
	case ActionMarkInTransit:
		return status == StatusPreparing
	case ActionMarkDelivered:
		return status == StatusInTransit
	case ActionReceive:
		return status == StatusDelivered || status == StatusInTransit
	}
	return false
}

// Allowed is the total decision function over (status, action, side).
func Allowed(status Status, action Action, side Side) bool {
	return side == requiredSide(action) && legalFrom(status, action)
}

// Check gates a transition attempt and returns a taxonomy error on refusal.
// The side is checked first so that a wrong-side caller always sees
// PermissionDenied regardless of the document's current status.
func Check(r Requisition, action Action, callerWarehouseID int64) error {
	if SideOf(r, callerWarehouseID) != requiredSide(action) {
		return fmt.Errorf("%w: %s on %s", shared.ErrPermissionDenied, action, r.Number)
	}
	if !legalFrom(r.Status, action) {
		return fmt.Errorf("%w: %s from %s", shared.ErrInvalidTransition, action, r.Status)
	}
	return nil
}

// NextActions lists the legal actions for a given status and side, in a
// stable order. Powers queue views.
func NextActions(status Status, side Side) []Action {
	all := []Action{
		ActionSubmit,
		ActionApprove,
		ActionReject,
		ActionCancel,
		ActionCreateDeliveryNote,
		ActionMarkInTransit,
		ActionMarkDelivered,
		ActionReceive,
	}
	var actions []Action
	for _, action := range all {
		if Allowed(status, action, side) {
			actions = append(actions, action)
		}
	}
	return actions
}
