package requisition

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Taro112233/Thoen-Substock-sub000/internal/shared"
)

func TestSideOf(t *testing.T) {
	req := Requisition{FulfillingWarehouseID: 1, RequestingWarehouseID: 2}

	require.Equal(t, SideFulfilling, SideOf(req, 1))
	require.Equal(t, SideRequesting, SideOf(req, 2))
	require.Equal(t, SideNone, SideOf(req, 3))
	require.Equal(t, SideNone, SideOf(req, 0))
}

func TestGuardTransitions(t *testing.T) {
	cases := []struct {
		status Status
		action Action
		side   Side
		ok     bool
	}{
		{StatusDraft, ActionSubmit, SideRequesting, true},
		{StatusDraft, ActionSubmit, SideFulfilling, false},
		{StatusSubmitted, ActionSubmit, SideRequesting, false},
		{StatusSubmitted, ActionApprove, SideFulfilling, true},
		{StatusSubmitted, ActionApprove, SideRequesting, false},
		{StatusSubmitted, ActionReject, SideFulfilling, true},
		{StatusDraft, ActionCancel, SideRequesting, true},
		{StatusSubmitted, ActionCancel, SideRequesting, true},
		{StatusApproved, ActionCancel, SideRequesting, false},
		{StatusApproved, ActionCreateDeliveryNote, SideFulfilling, true},
		{StatusPreparing, ActionCreateDeliveryNote, SideFulfilling, true},
		{StatusInTransit, ActionCreateDeliveryNote, SideFulfilling, true},
		{StatusDelivered, ActionCreateDeliveryNote, SideFulfilling, true},
		{StatusApproved, ActionCreateDeliveryNote, SideRequesting, false},
		{StatusReceived, ActionCreateDeliveryNote, SideFulfilling, false},
		{StatusPreparing, ActionMarkInTransit, SideFulfilling, true},
		{StatusInTransit, ActionMarkDelivered, SideFulfilling, true},
		{StatusDelivered, ActionReceive, SideRequesting, true},
		{StatusInTransit, ActionReceive, SideRequesting, true},
		{StatusDelivered, ActionReceive, SideFulfilling, false},
		{StatusApproved, ActionReceive, SideRequesting, false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.ok, Allowed(tc.status, tc.action, tc.side),
			"status=%s action=%s side=%d", tc.status, tc.action, tc.side)
	}
}

// A wrong-side caller sees PermissionDenied regardless of status.
func TestCheckWrongSideAlwaysPermissionDenied(t *testing.T) {
	statuses := []Status{StatusDraft, StatusSubmitted, StatusApproved, StatusPreparing, StatusInTransit, StatusDelivered, StatusReceived}
	for _, status := range statuses {
		req := Requisition{Number: "RQ-1", Status: status, FulfillingWarehouseID: 1, RequestingWarehouseID: 2}
		err := Check(req, ActionApprove, 2)
		require.ErrorIs(t, err, shared.ErrPermissionDenied, "status=%s", status)
		err = Check(req, ActionCreateDeliveryNote, 2)
		require.ErrorIs(t, err, shared.ErrPermissionDenied, "status=%s", status)
		err = Check(req, ActionReceive, 1)
		require.ErrorIs(t, err, shared.ErrPermissionDenied, "status=%s", status)
	}
}

func TestCheckWrongStatusInvalidTransition(t *testing.T) {
	req := Requisition{Number: "RQ-1", Status: StatusDraft, FulfillingWarehouseID: 1, RequestingWarehouseID: 2}
	err := Check(req, ActionApprove, 1)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	req.Status = StatusReceived
	err = Check(req, ActionReceive, 2)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestTerminalStatuses(t *testing.T) {
	require.True(t, StatusRejected.Terminal())
	require.True(t, StatusCancelled.Terminal())
	require.True(t, StatusReceived.Terminal())
	require.True(t, StatusPartiallyReceived.Terminal())
	require.False(t, StatusDraft.Terminal())
	require.False(t, StatusDelivered.Terminal())
}

func TestNextActions(t *testing.T) {
	require.Equal(t, []Action{ActionSubmit, ActionCancel}, NextActions(StatusDraft, SideRequesting))
	require.Equal(t, []Action{ActionApprove, ActionReject}, NextActions(StatusSubmitted, SideFulfilling))
	require.Empty(t, NextActions(StatusReceived, SideRequesting))
	require.Empty(t, NextActions(StatusDraft, SideNone))
}
