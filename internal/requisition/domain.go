package requisition

import (
	"time"
)

// Status enumerates requisition lifecycle statuses.
type Status string

const (
	StatusDraft             Status = "DRAFT"
	StatusSubmitted         Status = "SUBMITTED"
	StatusApproved          Status = "APPROVED"
	StatusRejected          Status = "REJECTED"
	StatusCancelled         Status = "CANCELLED"
	StatusPreparing         Status = "PREPARING"
	StatusInTransit         Status = "IN_TRANSIT"
	StatusDelivered         Status = "DELIVERED"
	StatusReceived          Status = "RECEIVED"
	StatusPartiallyReceived Status = "PARTIALLY_RECEIVED"
)

// Terminal reports whether no further transition leaves the status.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusCancelled, StatusReceived, StatusPartiallyReceived:
		return true
	}
	return false
}

// Type enumerates requisition document types.
type Type string

const (
	TypeRegular   Type = "REGULAR"
	TypeEmergency Type = "EMERGENCY"
	TypeScheduled Type = "SCHEDULED"
	TypeReturn    Type = "RETURN"
)

// Priority enumerates urgency levels.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// Requisition is a stock transfer document between two warehouses.
// Documents are never deleted; cancellation and rejection are terminal
// statuses, not erasure.
type Requisition struct {
	ID                    int64
	Number                string
	Type                  Type
	Priority              Priority
	Status                Status
	FulfillingWarehouseID int64
	RequestingWarehouseID int64
	RequestedBy           int64
	ApprovedBy            int64
	ApprovedAt            time.Time
	RejectedBy            int64
	RejectedAt            time.Time
	RejectReason          string
	// OriginRequisitionID links a shortfall follow-up back to the document
	// it was generated from. Immutable once set; origin always shares this
	// document's warehouse pair.
	OriginRequisitionID int64
	Purpose             string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Item is one requested drug line. Bound invariant after every reconciling
// operation: 0 <= ReceivedQty <= DeliveredQty <= ApprovedQty <= RequestedQty.
type Item struct {
	ID            int64
	RequisitionID int64
	DrugID        int64
	Unit          string
	RequestedQty  float64
	ApprovedQty   float64
	DeliveredQty  float64
	ReceivedQty   float64
	// UnitPrice is snapshotted at creation for valuation stability.
	UnitPrice float64
}

// ListFilters narrows queue views.
type ListFilters struct {
	Status                Status
	Type                  Type
	FulfillingWarehouseID int64
	RequestingWarehouseID int64
	Search                string
	SortBy                string
	SortDir               string
}

// ListItem is a queue view row.
type ListItem struct {
	ID                    int64
	Number                string
	Type                  Type
	Priority              Priority
	Status                Status
	FulfillingWarehouseID int64
	RequestingWarehouseID int64
	OriginRequisitionID   int64
	LineCount             int
	CreatedAt             time.Time
}
