// Package shipment manages delivery notes, the shipment documents that move
// approved requisition quantity between warehouses.
package shipment

import "time"

// NoteStatus enumerates delivery note statuses.
type NoteStatus string

const (
	NotePrepared          NoteStatus = "PREPARED"
	NoteInTransit         NoteStatus = "IN_TRANSIT"
	NoteDelivered         NoteStatus = "DELIVERED"
	NoteReceived          NoteStatus = "RECEIVED"
	NotePartiallyReceived NoteStatus = "PARTIALLY_RECEIVED"
)

// DeliveryNote ships all or part of one approved requisition. A requisition
// may carry several notes over time; each note's line quantities accumulate
// into the parent item's delivered quantity at creation.
type DeliveryNote struct {
	ID            int64
	Number        string
	RequisitionID int64
	Status        NoteStatus
	PreparedBy    int64
	Carrier       string
	DispatchedAt  time.Time
	DeliveredAt   time.Time
	Notes         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Line declares the shipped quantity for one requisition item.
type Line struct {
	ID                int64
	DeliveryNoteID    int64
	RequisitionItemID int64
	DrugID            int64
	Qty               float64
}
