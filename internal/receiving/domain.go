// Package receiving reconciles physically received goods against delivered
// requisition quantity and drives requisition close-out.
package receiving

import (
	"time"

	"github.com/Taro112233/Thoen-Substock-sub000/internal/stockledger"
)

// SessionStatus enumerates receiving session statuses.
type SessionStatus string

const (
	SessionOpen      SessionStatus = "OPEN"
	SessionCompleted SessionStatus = "COMPLETED"
	SessionAbandoned SessionStatus = "ABANDONED"
)

// Session is an operator-owned working set of physically received items.
// Nothing outside the session mutates until completion; completion applies
// every accumulated item atomically or not at all.
type Session struct {
	ID          int64
	WarehouseID int64
	Operator    int64
	Status      SessionStatus
	Notes       string
	OpenedAt    time.Time
	ClosedAt    time.Time
}

// Item is one accumulated receipt line awaiting posting.
type Item struct {
	ID                int64
	SessionID         int64
	RequisitionID     int64
	RequisitionItemID int64
	DrugID            int64
	Qty               float64
	Lot               string
	Expiry            time.Time
	Manufacturer      string
	Condition         stockledger.Condition
	Notes             string
	AddedAt           time.Time
}
