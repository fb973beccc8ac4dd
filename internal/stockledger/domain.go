// Package stockledger records stock movements and per-lot balances for the
// receiving side of a transfer. Documents reference movements by module and
// ref key; posting the same ref key twice is refused, never double-counted.
package stockledger

import (
	"errors"
	"time"
)

// MovementType enumerates ledger movement types.
type MovementType string

const (
	MovementReceive MovementType = "RECEIVE"
	MovementAdjust  MovementType = "ADJUST"
)

// Condition of the physical goods at receipt.
type Condition string

const (
	ConditionGood    Condition = "GOOD"
	ConditionDamaged Condition = "DAMAGED"
	ConditionExpired Condition = "EXPIRED"
)

// Movement is one posted ledger entry.
type Movement struct {
	ID           int64
	Code         string
	Type         MovementType
	WarehouseID  int64
	DrugID       int64
	Lot          string
	Expiry       time.Time
	Condition    Condition
	Qty          float64
	UnitCost     float64
	BalanceAfter float64
	RefModule    string
	RefKey       string
	ActorID      int64
	Note         string
	PostedAt     time.Time
}

// Balance is the running on-hand quantity for one (warehouse, drug, lot).
type Balance struct {
	WarehouseID int64
	DrugID      int64
	Lot         string
	Qty         float64
	Expiry      time.Time
	UpdatedAt   time.Time
}

// CardFilter narrows stock card queries.
type CardFilter struct {
	WarehouseID int64
	DrugID      int64
	Lot         string
	Limit       int
}

// ErrBalanceNotFound reports a missing balance row.
var ErrBalanceNotFound = errors.New("stockledger: balance not found")
