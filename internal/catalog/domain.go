// Package catalog exposes the drug reference data requisition lines point at.
package catalog

import "time"

// Drug is a catalog entry. Requisitions snapshot Unit and DefaultPrice at
// line creation, so later catalog edits never rewrite historical documents.
type Drug struct {
	ID           int64   `json:"id"`
	Code         string  `json:"code"`
	Name         string  `json:"name"`
	GenericName  string  `json:"generic_name"`
	Unit         string  `json:"unit"`
	IsControlled bool    `json:"is_controlled"`
	DefaultPrice float64 `json:"default_price"`
	IsActive     bool    `json:"is_active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
