package models

import (
	"tbs/src/types"
)

type Tour struct {
	ID                 uint             `gorm:"primarykey" json:"id"`
	Title              string           `json:"title,omitempty"`
	About              *string          `json:"about,omitempty"`
	Location           string           `json:"location,omitempty"`
	Capacity           uint             `json:"capacity,omitempty"`
	Price              float64          `json:"price"`
	Currency           string           `json:"currency,omitempty"`
	PricingModel       string           `gorm:"default:'flat'" json:"pricing_model,omitempty"`
	CancellationPolicy string           `gorm:"default:'moderate'" json:"cancellation_policy,omitempty"`
	Status             types.TourStatus `gorm:"default:'draft'" json:"status,omitempty"`
	OperatorID         uint             `json:"operator,omitempty"`
	CreatedBy          uint             `json:"created_by,omitempty"`
	Slug               string           `json:"slug,omitempty"`

	Creator   *User      `gorm:"foreignKey:CreatedBy" json:"-"`
	Operator  *Operator  `gorm:"foreignKey:OperatorID" json:"-"`
	TimeSlots []TimeSlot `gorm:"foreignKey:TourID" json:"time_slots,omitempty"`

	types.Timestamps
}

// TotalAmount prices a booking of n participants. The pricing model only
// affects how the amount is computed, never how it settles.
func (t *Tour) TotalAmount(participants uint) float64 {
	switch t.PricingModel {
	case "per_group":
		return t.Price
	default: // flat per-participant
		return t.Price * float64(participants)
	}
}
