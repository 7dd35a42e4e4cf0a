package models

import (
	"time"

	"tbs/src/types"
)

// TimeSlot is one scheduled occurrence of a Tour with its own capacity
// counters. BookedSpots only ever moves through the conditional updates
// in utils (reserve/release); 0 <= BookedSpots <= AvailableSpots holds
// for every committed row while the slot is available.
type TimeSlot struct {
	ID             uint                 `gorm:"primarykey" json:"id"`
	TourID         uint                 `json:"tour_id,omitempty"`
	StartTime      time.Time            `json:"start_time"`
	EndTime        time.Time            `json:"end_time"`
	AvailableSpots uint                 `json:"available_spots"`
	BookedSpots    uint                 `gorm:"default:0" json:"booked_spots"`
	Status         types.TimeSlotStatus `gorm:"default:'available'" json:"status,omitempty"`

	Tour     Tour      `json:"tour,omitempty"`
	Bookings []Booking `gorm:"foreignKey:TimeSlotID" json:"bookings,omitempty"`

	types.Timestamps
}

func (s *TimeSlot) RemainingSpots() uint {
	if s.BookedSpots > s.AvailableSpots {
		return 0
	}
	return s.AvailableSpots - s.BookedSpots
}
