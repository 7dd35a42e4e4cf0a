package utils

import (
	"log"

	"gorm.io/gorm"

	"tbs/src/models"
	"tbs/src/types"
)

// ReserveSlot atomically takes participants spots on a time slot. The
// guard lives in the WHERE clause so two concurrent reservations for the
// last spots cannot both succeed: the losing UPDATE matches zero rows.
func ReserveSlot(tx *gorm.DB, timeSlotId uint, participants uint) error {
	if participants == 0 {
		return ErrInvalidParticipants
	}
	var slot models.TimeSlot
	if err := tx.First(&slot, timeSlotId).Error; err != nil {
		return err
	}
	if slot.Status != types.TIMESLOT_AVAILABLE {
		return ErrSlotClosed
	}
	res := tx.Model(&models.TimeSlot{}).
		Where("id = ? AND status = ? AND booked_spots + ? <= available_spots", timeSlotId, types.TIMESLOT_AVAILABLE, participants).
		Update("booked_spots", gorm.Expr("booked_spots + ?", participants))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInsufficientCapacity
	}
	return nil
}

// ReleaseSlot returns spots to a slot after a cancellation or failed
// payment. Releases floor at zero rather than erroring so a double
// release cannot corrupt the counter.
func ReleaseSlot(tx *gorm.DB, timeSlotId uint, participants uint) error {
	if participants == 0 {
		return ErrInvalidParticipants
	}
	res := tx.Model(&models.TimeSlot{}).
		Where("id = ?", timeSlotId).
		Update("booked_spots", gorm.Expr("CASE WHEN booked_spots >= ? THEN booked_spots - ? ELSE 0 END", participants, participants))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SetSlotCapacity resizes a slot. Shrinking below the spots already
// booked is rejected in the same conditional UPDATE that applies the
// change.
func SetSlotCapacity(tx *gorm.DB, timeSlotId uint, capacity uint) error {
	var slot models.TimeSlot
	if err := tx.First(&slot, timeSlotId).Error; err != nil {
		return err
	}
	res := tx.Model(&models.TimeSlot{}).
		Where("id = ? AND booked_spots <= ?", timeSlotId, capacity).
		Update("available_spots", capacity)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		log.Printf("capacity update rejected for slot %d: %d booked > %d requested\n", timeSlotId, slot.BookedSpots, capacity)
		return ErrBelowCurrentBookings
	}
	return nil
}
