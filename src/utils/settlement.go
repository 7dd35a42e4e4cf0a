package utils

import (
	"context"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"tbs/src/db"
	"tbs/src/lib"
	"tbs/src/models"
	"tbs/src/types"
)

// Funds are held on the platform until the tour starts; the transfer to
// the operator becomes due exactly at the slot's start time.
const TransferHoldOffset = time.Duration(0)

// TransferScheduleFor returns the instant a paid booking on this slot
// becomes transfer-eligible.
func TransferScheduleFor(slot *models.TimeSlot) time.Time {
	return slot.StartTime.UTC().Add(TransferHoldOffset)
}

// FindDueTransfers lists booking ids whose settlement transfer is due at
// now. A booking qualifies only while confirmed, paid, never transferred,
// past its scheduled instant, and routed to an operator that can actually
// receive payouts.
func FindDueTransfers(tx *gorm.DB, now time.Time) ([]uint, error) {
	var ids []uint
	err := tx.Model(&models.Booking{}).
		Joins("JOIN tours ON tours.id = bookings.tour_id").
		Joins("JOIN operators ON operators.id = tours.operator_id").
		Where("bookings.status = ? AND bookings.payment_status = ?", types.BOOKING_CONFIRMED, types.PAYMENT_PAID).
		Where("bookings.transfer_id IS NULL").
		Where("bookings.transfer_scheduled_for IS NOT NULL AND bookings.transfer_scheduled_for <= ?", now).
		Where("operators.stripe_account_id IS NOT NULL AND operators.stripe_account_id <> '' AND operators.payouts_enabled = ?", true).
		Order("bookings.transfer_scheduled_for asc").
		Pluck("bookings.id", &ids).Error
	return ids, err
}

// SweepReport summarizes one sweep run.
type SweepReport struct {
	Due         int `json:"due"`
	Transferred int `json:"transferred"`
	Skipped     int `json:"skipped"`
	Failed      int `json:"failed"`
}

// RunTransferSweep executes every due transfer at most once. Each booking
// is claimed with a conditional update before any external call, so a
// concurrent sweep (cron against the sweep endpoint) skips rather than
// double-pays. Failures mark the booking for reconciliation and leave the
// rest of the batch alone.
func RunTransferSweep(ctx context.Context, now time.Time) (*SweepReport, error) {
	conn := db.GetDb()
	ids, err := FindDueTransfers(conn, now)
	if err != nil {
		return nil, err
	}
	report := &SweepReport{Due: len(ids)}
	for _, id := range ids {
		claimed, err := claimTransfer(conn, id)
		if err != nil {
			log.Printf("could not claim transfer for booking %d: %s\n", id, err.Error())
			report.Failed++
			continue
		}
		if !claimed {
			report.Skipped++
			continue
		}
		if err := executeTransfer(ctx, conn, id); err != nil {
			log.Printf("transfer for booking %d failed: %s\n", id, err.Error())
			report.Failed++
			continue
		}
		report.Transferred++
	}
	return report, nil
}

// claimTransfer flips the booking into processing, but only if no
// transfer exists yet. Zero rows affected means someone else holds or
// finished the claim.
func claimTransfer(conn *gorm.DB, bookingId uint) (bool, error) {
	res := conn.Model(&models.Booking{}).
		Where("id = ? AND transfer_id IS NULL AND transfer_status = ?", bookingId, types.TRANSFER_PENDING).
		Update("transfer_status", types.TRANSFER_PROCESSING)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func executeTransfer(ctx context.Context, conn *gorm.DB, bookingId uint) error {
	var booking models.Booking
	if err := conn.Preload("Tour.Operator").First(&booking, bookingId).Error; err != nil {
		return err
	}
	var operator *models.Operator
	if booking.Tour != nil {
		operator = booking.Tour.Operator
	}
	if operator == nil || !operator.HasValidPayoutDestination() {
		// Eligibility changed between listing and claiming; release the
		// claim so a later sweep can retry once the operator is fixed up.
		return releaseClaim(conn, bookingId, fmt.Errorf("operator for booking %d has no payout destination", bookingId))
	}

	payments := lib.GetPaymentsAPI()
	ref := fmt.Sprintf("booking_%d", booking.ID)
	transferId, err := payments.CreateTransfer(ctx, *operator.StripeAccountID, lib.ToMinorUnits(booking.TotalAmount), booking.Currency, ref)
	if err != nil {
		// The call may have ended ambiguously on the wire, so never retry
		// blindly: flag for reconciliation and let a human or the
		// reconciler decide.
		if dbErr := conn.Model(&models.Booking{}).Where("id = ?", bookingId).Updates(map[string]any{
			"transfer_status":      types.TRANSFER_FAILED,
			"needs_reconciliation": true,
		}).Error; dbErr != nil {
			log.Printf("could not flag booking %d for reconciliation: %s\n", bookingId, dbErr.Error())
		}
		return err
	}

	res := conn.Model(&models.Booking{}).
		Where("id = ? AND transfer_id IS NULL", bookingId).
		Updates(map[string]any{
			"transfer_id":     transferId,
			"transfer_status": types.TRANSFER_COMPLETED,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Money moved but the row already carries a transfer id. This is
		// the invariant the claim exists to protect; surface it loudly.
		log.Printf("integrity: booking %d already had a transfer recorded after executing %s\n", bookingId, transferId)
		return fmt.Errorf("booking %d double transfer detected: %s", bookingId, transferId)
	}
	log.Printf("transferred %s %s to operator account for booking %d (%s)\n",
		fmt.Sprintf("%.2f", booking.TotalAmount), booking.Currency, booking.ID, transferId)
	return nil
}

func releaseClaim(conn *gorm.DB, bookingId uint, cause error) error {
	if err := conn.Model(&models.Booking{}).
		Where("id = ? AND transfer_status = ?", bookingId, types.TRANSFER_PROCESSING).
		Update("transfer_status", types.TRANSFER_PENDING).Error; err != nil {
		return err
	}
	return cause
}
