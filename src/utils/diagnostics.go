package utils

import (
	"fmt"
	"time"

	"tbs/src/db"
	"tbs/src/models"
	"tbs/src/types"
)

// TransferDiagnostic explains, clause by clause, why a booking's
// settlement transfer has or has not fired. Operators read these instead
// of filing "where is my payout" tickets.
type TransferDiagnostic struct {
	BookingID    uint       `json:"booking_id"`
	Eligible     bool       `json:"eligible"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
	Reasons      []string   `json:"reasons,omitempty"`
}

// DiagnoseTransfer evaluates every eligibility clause independently so a
// single report lists everything that is wrong, not just the first thing.
func DiagnoseTransfer(booking *models.Booking, operator *models.Operator, now time.Time) TransferDiagnostic {
	d := TransferDiagnostic{BookingID: booking.ID, ScheduledFor: booking.TransferScheduledFor}

	if booking.TransferExecuted() {
		d.Reasons = append(d.Reasons, fmt.Sprintf("transfer %s already executed", *booking.TransferID))
		return d
	}
	if booking.Status != types.BOOKING_CONFIRMED && booking.Status != types.BOOKING_COMPLETED {
		d.Reasons = append(d.Reasons, fmt.Sprintf("booking status is %s, transfers only settle confirmed or completed bookings", booking.Status))
	}
	if booking.Payment != types.PAYMENT_PAID {
		d.Reasons = append(d.Reasons, fmt.Sprintf("payment status is %s, not paid", booking.Payment))
	}
	if booking.TransferScheduledFor == nil {
		d.Reasons = append(d.Reasons, "no settlement time has been scheduled")
	} else if booking.TransferScheduledFor.After(now) {
		wait := booking.TransferScheduledFor.Sub(now).Round(time.Minute)
		d.Reasons = append(d.Reasons, fmt.Sprintf("settlement is scheduled in %s", wait))
	}
	if booking.TransferStatus == types.TRANSFER_PROCESSING {
		d.Reasons = append(d.Reasons, "a transfer attempt is currently in flight")
	}
	if booking.NeedsReconciliation {
		d.Reasons = append(d.Reasons, "a previous money movement ended ambiguously and awaits reconciliation")
	}
	if operator == nil {
		d.Reasons = append(d.Reasons, "booking is not linked to an operator")
	} else if !operator.HasValidPayoutDestination() {
		if operator.StripeAccountID == nil || *operator.StripeAccountID == "" {
			d.Reasons = append(d.Reasons, "operator has not connected a payout account")
		} else {
			d.Reasons = append(d.Reasons, "operator's payout account is not enabled for payouts")
		}
	}

	d.Eligible = len(d.Reasons) == 0
	return d
}

// PendingTransferReport diagnoses every unsettled booking of an operator.
func PendingTransferReport(operatorId uint, now time.Time) ([]TransferDiagnostic, error) {
	conn := db.GetDb()
	var operator models.Operator
	if err := conn.First(&operator, operatorId).Error; err != nil {
		return nil, err
	}
	var bookings []models.Booking
	// Scoped by transfer state only: unpaid or otherwise ineligible
	// bookings show up with their failing clauses spelled out rather
	// than being filtered away.
	err := conn.
		Joins("JOIN tours ON tours.id = bookings.tour_id").
		Where("tours.operator_id = ?", operatorId).
		Where("bookings.transfer_id IS NULL").
		Find(&bookings).Error
	if err != nil {
		return nil, err
	}
	report := make([]TransferDiagnostic, 0, len(bookings))
	for i := range bookings {
		report = append(report, DiagnoseTransfer(&bookings[i], &operator, now))
	}
	return report, nil
}
