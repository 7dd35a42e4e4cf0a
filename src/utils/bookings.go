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

// CreateBooking reserves capacity and records a pending booking in one
// transaction. The amount is snapshotted from the tour at booking time so
// later price edits never change what an existing booking settles for.
func CreateBooking(userId uint, body *types.CreateBookingRequestBody) (*models.Booking, error) {
	conn := db.GetDb()
	var booking models.Booking
	err := conn.Transaction(func(tx *gorm.DB) error {
		var slot models.TimeSlot
		if err := tx.Preload("Tour").First(&slot, body.TimeSlotID).Error; err != nil {
			return err
		}
		if !time.Now().UTC().Before(slot.StartTime) {
			return fmt.Errorf("time slot %d has already started", slot.ID)
		}
		if err := ReserveSlot(tx, slot.ID, body.Participants); err != nil {
			return err
		}
		booking = models.Booking{
			TimeSlotID:   slot.ID,
			TourID:       slot.TourID,
			UserID:       userId,
			Participants: body.Participants,
			TotalAmount:  roundMoney(slot.Tour.TotalAmount(body.Participants)),
			Currency:     slot.Tour.Currency,
			Status:       types.BOOKING_PENDING,
			Payment:      types.PAYMENT_PENDING,
		}
		return tx.Create(&booking).Error
	})
	if err != nil {
		return nil, err
	}
	publishEvent(types.BookingEventPayload{Event: "booking.pending", BookingID: booking.ID, Status: string(booking.Status), CustomerID: userId})
	return &booking, nil
}

// StartBookingPayment opens a hosted checkout for a pending booking and
// records the session on it. The booking id rides on the payment
// intent's metadata, which is the contract the Stripe webhook relies on
// to route payment_intent events back to the booking. The caller must
// have preloaded Tour.
func StartBookingPayment(ctx context.Context, booking *models.Booking) (string, error) {
	if booking.Status != types.BOOKING_PENDING || booking.Payment != types.PAYMENT_PENDING {
		return "", ErrNotAwaitingPayment
	}
	if booking.Tour == nil {
		return "", fmt.Errorf("booking %d is missing its tour", booking.ID)
	}

	payments := lib.GetPaymentsAPI()
	sessionId, url, err := payments.CreateCheckout(ctx, lib.CheckoutInput{
		BookingID:   booking.ID,
		Description: fmt.Sprintf("%s x%d", booking.Tour.Title, booking.Participants),
		AmountMinor: lib.ToMinorUnits(booking.TotalAmount),
		Currency:    booking.Currency,
	})
	if err != nil {
		return "", err
	}

	conn := db.GetDb()
	if err := conn.Model(booking).Update("checkout_session_id", sessionId).Error; err != nil {
		log.Printf("could not record checkout session %s on booking %d: %s\n", sessionId, booking.ID, err.Error())
	}
	return url, nil
}

// ConfirmBooking moves a booking to confirmed/paid and fixes its
// settlement schedule, all in the same transaction. Re-delivery of the
// same payment confirmation is a no-op.
func ConfirmBooking(bookingId uint, paymentIntentId string) error {
	conn := db.GetDb()
	var booking models.Booking
	err := conn.Transaction(func(tx *gorm.DB) error {
		if err := tx.Preload("TimeSlot").First(&booking, bookingId).Error; err != nil {
			return err
		}
		if booking.Status == types.BOOKING_CONFIRMED && booking.PaymentIntentId != nil && *booking.PaymentIntentId == paymentIntentId {
			return nil
		}
		if booking.Status != types.BOOKING_PENDING {
			return ErrTerminalState
		}
		if booking.TimeSlot == nil {
			return fmt.Errorf("booking %d has no time slot", booking.ID)
		}
		runsAt := TransferScheduleFor(booking.TimeSlot)
		// Conditional on the status read above so a concurrent
		// cancellation cannot interleave into confirmed-on-cancelled.
		res := tx.Model(&models.Booking{}).
			Where("id = ? AND status = ?", booking.ID, types.BOOKING_PENDING).
			Updates(map[string]any{
				"status":                 types.BOOKING_CONFIRMED,
				"payment_status":         types.PAYMENT_PAID,
				"payment_intent_id":      paymentIntentId,
				"transfer_status":        types.TRANSFER_PENDING,
				"transfer_scheduled_for": runsAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrTerminalState
		}
		booking.Status = types.BOOKING_CONFIRMED
		return nil
	})
	if err != nil {
		return err
	}

	publishEvent(types.BookingEventPayload{Event: "booking.confirmed", BookingID: booking.ID, Status: string(types.BOOKING_CONFIRMED), CustomerID: booking.UserID})
	if booking.TimeSlot != nil {
		scheduleTransferWakeup(&booking)
	}
	return nil
}

// scheduleTransferWakeup registers a one-time job at the slot's start so
// the transfer is attempted promptly. The periodic sweep catches anything
// the wake-up misses, so a scheduling failure is only logged.
func scheduleTransferWakeup(booking *models.Booking) {
	runsAt := TransferScheduleFor(booking.TimeSlot)
	vars := map[string]string{
		"name":     fmt.Sprintf("booking_%d_transfer", booking.ID),
		"queue":    WithSuffix("TransfersDue"),
		"clientId": "transfers_due_producer",
		"topic":    "transfers-due",
	}
	payload := types.JSONB{"booking_id": booking.ID, "scheduled_for": runsAt.Format(time.RFC3339)}
	if _, err := lib.NewScheduledJob(runsAt, vars, payload); err != nil {
		log.Printf("could not schedule transfer wake-up for booking %d: %s\n", booking.ID, err.Error())
	}
}

// FailBookingPayment cancels a pending booking whose payment failed and
// releases its spots.
func FailBookingPayment(bookingId uint) error {
	conn := db.GetDb()
	return conn.Transaction(func(tx *gorm.DB) error {
		var booking models.Booking
		if err := tx.First(&booking, bookingId).Error; err != nil {
			return err
		}
		if booking.Status != types.BOOKING_PENDING {
			return ErrTerminalState
		}
		// The conditional flip makes the capacity release happen at most
		// once even when the failure webhook is delivered twice.
		res := tx.Model(&models.Booking{}).
			Where("id = ? AND status = ?", booking.ID, types.BOOKING_PENDING).
			Updates(map[string]any{
				"status":         types.BOOKING_CANCELLED,
				"payment_status": types.PAYMENT_FAILED,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrTerminalState
		}
		return ReleaseSlot(tx, booking.TimeSlotID, booking.Participants)
	})
}

// CancellationOutcome is what a cancel request reports back: the applied
// quote plus what actually happened with the money.
type CancellationOutcome struct {
	Booking *models.Booking `json:"booking"`
	Quote   RefundQuote     `json:"quote"`
	Refund  *RefundResult   `json:"-"`
}

// CancelBooking runs the full cancellation flow: gate, quote, state flip
// and capacity release in one transaction, then money movement through
// the refund router, then a second transaction persisting the router's
// outcome. A refund failure never blocks the cancellation itself; the
// booking is flagged for reconciliation instead.
func CancelBooking(ctx context.Context, bookingId uint, by types.CancelParty) (*CancellationOutcome, error) {
	conn := db.GetDb()
	now := time.Now().UTC()

	var booking models.Booking
	var quote RefundQuote
	err := conn.Transaction(func(tx *gorm.DB) error {
		if err := tx.Preload("TimeSlot").Preload("Tour").First(&booking, bookingId).Error; err != nil {
			return err
		}
		if booking.TimeSlot == nil || booking.Tour == nil {
			return fmt.Errorf("booking %d is missing its slot or tour", booking.ID)
		}
		ok, reason := CanCancel(booking.Status, booking.TimeSlot.StartTime, by, now)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotCancellable, reason)
		}
		quote = CalculateRefund(booking.TotalAmount, booking.TimeSlot.StartTime, booking.Tour.CancellationPolicy, by, now)
		// Flip conditionally on the status just read; two concurrent
		// cancels would otherwise both pass the gate and release the
		// slot's spots twice.
		res := tx.Model(&models.Booking{}).
			Where("id = ? AND status = ?", booking.ID, booking.Status).
			Updates(map[string]any{
				"status":       types.BOOKING_CANCELLED,
				"cancelled_by": by,
				"cancelled_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: booking state changed concurrently", ErrNotCancellable)
		}
		booking.Status = types.BOOKING_CANCELLED
		booking.CancelledAt = &now
		cancelledBy := by
		booking.CancelledBy = &cancelledBy
		return ReleaseSlot(tx, booking.TimeSlotID, booking.Participants)
	})
	if err != nil {
		return nil, err
	}

	outcome := &CancellationOutcome{Booking: &booking, Quote: quote}
	publishEvent(types.BookingEventPayload{Event: "booking.cancelled", BookingID: booking.ID, Status: string(types.BOOKING_CANCELLED), CustomerID: booking.UserID, RefundAmount: quote.RefundAmount})

	if booking.Payment != types.PAYMENT_PAID || !quote.IsRefundable {
		return outcome, nil
	}

	reason := fmt.Sprintf("booking %d cancelled by %s", booking.ID, by)
	res := ProcessRefund(ctx, &booking, quote.RefundAmount, reason)
	outcome.Refund = &res

	persist := map[string]any{}
	if res.TransferReversalID != nil {
		persist["transfer_reversal_id"] = *res.TransferReversalID
	}
	if res.Success {
		persist["payment_status"] = types.PAYMENT_REFUNDED
		persist["refund_id"] = *res.RefundID
		persist["refunded_amount"] = quote.RefundAmount
	} else {
		log.Printf("refund for booking %d did not complete: %s\n", booking.ID, res.Err.Error())
		persist["needs_reconciliation"] = true
	}
	if err := conn.Model(&booking).Updates(persist).Error; err != nil {
		return outcome, err
	}
	if res.Success {
		publishEvent(types.BookingEventPayload{Event: "booking.refunded", BookingID: booking.ID, Status: string(types.BOOKING_CANCELLED), CustomerID: booking.UserID, RefundAmount: quote.RefundAmount})
	}
	return outcome, nil
}

// CompleteBooking marks a confirmed booking completed after the tour ran.
// Only the operator owning the tour may complete it.
func CompleteBooking(bookingId uint, operatorId uint) error {
	conn := db.GetDb()
	return conn.Transaction(func(tx *gorm.DB) error {
		booking, err := bookingForOperator(tx, bookingId, operatorId)
		if err != nil {
			return err
		}
		if booking.Status != types.BOOKING_CONFIRMED {
			return ErrTerminalState
		}
		res := tx.Model(&models.Booking{}).
			Where("id = ? AND status = ?", booking.ID, types.BOOKING_CONFIRMED).
			Update("status", types.BOOKING_COMPLETED)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrTerminalState
		}
		return nil
	})
}

// CheckInBooking records arrival. Attendance is its own axis: checking in
// never changes booking or payment status.
func CheckInBooking(bookingId uint, operatorId uint) error {
	conn := db.GetDb()
	return conn.Transaction(func(tx *gorm.DB) error {
		booking, err := bookingForOperator(tx, bookingId, operatorId)
		if err != nil {
			return err
		}
		if booking.Status != types.BOOKING_CONFIRMED || booking.Payment != types.PAYMENT_PAID {
			return ErrNotCheckedInEligible
		}
		if booking.Attendance == types.ATTENDANCE_CHECKED_IN {
			return ErrAlreadyCheckedIn
		}
		return tx.Model(booking).Update("attendance_status", types.ATTENDANCE_CHECKED_IN).Error
	})
}

// MarkNoShow records that a confirmed customer never arrived. The booking
// keeps settling: a no-show is not a cancellation and moves no money.
func MarkNoShow(bookingId uint, operatorId uint) error {
	conn := db.GetDb()
	return conn.Transaction(func(tx *gorm.DB) error {
		booking, err := bookingForOperator(tx, bookingId, operatorId)
		if err != nil {
			return err
		}
		if booking.Status != types.BOOKING_CONFIRMED || booking.Payment != types.PAYMENT_PAID {
			return ErrNotCheckedInEligible
		}
		if booking.Attendance == types.ATTENDANCE_CHECKED_IN {
			return ErrAlreadyCheckedIn
		}
		return tx.Model(booking).Update("attendance_status", types.ATTENDANCE_NO_SHOW).Error
	})
}

func bookingForOperator(tx *gorm.DB, bookingId uint, operatorId uint) (*models.Booking, error) {
	var booking models.Booking
	if err := tx.Preload("Tour").First(&booking, bookingId).Error; err != nil {
		return nil, err
	}
	if booking.Tour == nil || booking.Tour.OperatorID != operatorId {
		return nil, ErrNotTourOwner
	}
	return &booking, nil
}
