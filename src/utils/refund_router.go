package utils

import (
	"context"
	"fmt"
	"log"
	"time"

	"tbs/src/lib"
	"tbs/src/models"
	"tbs/src/types"
)

// RefundResult records what the router actually did against Stripe so the
// caller can persist the right state even on partial failure.
type RefundResult struct {
	Success            bool
	Method             types.RefundMethod
	RefundID           *string
	TransferReversalID *string
	// NeedsRetry marks the stranded case: funds were pulled back from the
	// operator but the customer refund did not go through. Retrying is
	// safe and required; re-reversing is not.
	NeedsRetry bool
	Err        error
}

// ProcessRefund routes a refund depending on where the money currently
// sits. Before settlement the platform still holds the charge and a plain
// refund suffices. After the transfer has executed the funds must first
// be reversed from the operator's connected account and only then
// refunded to the customer.
//
// The router only talks to Stripe and redis; persisting the outcome is
// the caller's job, inside its own transaction.
func ProcessRefund(ctx context.Context, booking *models.Booking, amount float64, reason string) RefundResult {
	if booking.RefundID != nil {
		// A refund was already issued for this booking. Report it as a
		// success instead of charging Stripe twice.
		method := types.REFUND_METHOD_PLATFORM
		if booking.TransferReversalID != nil {
			method = types.REFUND_METHOD_REVERSAL
		}
		return RefundResult{Success: true, Method: method, RefundID: booking.RefundID, TransferReversalID: booking.TransferReversalID}
	}
	if booking.PaymentIntentId == nil {
		return RefundResult{Err: fmt.Errorf("booking %d has no payment to refund", booking.ID)}
	}

	if rd := lib.GetRedisClient(); rd != nil {
		key := fmt.Sprintf("booking:%d:refund", booking.ID)
		ok, err := rd.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), 2*time.Minute).Result()
		if err != nil {
			log.Printf("redis unavailable for refund marker on booking %d: %s\n", booking.ID, err.Error())
		} else if !ok {
			return RefundResult{Err: ErrRefundInProgress}
		}
	}

	payments := lib.GetPaymentsAPI()

	if !booking.TransferExecuted() {
		refundId, err := payments.CreateRefund(ctx, *booking.PaymentIntentId, lib.ToMinorUnits(amount), reason)
		if err != nil {
			return RefundResult{Method: types.REFUND_METHOD_PLATFORM, Err: fmt.Errorf("platform refund failed: %w", err)}
		}
		return RefundResult{Success: true, Method: types.REFUND_METHOD_PLATFORM, RefundID: &refundId}
	}

	// Settled booking: claw the full transfer back first. If the reversal
	// itself fails nothing has moved and the whole operation can simply be
	// retried later.
	reversalId, err := payments.ReverseTransfer(ctx, *booking.TransferID, lib.ToMinorUnits(booking.TotalAmount))
	if err != nil {
		return RefundResult{Method: types.REFUND_METHOD_REVERSAL, Err: fmt.Errorf("transfer reversal failed: %w", err)}
	}
	refundId, err := payments.CreateRefund(ctx, *booking.PaymentIntentId, lib.ToMinorUnits(amount), reason)
	if err != nil {
		return RefundResult{
			Method:             types.REFUND_METHOD_REVERSAL,
			TransferReversalID: &reversalId,
			NeedsRetry:         true,
			Err:                fmt.Errorf("refund failed after reversal %s: %w", reversalId, err),
		}
	}
	return RefundResult{Success: true, Method: types.REFUND_METHOD_REVERSAL, RefundID: &refundId, TransferReversalID: &reversalId}
}
