package utils

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"tbs/src/db"
	"tbs/src/lib"
	"tbs/src/models"
	"tbs/src/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakePayments struct {
	checkouts     int
	transfers     int
	refunds       int
	reversals     int
	failCheckout  bool
	failTransfer  bool
	failRefund    bool
	failReversal  bool
	lastCheckout  lib.CheckoutInput
}

func (f *fakePayments) CreateCheckout(ctx context.Context, in lib.CheckoutInput) (string, string, error) {
	if f.failCheckout {
		return "", "", errors.New("checkout declined")
	}
	f.checkouts++
	f.lastCheckout = in
	return fmt.Sprintf("cs_%d", f.checkouts), fmt.Sprintf("https://checkout.example/cs_%d", f.checkouts), nil
}

func (f *fakePayments) CreateRefund(ctx context.Context, paymentIntentId string, amountMinor int64, reason string) (string, error) {
	if f.failRefund {
		return "", errors.New("refund declined")
	}
	f.refunds++
	return fmt.Sprintf("re_%d", f.refunds), nil
}

func (f *fakePayments) CreateTransfer(ctx context.Context, destinationAccountId string, amountMinor int64, currency string, bookingRef string) (string, error) {
	if f.failTransfer {
		return "", errors.New("transfer declined")
	}
	f.transfers++
	return fmt.Sprintf("tr_%d", f.transfers), nil
}

func (f *fakePayments) ReverseTransfer(ctx context.Context, transferId string, amountMinor int64) (string, error) {
	if f.failReversal {
		return "", errors.New("reversal declined")
	}
	f.reversals++
	return fmt.Sprintf("trr_%d", f.reversals), nil
}

type settledFixture struct {
	conn     *gorm.DB
	operator *models.Operator
	tour     *models.Tour
	slot     *models.TimeSlot
}

func newFixture(t *testing.T) *settledFixture {
	t.Helper()
	conn := newTestDB(t)
	db.NewDB(conn)
	publishEvent = func(payload types.BookingEventPayload) {}

	acct := "acct_test"
	operator := models.Operator{Name: "Ridge Tours", Slug: "ridge-tours", StripeAccountID: &acct, PayoutsEnabled: true}
	require.NoError(t, conn.Create(&operator).Error)
	tour := models.Tour{Title: "Ridge Hike", Price: 80, Currency: "usd", CancellationPolicy: "flexible", Status: types.TOUR_PUBLISHED, OperatorID: operator.ID}
	require.NoError(t, conn.Create(&tour).Error)
	slot := models.TimeSlot{TourID: tour.ID, StartTime: time.Now().Add(-time.Hour).UTC(), EndTime: time.Now().Add(time.Hour).UTC(), AvailableSpots: 10, BookedSpots: 2, Status: types.TIMESLOT_AVAILABLE}
	require.NoError(t, conn.Create(&slot).Error)
	return &settledFixture{conn: conn, operator: &operator, tour: &tour, slot: &slot}
}

func (f *settledFixture) paidBooking(t *testing.T, scheduledFor time.Time) *models.Booking {
	t.Helper()
	pi := fmt.Sprintf("pi_%d", time.Now().UnixNano())
	booking := models.Booking{
		TimeSlotID:           f.slot.ID,
		TourID:               f.tour.ID,
		UserID:               1,
		Participants:         2,
		TotalAmount:          160,
		Currency:             "usd",
		Status:               types.BOOKING_CONFIRMED,
		Payment:              types.PAYMENT_PAID,
		PaymentIntentId:      &pi,
		TransferStatus:       types.TRANSFER_PENDING,
		TransferScheduledFor: &scheduledFor,
	}
	require.NoError(t, f.conn.Create(&booking).Error)
	return &booking
}

func TestFindDueTransfers(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()

	due := f.paidBooking(t, now.Add(-time.Minute))
	f.paidBooking(t, now.Add(time.Hour)) // not yet due

	ids, err := FindDueTransfers(f.conn, now)
	require.NoError(t, err)
	assert.Equal(t, []uint{due.ID}, ids)

	t.Run("disabled payouts exclude the operator's bookings", func(t *testing.T) {
		require.NoError(t, f.conn.Model(f.operator).Update("payouts_enabled", false).Error)
		ids, err := FindDueTransfers(f.conn, now)
		require.NoError(t, err)
		assert.Empty(t, ids)
		require.NoError(t, f.conn.Model(f.operator).Update("payouts_enabled", true).Error)
	})
}

func TestRunTransferSweep(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()

	t.Run("executes each due transfer exactly once", func(t *testing.T) {
		payments := &fakePayments{}
		lib.NewPaymentsAPI(payments)

		booking := f.paidBooking(t, now.Add(-time.Minute))
		report, err := RunTransferSweep(context.Background(), now)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Transferred)
		assert.Equal(t, 1, payments.transfers)

		var got models.Booking
		require.NoError(t, f.conn.First(&got, booking.ID).Error)
		require.NotNil(t, got.TransferID)
		assert.Equal(t, "tr_1", *got.TransferID)
		assert.Equal(t, types.TRANSFER_COMPLETED, got.TransferStatus)

		// A second sweep finds nothing left to do.
		report, err = RunTransferSweep(context.Background(), now)
		require.NoError(t, err)
		assert.Equal(t, 0, report.Due)
		assert.Equal(t, 1, payments.transfers)
	})

	t.Run("failed transfer flags the booking for reconciliation", func(t *testing.T) {
		payments := &fakePayments{failTransfer: true}
		lib.NewPaymentsAPI(payments)

		booking := f.paidBooking(t, now.Add(-time.Minute))
		report, err := RunTransferSweep(context.Background(), now)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Failed)

		var got models.Booking
		require.NoError(t, f.conn.First(&got, booking.ID).Error)
		assert.Nil(t, got.TransferID)
		assert.Equal(t, types.TRANSFER_FAILED, got.TransferStatus)
		assert.True(t, got.NeedsReconciliation)
	})
}

func TestProcessRefund(t *testing.T) {
	ctx := context.Background()
	pi := "pi_123"

	t.Run("platform refund before settlement", func(t *testing.T) {
		payments := &fakePayments{}
		lib.NewPaymentsAPI(payments)

		booking := &models.Booking{ID: 1, PaymentIntentId: &pi, TotalAmount: 100}
		res := ProcessRefund(ctx, booking, 50, "test")
		require.True(t, res.Success)
		assert.Equal(t, types.REFUND_METHOD_PLATFORM, res.Method)
		assert.NotNil(t, res.RefundID)
		assert.Nil(t, res.TransferReversalID)
		assert.Equal(t, 0, payments.reversals)
	})

	t.Run("reversal precedes the refund after settlement", func(t *testing.T) {
		payments := &fakePayments{}
		lib.NewPaymentsAPI(payments)

		tr := "tr_9"
		booking := &models.Booking{ID: 2, PaymentIntentId: &pi, TotalAmount: 100, TransferID: &tr, TransferStatus: types.TRANSFER_COMPLETED}
		res := ProcessRefund(ctx, booking, 100, "test")
		require.True(t, res.Success)
		assert.Equal(t, types.REFUND_METHOD_REVERSAL, res.Method)
		assert.Equal(t, 1, payments.reversals)
		assert.Equal(t, 1, payments.refunds)
		require.NotNil(t, res.TransferReversalID)
	})

	t.Run("reversal failure issues no refund", func(t *testing.T) {
		payments := &fakePayments{failReversal: true}
		lib.NewPaymentsAPI(payments)

		tr := "tr_9"
		booking := &models.Booking{ID: 3, PaymentIntentId: &pi, TotalAmount: 100, TransferID: &tr, TransferStatus: types.TRANSFER_COMPLETED}
		res := ProcessRefund(ctx, booking, 100, "test")
		assert.False(t, res.Success)
		assert.False(t, res.NeedsRetry)
		assert.Equal(t, 0, payments.refunds)
	})

	t.Run("refund failure after a successful reversal needs retry", func(t *testing.T) {
		payments := &fakePayments{failRefund: true}
		lib.NewPaymentsAPI(payments)

		tr := "tr_9"
		booking := &models.Booking{ID: 4, PaymentIntentId: &pi, TotalAmount: 100, TransferID: &tr, TransferStatus: types.TRANSFER_COMPLETED}
		res := ProcessRefund(ctx, booking, 100, "test")
		assert.False(t, res.Success)
		assert.True(t, res.NeedsRetry)
		require.NotNil(t, res.TransferReversalID)
	})

	t.Run("already refunded bookings short-circuit", func(t *testing.T) {
		payments := &fakePayments{}
		lib.NewPaymentsAPI(payments)

		re := "re_done"
		booking := &models.Booking{ID: 5, PaymentIntentId: &pi, RefundID: &re}
		res := ProcessRefund(ctx, booking, 100, "test")
		require.True(t, res.Success)
		assert.Equal(t, &re, res.RefundID)
		assert.Equal(t, 0, payments.refunds)
	})
}

func TestCancelBooking(t *testing.T) {
	f := newFixture(t)

	t.Run("operator cancellation of a settled booking reverses then refunds", func(t *testing.T) {
		payments := &fakePayments{}
		lib.NewPaymentsAPI(payments)

		booking := f.paidBooking(t, time.Now().UTC())
		tr := "tr_settled"
		require.NoError(t, f.conn.Model(booking).Updates(map[string]any{
			"transfer_id":     tr,
			"transfer_status": types.TRANSFER_COMPLETED,
		}).Error)

		outcome, err := CancelBooking(context.Background(), booking.ID, types.CANCELLED_BY_OPERATOR)
		require.NoError(t, err)
		assert.True(t, outcome.Quote.IsRefundable)
		assert.Equal(t, 160.0, outcome.Quote.RefundAmount)
		assert.Equal(t, 1, payments.reversals)
		assert.Equal(t, 1, payments.refunds)

		var got models.Booking
		require.NoError(t, f.conn.First(&got, booking.ID).Error)
		assert.Equal(t, types.BOOKING_CANCELLED, got.Status)
		assert.Equal(t, types.PAYMENT_REFUNDED, got.Payment)
		assert.NotNil(t, got.RefundID)
		assert.NotNil(t, got.TransferReversalID)
		assert.Equal(t, 160.0, got.RefundedAmount)
	})

	t.Run("customer cancellation after the window keeps the payment", func(t *testing.T) {
		payments := &fakePayments{}
		lib.NewPaymentsAPI(payments)

		// Slot starting tomorrow: inside flexible's no-refund window.
		slot := models.TimeSlot{TourID: f.tour.ID, StartTime: time.Now().Add(20 * time.Hour).UTC(), EndTime: time.Now().Add(22 * time.Hour).UTC(), AvailableSpots: 10, BookedSpots: 2, Status: types.TIMESLOT_AVAILABLE}
		require.NoError(t, f.conn.Create(&slot).Error)
		pi := "pi_late"
		booking := models.Booking{TimeSlotID: slot.ID, TourID: f.tour.ID, UserID: 1, Participants: 2, TotalAmount: 160, Status: types.BOOKING_CONFIRMED, Payment: types.PAYMENT_PAID, PaymentIntentId: &pi}
		require.NoError(t, f.conn.Create(&booking).Error)

		outcome, err := CancelBooking(context.Background(), booking.ID, types.CANCELLED_BY_CUSTOMER)
		require.NoError(t, err)
		assert.False(t, outcome.Quote.IsRefundable)
		assert.Equal(t, 0, payments.refunds)

		var got models.Booking
		require.NoError(t, f.conn.First(&got, booking.ID).Error)
		assert.Equal(t, types.BOOKING_CANCELLED, got.Status)
		assert.Equal(t, types.PAYMENT_PAID, got.Payment)

		var gotSlot models.TimeSlot
		require.NoError(t, f.conn.First(&gotSlot, slot.ID).Error)
		assert.Equal(t, uint(0), gotSlot.BookedSpots)
	})

	t.Run("refund failure does not block the cancellation", func(t *testing.T) {
		payments := &fakePayments{failRefund: true}
		lib.NewPaymentsAPI(payments)

		slot := models.TimeSlot{TourID: f.tour.ID, StartTime: time.Now().Add(400 * time.Hour).UTC(), EndTime: time.Now().Add(402 * time.Hour).UTC(), AvailableSpots: 10, BookedSpots: 1, Status: types.TIMESLOT_AVAILABLE}
		require.NoError(t, f.conn.Create(&slot).Error)
		pi := "pi_stuck"
		booking := models.Booking{TimeSlotID: slot.ID, TourID: f.tour.ID, UserID: 1, Participants: 1, TotalAmount: 80, Status: types.BOOKING_CONFIRMED, Payment: types.PAYMENT_PAID, PaymentIntentId: &pi}
		require.NoError(t, f.conn.Create(&booking).Error)

		outcome, err := CancelBooking(context.Background(), booking.ID, types.CANCELLED_BY_CUSTOMER)
		require.NoError(t, err)
		require.NotNil(t, outcome.Refund)
		assert.False(t, outcome.Refund.Success)

		var got models.Booking
		require.NoError(t, f.conn.First(&got, booking.ID).Error)
		assert.Equal(t, types.BOOKING_CANCELLED, got.Status)
		assert.Equal(t, types.PAYMENT_PAID, got.Payment)
		assert.True(t, got.NeedsReconciliation)
	})

	t.Run("cancelled bookings cannot be cancelled twice", func(t *testing.T) {
		booking := f.paidBooking(t, time.Now().UTC())
		require.NoError(t, f.conn.Model(booking).Update("status", types.BOOKING_CANCELLED).Error)

		_, err := CancelBooking(context.Background(), booking.ID, types.CANCELLED_BY_OPERATOR)
		assert.ErrorIs(t, err, ErrNotCancellable)
	})
}

func TestDiagnoseTransfer(t *testing.T) {
	now := time.Now().UTC()
	acct := "acct_ok"
	operator := &models.Operator{ID: 1, StripeAccountID: &acct, PayoutsEnabled: true}
	past := now.Add(-time.Minute)

	t.Run("eligible booking has no reasons", func(t *testing.T) {
		booking := &models.Booking{ID: 1, Status: types.BOOKING_CONFIRMED, Payment: types.PAYMENT_PAID, TransferStatus: types.TRANSFER_PENDING, TransferScheduledFor: &past}
		d := DiagnoseTransfer(booking, operator, now)
		assert.True(t, d.Eligible)
		assert.Empty(t, d.Reasons)
	})

	t.Run("every failing clause is reported", func(t *testing.T) {
		booking := &models.Booking{ID: 2, Status: types.BOOKING_PENDING, Payment: types.PAYMENT_PENDING}
		d := DiagnoseTransfer(booking, &models.Operator{ID: 2}, now)
		assert.False(t, d.Eligible)
		assert.Len(t, d.Reasons, 4)
	})

	t.Run("future schedule reports the wait", func(t *testing.T) {
		future := now.Add(2 * time.Hour)
		booking := &models.Booking{ID: 3, Status: types.BOOKING_CONFIRMED, Payment: types.PAYMENT_PAID, TransferScheduledFor: &future}
		d := DiagnoseTransfer(booking, operator, now)
		assert.False(t, d.Eligible)
		require.Len(t, d.Reasons, 1)
		assert.Contains(t, d.Reasons[0], "scheduled in")
	})

	t.Run("executed transfers are called out", func(t *testing.T) {
		tr := "tr_done"
		booking := &models.Booking{ID: 4, Status: types.BOOKING_CONFIRMED, Payment: types.PAYMENT_PAID, TransferID: &tr, TransferStatus: types.TRANSFER_COMPLETED}
		d := DiagnoseTransfer(booking, operator, now)
		assert.False(t, d.Eligible)
		require.Len(t, d.Reasons, 1)
		assert.Contains(t, d.Reasons[0], "already executed")
	})
}
