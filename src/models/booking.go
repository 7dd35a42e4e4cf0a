package models

import (
	"time"

	"tbs/src/types"
)

// Booking ties one customer to one TimeSlot. Status, payment status,
// attendance and transfer state are independent axes (see types).
// TransferID is written at most once: it is set if and only if a transfer
// was actually executed against the payment collector.
type Booking struct {
	ID           uint                   `gorm:"primarykey" json:"id"`
	TimeSlotID   uint                   `json:"time_slot_id,omitempty"`
	TourID       uint                   `json:"tour_id,omitempty"`
	UserID       uint                   `json:"user_id,omitempty"`
	Participants uint                   `json:"participants,omitempty"`
	TotalAmount  float64                `json:"total_amount"`
	Currency     string                 `json:"currency,omitempty"`
	Status       types.BookingStatus    `gorm:"default:'pending'" json:"status,omitempty"`
	Payment      types.PaymentStatus    `gorm:"column:payment_status;default:'pending'" json:"payment_status,omitempty"`
	Attendance   types.AttendanceStatus `gorm:"column:attendance_status;default:'not_arrived'" json:"attendance_status,omitempty"`

	PaymentIntentId      *string              `json:"-"`
	CheckoutSessionId    *string              `json:"-"`
	RefundID             *string              `json:"refund_id,omitempty"`
	TransferID           *string              `json:"transfer_id,omitempty"`
	TransferStatus       types.TransferStatus `json:"transfer_status,omitempty"`
	TransferScheduledFor *time.Time           `json:"transfer_scheduled_for,omitempty"`
	TransferReversalID   *string              `json:"transfer_reversal_id,omitempty"`

	CancelledBy    *types.CancelParty `json:"cancelled_by,omitempty"`
	CancelledAt    *time.Time         `json:"cancelled_at,omitempty"`
	RefundedAmount float64            `json:"refunded_amount,omitempty"`

	// Set when an external money-moving call ended ambiguously or a
	// refund could not be issued; diagnostics surfaces these.
	NeedsReconciliation bool            `gorm:"default:false" json:"needs_reconciliation,omitempty"`
	Metadata            *types.Metadata `gorm:"type:jsonb" json:"metadata,omitempty"`

	TimeSlot *TimeSlot `gorm:"foreignKey:TimeSlotID" json:"time_slot,omitempty"`
	Tour     *Tour     `gorm:"foreignKey:TourID" json:"tour,omitempty"`
	User     *User     `gorm:"foreignKey:UserID" json:"user,omitempty"`

	types.Timestamps
}

func (b *Booking) IsTerminal() bool {
	return b.Status == types.BOOKING_CANCELLED || b.Status == types.BOOKING_COMPLETED
}

// TransferExecuted reports whether funds already moved to the operator.
// The refund router keys its decision off this.
func (b *Booking) TransferExecuted() bool {
	return b.TransferID != nil && b.TransferStatus == types.TRANSFER_COMPLETED
}
