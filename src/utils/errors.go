package utils

import "errors"

// Validation and conflict outcomes returned to handlers. Capacity
// conflicts are distinct from plain validation failures so the caller can
// offer "pick another time" instead of a generic error.
var (
	ErrInvalidParticipants  = errors.New("participant count must be at least 1")
	ErrInsufficientCapacity = errors.New("not enough spots left on this time slot")
	ErrSlotClosed           = errors.New("time slot is cancelled and does not accept reservations")
	ErrBelowCurrentBookings = errors.New("capacity cannot be set below the current number of booked spots")
	ErrTerminalState        = errors.New("booking is in a terminal state")
	ErrNotAwaitingPayment   = errors.New("booking is not awaiting payment")
	ErrNotCancellable       = errors.New("booking can no longer be cancelled")
	ErrNotCheckedInEligible = errors.New("only confirmed and paid bookings can be checked in")
	ErrAlreadyCheckedIn     = errors.New("booking has already been checked in")
	ErrNotTourOwner         = errors.New("not enough permissions to perform this action")
	ErrRefundInProgress     = errors.New("a refund for this booking is already being processed")
)
