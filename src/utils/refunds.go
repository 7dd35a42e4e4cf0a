package utils

import (
	"fmt"
	"math"
	"time"

	"tbs/src/types"
)

// RefundQuote is the outcome of evaluating a cancellation policy at a
// point in time. The same inputs always produce the same quote, which is
// what lets the preview endpoint and the actual cancellation agree.
type RefundQuote struct {
	IsRefundable       bool    `json:"isRefundable"`
	RefundPercentage   uint    `json:"refundPercentage"`
	RefundAmount       float64 `json:"refundAmount"`
	Rule               string  `json:"rule"`
	TimeUntilTourHours float64 `json:"timeUntilTourHours"`
}

type policyRule struct {
	MinHours float64
	Percent  uint
	Label    string
}

// Rules are ordered most-generous first; the first rule whose window
// still holds wins. Anything past the last window refunds nothing.
var cancellationPolicies = map[string][]policyRule{
	"flexible": {
		{MinHours: 168, Percent: 100, Label: "full refund until 7 days before start"},
		{MinHours: 24, Percent: 50, Label: "half refund until 24 hours before start"},
	},
	"moderate": {
		{MinHours: 336, Percent: 100, Label: "full refund until 14 days before start"},
		{MinHours: 120, Percent: 50, Label: "half refund until 5 days before start"},
	},
	"strict": {
		{MinHours: 720, Percent: 100, Label: "full refund until 30 days before start"},
		{MinHours: 336, Percent: 50, Label: "half refund until 14 days before start"},
	},
}

// KnownCancellationPolicy reports whether policyId names a supported
// refund schedule.
func KnownCancellationPolicy(policyId string) bool {
	_, ok := cancellationPolicies[policyId]
	return ok
}

// CanCancel gates a cancellation request. Terminal bookings are never
// cancellable. Customers lose the right to cancel once the tour has
// started; operators may still cancel after start, which is how goodwill
// refunds for already-settled bookings happen.
func CanCancel(status types.BookingStatus, startTime time.Time, by types.CancelParty, now time.Time) (bool, string) {
	switch status {
	case types.BOOKING_CANCELLED:
		return false, "booking is already cancelled"
	case types.BOOKING_COMPLETED:
		return false, "booking is already completed"
	}
	if by == types.CANCELLED_BY_CUSTOMER && !now.Before(startTime) {
		return false, "tour has already started"
	}
	return true, ""
}

// CalculateRefund resolves the refund owed for a cancellation happening
// at now. Operator cancellations always refund in full regardless of
// policy; customer cancellations walk the policy schedule.
func CalculateRefund(amount float64, startTime time.Time, policyId string, by types.CancelParty, now time.Time) RefundQuote {
	hoursUntil := startTime.Sub(now).Hours()
	if hoursUntil < 0 {
		hoursUntil = 0
	}
	quote := RefundQuote{TimeUntilTourHours: roundMoney(hoursUntil)}

	if by == types.CANCELLED_BY_OPERATOR {
		quote.IsRefundable = true
		quote.RefundPercentage = 100
		quote.RefundAmount = roundMoney(amount)
		quote.Rule = "operator cancellation refunds in full"
		return quote
	}

	rules, ok := cancellationPolicies[policyId]
	if !ok {
		// Unknown policies fall back to the strictest behaviour rather
		// than accidentally refunding everyone.
		quote.Rule = fmt.Sprintf("unknown policy %q: no refund", policyId)
		return quote
	}
	for _, rule := range rules {
		if hoursUntil >= rule.MinHours {
			quote.IsRefundable = rule.Percent > 0
			quote.RefundPercentage = rule.Percent
			quote.RefundAmount = roundMoney(amount * float64(rule.Percent) / 100)
			quote.Rule = rule.Label
			return quote
		}
	}
	quote.Rule = "cancellation window has closed: no refund"
	return quote
}

func roundMoney(amount float64) float64 {
	return math.Round(amount*100) / 100
}
