package lib

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"

	"github.com/stripe/stripe-go/v82"
)

var stripeClient *stripe.Client

func GetStripeClient() *stripe.Client {
	if stripeClient != nil {
		return stripeClient
	}
	apiKey := os.Getenv("STRIPE_SECRET_KEY")
	sc := stripe.NewClient(apiKey)
	stripeClient = sc

	return sc
}

func NewStripeClient(c *stripe.Client) {
	stripeClient = c
}

// ToMinorUnits converts a decimal amount to the collector's integer
// minor-unit convention. Amounts stay decimal everywhere inside the core
// and cross this boundary exactly once.
func ToMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// CheckoutInput describes the hosted checkout opened for one booking.
// The booking id travels on the payment intent's metadata; the webhook
// reads it back to confirm or fail the booking.
type CheckoutInput struct {
	BookingID   uint
	Description string
	AmountMinor int64
	Currency    string
}

// PaymentsAPI is the narrow contract the booking core holds against the
// payment collector. The default implementation talks to Stripe; tests
// swap it with NewPaymentsAPI.
type PaymentsAPI interface {
	CreateCheckout(ctx context.Context, in CheckoutInput) (sessionId string, url string, err error)
	CreateRefund(ctx context.Context, paymentIntentId string, amountMinor int64, reason string) (string, error)
	CreateTransfer(ctx context.Context, destinationAccountId string, amountMinor int64, currency string, bookingRef string) (string, error)
	ReverseTransfer(ctx context.Context, transferId string, amountMinor int64) (string, error)
}

type stripePayments struct{}

func (stripePayments) CreateCheckout(ctx context.Context, in CheckoutInput) (string, string, error) {
	sc := GetStripeClient()
	bookingId := fmt.Sprint(in.BookingID)
	piParams := &stripe.CheckoutSessionCreatePaymentIntentDataParams{}
	piParams.AddMetadata("bookingId", bookingId)
	params := &stripe.CheckoutSessionCreateParams{
		SuccessURL:        stripe.String(fmt.Sprintf("%s/checkout/callback/success", os.Getenv("APP_HOST"))),
		UIMode:            stripe.String("hosted"),
		Mode:              stripe.String("payment"),
		PaymentIntentData: piParams,
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
					Currency:   stripe.String(in.Currency),
					UnitAmount: stripe.Int64(in.AmountMinor),
					ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
						Name: stripe.String(in.Description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: map[string]string{"bookingId": bookingId},
	}
	session, err := sc.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		log.Printf("[Stripe] Error creating checkout session for booking %s: %s\n", bookingId, err.Error())
		return "", "", err
	}
	log.Printf("CheckoutSessionID: %s\n", session.ID)
	return session.ID, session.URL, nil
}

func (stripePayments) CreateRefund(ctx context.Context, paymentIntentId string, amountMinor int64, reason string) (string, error) {
	sc := GetStripeClient()
	params := &stripe.RefundCreateParams{
		PaymentIntent: stripe.String(paymentIntentId),
		Amount:        stripe.Int64(amountMinor),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	if reason != "" {
		params.Metadata = map[string]string{"note": reason}
	}
	refund, err := sc.V1Refunds.Create(ctx, params)
	if err != nil {
		log.Printf("[Stripe] Error creating refund for %s: %s\n", paymentIntentId, err.Error())
		return "", err
	}
	return refund.ID, nil
}

func (stripePayments) CreateTransfer(ctx context.Context, destinationAccountId string, amountMinor int64, currency string, bookingRef string) (string, error) {
	sc := GetStripeClient()
	transfer, err := sc.V1Transfers.Create(ctx, &stripe.TransferCreateParams{
		Amount:        stripe.Int64(amountMinor),
		Currency:      stripe.String(currency),
		Destination:   stripe.String(destinationAccountId),
		TransferGroup: stripe.String(bookingRef),
		Metadata: map[string]string{
			"bookingRef": bookingRef,
		},
	})
	if err != nil {
		log.Printf("[Stripe] Error creating transfer to %s: %s\n", destinationAccountId, err.Error())
		return "", err
	}
	return transfer.ID, nil
}

func (stripePayments) ReverseTransfer(ctx context.Context, transferId string, amountMinor int64) (string, error) {
	sc := GetStripeClient()
	reversal, err := sc.V1TransferReversals.Create(ctx, &stripe.TransferReversalCreateParams{
		ID:     stripe.String(transferId),
		Amount: stripe.Int64(amountMinor),
	})
	if err != nil {
		log.Printf("[Stripe] Error reversing transfer %s: %s\n", transferId, err.Error())
		return "", err
	}
	return reversal.ID, nil
}

var payments PaymentsAPI = stripePayments{}

func GetPaymentsAPI() PaymentsAPI {
	return payments
}

// NewPaymentsAPI replaces the payment collector implementation, used by
// tests to avoid live Stripe calls.
func NewPaymentsAPI(p PaymentsAPI) {
	payments = p
}
