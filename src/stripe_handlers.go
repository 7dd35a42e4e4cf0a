package main

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"

	"tbs/src/utils"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

func stripeWebhookRoute(g *gin.Engine) *gin.RouterGroup {
	apiv1 := apiv1Group(g)
	apiv1.POST("/webhook/stripe", func(ctx *gin.Context) {
		payload, err := io.ReadAll(ctx.Request.Body)
		if err != nil {
			log.Printf("Error reading request body: %s\n", err.Error())
			ctx.Status(http.StatusServiceUnavailable)
			return
		}
		whsecret := os.Getenv("STRIPE_WEBHOOK_SECRET")
		event, err := webhook.ConstructEvent(payload, ctx.GetHeader("Stripe-Signature"), whsecret)
		if err != nil {
			log.Printf("Error verifying webhook signature: %s\n", err.Error())
			ctx.Status(http.StatusBadRequest)
			return
		}
		log.Printf("[StripeEvent] %s\n", event.Type)
		switch event.Type {
		case "payment_intent.succeeded":
			var pi stripe.PaymentIntent
			if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
				log.Printf("[Stripe] Error parsing PaymentIntent: %s\n", err.Error())
				break
			}
			log.Printf("[PaymentIntent] ID: %s %s\n", pi.ID, pi.Status)
			bookingId, err := bookingIdFromMetadata(pi.Metadata)
			if err != nil {
				log.Printf("Could not read booking id from PaymentIntent %s: %s\n", pi.ID, err.Error())
				break
			}
			go func() {
				if err := utils.ConfirmBooking(bookingId, pi.ID); err != nil {
					log.Printf("Error confirming booking %d: %s\n", bookingId, err.Error())
				}
			}()
		case "payment_intent.payment_failed":
			var pi stripe.PaymentIntent
			if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
				log.Printf("[Stripe] Error parsing PaymentIntent: %s\n", err.Error())
				break
			}
			bookingId, err := bookingIdFromMetadata(pi.Metadata)
			if err != nil {
				log.Printf("Could not read booking id from PaymentIntent %s: %s\n", pi.ID, err.Error())
				break
			}
			go func() {
				if err := utils.FailBookingPayment(bookingId); err != nil {
					log.Printf("Error failing payment on booking %d: %s\n", bookingId, err.Error())
				}
			}()
		case "account.updated":
			var acc stripe.Account
			if err := json.Unmarshal(event.Data.Raw, &acc); err != nil {
				log.Printf("[Stripe] Error parsing Account: %s\n", err.Error())
				break
			}
			enabled := acc.PayoutsEnabled &&
				acc.DetailsSubmitted &&
				(acc.Requirements == nil || len(acc.Requirements.Errors) == 0)
			go func() {
				if err := utils.SyncOperatorPayoutStatus(acc.ID, enabled); err != nil {
					log.Printf("Error syncing payout status for account %s: %s\n", acc.ID, err.Error())
				}
			}()
		}
		ctx.Status(http.StatusNoContent)
	})
	return apiv1
}

func bookingIdFromMetadata(md map[string]string) (uint, error) {
	raw, ok := md["bookingId"]
	if !ok {
		return 0, errors.New("metadata has no bookingId")
	}
	atoi, err := strconv.Atoi(raw)
	if err != nil || atoi < 1 {
		return 0, errors.New("bookingId is not a valid id")
	}
	return uint(atoi), nil
}
