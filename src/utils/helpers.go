package utils

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gosimple/slug"
	"github.com/stripe/stripe-go/v82"
	"gorm.io/gorm"

	"tbs/src/config"
	"tbs/src/db"
	"tbs/src/lib"
	"tbs/src/models"
	"tbs/src/types"
)

var ErrUnknownPolicy = errors.New("unknown cancellation policy")

// CreateNewTour records a draft tour for an operator.
func CreateNewTour(operatorId uint, userId uint, body *types.CreateTourRequestBody) (*models.Tour, error) {
	if body.CancellationPolicy != "" && !KnownCancellationPolicy(body.CancellationPolicy) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPolicy, body.CancellationPolicy)
	}
	conn := db.GetDb()
	tour := models.Tour{
		Title:              body.Title,
		Location:           body.Location,
		Capacity:           body.Capacity,
		Price:              body.Price,
		Currency:           body.Currency,
		PricingModel:       body.PricingModel,
		CancellationPolicy: body.CancellationPolicy,
		Status:             types.TOUR_DRAFT,
		OperatorID:         operatorId,
		CreatedBy:          userId,
		Slug:               slug.Make(body.Title),
	}
	if body.Description != "" {
		tour.About = &body.Description
	}
	err := conn.Transaction(func(tx *gorm.DB) error {
		return tx.Create(&tour).Error
	})
	if err != nil {
		return nil, err
	}
	return &tour, nil
}

// CreateTimeSlots materializes one slot, or a whole series when the
// request repeats daily or weekly until a cutoff. Each occurrence carries
// its own independent capacity counters.
func CreateTimeSlots(tour *models.Tour, body *types.CreateTimeSlotRequestBody) ([]models.TimeSlot, error) {
	start, err := time.Parse(config.TIME_PARSE_FORMAT, body.StartTime)
	if err != nil {
		return nil, err
	}
	end, err := time.Parse(config.TIME_PARSE_FORMAT, body.EndTime)
	if err != nil {
		return nil, err
	}
	capacity := tour.Capacity
	if body.AvailableSpots != nil {
		capacity = *body.AvailableSpots
	}

	var step time.Duration
	until := start
	if body.Repeat != nil {
		if body.RepeatUntil == nil {
			return nil, errors.New("repeat requires repeat_until")
		}
		until, err = time.Parse(config.TIME_PARSE_FORMAT, *body.RepeatUntil)
		if err != nil {
			return nil, err
		}
		switch *body.Repeat {
		case "daily":
			step = 24 * time.Hour
		case "weekly":
			step = 7 * 24 * time.Hour
		}
	}

	var slots []models.TimeSlot
	duration := end.Sub(start)
	for at := start; !at.After(until); {
		slots = append(slots, models.TimeSlot{
			TourID:         tour.ID,
			StartTime:      at.UTC(),
			EndTime:        at.Add(duration).UTC(),
			AvailableSpots: capacity,
			Status:         types.TIMESLOT_AVAILABLE,
		})
		if step == 0 {
			break
		}
		at = at.Add(step)
	}

	conn := db.GetDb()
	err = conn.Transaction(func(tx *gorm.DB) error {
		return tx.Create(&slots).Error
	})
	if err != nil {
		return nil, err
	}
	return slots, nil
}

// CancelTimeSlot soft-cancels a slot so it stops accepting reservations.
// Existing bookings are untouched; the operator cancels those explicitly
// and each gets its full refund through the normal flow.
func CancelTimeSlot(tx *gorm.DB, timeSlotId uint, operatorId uint) error {
	var slot models.TimeSlot
	if err := tx.Preload("Tour").First(&slot, timeSlotId).Error; err != nil {
		return err
	}
	if slot.Tour.OperatorID != operatorId {
		return ErrNotTourOwner
	}
	return tx.Model(&slot).Update("status", types.TIMESLOT_CANCELLED).Error
}

// CreateNewOperator provisions the operator record together with its
// Stripe Express account and an onboarding link. Transfers stay blocked
// until the account.updated webhook reports payouts enabled.
func CreateNewOperator(ctx context.Context, ownerId uint, body *types.CreateOperatorRequestBody) (*models.Operator, error) {
	conn := db.GetDb()
	operator := models.Operator{
		Name:         body.Name,
		About:        body.About,
		Country:      body.Country,
		OwnerID:      ownerId,
		ContactEmail: body.ContactEmail,
		Slug:         slug.Make(body.Name),
	}
	err := conn.Transaction(func(tx *gorm.DB) error {
		return tx.Create(&operator).Error
	})
	if err != nil {
		return nil, err
	}

	sc := lib.GetStripeClient()
	account, err := sc.V1Accounts.Create(ctx, &stripe.AccountCreateParams{
		Type:  stripe.String(string(stripe.AccountTypeExpress)),
		Email: stripe.String(body.ContactEmail),
		Capabilities: &stripe.AccountCreateCapabilitiesParams{
			Transfers: &stripe.AccountCreateCapabilitiesTransfersParams{Requested: stripe.Bool(true)},
		},
		Metadata: map[string]string{"operator": fmt.Sprint(operator.ID)},
	})
	if err != nil {
		// The operator exists without a payout destination; diagnostics
		// will report it and onboarding can be retried.
		log.Printf("[Stripe] could not create connected account for operator %d: %s\n", operator.ID, err.Error())
		return &operator, nil
	}

	appHost := os.Getenv("APP_HOST")
	link, err := sc.V1AccountLinks.Create(ctx, &stripe.AccountLinkCreateParams{
		Account:    stripe.String(account.ID),
		Type:       stripe.String("account_onboarding"),
		RefreshURL: stripe.String(fmt.Sprintf("%s/operators/%s/onboarding/refresh", appHost, operator.Slug)),
		ReturnURL:  stripe.String(fmt.Sprintf("%s/operators/%s/onboarding/complete", appHost, operator.Slug)),
	})
	if err != nil {
		log.Printf("[Stripe] could not create onboarding link for operator %d: %s\n", operator.ID, err.Error())
	}

	updates := map[string]any{"stripe_account_id": account.ID}
	if link != nil {
		updates["connect_onboarding_url"] = link.URL
	}
	if err := conn.Model(&operator).Updates(updates).Error; err != nil {
		return nil, err
	}
	return &operator, nil
}

// SyncOperatorPayoutStatus applies the connected account state reported
// by the account.updated webhook.
func SyncOperatorPayoutStatus(stripeAccountId string, payoutsEnabled bool) error {
	conn := db.GetDb()
	res := conn.Model(&models.Operator{}).
		Where("stripe_account_id = ?", stripeAccountId).
		Updates(map[string]any{"payouts_enabled": payoutsEnabled, "verified": payoutsEnabled})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("no operator linked to account %s", stripeAccountId)
	}
	return nil
}
