package models

import (
	"tbs/src/types"
)

// Operator is the account tours belong to and the destination of
// settlement transfers. PayoutsEnabled mirrors the connected Stripe
// account state and gates the transfer sweep.
type Operator struct {
	ID                   uint            `gorm:"primarykey;uniqueIndex:slugid" json:"id"`
	Name                 string          `json:"name,omitempty"`
	About                string          `json:"about,omitempty"`
	Country              string          `json:"country,omitempty"`
	OwnerID              uint            `json:"owner_id,omitempty"`
	ContactEmail         string          `json:"email,omitempty"`
	StripeAccountID      *string         `json:"stripe_account_id,omitempty"`
	ConnectOnboardingURL *string         `json:"connect_onboarding_url,omitempty"`
	Verified             bool            `gorm:"default:false" json:"verified,omitempty"`
	PayoutsEnabled       bool            `gorm:"default:false" json:"payouts_enabled,omitempty"`
	Slug                 string          `gorm:"uniqueIndex:slugid" json:"slug"`
	Metadata             *types.Metadata `gorm:"type:jsonb" json:"metadata,omitempty"`

	Tours []Tour `gorm:"foreignKey:OperatorID" json:"-"`
	Owner *User  `gorm:"foreignKey:OwnerID" json:"-"`

	types.Timestamps
}

// HasValidPayoutDestination reports whether transfers can currently be
// routed to this operator's connected account.
func (o *Operator) HasValidPayoutDestination() bool {
	return o.StripeAccountID != nil && *o.StripeAccountID != "" && o.PayoutsEnabled
}
