package models

import (
	"tbs/src/types"
)

type User struct {
	ID               uint            `gorm:"primarykey" json:"id"`
	Name             string          `json:"name,omitempty"`
	Email            string          `json:"email,omitempty"`
	Role             string          `json:"role,omitempty"`
	ActiveOperator   uint            `json:"active_operator,omitempty"`
	StripeCustomerId *string         `json:"-"`
	Metadata         *types.Metadata `gorm:"type:jsonb" json:"metadata,omitempty"`

	Bookings  []Booking  `gorm:"foreignKey:UserID" json:"bookings,omitempty"`
	Operators []Operator `gorm:"foreignKey:OwnerID" json:"operators,omitempty"`

	types.Timestamps
}
