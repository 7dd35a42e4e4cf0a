package types

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
)

type Timestamps struct {
	CreatedAt time.Time      `gorm:"autoCreateTime:nano" json:"created_at,omitempty"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime:nano" json:"updated_at,omitempty"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty,omitnil"`
}

type JSONB map[string]any

func (a JSONB) Value() (driver.Value, error) {
	valueString, err := json.Marshal(a)
	return string(valueString), err
}
func (a *JSONB) Scan(value any) error {
	b, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	return nil
}

type Metadata map[string]any

// The four status axes of a booking are deliberately independent
// variables. A booking can be cancelled while still paid (refund call
// failed) and those combinations must stay representable.

type BookingStatus string

const (
	BOOKING_PENDING   BookingStatus = "pending"
	BOOKING_CONFIRMED BookingStatus = "confirmed"
	BOOKING_CANCELLED BookingStatus = "cancelled"
	BOOKING_COMPLETED BookingStatus = "completed"
)

type PaymentStatus string

const (
	PAYMENT_PENDING  PaymentStatus = "pending"
	PAYMENT_PAID     PaymentStatus = "paid"
	PAYMENT_FAILED   PaymentStatus = "failed"
	PAYMENT_REFUNDED PaymentStatus = "refunded"
)

type AttendanceStatus string

const (
	ATTENDANCE_NOT_ARRIVED AttendanceStatus = "not_arrived"
	ATTENDANCE_CHECKED_IN  AttendanceStatus = "checked_in"
	ATTENDANCE_NO_SHOW     AttendanceStatus = "no_show"
)

type TransferStatus string

const (
	TRANSFER_PENDING    TransferStatus = "pending"
	TRANSFER_PROCESSING TransferStatus = "processing"
	TRANSFER_COMPLETED  TransferStatus = "completed"
	TRANSFER_FAILED     TransferStatus = "failed"
)

type TimeSlotStatus string

const (
	TIMESLOT_AVAILABLE TimeSlotStatus = "available"
	TIMESLOT_CANCELLED TimeSlotStatus = "cancelled"
)

type TourStatus string

const (
	TOUR_DRAFT     TourStatus = "draft"
	TOUR_PUBLISHED TourStatus = "published"
	TOUR_ARCHIVED  TourStatus = "archived"
)

type CancelParty string

const (
	CANCELLED_BY_CUSTOMER CancelParty = "customer"
	CANCELLED_BY_OPERATOR CancelParty = "operator"
)

type RefundMethod string

const (
	REFUND_METHOD_PLATFORM RefundMethod = "platform_refund"
	REFUND_METHOD_REVERSAL RefundMethod = "transfer_reversal_then_refund"
)

type Environment string

const (
	Local      Environment = "local"
	Test       Environment = "test"
	Production Environment = "production"
)

type CreateTourRequestBody struct {
	Title              string  `json:"title" binding:"required"`
	Description        string  `json:"description,omitempty"`
	Location           string  `json:"location,omitempty" binding:"required"`
	Capacity           uint    `json:"capacity" binding:"required,min=1"`
	Price              float64 `json:"price" binding:"required"`
	Currency           string  `json:"currency" binding:"required"`
	PricingModel       string  `json:"pricing_model,omitempty"`
	CancellationPolicy string  `json:"cancellation_policy" binding:"required"`
}

type CreateTimeSlotRequestBody struct {
	TourID         uint    `json:"tour" binding:"required"`
	StartTime      string  `json:"start_time" binding:"required,bookabledate,ltdate=EndTime" time_format:"2006-01-02 15:04:05 -07:00"`
	EndTime        string  `json:"end_time" binding:"required,gtdate=StartTime" time_format:"2006-01-02 15:04:05 -07:00"`
	AvailableSpots *uint   `json:"available_spots,omitempty"`
	Repeat         *string `json:"repeat,omitempty" binding:"omitempty,oneof=daily weekly"`
	RepeatUntil    *string `json:"repeat_until,omitempty" binding:"omitempty,bookabledate" time_format:"2006-01-02 15:04:05 -07:00"`
}

type UpdateCapacityRequestBody struct {
	AvailableSpots uint `json:"available_spots" binding:"required"`
}

type CreateBookingRequestBody struct {
	TimeSlotID   uint `json:"time_slot" binding:"required"`
	Participants uint `json:"participants" binding:"required,min=1"`
}

type CancelBookingRequestBody struct {
	Reason string `json:"reason,omitempty"`
}

type SimpleRequestParams struct {
	ID uint `uri:"id" binding:"required"`
}

type RegisterUserRequestBody struct {
	Email string `json:"email" binding:"required"`
	Name  string `json:"name,omitempty"`
}

type CreateOperatorRequestBody struct {
	Name         string `json:"name" binding:"required"`
	About        string `json:"about,omitempty"`
	Country      string `json:"country,omitempty"`
	ContactEmail string `json:"email" binding:"required"`
}

type BookingEventPayload struct {
	Event        string  `json:"event"`
	BookingID    uint    `json:"booking_id"`
	Status       string  `json:"status"`
	TourTitle    string  `json:"tour_title,omitempty"`
	CustomerID   uint    `json:"customer_id,omitempty"`
	RefundAmount float64 `json:"refund_amount,omitempty"`
}

type Handler func(payload string)
