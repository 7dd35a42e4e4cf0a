package utils

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"tbs/src/lib"
	"tbs/src/types"
)

// WithSuffix appends the environment name to a queue or topic name so
// shared brokers keep environments apart.
func WithSuffix(name string) string {
	env := os.Getenv("API_ENV")
	if env == "" {
		return name
	}
	return fmt.Sprintf("%s_%s", name, env)
}

// PublishBookingEvent fans a lifecycle event out to the environment's
// broker. Deployed environments go through SQS, local development through
// kafka, mirroring how the consumers are wired at boot.
func PublishBookingEvent(payload types.BookingEventPayload) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	body := types.JSONB{}
	if err := json.Unmarshal(raw, &body); err != nil {
		return err
	}
	env := types.Environment(os.Getenv("API_ENV"))
	switch env {
	case types.Test, types.Production:
		return lib.SQSSendMessage(WithSuffix("BookingEvents"), body)
	default:
		return lib.KafkaProduceMessage("booking_events_producer", "booking-events", body)
	}
}

// publishEvent is swapped out in tests so lifecycle transitions can be
// exercised without a broker.
var publishEvent = func(payload types.BookingEventPayload) {
	if err := PublishBookingEvent(payload); err != nil {
		log.Printf("could not publish %s event for booking %d: %s\n", payload.Event, payload.BookingID, err.Error())
	}
}
