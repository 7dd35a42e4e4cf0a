package common

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"tbs/src/db"
	"tbs/src/lib"
	awslib "tbs/src/lib/aws"
	"tbs/src/models"
	"tbs/src/utils"

	"github.com/tidwall/gjson"
	"gorm.io/gorm"
)

// sendBookingNotification emails the customer about a lifecycle change on
// their booking. Failures are logged only; email is best effort and never
// blocks the booking flow.
func sendBookingNotification(bookingId uint, event string, refundAmount float64) {
	var booking models.Booking
	conn := db.GetDb()
	if err := conn.Transaction(func(tx *gorm.DB) error {
		return tx.
			Preload("User").
			Preload("Tour").
			Preload("TimeSlot").
			First(&booking, bookingId).
			Error
	}); err != nil {
		log.Printf("[BookingEventsConsumer] Error on running database transaction: %s\n", err.Error())
		return
	}
	if booking.User == nil || booking.Tour == nil || booking.TimeSlot == nil {
		log.Printf("[BookingEventsConsumer] booking %d is missing associations, skipping notification\n", bookingId)
		return
	}

	var subject, body string
	when := booking.TimeSlot.StartTime.Format(time.RFC1123)
	switch event {
	case "booking.confirmed":
		subject = fmt.Sprintf("Your booking for %s is confirmed", booking.Tour.Title)
		body = fmt.Sprintf(`
			<p>Your booking <b>#%d</b> for <b>%s</b> is confirmed.</p>
			<p>Where: %s</p>
			<p>When: %s</p>
			<p>Participants: %d</p>
			<p>This is a system-generated message. Do not reply to this email.</p>
			`,
			booking.ID,
			booking.Tour.Title,
			booking.Tour.Location,
			when,
			booking.Participants,
		)
	case "booking.cancelled":
		subject = fmt.Sprintf("Your booking for %s was cancelled", booking.Tour.Title)
		body = fmt.Sprintf(`
			<p>Booking <b>#%d</b> for <b>%s</b> on %s has been cancelled.</p>
			<p>This is a system-generated message. Do not reply to this email.</p>
			`,
			booking.ID,
			booking.Tour.Title,
			when,
		)
	case "booking.refunded":
		subject = fmt.Sprintf("Your refund for %s is on its way", booking.Tour.Title)
		body = fmt.Sprintf(`
			<p>A refund of <b>%.2f %s</b> for booking <b>#%d</b> has been issued.</p>
			<p>Depending on your bank it can take a few days to arrive.</p>
			<p>This is a system-generated message. Do not reply to this email.</p>
			`,
			refundAmount,
			booking.Currency,
			booking.ID,
		)
	default:
		return
	}

	senderFrom := os.Getenv("SMTP_FROM")
	input := &lib.SendMailInput{
		Subject:  subject,
		From:     senderFrom,
		FromName: "noreply",
		To:       []string{booking.User.Email},
		Body:     body,
		Html:     true,
	}
	if err := lib.SendMail(input); err != nil {
		log.Printf("[MAILER] error sending email: %s\n", err.Error())
		return
	}
	log.Printf("[MAILER]: an email has been sent to %s\n", booking.User.Email)
}

func handleBookingEvent(spayload string, tag string) {
	if !gjson.Valid(spayload) {
		log.Printf("[%s]: Received invalid json body. Aborting", tag)
		return
	}
	event := gjson.Get(spayload, "event").String()
	bookingId := uint(gjson.Get(spayload, "booking_id").Uint())
	if bookingId == 0 {
		log.Printf("[%s]: payload has no booking_id. Aborting", tag)
		return
	}
	refundAmount := gjson.Get(spayload, "refund_amount").Float()
	log.Printf("[%s] %s for booking %d\n", tag, event, bookingId)
	go sendBookingNotification(bookingId, event, refundAmount)
}

func KafkaBookingEventsConsumer(spayload string) {
	handleBookingEvent(spayload, "booking-events")
}

func BookingEventsConsumer() {
	qname := utils.WithSuffix("BookingEvents")
	log.Printf("%s: Listening for messages...", qname)
	c := awslib.NewSQSConsumer(qname, func(body string) {
		if !gjson.Valid(body) {
			log.Printf("[%s]: Received invalid json body. Aborting", qname)
			return
		}
		message := gjson.Get(body, "Message").String()
		if message == "" {
			message = body
		}
		handleBookingEvent(message, qname)
	})
	c.Listen()
}

// handleTransferDue runs a sweep when a scheduled wake-up fires. The
// sweep itself decides what is actually due, so a stale or duplicated
// wake-up is harmless.
func handleTransferDue(spayload string, tag string) {
	if !gjson.Valid(spayload) {
		log.Printf("[%s]: Received invalid json body. Aborting", tag)
		return
	}
	bookingId := gjson.Get(spayload, "booking_id").Uint()
	log.Printf("[%s] wake-up for booking %d\n", tag, bookingId)
	report, err := utils.RunTransferSweep(context.Background(), time.Now().UTC())
	if err != nil {
		log.Printf("[%s] sweep failed: %s\n", tag, err.Error())
		return
	}
	log.Printf("[%s] sweep done: due=%d transferred=%d skipped=%d failed=%d\n", tag, report.Due, report.Transferred, report.Skipped, report.Failed)
}

func KafkaTransfersDueConsumer(spayload string) {
	handleTransferDue(spayload, "transfers-due")
}

func TransfersDueConsumer() {
	qname := utils.WithSuffix("TransfersDue")
	log.Printf("%s: Listening for messages...", qname)
	c := awslib.NewSQSConsumer(qname, func(body string) {
		message := gjson.Get(body, "Message").String()
		if message == "" {
			message = body
		}
		handleTransferDue(message, qname)
	})
	c.Listen()
}
