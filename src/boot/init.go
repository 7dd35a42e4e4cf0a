package boot

import (
	"context"
	"log"
	"time"

	"tbs/src/common"
	"tbs/src/config"
	"tbs/src/db"
	"tbs/src/lib"
	"tbs/src/models"
	"tbs/src/types"
	"tbs/src/utils"

	"gorm.io/gorm"
)

func InitDb() *gorm.DB {
	db := db.GetDb()

	err := db.AutoMigrate(
		&models.User{},
		&models.Operator{},
		&models.Tour{},
		&models.TimeSlot{},
		&models.Booking{},
	)
	if err != nil {
		log.Fatalf("error migration: %s", err.Error())
	}

	return db
}

// InitBroker wires the lifecycle and settlement consumers for the current
// environment: SQS in deployed environments, kafka locally.
func InitBroker() {
	env := types.Environment(config.API_ENV)
	if env == types.Test || env == types.Production {
		go common.BookingEventsConsumer()
		go common.TransfersDueConsumer()
		return
	}
	go lib.KafkaCreateTopics("booking-events", "transfers-due")
	lib.KafkaSubscribe("tbs_workers", []string{"booking-events", "transfers-due"}, func(topic, payload string) {
		switch topic {
		case "booking-events":
			common.KafkaBookingEventsConsumer(payload)
		case "transfers-due":
			common.KafkaTransfersDueConsumer(payload)
		}
	})
}

// InitScheduler starts the periodic sweep that settles every transfer the
// one-time wake-ups missed.
func InitScheduler() {
	sched, err := lib.GetScheduler()
	if err != nil {
		log.Println("An error has occurred. Check logs for info")
		return
	}
	jid, err := lib.CreateCronJob(func() {
		report, err := utils.RunTransferSweep(context.Background(), time.Now().UTC())
		if err != nil {
			log.Printf("transfer sweep failed: %s\n", err.Error())
			return
		}
		if report.Due > 0 {
			log.Printf("transfer sweep: due=%d transferred=%d skipped=%d failed=%d\n", report.Due, report.Transferred, report.Skipped, report.Failed)
		}
	}, time.Minute)
	if err != nil {
		log.Printf("Error running job: %s\n", err.Error())
		return
	}
	log.Printf("Job ID: %s\n", *jid)
	sched.Start()
}

func StopScheduler() {
	sched, err := lib.GetScheduler()
	if err != nil {
		log.Println("Error retrieving Scheduler. Check logs for info")
		return
	}
	if err := sched.Shutdown(); err != nil {
		log.Println("An error has occurred while stopping Scheduler. Check logs for info")
		return
	}
}
