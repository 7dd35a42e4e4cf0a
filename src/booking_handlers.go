package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"tbs/src/db"
	"tbs/src/lib"
	"tbs/src/models"
	"tbs/src/types"
	"tbs/src/utils"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func bookingHandlers(g *gin.RouterGroup) *gin.RouterGroup {
	g.
		POST("/bookings", func(ctx *gin.Context) {
			var body types.CreateBookingRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			userId := ctx.GetUint("id")
			booking, err := utils.CreateBooking(userId, &body)
			if err != nil {
				if errors.Is(err, utils.ErrInsufficientCapacity) || errors.Is(err, utils.ErrSlotClosed) {
					ctx.JSON(http.StatusConflict, gin.H{"error": err.Error()})
					return
				}
				log.Printf("Error creating booking: %s\n", err.Error())
				ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
				return
			}
			ctx.JSON(http.StatusCreated, gin.H{"data": booking})
		}).
		POST("/bookings/:id/pay", func(ctx *gin.Context) {
			var params types.SimpleRequestParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.Status(http.StatusBadRequest)
				return
			}
			userId := ctx.GetUint("id")
			db := db.GetDb()
			var booking models.Booking
			if err := db.Preload("Tour").First(&booking, params.ID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					ctx.Status(http.StatusNotFound)
					return
				}
				ctx.Status(http.StatusBadRequest)
				return
			}
			if booking.UserID != userId {
				ctx.Status(http.StatusForbidden)
				return
			}
			url, err := utils.StartBookingPayment(ctx.Copy(), &booking)
			if err != nil {
				if errors.Is(err, utils.ErrNotAwaitingPayment) {
					ctx.JSON(http.StatusConflict, gin.H{"error": err.Error()})
					return
				}
				log.Printf("Error starting payment for booking %d: %s\n", params.ID, err.Error())
				ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"url": url})
		}).
		GET("/bookings", func(ctx *gin.Context) {
			userId := ctx.GetUint("id")
			db := db.GetDb()
			var bookings []models.Booking
			err := db.Transaction(func(tx *gorm.DB) error {
				return tx.
					Model(&models.Booking{}).
					Where(&models.Booking{UserID: userId}).
					Preload("Tour").
					Preload("TimeSlot").
					Find(&bookings).
					Error
			})
			if err != nil {
				ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": bookings, "count": len(bookings)})
		}).
		GET("/bookings/:id", func(ctx *gin.Context) {
			var params types.SimpleRequestParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.Status(http.StatusBadRequest)
				return
			}
			userId := ctx.GetUint("id")
			opId := ctx.GetUint("op")
			db := db.GetDb()
			var booking models.Booking
			if err := db.
				Model(&models.Booking{}).
				Where(&models.Booking{ID: params.ID}).
				Preload("Tour").
				Preload("TimeSlot").
				First(&booking).
				Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					ctx.Status(http.StatusNotFound)
					return
				}
				ctx.Status(http.StatusBadRequest)
				return
			}
			if booking.UserID != userId && (booking.Tour == nil || booking.Tour.OperatorID != opId) {
				ctx.Status(http.StatusForbidden)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": booking})
		}).
		GET("/bookings/:id/refund-preview", func(ctx *gin.Context) {
			var params types.SimpleRequestParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.Status(http.StatusBadRequest)
				return
			}
			userId := ctx.GetUint("id")
			db := db.GetDb()
			var booking models.Booking
			if err := db.
				Where(&models.Booking{ID: params.ID, UserID: userId}).
				Preload("Tour").
				Preload("TimeSlot").
				First(&booking).
				Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					ctx.Status(http.StatusNotFound)
					return
				}
				ctx.Status(http.StatusBadRequest)
				return
			}
			// Quotes only move when the clock does, so a short-lived
			// cache absorbs repeated previews of the same booking.
			cacheKey := fmt.Sprintf("booking:%d:refund_preview", booking.ID)
			rd := lib.GetRedisClient()
			if rd != nil {
				if cached, err := rd.Get(ctx, cacheKey).Result(); err == nil {
					ctx.Data(http.StatusOK, "application/json; charset=utf-8", []byte(cached))
					return
				}
			}
			now := time.Now().UTC()
			var resp gin.H
			ok, reason := utils.CanCancel(booking.Status, booking.TimeSlot.StartTime, types.CANCELLED_BY_CUSTOMER, now)
			if !ok {
				resp = gin.H{"cancellable": false, "reason": reason}
			} else {
				quote := utils.CalculateRefund(booking.TotalAmount, booking.TimeSlot.StartTime, booking.Tour.CancellationPolicy, types.CANCELLED_BY_CUSTOMER, now)
				resp = gin.H{"cancellable": true, "quote": quote}
			}
			if rd != nil {
				if raw, err := json.Marshal(resp); err == nil {
					rd.Set(ctx, cacheKey, raw, time.Minute)
				}
			}
			ctx.JSON(http.StatusOK, resp)
		}).
		PUT("/bookings/:id/cancel", func(ctx *gin.Context) {
			var params types.SimpleRequestParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.Status(http.StatusBadRequest)
				return
			}
			var body types.CancelBookingRequestBody
			_ = ctx.ShouldBindJSON(&body)
			userId := ctx.GetUint("id")
			opId := ctx.GetUint("op")

			db := db.GetDb()
			var booking models.Booking
			if err := db.Preload("Tour").First(&booking, params.ID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					ctx.Status(http.StatusNotFound)
					return
				}
				ctx.Status(http.StatusBadRequest)
				return
			}
			// Who is cancelling decides which refund rules apply.
			var by types.CancelParty
			switch {
			case booking.UserID == userId:
				by = types.CANCELLED_BY_CUSTOMER
			case booking.Tour != nil && booking.Tour.OperatorID == opId && opId > 0:
				by = types.CANCELLED_BY_OPERATOR
			default:
				ctx.Status(http.StatusForbidden)
				return
			}

			outcome, err := utils.CancelBooking(ctx.Copy(), params.ID, by)
			if err != nil {
				if errors.Is(err, utils.ErrNotCancellable) {
					ctx.JSON(http.StatusConflict, gin.H{"error": err.Error()})
					return
				}
				log.Printf("Error cancelling booking %d: %s\n", params.ID, err.Error())
				ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
				return
			}
			resp := gin.H{"data": outcome.Booking, "quote": outcome.Quote}
			if outcome.Refund != nil && !outcome.Refund.Success {
				resp["refund_pending"] = true
			}
			ctx.JSON(http.StatusOK, resp)
		})
	return g
}
