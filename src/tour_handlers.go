package main

import (
	"errors"
	"log"
	"net/http"

	"tbs/src/db"
	"tbs/src/models"
	"tbs/src/types"
	"tbs/src/utils"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func tourHandlers(g *gin.RouterGroup) *gin.RouterGroup {
	g.
		POST("/tours", func(ctx *gin.Context) {
			var body types.CreateTourRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			opId := ctx.GetUint("op")
			if opId < 1 {
				ctx.JSON(http.StatusForbidden, gin.H{"error": "an active operator account is required"})
				return
			}
			userId := ctx.GetUint("id")
			tour, err := utils.CreateNewTour(opId, userId, &body)
			if err != nil {
				if errors.Is(err, utils.ErrUnknownPolicy) {
					ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
					return
				}
				log.Printf("Error creating tour: %s\n", err.Error())
				ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
				return
			}
			ctx.JSON(http.StatusCreated, gin.H{"data": tour})
		}).
		GET("/tours", func(ctx *gin.Context) {
			db := db.GetDb()
			var tours []models.Tour
			if err := db.
				Model(&models.Tour{}).
				Where(&models.Tour{Status: types.TOUR_PUBLISHED}).
				Find(&tours).
				Error; err != nil {
				ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": tours, "count": len(tours)})
		}).
		GET("/tours/:id", func(ctx *gin.Context) {
			var params types.SimpleRequestParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.Status(http.StatusBadRequest)
				return
			}
			db := db.GetDb()
			var tour models.Tour
			if err := db.
				Where(&models.Tour{ID: params.ID}).
				Preload("TimeSlots", "status = ?", types.TIMESLOT_AVAILABLE).
				First(&tour).
				Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					ctx.Status(http.StatusNotFound)
					return
				}
				ctx.Status(http.StatusBadRequest)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": tour})
		}).
		PUT("/tours/:id/publish", func(ctx *gin.Context) {
			var params types.SimpleRequestParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.Status(http.StatusBadRequest)
				return
			}
			opId := ctx.GetUint("op")
			db := db.GetDb()
			err := db.Transaction(func(tx *gorm.DB) error {
				res := tx.
					Model(&models.Tour{}).
					Where("id = ? AND operator_id = ? AND status = ?", params.ID, opId, types.TOUR_DRAFT).
					Update("status", types.TOUR_PUBLISHED)
				if res.Error != nil {
					return res.Error
				}
				if res.RowsAffected == 0 {
					return errors.New("tour cannot be published")
				}
				return nil
			})
			if err != nil {
				ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
				return
			}
			ctx.Status(http.StatusOK)
		})
	return g
}

func timeslotHandlers(g *gin.RouterGroup) *gin.RouterGroup {
	g.
		POST("/slots", func(ctx *gin.Context) {
			var body types.CreateTimeSlotRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			opId := ctx.GetUint("op")
			db := db.GetDb()
			var tour models.Tour
			if err := db.First(&tour, body.TourID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					ctx.Status(http.StatusNotFound)
					return
				}
				ctx.Status(http.StatusBadRequest)
				return
			}
			if tour.OperatorID != opId {
				ctx.Status(http.StatusForbidden)
				return
			}
			slots, err := utils.CreateTimeSlots(&tour, &body)
			if err != nil {
				log.Printf("Error creating time slots: %s\n", err.Error())
				ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
				return
			}
			ctx.JSON(http.StatusCreated, gin.H{"data": slots, "count": len(slots)})
		}).
		GET("/tours/:id/slots", func(ctx *gin.Context) {
			var params types.SimpleRequestParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.Status(http.StatusBadRequest)
				return
			}
			db := db.GetDb()
			var slots []models.TimeSlot
			if err := db.
				Model(&models.TimeSlot{}).
				Where(&models.TimeSlot{TourID: params.ID, Status: types.TIMESLOT_AVAILABLE}).
				Order("start_time asc").
				Find(&slots).
				Error; err != nil {
				ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": slots, "count": len(slots)})
		}).
		PUT("/slots/:id/capacity", func(ctx *gin.Context) {
			var params types.SimpleRequestParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.Status(http.StatusBadRequest)
				return
			}
			var body types.UpdateCapacityRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			opId := ctx.GetUint("op")
			db := db.GetDb()
			err := db.Transaction(func(tx *gorm.DB) error {
				var slot models.TimeSlot
				if err := tx.Preload("Tour").First(&slot, params.ID).Error; err != nil {
					return err
				}
				if slot.Tour.OperatorID != opId {
					return utils.ErrNotTourOwner
				}
				return utils.SetSlotCapacity(tx, params.ID, body.AvailableSpots)
			})
			if err != nil {
				if errors.Is(err, utils.ErrBelowCurrentBookings) {
					ctx.JSON(http.StatusConflict, gin.H{"error": err.Error()})
					return
				}
				if errors.Is(err, utils.ErrNotTourOwner) {
					ctx.Status(http.StatusForbidden)
					return
				}
				ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
				return
			}
			ctx.Status(http.StatusOK)
		}).
		PUT("/slots/:id/cancel", func(ctx *gin.Context) {
			var params types.SimpleRequestParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.Status(http.StatusBadRequest)
				return
			}
			opId := ctx.GetUint("op")
			db := db.GetDb()
			err := db.Transaction(func(tx *gorm.DB) error {
				return utils.CancelTimeSlot(tx, params.ID, opId)
			})
			if err != nil {
				if errors.Is(err, utils.ErrNotTourOwner) {
					ctx.Status(http.StatusForbidden)
					return
				}
				ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
				return
			}
			ctx.Status(http.StatusOK)
		})
	return g
}
