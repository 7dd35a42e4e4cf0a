package main

import (
	"errors"
	"log"
	"net/http"
	"time"

	"tbs/src/db"
	"tbs/src/models"
	"tbs/src/types"
	"tbs/src/utils"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func operatorHandlers(g *gin.RouterGroup) *gin.RouterGroup {
	g.
		POST("/operators", func(ctx *gin.Context) {
			var body types.CreateOperatorRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			userId := ctx.GetUint("id")
			operator, err := utils.CreateNewOperator(ctx.Copy(), userId, &body)
			if err != nil {
				log.Printf("Error creating operator: %s\n", err.Error())
				ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
				return
			}
			db := db.GetDb()
			if err := db.Transaction(func(tx *gorm.DB) error {
				return tx.
					Model(&models.User{}).
					Where("id = ?", userId).
					Update("active_operator", operator.ID).
					Error
			}); err != nil {
				log.Printf("Error activating operator for user %d: %s\n", userId, err.Error())
			}
			ctx.JSON(http.StatusCreated, gin.H{"data": operator})
		}).
		GET("/operators/:id", func(ctx *gin.Context) {
			var params types.SimpleRequestParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.Status(http.StatusBadRequest)
				return
			}
			db := db.GetDb()
			var operator models.Operator
			if err := db.First(&operator, params.ID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					ctx.Status(http.StatusNotFound)
					return
				}
				ctx.Status(http.StatusBadRequest)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": operator})
		}).
		GET("/operators/bookings", func(ctx *gin.Context) {
			opId := ctx.GetUint("op")
			db := db.GetDb()
			var bookings []models.Booking
			if err := db.
				Model(&models.Booking{}).
				Joins("JOIN tours ON tours.id = bookings.tour_id").
				Where("tours.operator_id = ?", opId).
				Preload("Tour").
				Preload("TimeSlot").
				Preload("User").
				Find(&bookings).
				Error; err != nil {
				ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": bookings, "count": len(bookings)})
		}).
		GET("/diagnostics/transfers", func(ctx *gin.Context) {
			opId := ctx.GetUint("op")
			report, err := utils.PendingTransferReport(opId, time.Now().UTC())
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					ctx.Status(http.StatusNotFound)
					return
				}
				ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": report, "count": len(report)})
		})
	return g
}
