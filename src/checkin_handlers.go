package main

import (
	"errors"
	"net/http"

	"tbs/src/types"
	"tbs/src/utils"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func checkinHandlers(g *gin.RouterGroup) *gin.RouterGroup {
	handle := func(op func(bookingId, operatorId uint) error) gin.HandlerFunc {
		return func(ctx *gin.Context) {
			var params types.SimpleRequestParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.Status(http.StatusBadRequest)
				return
			}
			opId := ctx.GetUint("op")
			if err := op(params.ID, opId); err != nil {
				switch {
				case errors.Is(err, gorm.ErrRecordNotFound):
					ctx.Status(http.StatusNotFound)
				case errors.Is(err, utils.ErrNotTourOwner):
					ctx.Status(http.StatusForbidden)
				case errors.Is(err, utils.ErrAlreadyCheckedIn),
					errors.Is(err, utils.ErrNotCheckedInEligible),
					errors.Is(err, utils.ErrTerminalState):
					ctx.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				default:
					ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
				}
				return
			}
			ctx.Status(http.StatusOK)
		}
	}

	g.
		PUT("/bookings/:id/checkin", handle(utils.CheckInBooking)).
		PUT("/bookings/:id/noshow", handle(utils.MarkNoShow)).
		PUT("/bookings/:id/complete", handle(utils.CompleteBooking))
	return g
}
