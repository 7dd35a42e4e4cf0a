package main

import (
	"crypto/subtle"
	"log"
	"net/http"
	"time"

	"tbs/src/config"
	"tbs/src/utils"

	"github.com/gin-gonic/gin"
)

// settlementRoutes exposes the sweep to an external cron trigger. The
// caller proves itself with a shared secret header; the sweep's own
// claiming makes concurrent triggers safe.
func settlementRoutes(g *gin.Engine) *gin.RouterGroup {
	apiv1 := apiv1Group(g)
	apiv1.POST("/jobs/transfers/sweep", func(ctx *gin.Context) {
		secret := ctx.GetHeader("x-sweep-secret")
		if config.SWEEP_SECRET == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(config.SWEEP_SECRET)) != 1 {
			ctx.Status(http.StatusUnauthorized)
			return
		}
		report, err := utils.RunTransferSweep(ctx.Copy(), time.Now().UTC())
		if err != nil {
			log.Printf("transfer sweep failed: %s\n", err.Error())
			ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"data": report})
	})
	return apiv1
}
