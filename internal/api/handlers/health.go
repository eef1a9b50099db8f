package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

var startTime = time.Now()

const version = "1.0.0"

// HealthCheck reports liveness, the store backend and process uptime
func HealthCheck(storeDriver string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "teamclash-api",
			"version": version,
			"store":   storeDriver,
			"uptime":  time.Since(startTime).Round(time.Second).String(),
		})
	}
}
