package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/trainer-ledger-api/internal/service"
)

const unmatchedRoute = "unmatched"

// Metrics records every request under its route template. Live event streams are
// recorded separately because their duration is the subscription lifetime.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metricsSvc == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		status := c.Writer.Status()
		if isEventStream(c) {
			metricsSvc.ObserveStream(route, status, duration)
			return
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, route, status, duration)
	}
}

func isEventStream(c *gin.Context) bool {
	return strings.HasPrefix(c.Writer.Header().Get("Content-Type"), "text/event-stream")
}
