package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/krs-api/internal/service"
)

const unmatchedRoute = "unmatched"

// Metrics captures request metrics labelled by route template. Requests that
// match no route share one label so probes of random paths cannot grow the series.
func Metrics(metricsSvc *service.MetricsService, skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, path := range skip {
		skipped[path] = struct{}{}
	}
	return func(c *gin.Context) {
		if metricsSvc == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if _, ok := skipped[route]; ok {
			return
		}
		if route == "" {
			route = unmatchedRoute
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
