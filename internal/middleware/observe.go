package middleware

import (
	"log/slog"
	"strconv"
	"time"

	"ecoswap/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const RequestIDHeader = "X-Request-ID"

// RequestID echoes the caller's X-Request-ID or assigns a fresh one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// Observe records request metrics and logs server errors. Routes are labeled
// by their pattern, not the raw path.
func Observe(log *slog.Logger) gin.HandlerFunc {
	log = log.With("component", "http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, endpoint, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, endpoint).Observe(elapsed.Seconds())
		if status >= 500 {
			log.ErrorContext(c.Request.Context(), "request failed",
				"method", c.Request.Method, "path", endpoint, "status", status,
				"duration", elapsed, "request_id", c.GetString("request_id"), "errors", c.Errors.String())
		}
	}
}
