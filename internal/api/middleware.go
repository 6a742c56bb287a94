package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/systmms/secretvault/internal/logging"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
	actionKey       = "action"
)

// requestID assigns every request an id, honouring one supplied by a proxy.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// requestTimeout bounds the request context. Store calls observe it and a
// request that runs out of time fails instead of hanging.
func requestTimeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// requestLogger logs one line per request. Bodies are never logged.
func requestLogger(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		action := c.GetString(actionKey)
		if action == "" {
			action = "-"
		}
		logger.Info("%s %s action=%s status=%d latency=%s request_id=%s",
			c.Request.Method, c.Request.URL.Path, action, c.Writer.Status(),
			time.Since(start).Round(time.Microsecond), c.GetString(requestIDKey))
	}
}
