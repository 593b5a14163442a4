package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/patrckmello/zg-planner/pkg/telemetry/correlation"
)

const requestIDHeader = "X-Request-ID"

// RequestID accepts a caller-provided X-Request-ID or mints a ULID, stores it
// on the gin context and the request context, and echoes it in the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if incoming := c.GetHeader(requestIDHeader); incoming != "" {
			ctx = correlation.WithID(ctx, incoming)
		}
		ctx, id := correlation.Ensure(ctx)

		ctx = correlation.WithRemoteSpan(ctx,
			c.GetHeader("X-Trace-ID"),
			c.GetHeader("X-Span-ID"))

		c.Request = c.Request.WithContext(ctx)
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}
