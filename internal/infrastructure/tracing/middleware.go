package tracing

import (
	"github.com/gin-gonic/gin"
)

// Middleware restores the caller's trace context on incoming requests and
// echoes it in the response headers
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := Extract(c.Request.Context(), c.Request.Header)
		c.Request = c.Request.WithContext(ctx)

		if traceID := TraceIDFrom(ctx); traceID != "" {
			c.Header(TraceHeader, string(traceID))
		}
		c.Next()
	}
}
