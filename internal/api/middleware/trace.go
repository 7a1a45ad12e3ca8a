package middleware

import (
	"Parley/internal/pkg/logger"

	"github.com/gin-gonic/gin"
)

// TraceMiddleware 优先使用 UI 传来的 trace id，websocket 握手无法带自定义头，走 query
func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader("X-Trace-ID")
		if traceID == "" {
			traceID = c.Query("trace_id")
		}
		ctx := logger.WithTraceID(c.Request.Context(), traceID)
		traceID = logger.TraceID(ctx)

		c.Set(logger.TraceIDKey, traceID)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Trace-ID", traceID)
		c.Next()
	}
}
