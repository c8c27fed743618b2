package logger

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// UserIDHeader carries the acting clinician's user ID on REST calls
const UserIDHeader = "X-User-ID"

// Middleware returns a Gin middleware function that logs requests
func Middleware(logger *Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header("X-Request-ID", requestID)
		c.Request = c.Request.WithContext(ContextWithRequestID(c.Request.Context(), requestID))

		reqLogger := logger.WithRequestID(requestID)
		if userID := c.GetHeader(UserIDHeader); userID != "" {
			reqLogger = reqLogger.WithUserID(userID)
		}
		c.Set("logger", reqLogger)

		start := time.Now()
		c.Next()

		method := c.Request.Method
		path := c.Request.URL.Path
		reqLogger.LogRequest(method, path, c.Writer.Status(), time.Since(start))

		for _, err := range c.Errors {
			reqLogger.LogError(err.Err, "request error",
				"method", method,
				"path", path,
				"error_type", err.Type,
			)
		}
	}
}

// FromGin returns the request-scoped logger stored by Middleware
func FromGin(c *gin.Context) *Logger {
	if l, ok := c.Get("logger"); ok {
		if reqLogger, ok := l.(*Logger); ok {
			return reqLogger
		}
	}
	return GetGlobal()
}
