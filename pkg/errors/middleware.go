package errors

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/KeshavSoni17/halo-backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

// ErrorHandler returns a middleware that catches and formats application errors
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		appErr := FromError(c.Errors[0].Err)

		logger.FromGin(c).Error("request error",
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
			"status_code", appErr.StatusCode,
			"error_code", appErr.Code,
			"message", appErr.Message,
		)

		c.AbortWithStatusJSON(appErr.StatusCode, gin.H{
			"error": gin.H{
				"code":    appErr.Code,
				"message": GetErrorMessage(appErr),
				"details": appErr.Details,
			},
		})
	}
}

// RecoveryWithLogger returns a middleware that recovers from any panics
// and logs the error with the request ID and user ID if available
func RecoveryWithLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())

				logger.FromGin(c).Error("panic recovered",
					"error", fmt.Sprintf("%v", r),
					"stack", stack,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)

				var details any
				if gin.Mode() == gin.DebugMode {
					details = fmt.Sprintf("panic: %v\n%s", r, stack)
				}

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": gin.H{
						"code":    "SERVER_ERROR",
						"message": "The server encountered an unexpected error",
						"details": details,
					},
				})
			}
		}()

		c.Next()
	}
}
