package logging

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// GinLogger returns gin middleware that logs each request through the
// shared logrus logger instead of gin's default writer.
func GinLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		entry := std.WithFields(logrus.Fields{
			"status":  c.Writer.Status(),
			"method":  c.Request.Method,
			"path":    path,
			"latency": time.Since(start).String(),
			"client":  c.ClientIP(),
		})
		if len(c.Errors) > 0 {
			entry.Error(c.Errors.ByType(gin.ErrorTypePrivate).String())
		} else if c.Writer.Status() >= 500 {
			entry.Error("request failed")
		} else {
			entry.Debug("request completed")
		}
	}
}

// GinRecovery returns gin middleware that recovers from panics and logs
// them through logrus before responding 500.
func GinRecovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		std.WithField("panic", recovered).Error("handler panic recovered")
		c.AbortWithStatusJSON(500, gin.H{
			"type": "error",
			"error": gin.H{
				"type":    "internal_error",
				"message": "internal server error",
			},
		})
	})
}
