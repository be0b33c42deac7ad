package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/oa2a/oa2a/internal/config"
	"github.com/oa2a/oa2a/internal/protocol"
)

func joinOrStar(values []string) string {
	if len(values) == 0 {
		return "*"
	}
	return strings.Join(values, ", ")
}

// corsMiddleware reflects the configured CORS policy on every response
// and short-circuits preflight requests.
func corsMiddleware(settings func() config.Settings) gin.HandlerFunc {
	return func(c *gin.Context) {
		s := settings()
		c.Header("Access-Control-Allow-Origin", joinOrStar(s.CORSOrigins))
		c.Header("Access-Control-Allow-Methods", joinOrStar(s.CORSMethods))
		c.Header("Access-Control-Allow-Headers", joinOrStar(s.CORSHeaders))
		if s.CORSCredentials {
			c.Header("Access-Control-Allow-Credentials", "true")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// authMiddleware enforces the optional proxy key. Clients may send it
// either as x-api-key or as a bearer token.
func authMiddleware(settings func() config.Settings) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := settings().APIKey
		if key == "" {
			c.Next()
			return
		}

		provided := c.GetHeader("x-api-key")
		if provided == "" {
			provided = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}
		if provided != key {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				protocol.NewErrorResponse(protocol.ErrAuthentication, "invalid API key"))
			return
		}
		c.Next()
	}
}
