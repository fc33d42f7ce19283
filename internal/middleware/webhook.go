package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// WebhookSecret сверяет секрет из пути вебхука (/telegram/webhook/:secret).
func WebhookSecret(expected string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.Param("secret")
		if expected == "" || subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
