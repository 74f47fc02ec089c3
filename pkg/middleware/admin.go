package middleware

import (
	"crypto/subtle"

	"smallbiznis-licensing/pkg/errutil"

	"github.com/gin-gonic/gin"
)

const AdminKeyHeader = "X-API-KEY"

// AdminKey only lets through requests carrying apiKey in X-API-KEY. An empty
// apiKey closes the routes entirely.
func AdminKey(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(AdminKeyHeader)
		if apiKey == "" || subtle.ConstantTimeCompare([]byte(got), []byte(apiKey)) != 1 {
			_ = c.Error(errutil.Unauthorized("invalid api key", nil))
			c.Abort()
			return
		}
		c.Next()
	}
}
