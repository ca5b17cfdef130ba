package middleware

import (
	"github.com/gin-gonic/gin"
)

// NoStore marks responses as private and uncacheable. Attempt papers and
// results change with every save and must never be served from a cache.
func NoStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store, private")
		c.Header("Pragma", "no-cache")
		c.Next()
	}
}
