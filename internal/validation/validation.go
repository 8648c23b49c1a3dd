// Package validation provides request validation middleware.
package validation

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the default request body cap in bytes.
const MaxRequestSize = 1 << 20 // 1MB

// RequestSizeMiddleware rejects oversized bodies up front and caps reads for
// requests without a Content-Length.
func RequestSizeMiddleware(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error":     "payload_too_large",
				"max_bytes": maxBytes,
			})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
