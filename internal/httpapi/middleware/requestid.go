package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/tianyan-ai/chat-backend/internal/common"
)

const RequestIDHeader = "X-Request-ID"

// RequestID tags every request, minting a ULID when the client sent
// none.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			if u, err := common.NewULID(); err == nil {
				id = u
			}
		}
		c.Writer.Header().Set(RequestIDHeader, id)
		c.Set("request_id", id)
		c.Next()
	}
}
