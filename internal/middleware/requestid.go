package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

// ContextRequestID is the gin context key the request logger reads.
const ContextRequestID = "request_id"

// RequestID tags each request with a correlation id. An id supplied by the
// caller is kept so the chain stays traceable across proxy hops; otherwise a
// fresh UUID is minted, matching the ids credentials are keyed by.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(ContextRequestID, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}
