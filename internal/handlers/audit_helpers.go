package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"discussion-service/internal/observability"
	"discussion-service/internal/telemetry"
)

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(observability.RequestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := observability.RequestIDFromRequest(c.Request)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(observability.RequestIDContextKey, requestID)
	return requestID
}

func userIDFromContext(c *gin.Context) int {
	if val, ok := c.Get("userID"); ok {
		switch userID := val.(type) {
		case int:
			return userID
		case int64:
			return int(userID)
		}
	}

	if header := c.GetHeader("X-User-ID"); header != "" {
		if parsed, err := strconv.Atoi(header); err == nil {
			return parsed
		}
	}
	return 0
}

func emitAudit(c *gin.Context, audit *telemetry.AuditEmitter, rec telemetry.AuditRecord) {
	if audit == nil {
		return
	}
	rec.RequestID = requestIDFromContext(c)
	rec.UserID = userIDFromContext(c)
	audit.Emit(c.Request.Context(), rec)
}
