package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"discussion-service/internal/middleware"
	"discussion-service/internal/observability"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// NotificationHandler serves the per-user unread notification socket.
type NotificationHandler struct {
	hub       *Hub
	validator *middleware.TokenValidator
}

func NewNotificationHandler(hub *Hub, validator *middleware.TokenValidator) *NotificationHandler {
	return &NotificationHandler{hub: hub, validator: validator}
}

// Handle authenticates the caller, upgrades the connection and keeps it registered until the
// client goes away. Browsers may pass the token as ?token= since they cannot set headers.
func (h *NotificationHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("discussion-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token, ok := middleware.BearerToken(c.GetHeader("Authorization"))
	if !ok {
		token = c.Query("token")
	}
	userID, err := h.validator.ValidateToken(token)
	if token == "" || err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	h.hub.AddClient(userID, conn, info)
	observability.IncWSActive(wsKind)
	publishWSEvent(ctx, "ws_connect", info, "")

	connCtx := context.WithoutCancel(ctx)
	go func() {
		var closeReason string
		defer func() {
			h.hub.RemoveClient(userID, conn)
			observability.DecWSActive(wsKind)
			publishWSEvent(connCtx, "ws_disconnect", info, closeReason)
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				closeReason = err.Error()
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					publishWSEvent(connCtx, "ws_error", info, closeReason)
				}
				return
			}
		}
	}()
}
