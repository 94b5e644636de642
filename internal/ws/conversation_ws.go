package ws

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"dm-service/internal/auth"
	"dm-service/internal/observability"
	"dm-service/internal/push"
	"dm-service/internal/repositories"
	"dm-service/internal/telemetry"
)

// ConversationHandler upgrades websocket connections and binds them to a
// conversation topic for the lifetime of the connection.
type ConversationHandler struct {
	hub         *Hub
	bridge      *Bridge
	users       repositories.UserRepository
	authService *auth.Service
	audit       *telemetry.AuditEmitter
}

// NewConversationHandler constructs a ConversationHandler.
func NewConversationHandler(hub *Hub, bridge *Bridge, users repositories.UserRepository, authService *auth.Service, audit *telemetry.AuditEmitter) *ConversationHandler {
	return &ConversationHandler{hub: hub, bridge: bridge, users: users, authService: authService, audit: audit}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle authenticates, upgrades and registers the client on the
// conversation's topic. The topic subscription and the hub registration are
// both released when the connection ends, whichever way it ends.
func (h *ConversationHandler) Handle(c *gin.Context) {
	partnerID, err := strconv.Atoi(c.Param("partner_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid partner id"})
		return
	}

	ctx, span := observability.Tracer("dm-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := c.GetHeader("Authorization")
	if token == "" {
		token = c.Query("token")
		if token != "" {
			token = "Bearer " + token
		}
	}

	userID, err := h.validateToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	if _, err := h.users.GetUser(ctx, partnerID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrUserNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "partner not found"})
		return
	}

	topic := push.Topic(userID, partnerID)
	if err := h.bridge.Ensure(topic); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "push channel unavailable"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.bridge.Release(topic)
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
	h.hub.AddClient(topic, conn, info)

	observability.IncWSActive()
	observability.IncWSEvent(telemetry.ActionWSConnect)
	h.audit.Emit(ctx, telemetry.ActionWSConnect, "websocket opened topic="+topic, info.RequestID, &userID)

	go func() {
		defer func() {
			h.hub.RemoveClient(topic, conn)
			h.bridge.Release(topic)
			conn.Close()
			observability.DecWSActive()
			observability.IncWSEvent(telemetry.ActionWSDisconnect)
			duration := time.Since(info.ConnectedAt).Milliseconds()
			h.audit.Emit(ctx, telemetry.ActionWSDisconnect,
				fmt.Sprintf("websocket closed topic=%s duration_ms=%d", topic, duration), info.RequestID, &userID)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					observability.IncWSEvent("ws_error")
				}
				return
			}
		}
	}()
}

func (h *ConversationHandler) validateToken(header string) (int, error) {
	parts := strings.Split(header, " ")
	if len(parts) == 2 {
		return h.authService.ValidateToken(parts[1])
	}
	return 0, fmt.Errorf("invalid token")
}
