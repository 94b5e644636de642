package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"dm-service/internal/conversations"
	"dm-service/internal/models"
	"dm-service/internal/observability"
	"dm-service/internal/push"
	"dm-service/internal/repositories"
	"dm-service/internal/telemetry"
)

// MessageHandler manages direct-message endpoints.
type MessageHandler struct {
	users     repositories.UserRepository
	messages  repositories.MessageRepository
	summaries *conversations.Service
	broker    push.Broker
	audit     *telemetry.AuditEmitter
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(users repositories.UserRepository, messages repositories.MessageRepository, summaries *conversations.Service, broker push.Broker, audit *telemetry.AuditEmitter) *MessageHandler {
	return &MessageHandler{
		users:     users,
		messages:  messages,
		summaries: summaries,
		broker:    broker,
		audit:     audit,
	}
}

// GetHistory returns the conversation with the partner given by ?with=,
// oldest-first. As a side effect the partner's unread messages to the caller
// are marked read.
func (h *MessageHandler) GetHistory(c *gin.Context) {
	partnerParam := c.Query("with")
	if partnerParam == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing 'with' parameter"})
		return
	}
	partnerID, err := strconv.Atoi(partnerParam)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid partner id"})
		return
	}

	userID := c.GetInt("userID")
	if _, err := h.users.GetUser(c.Request.Context(), partnerID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrUserNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "partner not found"})
		return
	}

	msgs, err := h.messages.ConversationHistory(c.Request.Context(), userID, partnerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	marked, err := h.messages.MarkConversationRead(c.Request.Context(), userID, partnerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark messages read"})
		return
	}
	if marked > 0 {
		h.audit.Emit(c.Request.Context(), telemetry.ActionConversationRead,
			fmt.Sprintf("marked %d messages read partner=%d", marked, partnerID), requestIDFromContext(c), userIDFromContext(c))
	}

	if msgs == nil {
		msgs = []models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostMessage validates and persists a message, broadcasts it on the
// conversation topic and returns the durable result with the client token
// echoed.
func (h *MessageHandler) PostMessage(c *gin.Context) {
	var req struct {
		Content     string `json:"content" binding:"required"`
		ReceiverID  int    `json:"receiver_id" binding:"required"`
		ClientToken string `json:"client_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if strings.TrimSpace(req.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message cannot be empty"})
		return
	}
	if len(req.Content) > models.MaxContentLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("message cannot exceed %d characters", models.MaxContentLength)})
		return
	}

	userID := c.GetInt("userID")
	if req.ReceiverID == userID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot message yourself"})
		return
	}

	if _, err := h.users.GetUser(c.Request.Context(), req.ReceiverID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrUserNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "recipient not found"})
		return
	}

	msg, err := h.messages.CreateMessage(c.Request.Context(), userID, req.ReceiverID, req.Content, req.ClientToken)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store message"})
		return
	}
	observability.IncMessageSent()

	topic := push.Topic(userID, req.ReceiverID)
	if err := h.broker.Publish(c.Request.Context(), topic, push.Event{Type: push.EventNewMessage, Message: msg}); err != nil {
		// Receivers fall back to history reload; the write already succeeded.
		observability.IncPushPublishError()
	}

	h.audit.Emit(c.Request.Context(), telemetry.ActionMessageSent,
		fmt.Sprintf("message %d sent receiver=%d", msg.ID, req.ReceiverID), requestIDFromContext(c), userIDFromContext(c))

	c.JSON(http.StatusCreated, msg)
}

// ListConversations returns the caller's inbox: one summary per distinct
// partner, ordered by recency of each conversation's latest message.
func (h *MessageHandler) ListConversations(c *gin.Context) {
	userID := c.GetInt("userID")

	summaries, err := h.summaries.Summaries(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversations": summaries})
}
