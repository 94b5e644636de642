package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"dm-service/internal/conversations"
	"dm-service/internal/mocks"
	"dm-service/internal/models"
	"dm-service/internal/push"
	"dm-service/internal/repositories"
)

func setupMessageRouter(handler *MessageHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", 1)
		c.Next()
	})
	r.GET("/messages", handler.GetHistory)
	r.POST("/messages", handler.PostMessage)
	r.GET("/messages/conversations", handler.ListConversations)
	return r
}

func newMessageHandler(users *mocks.UserRepositoryMock, messages *mocks.MessageRepositoryMock, broker push.Broker) *MessageHandler {
	return NewMessageHandler(users, messages, conversations.NewService(messages), broker, nil)
}

func TestGetHistorySuccess(t *testing.T) {
	users := new(mocks.UserRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	handler := newMessageHandler(users, messages, push.NewMemoryBroker())
	router := setupMessageRouter(handler)

	users.On("GetUser", mock.Anything, 2).Return(models.User{ID: 2, Username: "bob"}, nil).Once()
	messages.On("ConversationHistory", mock.Anything, 1, 2).Return([]models.Message{
		{ID: 1, SenderID: 2, ReceiverID: 1, Content: "hi"},
		{ID: 2, SenderID: 1, ReceiverID: 2, Content: "hello"},
	}, nil).Once()
	messages.On("MarkConversationRead", mock.Anything, 1, 2).Return(int64(1), nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/messages?with=2", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "hi", resp.Messages[0].Content)

	users.AssertExpectations(t)
	messages.AssertExpectations(t)
}

func TestGetHistoryEmptyIsArray(t *testing.T) {
	users := new(mocks.UserRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	handler := newMessageHandler(users, messages, push.NewMemoryBroker())
	router := setupMessageRouter(handler)

	users.On("GetUser", mock.Anything, 2).Return(models.User{ID: 2}, nil).Once()
	messages.On("ConversationHistory", mock.Anything, 1, 2).Return(([]models.Message)(nil), nil).Once()
	messages.On("MarkConversationRead", mock.Anything, 1, 2).Return(int64(0), nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/messages?with=2", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"messages":[]`)
}

func TestGetHistoryMissingPartnerParam(t *testing.T) {
	handler := newMessageHandler(new(mocks.UserRepositoryMock), new(mocks.MessageRepositoryMock), push.NewMemoryBroker())
	router := setupMessageRouter(handler)

	for _, target := range []string{"/messages", "/messages?with=abc"} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestGetHistoryUnknownPartner(t *testing.T) {
	users := new(mocks.UserRepositoryMock)
	handler := newMessageHandler(users, new(mocks.MessageRepositoryMock), push.NewMemoryBroker())
	router := setupMessageRouter(handler)

	users.On("GetUser", mock.Anything, 42).Return(models.User{}, repositories.ErrUserNotFound).Once()

	req := httptest.NewRequest(http.MethodGet, "/messages?with=42", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	users.AssertExpectations(t)
}

func TestPostMessageSuccessPublishesEvent(t *testing.T) {
	users := new(mocks.UserRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	broker := push.NewMemoryBroker()
	handler := newMessageHandler(users, messages, broker)
	router := setupMessageRouter(handler)

	sub, err := broker.Subscribe(push.Topic(1, 2))
	require.NoError(t, err)

	stored := models.Message{ID: 9, SenderID: 1, ReceiverID: 2, Content: "hello", ClientToken: "tok-1", CreatedAt: time.Now()}
	users.On("GetUser", mock.Anything, 2).Return(models.User{ID: 2, Username: "bob"}, nil).Once()
	messages.On("CreateMessage", mock.Anything, 1, 2, "hello", "tok-1").Return(stored, nil).Once()

	body := bytes.NewBufferString(`{"content":"hello","receiver_id":2,"client_token":"tok-1"}`)
	req := httptest.NewRequest(http.MethodPost, "/messages", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp models.Message
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 9, resp.ID)
	assert.Equal(t, "tok-1", resp.ClientToken)

	select {
	case ev := <-sub.Events():
		assert.Equal(t, push.EventNewMessage, ev.Type)
		assert.Equal(t, 9, ev.Message.ID)
		assert.Equal(t, "tok-1", ev.Message.ClientToken)
	case <-time.After(time.Second):
		t.Fatal("no event on the conversation topic")
	}

	users.AssertExpectations(t)
	messages.AssertExpectations(t)
}

func TestPostMessageValidation(t *testing.T) {
	handler := newMessageHandler(new(mocks.UserRepositoryMock), new(mocks.MessageRepositoryMock), push.NewMemoryBroker())
	router := setupMessageRouter(handler)

	cases := []struct {
		name string
		body string
	}{
		{"missing content", `{"receiver_id":2}`},
		{"whitespace content", `{"content":"   ","receiver_id":2}`},
		{"missing receiver", `{"content":"hi"}`},
		{"too long", `{"content":"` + strings.Repeat("a", models.MaxContentLength+1) + `","receiver_id":2}`},
		{"self send", `{"content":"hi","receiver_id":1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/messages", bytes.NewBufferString(tc.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestPostMessageUnknownRecipient(t *testing.T) {
	users := new(mocks.UserRepositoryMock)
	handler := newMessageHandler(users, new(mocks.MessageRepositoryMock), push.NewMemoryBroker())
	router := setupMessageRouter(handler)

	users.On("GetUser", mock.Anything, 42).Return(models.User{}, repositories.ErrUserNotFound).Once()

	body := bytes.NewBufferString(`{"content":"hi","receiver_id":42}`)
	req := httptest.NewRequest(http.MethodPost, "/messages", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	users.AssertExpectations(t)
}

func TestPostMessageStoreError(t *testing.T) {
	users := new(mocks.UserRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	handler := newMessageHandler(users, messages, push.NewMemoryBroker())
	router := setupMessageRouter(handler)

	users.On("GetUser", mock.Anything, 2).Return(models.User{ID: 2}, nil).Once()
	messages.On("CreateMessage", mock.Anything, 1, 2, "hi", "").Return(models.Message{}, assert.AnError).Once()

	body := bytes.NewBufferString(`{"content":"hi","receiver_id":2}`)
	req := httptest.NewRequest(http.MethodPost, "/messages", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	messages.AssertExpectations(t)
}

func TestListConversationsSuccess(t *testing.T) {
	users := new(mocks.UserRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	handler := newMessageHandler(users, messages, push.NewMemoryBroker())
	router := setupMessageRouter(handler)

	bob := models.User{ID: 2, Username: "bob"}
	messages.On("ListUserMessages", mock.Anything, 1).Return([]models.Message{
		{ID: 3, SenderID: 2, ReceiverID: 1, Content: "latest", Sender: &bob, CreatedAt: time.Now()},
	}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/messages/conversations", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Conversations []models.ConversationSummary `json:"conversations"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Conversations, 1)
	assert.Equal(t, 2, resp.Conversations[0].Partner.ID)
	assert.Equal(t, "latest", resp.Conversations[0].LastMessage.Content)
	assert.Equal(t, 1, resp.Conversations[0].UnreadCount)

	messages.AssertExpectations(t)
}

func TestListConversationsRepoError(t *testing.T) {
	users := new(mocks.UserRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	handler := newMessageHandler(users, messages, push.NewMemoryBroker())
	router := setupMessageRouter(handler)

	messages.On("ListUserMessages", mock.Anything, 1).Return(([]models.Message)(nil), assert.AnError).Once()

	req := httptest.NewRequest(http.MethodGet, "/messages/conversations", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	messages.AssertExpectations(t)
}
