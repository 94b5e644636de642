// Package client talks to a running dm-service over HTTP and websocket. It
// implements the sync engine's loader and sender contracts, so an Engine
// wired with a Client reconciles against a live server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"dm-service/internal/models"
	"dm-service/internal/msgsync"
)

// Client is an authenticated API client for one user.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a client for the service at baseURL, authenticating with the
// bearer token.
func New(baseURL, token string) *Client {
	return &Client{baseURL: baseURL, token: token, http: http.DefaultClient}
}

// History fetches the conversation with the partner, oldest-first.
func (c *Client) History(ctx context.Context, partnerID int) ([]models.Message, error) {
	endpoint := c.baseURL + "/messages?with=" + strconv.Itoa(partnerID)
	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// Send persists a new message, passing the correlation token through.
func (c *Client) Send(ctx context.Context, receiverID int, content, clientToken string) (models.Message, error) {
	body := map[string]any{
		"content":      content,
		"receiver_id":  receiverID,
		"client_token": clientToken,
	}
	var msg models.Message
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/messages", body, http.StatusCreated, &msg); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// Conversations fetches the inbox summary list.
func (c *Client) Conversations(ctx context.Context) ([]models.ConversationSummary, error) {
	var resp struct {
		Conversations []models.ConversationSummary `json:"conversations"`
	}
	if err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/messages/conversations", nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

// SearchUsers finds partner candidates for a new conversation.
func (c *Client) SearchUsers(ctx context.Context, query string) ([]models.User, error) {
	endpoint := c.baseURL + "/users/search?q=" + url.QueryEscape(query)
	var resp struct {
		Users []models.User `json:"users"`
	}
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, body any, wantStatus int, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (status %d)", method, endpoint, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, endpoint, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var (
	_ msgsync.Loader = (*Client)(nil)
	_ msgsync.Sender = (*Client)(nil)
)
