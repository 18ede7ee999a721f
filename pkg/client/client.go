// Package client is the Go SDK for the coach service: a REST client, a
// ConnectionManager that keeps one registered realtime connection per
// identity, and Store/LiveList which reconcile change events into local lists.
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
	"strings"
	"sync"
	"time"

	"coach-service/internal/models"
)

// Client is the coach service REST client.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

// New creates a new API client. baseURL is the server root, e.g.
// "http://localhost:8080".
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Token returns the bearer token sent with each request.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetToken replaces the bearer token. An empty token logs the client out.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// WebSocketURL returns the realtime endpoint derived from the base URL.
func (c *Client) WebSocketURL() string {
	switch {
	case strings.HasPrefix(c.baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(c.baseURL, "https://") + "/api/v1/ws"
	case strings.HasPrefix(c.baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(c.baseURL, "http://") + "/api/v1/ws"
	default:
		return c.baseURL + "/api/v1/ws"
	}
}

// Register creates an account. It does not log in.
func (c *Client) Register(ctx context.Context, req models.RegisterRequest) (*models.UserResponse, error) {
	var u models.UserResponse
	if err := c.post(ctx, "/api/v1/auth/register", req, &u); err != nil {
		return nil, fmt.Errorf("client.Register: %w", err)
	}
	return &u, nil
}

// Login authenticates and stores the returned token on the client.
func (c *Client) Login(ctx context.Context, email, password string) (*models.LoginResponse, error) {
	var resp models.LoginResponse
	req := models.LoginRequest{Email: email, Password: password}
	if err := c.post(ctx, "/api/v1/auth/login", req, &resp); err != nil {
		return nil, fmt.Errorf("client.Login: %w", err)
	}
	c.SetToken(resp.Token)
	return &resp, nil
}

// Me returns the authenticated user's profile.
func (c *Client) Me(ctx context.Context) (*models.UserResponse, error) {
	var u models.UserResponse
	if err := c.get(ctx, "/api/v1/users/me", &u); err != nil {
		return nil, fmt.Errorf("client.Me: %w", err)
	}
	return &u, nil
}

// ListSessions returns every session the caller takes part in.
func (c *Client) ListSessions(ctx context.Context) ([]models.Session, error) {
	var sessions []models.Session
	if err := c.get(ctx, "/api/v1/sessions", &sessions); err != nil {
		return nil, fmt.Errorf("client.ListSessions: %w", err)
	}
	return sessions, nil
}

// CreateSession schedules a session with req.CounterpartID.
func (c *Client) CreateSession(ctx context.Context, req models.CreateSessionRequest) (*models.Session, error) {
	var s models.Session
	if err := c.post(ctx, "/api/v1/sessions", req, &s); err != nil {
		return nil, fmt.Errorf("client.CreateSession: %w", err)
	}
	return &s, nil
}

// UpdateSession applies the set fields of req.
func (c *Client) UpdateSession(ctx context.Context, id string, req models.UpdateSessionRequest) (*models.Session, error) {
	var s models.Session
	if err := c.doRequest(ctx, http.MethodPut, "/api/v1/sessions/"+url.PathEscape(id), req, &s); err != nil {
		return nil, fmt.Errorf("client.UpdateSession: %w", err)
	}
	return &s, nil
}

// DeleteSession deletes a session.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	if err := c.doRequest(ctx, http.MethodDelete, "/api/v1/sessions/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("client.DeleteSession: %w", err)
	}
	return nil
}

// ListInvoices returns every invoice the caller takes part in, newest first.
func (c *Client) ListInvoices(ctx context.Context) ([]models.Invoice, error) {
	var invoices []models.Invoice
	if err := c.get(ctx, "/api/v1/invoices", &invoices); err != nil {
		return nil, fmt.Errorf("client.ListInvoices: %w", err)
	}
	return invoices, nil
}

// CreateInvoice drafts an invoice. Only coaches may call it.
func (c *Client) CreateInvoice(ctx context.Context, req models.CreateInvoiceRequest) (*models.Invoice, error) {
	var inv models.Invoice
	if err := c.post(ctx, "/api/v1/invoices", req, &inv); err != nil {
		return nil, fmt.Errorf("client.CreateInvoice: %w", err)
	}
	return &inv, nil
}

// UpdateInvoice applies the set fields of req.
func (c *Client) UpdateInvoice(ctx context.Context, id string, req models.UpdateInvoiceRequest) (*models.Invoice, error) {
	var inv models.Invoice
	if err := c.doRequest(ctx, http.MethodPut, "/api/v1/invoices/"+url.PathEscape(id), req, &inv); err != nil {
		return nil, fmt.Errorf("client.UpdateInvoice: %w", err)
	}
	return &inv, nil
}

// ListConversations returns the caller's conversations.
func (c *Client) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	var conversations []models.Conversation
	if err := c.get(ctx, "/api/v1/conversations", &conversations); err != nil {
		return nil, fmt.Errorf("client.ListConversations: %w", err)
	}
	return conversations, nil
}

// OpenConversation returns the conversation with counterpartID, creating it if needed.
func (c *Client) OpenConversation(ctx context.Context, counterpartID string) (*models.Conversation, error) {
	var conv models.Conversation
	req := models.CreateConversationRequest{CounterpartID: counterpartID}
	if err := c.post(ctx, "/api/v1/conversations", req, &conv); err != nil {
		return nil, fmt.Errorf("client.OpenConversation: %w", err)
	}
	return &conv, nil
}

// ListMessages returns up to limit messages in chronological order. A
// non-zero before pages back from that instant.
func (c *Client) ListMessages(ctx context.Context, conversationID string, limit int, before time.Time) ([]models.Message, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if !before.IsZero() {
		params.Set("before", strconv.FormatInt(before.UnixMilli(), 10))
	}
	path := "/api/v1/conversations/" + url.PathEscape(conversationID) + "/messages"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var messages []models.Message
	if err := c.get(ctx, path, &messages); err != nil {
		return nil, fmt.Errorf("client.ListMessages: %w", err)
	}
	return messages, nil
}

// SendMessage posts text to a conversation.
func (c *Client) SendMessage(ctx context.Context, conversationID, text string) (*models.Message, error) {
	var msg models.Message
	path := "/api/v1/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.post(ctx, path, models.SendMessageRequest{Text: text}, &msg); err != nil {
		return nil, fmt.Errorf("client.SendMessage: %w", err)
	}
	return &msg, nil
}

// DeleteMessage deletes one of the caller's own messages.
func (c *Client) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	path := "/api/v1/conversations/" + url.PathEscape(conversationID) + "/messages/" + url.PathEscape(messageID)
	if err := c.doRequest(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("client.DeleteMessage: %w", err)
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	if resp.StatusCode >= 400 {
		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB max error body
		if readErr != nil {
			return &HTTPError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("failed to read body: %v", readErr)}
		}
		var apiErr models.ErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return &HTTPError{StatusCode: resp.StatusCode, Message: apiErr.Message, Details: apiErr.Details}
		}
		return &HTTPError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.doRequest(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.doRequest(ctx, http.MethodPost, path, body, out)
}
