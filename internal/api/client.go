//go:generate go run go.uber.org/mock/mockgen -source=client.go -destination=../mocks/mock_backend.go -package=mocks
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/metrics"
	"github.com/supportchat/internal/model"
)

// Backend is the durable store and room directory the messaging core reads from.
type Backend interface {
	History(ctx context.Context, room string) ([]model.ChatMessage, error)
	UnreadCount(ctx context.Context) (int, error)
	Rooms(ctx context.Context) ([]model.ChatRoom, error)
	MarkRoomRead(ctx context.Context, room string) error
}

// StatusError is returned for a non-2xx response.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("api %s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("api %s: status %d: %s", e.Op, e.Status, e.Body)
}

// Client calls the store over HTTP on behalf of one identity.
type Client struct {
	baseURL    string
	identity   model.Identity
	httpClient *http.Client
}

var _ Backend = (*Client)(nil)

func NewClient(baseURL string, identity model.Identity, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		identity: identity,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SetHTTPClient replaces the HTTP client (optional).
func (c *Client) SetHTTPClient(hc *http.Client) {
	if hc != nil {
		c.httpClient = hc
	}
}

type unreadResponse struct {
	Count int `json:"count"`
}

// History returns the stored log of a room, oldest first as the store sends it.
func (c *Client) History(ctx context.Context, room string) ([]model.ChatMessage, error) {
	var out []model.ChatMessage
	if err := c.do(ctx, "history", http.MethodGet, "/api/chat/history/"+url.PathEscape(room), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UnreadCount returns the authoritative global unread count of the caller.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var out unreadResponse
	if err := c.do(ctx, "unread_count", http.MethodGet, "/api/chat/unread-count", nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// Rooms returns the agent's room directory.
func (c *Client) Rooms(ctx context.Context) ([]model.ChatRoom, error) {
	var out []model.ChatRoom
	if err := c.do(ctx, "rooms", http.MethodGet, "/api/chat/rooms", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkRoomRead persists that the caller has read everything in room.
func (c *Client) MarkRoomRead(ctx context.Context, room string) error {
	return c.do(ctx, "mark_read", http.MethodPost, "/api/chat/rooms/"+url.PathEscape(room)+"/read", struct{}{}, nil)
}

func (c *Client) do(ctx context.Context, op, method, path string, body, dest any) error {
	defer logger.DeferLogDuration("api."+op, time.Now())()
	start := time.Now()
	defer func() { metrics.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds()) }()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("api %s: marshal: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("api %s: request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-User-Id", c.identity.UserID)
	if c.identity.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.identity.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("api %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("api %s: decode: %w", op, err)
	}
	return nil
}
