package relay

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

	"github.com/google/uuid"
)

// Client talks to a relay server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the relay at baseURL
// (e.g. "http://127.0.0.1:8000/").
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// NewMessage wraps text in a message with a fresh unique id.
func NewMessage(text string) Message {
	return Message{ID: uuid.New().String(), Text: text}
}

// BaseURL returns the relay base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// FileURL returns the public URL of a file in the relay's audio directory.
func (c *Client) FileURL(name string) string {
	return c.baseURL + "/" + url.PathEscape(name)
}

// WebSocketURL returns the subscription endpoint.
func (c *Client) WebSocketURL() string {
	u := c.baseURL + "/ws"
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}

// GetLastMessage fetches the current message. It returns ErrNoMessage when
// the relay is empty.
func (c *Client) GetLastMessage(ctx context.Context) (*Message, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/get_last_msg", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch last message: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNoMessage
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("relay error (status %d): %s", resp.StatusCode, string(body))
	}

	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.ID == "" {
		return nil, fmt.Errorf("failed to parse message: missing id")
	}
	return &msg, nil
}

// PushMessage stores msg as the relay's last message.
func (c *Client) PushMessage(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/push_msg", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to push message: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		if resp.StatusCode == http.StatusBadRequest {
			return fmt.Errorf("%w: %s", ErrInvalidMessage, strings.TrimSpace(string(respBody)))
		}
		return fmt.Errorf("relay error (status %d): %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// Push sends text as a new message and returns the generated id.
func (c *Client) Push(ctx context.Context, text string) (string, error) {
	msg := NewMessage(text)
	if err := c.PushMessage(ctx, msg); err != nil {
		return "", err
	}
	return msg.ID, nil
}
