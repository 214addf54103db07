package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const maxErrorBody = 2048

// ConnectorClient talks to the platform connector sidecar over its REST API.
type ConnectorClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewConnectorClient(baseURL, token string, timeout time.Duration) *ConnectorClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &ConnectorClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type typingRequest struct {
	DurationMS int64 `json:"duration_ms"`
}

type sendRequest struct {
	Text    string `json:"text"`
	ReplyTo *int64 `json:"reply_to,omitempty"`
}

type sendResponse struct {
	MessageID int64 `json:"message_id"`
}

type editRequest struct {
	Text string `json:"text"`
}

func (c *ConnectorClient) MarkRead(ctx context.Context, conversationID int64) error {
	return c.do(ctx, http.MethodPost, conversationPath(conversationID, "read"), nil, nil)
}

func (c *ConnectorClient) ShowTyping(ctx context.Context, conversationID int64, d time.Duration) error {
	return c.do(ctx, http.MethodPost, conversationPath(conversationID, "typing"), typingRequest{DurationMS: d.Milliseconds()}, nil)
}

func (c *ConnectorClient) SendText(ctx context.Context, conversationID int64, text string, replyTo *int64) (int64, error) {
	var resp sendResponse
	if err := c.do(ctx, http.MethodPost, conversationPath(conversationID, "messages"), sendRequest{Text: text, ReplyTo: replyTo}, &resp); err != nil {
		return 0, err
	}
	if resp.MessageID == 0 {
		return 0, fmt.Errorf("connector returned no message id")
	}
	return resp.MessageID, nil
}

func (c *ConnectorClient) EditText(ctx context.Context, conversationID, messageID int64, text string) error {
	return c.do(ctx, http.MethodPatch, messagePath(conversationID, messageID), editRequest{Text: text}, nil)
}

func (c *ConnectorClient) DeleteMessage(ctx context.Context, conversationID, messageID int64) error {
	return c.do(ctx, http.MethodDelete, messagePath(conversationID, messageID), nil, nil)
}

func (c *ConnectorClient) ResolveEntity(ctx context.Context, conversationID int64) (*Entity, error) {
	var entity Entity
	if err := c.do(ctx, http.MethodGet, conversationPath(conversationID, "entity"), nil, &entity); err != nil {
		return nil, err
	}
	return &entity, nil
}

func conversationPath(conversationID int64, suffix string) string {
	return "/v1/conversations/" + strconv.FormatInt(conversationID, 10) + "/" + suffix
}

func messagePath(conversationID, messageID int64) string {
	return conversationPath(conversationID, "messages") + "/" + strconv.FormatInt(messageID, 10)
}

func (c *ConnectorClient) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%s %s: connector returned %s: %s", method, path, resp.Status, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}
