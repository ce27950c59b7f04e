// Package backend talks to the chat service REST API: session history,
// assistant profiles, feedback and onboarding.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/llmbot-chat/internal/model/chat"
)

// ErrUnauthorized is returned when the backend rejects the credential.
var ErrUnauthorized = errors.New("backend rejected credential")

const historyPageSize = "9999"

// Client is an authenticated REST client.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient returns a client for the API rooted at baseURL. token is sent
// as a bearer credential when non-empty.
func NewClient(baseURL, token string, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
		logger:  logger.Named("backend"),
	}
}

type historyResponse struct {
	Items []chat.HistoryMessage `json:"Items"`
}

// SessionHistory returns every stored message of a session in order.
func (c *Client) SessionHistory(ctx context.Context, sessionID string) ([]chat.HistoryMessage, error) {
	query := url.Values{}
	query.Set("page_size", historyPageSize)
	query.Set("max_items", historyPageSize)

	var resp historyResponse
	path := "sessions/" + url.PathEscape(sessionID) + "/messages?" + query.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

type chatbotsResponse struct {
	ChatbotIDs []string `json:"chatbot_ids"`
}

// ListChatbots returns the assistant profile identifiers.
func (c *Client) ListChatbots(ctx context.Context) ([]string, error) {
	var resp chatbotsResponse
	if err := c.do(ctx, http.MethodGet, "chatbot-management/chatbots", nil, &resp); err != nil {
		return nil, err
	}
	return resp.ChatbotIDs, nil
}

// SubmitFeedback records a verdict on an answer. An empty verdict clears it.
func (c *Client) SubmitFeedback(ctx context.Context, fb chat.Feedback) error {
	if fb.SessionID == "" || fb.MessageID == "" {
		return errors.New("feedback requires session and message ids")
	}
	path := "sessions/" + url.PathEscape(fb.SessionID) + "/messages/" + url.PathEscape(fb.MessageID) + "/feedback"
	return c.do(ctx, http.MethodPost, path, fb, nil)
}

// DefaultChatbotExists reports whether the account already has a default
// assistant profile.
func (c *Client) DefaultChatbotExists(ctx context.Context) (bool, error) {
	var exists bool
	if err := c.do(ctx, http.MethodGet, "chatbot-management/default-chatbot", nil, &exists); err != nil {
		return false, err
	}
	return exists, nil
}

type createChatbotRequest struct {
	GroupName string `json:"groupName"`
}

type createChatbotResponse struct {
	ChatbotID string `json:"chatbotId"`
}

// CreateChatbot provisions an assistant profile for groupName.
func (c *Client) CreateChatbot(ctx context.Context, groupName string) (string, error) {
	var resp createChatbotResponse
	if err := c.do(ctx, http.MethodPost, "chatbot-management/chatbots", createChatbotRequest{GroupName: groupName}, &resp); err != nil {
		return "", err
	}
	if resp.ChatbotID == "" {
		return "", errors.New("create chatbot: empty chatbot id")
	}
	return resp.ChatbotID, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("request done",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s %s returned %d", ErrUnauthorized, method, path, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("%s %s returned status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
