// Package transport is the stateless request/response fallback used when
// the persistent channel is unavailable, and for history and list reads.
package transport

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
	"time"

	"github.com/matheus3301/casesync/internal/chat"
)

// DefaultTimeout bounds every fallback request.
const DefaultTimeout = 15 * time.Second

// Client is the fallback RPC surface.
type Client interface {
	FetchMessages(ctx context.Context, caseID string, q MessageQuery) (*MessagePage, error)
	SendMessage(ctx context.Context, req SendRequest) (*chat.Message, error)
	MarkRead(ctx context.Context, ids []string) (*MarkReadResult, error)
	FetchConversations(ctx context.Context) (*ConversationList, error)
	FetchUnreadCount(ctx context.Context) (*chat.UnreadCount, error)
}

// HTTPClient talks JSON to the messaging REST API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var _ Client = (*HTTPClient)(nil)

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *HTTPClient) { c.httpClient.Timeout = d }
}

// WithToken sets the bearer credential.
func WithToken(token string) Option {
	return func(c *HTTPClient) { c.token = token }
}

// NewHTTPClient returns a client for the API rooted at baseURL.
func NewHTTPClient(baseURL string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchMessages returns one page of a case conversation, newest first from
// the server's perspective; callers must not rely on page order.
func (c *HTTPClient) FetchMessages(ctx context.Context, caseID string, q MessageQuery) (*MessagePage, error) {
	query := url.Values{}
	if q.OtherUserID != "" {
		query.Set("other_user_id", q.OtherUserID)
	}
	if q.Limit > 0 {
		query.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.BeforeID != "" {
		query.Set("before_id", q.BeforeID)
	}
	data, err := c.do(ctx, http.MethodGet, "/api/messages/"+url.PathEscape(caseID), nil, query)
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	return decodeJSON[MessagePage](data)
}

// SendMessage persists a message through the fallback path and returns the
// server's copy.
func (c *HTTPClient) SendMessage(ctx context.Context, req SendRequest) (*chat.Message, error) {
	data, err := c.do(ctx, http.MethodPost, "/api/messages", req, nil)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return decodeJSON[chat.Message](data)
}

// MarkRead marks messages read on the server.
func (c *HTTPClient) MarkRead(ctx context.Context, ids []string) (*MarkReadResult, error) {
	body := map[string][]string{"message_ids": ids}
	data, err := c.do(ctx, http.MethodPost, "/api/messages/read", body, nil)
	if err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	return decodeJSON[MarkReadResult](data)
}

// FetchConversations returns the conversation list.
func (c *HTTPClient) FetchConversations(ctx context.Context) (*ConversationList, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/messages/conversations", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch conversations: %w", err)
	}
	return decodeJSON[ConversationList](data)
}

// FetchUnreadCount returns the unread totals.
func (c *HTTPClient) FetchUnreadCount(ctx context.Context) (*chat.UnreadCount, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/messages/unread", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch unread count: %w", err)
	}
	return decodeJSON[chat.UnreadCount](data)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.Unmarshal(data, apiErr)
		return nil, apiErr
	}
	return data, nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &result, nil
}
