package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// ErrTransport marks failures where no usable response was received.
var ErrTransport = errors.New("backend unreachable")

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 8 << 20

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: backend returned %d: %s", e.Op, e.Code, e.Body)
}

// IsTransport reports whether err means the backend could not answer:
// a network failure, a timeout, or a 5xx/429 status. Such requests can be
// retried by the user.
func IsTransport(err error) bool {
	if errors.Is(err, ErrTransport) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	return false
}

// Client calls the agent backend over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a client for baseURL. timeout bounds each request.
func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UnifiedChat sends one message to the selected agents.
func (c *Client) UnifiedChat(ctx context.Context, req UnifiedChatRequest) (*UnifiedChatResponse, error) {
	body, err := c.do(ctx, "unified chat", http.MethodPost, "/agents/unified-chat", req)
	if err != nil {
		return nil, err
	}
	var resp UnifiedChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unified chat: failed to unmarshal response: %w", err)
	}
	return &resp, nil
}

// FormattedChat asks a single agent.
func (c *Client) FormattedChat(ctx context.Context, req FormattedChatRequest) (*FormattedChatResponse, error) {
	body, err := c.do(ctx, "formatted chat", http.MethodPost, "/agents/chat/formatted", req)
	if err != nil {
		return nil, err
	}
	var resp FormattedChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("formatted chat: failed to unmarshal response: %w", err)
	}
	resp.Raw = body
	return &resp, nil
}

// StudentCoach asks the coaching agent.
func (c *Client) StudentCoach(ctx context.Context, req CoachRequest) (*CoachResponse, error) {
	body, err := c.do(ctx, "student coach", http.MethodPost, "/agents/student-coach", req)
	if err != nil {
		return nil, err
	}
	var resp CoachResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("student coach: failed to unmarshal response: %w", err)
	}
	resp.Raw = body
	return &resp, nil
}

// Status lists the backend's agents. Both a bare array and an object with
// an "agents" array are accepted.
func (c *Client) Status(ctx context.Context) ([]AgentStatus, error) {
	body, err := c.do(ctx, "agent status", http.MethodGet, "/agents/status", nil)
	if err != nil {
		return nil, err
	}
	list := body
	if r := gjson.GetBytes(body, "agents"); r.IsArray() {
		list = []byte(r.Raw)
	}
	var out []AgentStatus
	if err := json.Unmarshal(list, &out); err != nil {
		return nil, fmt.Errorf("agent status: failed to unmarshal response: %w", err)
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, in any) ([]byte, error) {
	var reqBody io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to marshal request: %w", op, err)
		}
		reqBody = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create request: %w", op, err)
	}
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Warn("backend request failed", "op", op, "path", path, "error", err)
		return nil, fmt.Errorf("%w: %s: %w", ErrTransport, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: failed to read response: %w", ErrTransport, op, err)
	}
	c.logger.Debug("backend request", "op", op, "status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Op: op, Code: resp.StatusCode, Body: truncate(string(body), 512)}
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
