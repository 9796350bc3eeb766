package arcade

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

	"github.com/m4xw311/arcadechat/errors"
)

const (
	DefaultBaseURL = "https://api.arcade.dev"

	// defaultWaitSeconds is the longest server-side wait the status endpoint accepts.
	defaultWaitSeconds  = 59
	defaultPollInterval = time.Second
)

var ErrAuthorizationFailed = errors.Sentinel("authorization failed")

// APIError is a non-2xx response from the broker.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("arcade: HTTP %d: %s", e.StatusCode, e.Message)
}

// Client talks to the Arcade HTTP API.
type Client struct {
	baseURL      string
	apiKey       string
	httpClient   *http.Client
	waitSeconds  int
	pollInterval time.Duration
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithWaitSeconds sets the server-side wait per auth status request.
func WithWaitSeconds(n int) Option {
	return func(c *Client) { c.waitSeconds = n }
}

// WithPollInterval sets the pause between auth status requests that return pending.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.pollInterval = d }
}

// NewClient creates a Client. An empty baseURL selects DefaultBaseURL.
func NewClient(baseURL, apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("ARCADE_API_KEY environment variable not set")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		httpClient:   &http.Client{Timeout: (defaultWaitSeconds + 30) * time.Second},
		waitSeconds:  defaultWaitSeconds,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ListTools returns one page of the tools in a toolkit.
func (c *Client) ListTools(ctx context.Context, toolkit string, limit, offset int, userID string) (*ToolList, error) {
	q := url.Values{}
	if toolkit != "" {
		q.Set("toolkit", toolkit)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	if userID != "" {
		q.Set("user_id", userID)
	}
	var list ToolList
	if err := c.do(ctx, http.MethodGet, "/v1/tools", q, nil, &list); err != nil {
		return nil, errors.Wrapf(err, "failed to list tools for toolkit '%s'", toolkit)
	}
	return &list, nil
}

// GetToolDefinition fetches a single tool by qualified name.
func (c *Client) GetToolDefinition(ctx context.Context, name, userID string) (*ToolDefinition, error) {
	q := url.Values{"name": {name}}
	if userID != "" {
		q.Set("user_id", userID)
	}
	var def ToolDefinition
	if err := c.do(ctx, http.MethodGet, "/v1/tools/definition", q, nil, &def); err != nil {
		return nil, errors.Wrapf(err, "failed to get tool '%s'", name)
	}
	return &def, nil
}

// Authorize starts (or looks up) the grant a user needs to call a tool.
func (c *Client) Authorize(ctx context.Context, toolName, userID string) (*AuthorizationResponse, error) {
	var resp AuthorizationResponse
	body := authorizeRequest{ToolName: toolName, UserID: userID}
	if err := c.do(ctx, http.MethodPost, "/v1/tools/authorize", nil, body, &resp); err != nil {
		return nil, errors.Wrapf(err, "failed to authorize tool '%s'", toolName)
	}
	return &resp, nil
}

// AuthStatus reads an authorization, letting the server hold the request for
// up to wait seconds while it is pending.
func (c *Client) AuthStatus(ctx context.Context, id string, wait int) (*AuthorizationResponse, error) {
	q := url.Values{"id": {id}}
	if wait > 0 {
		q.Set("wait", strconv.Itoa(wait))
	}
	var resp AuthorizationResponse
	if err := c.do(ctx, http.MethodGet, "/v1/auth/status", q, nil, &resp); err != nil {
		return nil, errors.Wrapf(err, "failed to read authorization '%s'", id)
	}
	return &resp, nil
}

// WaitForCompletion blocks until the authorization completes. It fails with
// ErrAuthorizationFailed when the broker reports a failed grant, and with the
// context error when ctx is done first.
func (c *Client) WaitForCompletion(ctx context.Context, id string) (*AuthorizationResponse, error) {
	for {
		resp, err := c.AuthStatus(ctx, id, c.waitSeconds)
		if err != nil {
			return nil, err
		}
		switch resp.Status {
		case StatusCompleted:
			return resp, nil
		case StatusFailed:
			return resp, errors.Wrapf(ErrAuthorizationFailed, "authorization '%s'", id)
		}

		timer := time.NewTimer(c.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.Wrapf(ctx.Err(), "gave up waiting for authorization '%s'", id)
		case <-timer.C:
		}
	}
}

// Execute runs a tool for a user. A tool-level failure is reported in the
// response, not as an error.
func (c *Client) Execute(ctx context.Context, toolName string, input map[string]interface{}, userID string) (*ExecuteResponse, error) {
	var resp ExecuteResponse
	body := executeRequest{ToolName: toolName, Input: input, UserID: userID}
	if err := c.do(ctx, http.MethodPost, "/v1/tools/execute", nil, body, &resp); err != nil {
		return nil, errors.Wrapf(err, "failed to execute tool '%s'", toolName)
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrapf(err, "failed to encode request")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(err, "failed to read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			msg = apiErr.Message
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrapf(err, "failed to decode response")
	}
	return nil
}
