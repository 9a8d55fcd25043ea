package rest

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/hylla/witcopier/internal/app"
)

const (
	contentTypeJSON      = "application/json"
	contentTypeJSONPatch = "application/json-patch+json"
	defaultAPIVersion    = "7.1"
	defaultMaxRetries    = 3
	defaultTimeout       = 30 * time.Second
	maxBackoff           = 30 * time.Second
)

// Client is a thin JSON client for one collection of the work item tracking API.
// It authenticates with a personal access token and retries on HTTP 429 only.
// Server errors fail on the first attempt.
type Client struct {
	baseURL    string
	token      string
	apiVersion string
	httpClient *http.Client
	maxRetries int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithAPIVersion sets the api-version query parameter.
func WithAPIVersion(version string) Option {
	return func(c *Client) {
		if v := strings.TrimSpace(version); v != "" {
			c.apiVersion = v
		}
	}
}

// WithMaxRetries sets how often a rate-limited request is retried.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithTimeout sets the per-request timeout; zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d >= 0 {
			c.httpClient.Timeout = d
		}
	}
}

// NewClient creates a client for the collection rooted at baseURL
// (for example https://tfs.example.com/tfs/DefaultCollection).
func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:      token,
		apiVersion: defaultAPIVersion,
		httpClient: &http.Client{Timeout: defaultTimeout},
		maxRetries: defaultMaxRetries,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// BaseURL returns the collection URL the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get performs an HTTP GET request and unmarshals the JSON response.
func (c *Client) Get(ctx context.Context, path string, query url.Values, result any) error {
	return c.do(ctx, http.MethodGet, path, query, contentTypeJSON, nil, result)
}

// Post sends a JSON body and unmarshals the JSON response.
func (c *Client) Post(ctx context.Context, path string, query url.Values, body, result any) error {
	return c.do(ctx, http.MethodPost, path, query, contentTypeJSON, body, result)
}

// PostPatch sends a JSON Patch document with POST, as work item creation expects.
func (c *Client) PostPatch(ctx context.Context, path string, query url.Values, ops []PatchOperation, result any) error {
	return c.do(ctx, http.MethodPost, path, query, contentTypeJSONPatch, ops, result)
}

// Patch sends a JSON Patch document with PATCH.
func (c *Client) Patch(ctx context.Context, path string, query url.Values, ops []PatchOperation, result any) error {
	return c.do(ctx, http.MethodPatch, path, query, contentTypeJSONPatch, ops, result)
}

// endpoint joins the base URL, path, and query including the api-version.
func (c *Client) endpoint(path string, query url.Values) string {
	q := url.Values{}
	for k, v := range query {
		q[k] = v
	}
	q.Set("api-version", c.apiVersion)
	return c.baseURL + "/" + strings.TrimLeft(path, "/") + "?" + q.Encode()
}

// do builds the request, authenticates, retries rate-limited calls, and decodes JSON.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, contentType string, body, result any) error {
	target := c.endpoint(path, query)

	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		payload = data
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(":"+c.token)))
		}
		req.Header.Set("Accept", contentTypeJSON)
		if payload != nil {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("execute request %s %s: %w", method, path, err)
		}
		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return fmt.Errorf("read response body: %w", readErr)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			wait := retryAfterDuration(resp, attempt)
			lastErr = fmt.Errorf("rate limited (429) on %s %s", method, path)
			log.Debug("work item api rate limited", "method", method, "path", path, "attempt", attempt, "wait", wait)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
				continue
			}
		}
		if err := statusError(resp.StatusCode, method, path, respBody); err != nil {
			return err
		}
		if result == nil || resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(respBody)) == 0 {
			return nil
		}
		dec := json.NewDecoder(bytes.NewReader(respBody))
		dec.UseNumber()
		if err := dec.Decode(result); err != nil {
			return fmt.Errorf("unmarshal response from %s %s: %w", method, path, err)
		}
		return nil
	}
	return fmt.Errorf("max retries (%d) exceeded: %w", c.maxRetries, lastErr)
}

// ErrUnauthorized reports a rejected personal access token.
var ErrUnauthorized = errors.New("unauthorized")

// statusError maps non-2xx responses to errors; 404 wraps app.ErrNotFound.
func statusError(status int, method, path string, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	msg := strings.TrimSpace(string(body))
	var apiErr ErrorResponse
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
		msg = apiErr.Message
	}
	switch status {
	case http.StatusNotFound:
		return fmt.Errorf("%s %s: %w: %s", method, path, app.ErrNotFound, msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%s %s: %w (%d): check the personal access token", method, path, ErrUnauthorized, status)
	default:
		return fmt.Errorf("unexpected status %d on %s %s: %s", status, method, path, msg)
	}
}

// retryAfterDuration reads Retry-After or falls back to exponential backoff.
func retryAfterDuration(resp *http.Response, attempt int) time.Duration {
	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	backoff := time.Duration(1<<uint(attempt)) * time.Second
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	return backoff
}
