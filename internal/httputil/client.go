// Package httputil provides the HTTP client used to talk to remote map
// services.
package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/R3E-Network/geoharvest/internal/errors"
)

const (
	maxErrorBody    = 64 << 10
	maxResponseBody = 8 << 20
)

// Client issues paced requests to remote services. Per-service headers
// are attached to every request.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	headers    map[string]string
	userAgent  string
	username   string
	password   string
}

// ClientConfig configures a Client.
type ClientConfig struct {
	HTTPClient        *http.Client
	Timeout           time.Duration
	RequestsPerSecond float64
	Headers           map[string]string
	UserAgent         string
}

// NewClient creates a client. A zero RequestsPerSecond disables pacing.
func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "geoharvest/1.0"
	}

	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = v
	}

	return &Client{
		httpClient: httpClient,
		limiter:    limiter,
		headers:    headers,
		userAgent:  userAgent,
	}
}

// WithHeaders returns a copy of the client that also sends headers. The
// copy shares the underlying transport and limiter.
func (c *Client) WithHeaders(headers map[string]string) *Client {
	clone := *c
	clone.headers = make(map[string]string, len(c.headers)+len(headers))
	for k, v := range c.headers {
		clone.headers[k] = v
	}
	for k, v := range headers {
		clone.headers[k] = v
	}
	return &clone
}

// WithBasicAuth returns a copy of the client that authenticates with
// username and password.
func (c *Client) WithBasicAuth(username, password string) *Client {
	clone := *c
	clone.username = username
	clone.password = password
	return &clone
}

// Headers returns a copy of the headers sent on every request.
func (c *Client) Headers() map[string]string {
	out := make(map[string]string, len(c.headers))
	for k, v := range c.headers {
		out[k] = v
	}
	return out
}

// Do sends a request. JSON-encodable bodies are marshalled; []byte and
// io.Reader bodies are sent as is.
func (c *Client) Do(ctx context.Context, method, rawURL string, body interface{}, contentType string) (*http.Response, error) {
	var bodyReader io.Reader
	switch b := body.(type) {
	case nil:
	case io.Reader:
		bodyReader = b
	case []byte:
		bodyReader = bytes.NewReader(b)
	default:
		encoded, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
		if contentType == "" {
			contentType = "application/json"
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("User-Agent", c.userAgent)
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", errors.ErrUnavailable, method, rawURL, err)
	}
	return resp, nil
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	return c.Do(ctx, http.MethodGet, rawURL, nil, "")
}

// GetJSON fetches rawURL and decodes the JSON body into target.
func (c *Client) GetJSON(ctx context.Context, rawURL string, target interface{}) error {
	resp, err := c.Get(ctx, rawURL)
	if err != nil {
		return err
	}
	return DecodeResponse(resp, target)
}

// GetBytes fetches rawURL and returns the body and its content type.
func (c *Client) GetBytes(ctx context.Context, rawURL string) ([]byte, string, error) {
	resp, err := c.Get(ctx, rawURL)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if err := CheckStatus(resp); err != nil {
		return nil, "", err
	}
	body, err := ReadAllStrict(resp.Body, maxResponseBody)
	if err != nil {
		return nil, "", fmt.Errorf("read response body: %w", err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// CheckStatus converts a 4xx/5xx response into an error carrying a
// truncated copy of the body. The body is not closed.
func CheckStatus(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}
	body, truncated, err := ReadAllWithLimit(resp.Body, maxErrorBody)
	if err != nil {
		return fmt.Errorf("read error response body: %w", err)
	}
	msg := strings.TrimSpace(string(body))
	if truncated {
		msg += "...(truncated)"
	}
	return fmt.Errorf("%w: request failed with status %d: %s", errors.ErrUnavailable, resp.StatusCode, msg)
}

// DecodeResponse decodes a JSON response into the target struct.
func DecodeResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()

	if err := CheckStatus(resp); err != nil {
		return err
	}

	if target == nil {
		if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody)); err != nil {
			return fmt.Errorf("discard response body: %w", err)
		}
		return nil
	}

	body, err := ReadAllStrict(resp.Body, maxResponseBody)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// ReadAllWithLimit reads at most limit bytes and reports whether the body
// was longer.
func ReadAllWithLimit(r io.Reader, limit int64) ([]byte, bool, error) {
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(body)) > limit {
		return body[:limit], true, nil
	}
	return body, false, nil
}

// ReadAllStrict reads the whole body and fails when it exceeds limit.
func ReadAllStrict(r io.Reader, limit int64) ([]byte, error) {
	body, truncated, err := ReadAllWithLimit(r, limit)
	if err != nil {
		return nil, err
	}
	if truncated {
		return nil, fmt.Errorf("response body exceeds %d bytes", limit)
	}
	return body, nil
}
