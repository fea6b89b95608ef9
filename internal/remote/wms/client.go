package wms

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/R3E-Network/geoharvest/internal/errors"
	"github.com/R3E-Network/geoharvest/internal/httputil"
)

const (
	Version130 = "1.3.0"
	Version111 = "1.1.1"
)

// Client requests capabilities documents.
type Client struct {
	http *httputil.Client
}

// NewClient wraps an HTTP client. Headers configured on it are sent with
// every request.
func NewClient(client *httputil.Client) *Client {
	if client == nil {
		client = httputil.NewClient(httputil.ClientConfig{})
	}
	return &Client{http: client}
}

// GetCapabilities fetches and parses the capabilities of the service at
// serviceURL. Version 1.3.0 is tried first and 1.1.1 when the response
// cannot be parsed.
func (c *Client) GetCapabilities(ctx context.Context, serviceURL string) (*Capabilities, error) {
	var lastErr error
	for _, version := range []string{Version130, Version111} {
		capsURL, err := CapabilitiesURL(serviceURL, version)
		if err != nil {
			return nil, err
		}
		body, _, err := c.http.GetBytes(ctx, capsURL)
		if err != nil {
			return nil, fmt.Errorf("fetch capabilities: %w", err)
		}
		caps, err := Parse(body)
		if err == nil {
			if caps.Version == "" {
				caps.Version = version
			}
			return caps, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", errors.ErrUnavailable, lastErr)
}

// CapabilitiesURL adds the GetCapabilities parameters to serviceURL,
// keeping any vendor parameters already present.
func CapabilitiesURL(serviceURL, version string) (string, error) {
	u, err := BaseURL(serviceURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("service", "WMS")
	q.Set("request", "GetCapabilities")
	q.Set("version", version)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// BaseURL parses serviceURL and strips the OGC request parameters so the
// remaining query only carries vendor parameters.
func BaseURL(serviceURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(serviceURL))
	if err != nil {
		return nil, errors.NewValidationError("url", err.Error())
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.NewValidationError("url", "must be absolute")
	}
	q := u.Query()
	for key := range q {
		switch strings.ToLower(key) {
		case "service", "request", "version":
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()
	u.ForceQuery = false
	u.Fragment = ""
	return u, nil
}
