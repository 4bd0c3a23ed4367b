package refreshclient

// Package refreshclient exchanges a bearer token at a remote refresh endpoint.
// The new token is located in the JSON response with a JMESPath expression.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	jmespath "github.com/jmespath-community/go-jmespath"
)

const (
	// DefaultTokenPath selects a top-level "token" field.
	DefaultTokenPath = "token"
	defaultTimeout   = 5 * time.Second
	maxResponseBytes = 1 << 20
)

// ErrRefreshRejected is returned for non-2xx responses.
var ErrRefreshRejected = errors.New("refresh endpoint rejected token")

// Options configures a Client.
type Options struct {
	Endpoint   string
	TokenPath  string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client implements ports.RefreshClient.
type Client struct {
	endpoint  string
	tokenPath string
	http      *http.Client
}

// New validates options and builds a Client.
func New(opts Options) (*Client, error) {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		return nil, errors.New("refreshclient: endpoint is required")
	}
	path := strings.TrimSpace(opts.TokenPath)
	if path == "" {
		path = DefaultTokenPath
	}
	if _, err := jmespath.Compile(path); err != nil {
		return nil, fmt.Errorf("refreshclient: invalid token path %q: %w", path, err)
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{endpoint: endpoint, tokenPath: path, http: hc}, nil
}

// Refresh posts token as a bearer credential and returns the replacement.
func (c *Client) Refresh(ctx context.Context, token string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("refresh request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read refresh response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: status %d", ErrRefreshRejected, resp.StatusCode)
	}
	return c.extract(body)
}

func (c *Client) extract(body []byte) (string, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("decode refresh response: %w", err)
	}
	v, err := jmespath.Search(c.tokenPath, doc)
	if err != nil {
		return "", fmt.Errorf("evaluate token path: %w", err)
	}
	tok, ok := v.(string)
	if !ok || strings.TrimSpace(tok) == "" {
		return "", fmt.Errorf("refresh response has no token at %q", c.tokenPath)
	}
	return tok, nil
}
