// Package remote provides the HTTP client for the support platform API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxResponseBodySize caps how much of a response body is read (4MB).
const maxResponseBodySize = 4 << 20

// ErrTransport is returned when no response could be obtained from the API.
var ErrTransport = errors.New("support api unreachable")

// APIError is a structured rejection returned by the API.
type APIError struct {
	StatusCode int
	// Message is the "error" field of the response body, empty when the body
	// carried none.
	Message string
	Body    []byte
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("support api returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("support api returned %d", e.StatusCode)
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// DefaultConfig returns default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8080/api/v1",
		Timeout: 30 * time.Second,
	}
}

// Client talks to the support platform's REST API.
type Client struct {
	base   *url.URL
	token  string
	http   *http.Client
	logger *slog.Logger
}

// NewClient creates a new API client.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultConfig().BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api base url %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("api base url %q must be http or https", cfg.BaseURL)
	}

	return &Client{
		base:   base,
		token:  cfg.Token,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

// NewClientWithHTTP creates a client that uses the given http.Client.
func NewClientWithHTTP(cfg Config, hc *http.Client, logger *slog.Logger) (*Client, error) {
	c, err := NewClient(cfg, logger)
	if err != nil {
		return nil, err
	}
	if hc != nil {
		c.http = hc
	}
	return c, nil
}

// endpoint joins escaped path segments onto the base URL.
func (c *Client) endpoint(segments ...string) *url.URL {
	u := *c.base
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	u.Path = c.base.Path + "/" + strings.Join(segments, "/")
	u.RawPath = c.base.EscapedPath() + "/" + strings.Join(escaped, "/")
	return &u
}

func (c *Client) do(ctx context.Context, method string, u *url.URL, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
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
		c.logger.Debug("support api request failed", "method", method, "url", u.Redacted(), "error", err)
		return fmt.Errorf("%w: %s %s: %w", ErrTransport, method, u.Path, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close response body", "error", closeErr)
		}
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return fmt.Errorf("%w: read response: %w", ErrTransport, err)
	}

	c.logger.Debug("support api request",
		"method", method,
		"path", u.Path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    extractError(data),
			Body:       data,
		}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, u.Path, err)
	}
	return nil
}

// extractError returns the "error" text field of a JSON body, if any.
func extractError(body []byte) string {
	var payload struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.Error) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(payload.Error, &text); err != nil {
		return ""
	}
	return text
}
