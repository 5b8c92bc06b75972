package storefront

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// RequestIDHeader carries a per-request correlation id
const RequestIDHeader = "X-Request-ID"

// TokenSource yields the bearer token for outbound requests, "" when anonymous
type TokenSource interface {
	Token() string
}

// Client performs JSON requests against the storefront REST backend
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	log     *slog.Logger
}

// NewClient creates a client for the backend rooted at baseURL
func NewClient(baseURL string, tokens TokenSource, opts ...Option) *Client {
	config := newConfig(opts)
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    config.HTTPClient,
		tokens:  tokens,
		log:     config.Logger.With(slog.String("component", "rest_client")),
	}
}

// Do sends body as JSON and decodes a 2xx response into out (when non-nil).
// A response with any other status becomes a *RemoteError carrying the
// "message" field of the body. No response at all becomes a *NetworkError.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}

	requestID := uuid.NewString()
	req.Header.Set(RequestIDHeader, requestID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	log := c.log.With(
		slog.String("method", method),
		slog.String("path", path),
		slog.String("request_id", requestID))

	resp, err := c.http.Do(req)
	if err != nil {
		log.Warn("request failed", slog.String("error", err.Error()))
		return &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Warn("reading response failed", slog.String("error", err.Error()))
		return &NetworkError{Err: err}
	}

	log.Debug("response received", slog.Int("status", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var envelope struct {
			Message string `json:"message"`
		}
		// A non-JSON error body still yields a RemoteError with its status
		_ = json.Unmarshal(data, &envelope)
		return &RemoteError{StatusCode: resp.StatusCode, Message: envelope.Message}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
