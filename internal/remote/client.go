// Package remote implements the client for the shared note service.
// All response payloads pass through note.Normalize before use; every
// failure mode (transport, non-2xx, malformed JSON) surfaces uniformly
// as apperrors.ErrRemoteUnavailable so the coordinator can degrade.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/fclairamb/pinnotes/internal/apperrors"
	"github.com/fclairamb/pinnotes/internal/note"
)

const (
	// NotesPath is the shared note service endpoint path.
	NotesPath = "/api/notes"

	// HTTP client configuration.
	httpTimeout = 30 * time.Second // Timeout for HTTP requests

	// Rate limiting configuration (~10 requests/second).
	rateLimitInterval = 100 * time.Millisecond

	// Retry configuration for 429 responses.
	maxRetries     = 3
	initialBackoff = time.Second
)

// Action identifies a mutation against a page's note collection.
type Action string

// Mutation actions accepted by the shared note service.
const (
	ActionAdd    Action = "add"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionClear  Action = "clear"
)

// Mutation is the POST body for a page-scoped mutation. Only the
// fields relevant to the action are set.
type Mutation struct {
	Page   string     `json:"page"`
	Action Action     `json:"action"`
	Note   *note.Note `json:"note,omitempty"`
	ID     string     `json:"id,omitempty"`
	Text   string     `json:"text,omitempty"`
	Author string     `json:"author,omitempty"`
}

// notesEnvelope is the response body for both list and mutate calls.
// Notes stay untyped until normalization.
type notesEnvelope struct {
	Notes []any `json:"notes"`
}

// Client talks to the shared note service with rate limiting.
type Client struct {
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	baseURL     string
	logger      *slog.Logger
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(client *Client) {
		client.logger = l
	}
}

// NewClient creates a shared note service client for the given base URL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	client := &Client{
		httpClient:  &http.Client{Timeout: httpTimeout},
		rateLimiter: rate.NewLimiter(rate.Every(rateLimitInterval), 1),
		baseURL:     baseURL,
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// List fetches the note collection for a page.
func (c *Client) List(ctx context.Context, page string) ([]note.Note, error) {
	query := "?page=" + url.QueryEscape(page)
	return c.do(ctx, http.MethodGet, query, nil)
}

// Mutate applies one mutation and returns the server's post-mutation
// note list. The result is the new ground truth for the page; callers
// must adopt it verbatim rather than merging with optimistic state.
func (c *Client) Mutate(ctx context.Context, m Mutation) ([]note.Note, error) {
	return c.do(ctx, http.MethodPost, "", &m)
}

// do performs one request with rate limiting and 429 retries. Any
// failure is wrapped in apperrors.ErrRemoteUnavailable.
func (c *Client) do(ctx context.Context, method, query string, body any) ([]note.Note, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	var jsonBody []byte
	if body != nil {
		var err error
		jsonBody, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
	}

	reqURL := c.baseURL + NotesPath + query
	c.logger.DebugContext(ctx, "notes request", "method", method, "url", reqURL)
	startTime := time.Now()

	backoff := initialBackoff
	for attempt := range maxRetries {
		// Rebuilt per attempt so a retry gets a fresh body reader.
		var bodyReader io.Reader
		if jsonBody != nil {
			bodyReader = bytes.NewReader(jsonBody)
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if jsonBody != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, unavailable(fmt.Errorf("do request: %w", err))
		}

		respBody, err := io.ReadAll(resp.Body)
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.WarnContext(ctx, "failed to close response body", "error", closeErr)
		}
		if err != nil {
			return nil, unavailable(fmt.Errorf("read response: %w", err))
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			c.logger.WarnContext(ctx, "rate limited, backing off", "attempt", attempt+1, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
				continue
			}
		}

		if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
			return nil, unavailable(apperrors.NewHTTPError(resp.StatusCode, errorBody(respBody)))
		}

		var envelope notesEnvelope
		if err := json.Unmarshal(respBody, &envelope); err != nil {
			return nil, unavailable(fmt.Errorf("unmarshal response: %w", err))
		}

		c.logger.DebugContext(ctx, "notes response",
			"method", method, "status", resp.StatusCode,
			"count", len(envelope.Notes), "duration", time.Since(startTime))

		return note.Normalize(envelope.Notes), nil
	}

	return nil, unavailable(apperrors.ErrMaxRetriesExceeded)
}

// unavailable collapses a failure into the single condition the
// coordinator degrades on.
func unavailable(cause error) error {
	return fmt.Errorf("%w: %w", apperrors.ErrRemoteUnavailable, cause)
}

// errorBody extracts the server's {"error": ...} message when present.
func errorBody(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return string(body)
}
