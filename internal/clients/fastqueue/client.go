// Package fastqueue provides a client for the edge worker ingest queue
package fastqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bobmcallan/divvy/internal/common"
	"github.com/bobmcallan/divvy/internal/interfaces"
	"github.com/bobmcallan/divvy/internal/models"
)

const (
	DefaultTimeout = 10 * time.Second

	// PriorityHigh is the only priority the fast lane carries; lower
	// priorities go through the standard job queue instead.
	PriorityHigh = "high"
)

// Client implements the FastQueueClient interface
type Client struct {
	url        string
	token      string
	httpClient *http.Client
	logger     *common.Logger
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// NewClient creates a new fast queue client
func NewClient(url, token string, opts ...ClientOption) *Client {
	c := &Client{
		url:   url,
		token: token,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: common.NewSilentLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError represents a dispatch error
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("FastQueue error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// dispatchMessage is the batch payload the edge worker consumes
type dispatchMessage struct {
	Tickers   []string `json:"tickers"`
	Priority  string   `json:"priority"`
	Force     bool     `json:"force"`
	RequestID string   `json:"request_id"`
}

// Dispatch submits one batch of tickers for immediate processing.
// Any 2xx from the worker counts as queued; callers treat an error as
// a signal to fall back to the standard job path.
func (c *Client) Dispatch(ctx context.Context, tickers []string, force bool, requestID string) (*models.FastQueueResult, error) {
	if len(tickers) == 0 {
		return &models.FastQueueResult{Dispatched: false, Count: 0, RequestID: requestID}, nil
	}

	msg := dispatchMessage{
		Tickers:   tickers,
		Priority:  PriorityHigh,
		Force:     force,
		RequestID: requestID,
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal dispatch message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	c.logger.Debug().
		Int("tickers", len(tickers)).
		Str("request_id", requestID).
		Msg("FastQueue dispatch")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
			Endpoint:   c.url,
		}
	}

	return &models.FastQueueResult{
		Dispatched: true,
		Count:      len(tickers),
		RequestID:  requestID,
	}, nil
}

// Ensure Client implements FastQueueClient
var _ interfaces.FastQueueClient = (*Client)(nil)
