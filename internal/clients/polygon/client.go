// Package polygon provides a client for the Polygon.io reference API
package polygon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/bobmcallan/divvy/internal/common"
	"github.com/bobmcallan/divvy/internal/interfaces"
	"github.com/bobmcallan/divvy/internal/models"
)

// flexFloat64 handles JSON values that may be either a number or a string.
type flexFloat64 float64

func (f *flexFloat64) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		*f = flexFloat64(num)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "" || s == "N/A" {
			*f = 0
			return nil
		}
		num, err := strconv.ParseFloat(s, 64)
		if err != nil {
			*f = 0
			return nil
		}
		*f = flexFloat64(num)
		return nil
	}
	return fmt.Errorf("cannot unmarshal %s into float64", string(data))
}

const (
	DefaultBaseURL   = "https://api.polygon.io"
	DefaultTimeout   = 10 * time.Second
	DefaultRateLimit = 5 // requests per minute (free tier)
)

// Client implements the PolygonClient interface
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets the base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets the pacing limit in requests per minute
func WithRateLimit(requestsPerMinute int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), requestsPerMinute)
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

// NewClient creates a new Polygon client
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Every(time.Minute/DefaultRateLimit), DefaultRateLimit),
		logger:  common.NewSilentLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError represents an API error
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("Polygon API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// get performs a rate-limited GET request against a path under the base URL
func (c *Client) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	if params == nil {
		params = url.Values{}
	}
	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())
	return c.getURL(ctx, reqURL, path, result)
}

// getURL performs a rate-limited GET against a fully formed URL. The
// API key travels as a query parameter, matching next_url cursors which
// carry every parameter except the key.
func (c *Client) getURL(ctx context.Context, rawURL, endpoint string, result interface{}) error {
	// Wait for rate limiter
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("failed to parse request URL: %w", err)
	}
	q := u.Query()
	q.Set("apiKey", c.apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	c.logger.Debug().Str("endpoint", endpoint).Msg("Polygon API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(body),
			Endpoint:   endpoint,
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

const dividendsPath = "/v3/reference/dividends"

// GetDividends retrieves dividend records for a ticker. An empty
// ticker scans the whole market, which is how the bulk recent pass
// walks ex-dividend dates.
func (c *Client) GetDividends(ctx context.Context, ticker string, opts ...interfaces.DividendOption) (*models.PolygonDividendsResponse, error) {
	params := &interfaces.DividendParams{
		Order: "asc",
		Limit: 1000,
	}
	for _, opt := range opts {
		opt(params)
	}

	urlParams := url.Values{}
	if ticker != "" {
		urlParams.Set("ticker", ticker)
	}
	urlParams.Set("order", params.Order)
	urlParams.Set("sort", "ex_dividend_date")
	urlParams.Set("limit", strconv.Itoa(params.Limit))

	if !params.From.IsZero() {
		urlParams.Set("ex_dividend_date.gte", params.From.Format("2006-01-02"))
	}
	if !params.To.IsZero() {
		urlParams.Set("ex_dividend_date.lte", params.To.Format("2006-01-02"))
	}

	var page dividendsPage
	if err := c.get(ctx, dividendsPath, urlParams, &page); err != nil {
		return nil, err
	}
	return page.toModel(), nil
}

// GetDividendsPage follows a next_url cursor from a previous response
func (c *Client) GetDividendsPage(ctx context.Context, nextURL string) (*models.PolygonDividendsResponse, error) {
	var page dividendsPage
	if err := c.getURL(ctx, nextURL, dividendsPath, &page); err != nil {
		return nil, err
	}
	return page.toModel(), nil
}

// dividendRecord represents one dividend in the API response
type dividendRecord struct {
	ID              string      `json:"id"`
	Ticker          string      `json:"ticker"`
	DeclarationDate string      `json:"declaration_date"`
	RecordDate      string      `json:"record_date"`
	ExDividendDate  string      `json:"ex_dividend_date"`
	PayDate         string      `json:"pay_date"`
	CashAmount      flexFloat64 `json:"cash_amount"`
	Currency        string      `json:"currency"`
	Frequency       int         `json:"frequency"`
	DividendType    string      `json:"dividend_type"`
}

// dividendsPage represents one page of the API response
type dividendsPage struct {
	Results   []dividendRecord `json:"results"`
	Status    string           `json:"status"`
	RequestID string           `json:"request_id"`
	Count     int              `json:"count"`
	NextURL   string           `json:"next_url"`
}

func (p *dividendsPage) toModel() *models.PolygonDividendsResponse {
	out := &models.PolygonDividendsResponse{
		Status:    p.Status,
		RequestID: p.RequestID,
		Count:     p.Count,
		NextURL:   p.NextURL,
		Results:   make([]models.PolygonDividend, len(p.Results)),
	}
	for i, r := range p.Results {
		out.Results[i] = models.PolygonDividend{
			ID:              r.ID,
			Ticker:          r.Ticker,
			DeclarationDate: r.DeclarationDate,
			RecordDate:      r.RecordDate,
			ExDividendDate:  r.ExDividendDate,
			PayDate:         r.PayDate,
			CashAmount:      float64(r.CashAmount),
			Currency:        r.Currency,
			Frequency:       r.Frequency,
			DividendType:    r.DividendType,
		}
	}
	return out
}

// Ensure Client implements PolygonClient
var _ interfaces.PolygonClient = (*Client)(nil)
