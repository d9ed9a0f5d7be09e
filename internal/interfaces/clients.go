// Package interfaces defines service contracts for Divvy
package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/divvy/internal/models"
)

// PolygonClient provides access to the Polygon.io reference API
type PolygonClient interface {
	// GetDividends retrieves dividend records for a ticker
	GetDividends(ctx context.Context, ticker string, opts ...DividendOption) (*models.PolygonDividendsResponse, error)

	// GetDividendsPage follows a next_url cursor from a previous response
	GetDividendsPage(ctx context.Context, nextURL string) (*models.PolygonDividendsResponse, error)
}

// DividendOption configures dividend reference requests
type DividendOption func(*DividendParams)

// DividendParams holds dividend query parameters
type DividendParams struct {
	From  time.Time
	To    time.Time
	Order string // asc, desc
	Limit int
}

// WithDateRange restricts results by ex-dividend date
func WithDateRange(from, to time.Time) DividendOption {
	return func(p *DividendParams) {
		p.From = from
		p.To = to
	}
}

// WithOrder sets the ex-dividend date sort order
func WithOrder(order string) DividendOption {
	return func(p *DividendParams) {
		p.Order = order
	}
}

// WithPageLimit sets the page size
func WithPageLimit(limit int) DividendOption {
	return func(p *DividendParams) {
		p.Limit = limit
	}
}

// FastQueueClient dispatches tickers to the low-latency ingest lane.
// Implementations post to an external queue worker; a nil client means
// the lane is not deployed and callers fall back to the job path.
type FastQueueClient interface {
	// Dispatch submits one batch of tickers for immediate processing
	Dispatch(ctx context.Context, tickers []string, force bool, requestID string) (*models.FastQueueResult, error)
}
