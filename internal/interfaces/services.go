// Package interfaces defines service contracts for Divvy
package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/divvy/internal/models"
)

// BudgetService admits or defers outbound calls against per-service budgets
type BudgetService interface {
	// CheckAndReserve consumes one slot when the budget allows it. A
	// non-admitted result carries the wait until the next slot opens.
	CheckAndReserve(ctx context.Context, service string) (models.Admission, error)

	// RecordCall appends the outcome of a completed upstream call to the
	// audit log. Failures are logged, never propagated.
	RecordCall(ctx context.Context, log *models.CallLog)

	// TimeUntilNextCall reports how long until a slot opens, without
	// consuming one.
	TimeUntilNextCall(ctx context.Context, service string) (time.Duration, error)
}

// DividendService fetches, transforms, and persists dividend history
type DividendService interface {
	// FetchDividends retrieves and transforms upstream records for one
	// ticker without persisting them. Kind selects the date window
	// (models.FetchKindHistorical or models.FetchKindRecent).
	FetchDividends(ctx context.Context, ticker string, kind string) ([]*models.Dividend, error)

	// FetchBulkRecent scans recent ex-dividend dates across the whole
	// market, one paginated pass, persisting as it goes.
	FetchBulkRecent(ctx context.Context, daysBack int, pageSize int) (*models.BulkFetchResult, error)

	// ProcessTicker runs the freshness gate, fetch, upsert, and stamp
	// cycle for one ticker.
	ProcessTicker(ctx context.Context, symbol string, force bool, kind string) (*models.ProcessResult, error)

	// RenderChart draws stored dividend amounts by ex-date as a PNG
	RenderChart(ctx context.Context, ticker string, years int) ([]byte, error)
}

// JobManagerService submits and supervises background ticker jobs
type JobManagerService interface {
	// SubmitJob creates a job with one queue item per symbol and
	// announces it to websocket listeners.
	SubmitJob(ctx context.Context, jobType string, symbols []string, priority int, force bool, metadata map[string]interface{}) (*models.Job, error)

	// Cancel stops a pending job and deletes its queue items. Jobs
	// past pending return a Conflict store error.
	Cancel(ctx context.Context, jobID string) error

	// Progress reports counters, queue depth, and ETA for one job
	Progress(ctx context.Context, jobID string) (*models.JobProgress, error)

	List(ctx context.Context, filter JobFilter) ([]*models.Job, error)

	// Tick runs one worker pass over the queue
	Tick(ctx context.Context) (*models.TickResult, error)
}

// IngestService routes and fans out ticker update requests
type IngestService interface {
	// RouteTicker decides the lane for one symbol. Store failures fall
	// back to the fast lane rather than erroring.
	RouteTicker(ctx context.Context, symbol string) models.RouteDecision

	// UpdateTickers registers the symbols, routes each, dispatches the
	// fast-lane share, and creates a job for the bulk share.
	UpdateTickers(ctx context.Context, req *models.UpdateTickersRequest) (*models.IngestResult, error)
}

// SubscriptionService manages user dividend subscriptions
type SubscriptionService interface {
	List(ctx context.Context, userID string) ([]*models.Subscription, error)

	// Subscribe creates or updates a subscription, enforcing the user's
	// cap on new pairs, and triggers a backfill for the ticker.
	Subscribe(ctx context.Context, user *models.APIUser, ticker string, priority int) (*models.Subscription, error)

	// Unsubscribe removes a subscription; missing pairs return NotFound.
	Unsubscribe(ctx context.Context, user *models.APIUser, ticker string) error

	// BulkApply runs subscribe or unsubscribe across tickers, returning
	// a per-ticker outcome. The cap is evaluated as the set grows.
	BulkApply(ctx context.Context, user *models.APIUser, action string, tickers []string, priority int) ([]*models.BulkSubscriptionOutcome, error)

	// MyDividends joins the user's subscribed tickers with stored dividends
	MyDividends(ctx context.Context, userID string, filter DividendFilter) ([]*models.Dividend, error)
}
