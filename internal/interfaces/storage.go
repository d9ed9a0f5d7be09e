// Package interfaces defines service contracts for Divvy
package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/divvy/internal/models"
)

// StorageManager coordinates all storage backends
type StorageManager interface {
	// Storage accessors
	TickerStore() TickerStore
	DividendStore() DividendStore
	JobStore() JobStore
	QueueStore() QueueStore
	BudgetStore() BudgetStore
	UserStore() UserStore
	SubscriptionStore() SubscriptionStore

	// Ping verifies the backing database connection is alive.
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// TickerStore manages the registry of tracked tickers.
type TickerStore interface {
	// Upsert registers a symbol, reactivating it when previously inactive.
	// Existing rows keep their created_at and last_dividend_update.
	Upsert(ctx context.Context, symbol string) (*models.Ticker, error)

	// Get retrieves one ticker by symbol
	Get(ctx context.Context, symbol string) (*models.Ticker, error)

	// List returns tracked tickers, optionally active rows only
	List(ctx context.Context, activeOnly bool) ([]*models.Ticker, error)

	// SetLastDividendUpdate stamps the last successful dividend refresh
	SetLastDividendUpdate(ctx context.Context, symbol string, t time.Time) error

	// Count returns the number of tracked tickers
	Count(ctx context.Context) (int, error)
}

// DividendFilter narrows dividend queries. Dates are inclusive ISO
// YYYY-MM-DD strings compared against ex_dividend_date.
type DividendFilter struct {
	StartDate string
	EndDate   string
	Limit     int
	Offset    int
}

// DividendStore persists dividend history rows.
type DividendStore interface {
	// UpsertBatch writes records in one transaction, keyed by
	// ticker + ex_dividend_date. Invalid records are counted in the
	// result, never raised as errors.
	UpsertBatch(ctx context.Context, ticker string, dividends []*models.Dividend) (*models.UpsertResult, error)

	// ListByTicker returns dividends for one ticker, newest ex-date first
	ListByTicker(ctx context.Context, ticker string, filter DividendFilter) ([]*models.Dividend, error)

	// ListAll returns dividends across all tickers
	ListAll(ctx context.Context, filter DividendFilter) ([]*models.Dividend, error)

	// ListForTickers returns dividends restricted to the given symbols
	ListForTickers(ctx context.Context, symbols []string, filter DividendFilter) ([]*models.Dividend, error)

	// CountByTicker returns the stored row count for one ticker
	CountByTicker(ctx context.Context, ticker string) (int, error)
}

// JobFilter narrows job listings.
type JobFilter struct {
	Status  string
	JobType string
	Limit   int
	Offset  int
	Sort    string // created_at (default), priority, status
	Order   string // desc (default), asc
}

// JobStore manages job lifecycle rows.
type JobStore interface {
	// Create fills defaults (id, pending status, total, completion
	// estimate) and inserts the job.
	Create(ctx context.Context, job *models.Job) error

	Get(ctx context.Context, id string) (*models.Job, error)
	List(ctx context.Context, filter JobFilter) ([]*models.Job, error)

	// MarkProcessing transitions pending to processing, stamping
	// started_at once. A job in any other status is left untouched.
	MarkProcessing(ctx context.Context, id string) error

	// Advance atomically increments the processed and failed counters.
	Advance(ctx context.Context, id string, processedDelta, failedDelta int) error

	// Finalize sets a terminal status unless the job already reached one.
	Finalize(ctx context.Context, id string, status string, errorMessage string) error

	// Cancel transitions pending to cancelled. Jobs that left pending
	// return a Conflict store error.
	Cancel(ctx context.Context, id string) error

	Delete(ctx context.Context, id string) error
	PurgeCompleted(ctx context.Context, olderThan time.Time) (int, error)
}

// QueueStore manages the per-ticker work items backing jobs.
type QueueStore interface {
	// Enqueue creates one item per symbol for the given job. maxRetries
	// is the per-item retry ceiling; non-positive falls back to 3.
	Enqueue(ctx context.Context, jobID string, symbols []string, priority int, maxRetries int) error

	// Lease claims up to limit visible items for workerID. An item is
	// visible when scheduled_at has passed, retries are not exhausted,
	// and any previous lock has expired. Items come back ordered by
	// priority descending, then scheduled_at ascending.
	Lease(ctx context.Context, limit int, workerID string, leaseTTL time.Duration) ([]*models.QueueItem, error)

	// Complete removes a finished item
	Complete(ctx context.Context, id string) error

	// Fail deletes the item when retries are exhausted, otherwise bumps
	// retry_count, pushes scheduled_at out with exponential backoff, and
	// clears the lock.
	Fail(ctx context.Context, item *models.QueueItem, itemErr error) error

	// Release clears the lock without a retry penalty
	Release(ctx context.Context, id string) error

	CountByJob(ctx context.Context, jobID string) (int, error)
	CountLockedByJob(ctx context.Context, jobID string) (int, error)

	// DeleteByJob removes all items for a job, leased or not
	DeleteByJob(ctx context.Context, jobID string) (int, error)

	// Pending returns currently visible items for introspection
	Pending(ctx context.Context, limit int) ([]*models.QueueItem, error)
}

// BudgetStore persists rate budget counters and the call audit log.
type BudgetStore interface {
	Get(ctx context.Context, service string) (*models.RateBudget, error)
	Put(ctx context.Context, budget *models.RateBudget) error
	AppendCallLog(ctx context.Context, log *models.CallLog) error
	CountCallsSince(ctx context.Context, service string, since time.Time) (int, error)
	PurgeCallLogs(ctx context.Context, olderThan time.Time) (int, error)
}

// UserStore manages API consumers.
type UserStore interface {
	GetByKey(ctx context.Context, apiKey string) (*models.APIUser, error)
	Upsert(ctx context.Context, user *models.APIUser) error
	List(ctx context.Context) ([]*models.APIUser, error)

	// TouchLastUsed stamps last_used_at. Callers treat failures as non-fatal.
	TouchLastUsed(ctx context.Context, apiKey string, t time.Time) error
}

// SubscriptionStore manages user/ticker subscription pairs.
type SubscriptionStore interface {
	Get(ctx context.Context, userID, ticker string) (*models.Subscription, error)
	Upsert(ctx context.Context, sub *models.Subscription) error
	Delete(ctx context.Context, userID, ticker string) error
	ListByUser(ctx context.Context, userID string) ([]*models.Subscription, error)
	CountByUser(ctx context.Context, userID string) (int, error)
	AppendActivity(ctx context.Context, entry *models.SubscriptionActivity) error
	ListActivity(ctx context.Context, userID string, limit int) ([]*models.SubscriptionActivity, error)
}
