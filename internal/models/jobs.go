package models

import "time"

// Job represents a batch of ticker work tracked in the job table.
// A job fans out into one queue item per ticker; workers advance the
// processed/failed counters as items drain.
type Job struct {
	ID            string                 `json:"id"`
	JobType       string                 `json:"job_type"` // "dividend_update", "ticker_sync", "data_cleanup"
	Status        string                 `json:"status"`   // "pending", "processing", "completed", "failed", "cancelled"
	TickerSymbols []string               `json:"ticker_symbols"`
	Total         int                    `json:"total"`
	Processed     int                    `json:"processed"`
	Failed        int                    `json:"failed"`
	Priority      int                    `json:"priority"` // Informational — ordering happens at queue item level
	Force         bool                   `json:"force"`    // Bypass freshness skips for every ticker in the job
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	ErrorMessage  string                 `json:"error_message,omitempty"`
	RequestedBy   string                 `json:"requested_by,omitempty"`

	CreatedAt           time.Time `json:"created_at"`
	StartedAt           time.Time `json:"started_at"`
	CompletedAt         time.Time `json:"completed_at"`
	EstimatedCompletion time.Time `json:"estimated_completion"`
}

// IsTerminal reports whether the job has reached a final state.
func (j *Job) IsTerminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// QueueItem represents one ticker of work inside a job.
// Workers lease items by stamping locked_at/locked_by; a lease older than
// the visibility timeout is considered expired and the item becomes
// claimable again.
type QueueItem struct {
	ID           string    `json:"id"`
	JobID        string    `json:"job_id"`
	TickerSymbol string    `json:"ticker_symbol"`
	Priority     int       `json:"priority"`
	RetryCount   int       `json:"retry_count"`
	MaxRetries   int       `json:"max_retries"`
	ErrorMessage string    `json:"error_message,omitempty"`
	ScheduledAt  time.Time `json:"scheduled_at"`
	LockedAt     time.Time `json:"locked_at"`
	LockedBy     string    `json:"locked_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Job type constants
const (
	JobTypeDividendUpdate = "dividend_update"
	JobTypeTickerSync     = "ticker_sync"
	JobTypeDataCleanup    = "data_cleanup"
)

// Job status constants
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
	JobStatusCancelled  = "cancelled"
)

// Default priorities (higher = processed first)
const (
	PriorityDataCleanup    = 1
	PriorityTickerSync     = 3
	PriorityDividendUpdate = 5
	PriorityHigh           = 10
	PriorityNewTicker      = 15 // Fast-lane tickers jump the queue
)

// DefaultPriority returns the default priority for a job type.
func DefaultPriority(jobType string) int {
	switch jobType {
	case JobTypeDividendUpdate:
		return PriorityDividendUpdate
	case JobTypeTickerSync:
		return PriorityTickerSync
	case JobTypeDataCleanup:
		return PriorityDataCleanup
	default:
		return 0
	}
}

// EstimatedSecondsPerTicker is the planning figure used for job ETAs.
// One upstream call per ticker at 5 calls/minute works out to 12s each.
const EstimatedSecondsPerTicker = 12

// JobProgress is the detail view returned for a single job.
type JobProgress struct {
	Job                *Job    `json:"job"`
	Remaining          int     `json:"remaining"`
	Processing         int     `json:"processing"`
	PercentComplete    float64 `json:"percent_complete"`
	EstimatedRemaining int64   `json:"estimated_remaining_seconds"`
}

// JobEvent is broadcast via WebSocket when job state changes.
type JobEvent struct {
	Type      string    `json:"type"` // "job_queued", "job_started", "job_progress", "job_completed", "job_failed", "job_cancelled"
	Job       *Job      `json:"job"`
	Timestamp time.Time `json:"timestamp"`
	QueueSize int       `json:"queue_size"` // Current visible item count
}

// TickResult summarizes one worker pass over the queue.
type TickResult struct {
	RateLimited bool  `json:"rate_limited"`
	WaitMS      int64 `json:"wait_ms,omitempty"`
	Leased      int   `json:"leased"`
	Processed   int   `json:"processed"`
	Skipped     int   `json:"skipped"`
	Failed      int   `json:"failed"`
	Finalized   int   `json:"finalized"`
	DurationMS  int64 `json:"duration_ms"`
}
