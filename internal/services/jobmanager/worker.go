package jobmanager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bobmcallan/divvy/internal/models"
)

type itemOutcome int

const (
	outcomeProcessed itemOutcome = iota
	outcomeSkipped
	outcomeFailed
	outcomeIgnored
	outcomeRateLimited
)

// Tick runs one worker pass: probe the rate budget, lease a batch,
// process items in lease order, then finalize any touched job whose
// queue drained.
func (m *Manager) Tick(ctx context.Context) (*models.TickResult, error) {
	start := time.Now()
	result := &models.TickResult{}

	// Non-consuming probe; each item's fetch reserves its own slot.
	wait, err := m.budget.TimeUntilNextCall(ctx, models.ServicePolygon)
	if err != nil {
		return nil, fmt.Errorf("failed to check rate budget: %w", err)
	}
	if wait > 0 {
		result.RateLimited = true
		result.WaitMS = wait.Milliseconds()
		result.DurationMS = time.Since(start).Milliseconds()
		return result, nil
	}

	items, err := m.storage.QueueStore().Lease(ctx, m.config.GetBatchSize(), m.workerID, m.config.GetLeaseTimeout())
	if err != nil {
		return nil, fmt.Errorf("failed to lease queue items: %w", err)
	}
	result.Leased = len(items)
	if len(items) == 0 {
		result.DurationMS = time.Since(start).Milliseconds()
		return result, nil
	}

	touched := make(map[string]bool, len(items))
	pause := m.config.GetItemPause()

	for i, item := range items {
		if ctx.Err() != nil {
			break
		}
		// Courtesy sleep between items so back-to-back fetches do not
		// burst through upstream caches.
		if i > 0 && pause > 0 && !sleepCtx(ctx, pause) {
			break
		}

		outcome, waitMS := m.processItem(ctx, item)
		touched[item.JobID] = true

		if outcome == outcomeRateLimited {
			// Stop the batch. The current item and the rest keep their
			// leases until the TTL or the next tick.
			result.RateLimited = true
			result.WaitMS = waitMS
			break
		}

		switch outcome {
		case outcomeProcessed:
			result.Processed++
		case outcomeSkipped:
			result.Skipped++
		case outcomeFailed:
			result.Failed++
		case outcomeIgnored:
		}
	}

	result.Finalized = m.finalizeDrained(ctx, touched)
	result.DurationMS = time.Since(start).Milliseconds()

	m.logger.Debug().
		Int("leased", result.Leased).
		Int("processed", result.Processed).
		Int("skipped", result.Skipped).
		Int("failed", result.Failed).
		Int("finalized", result.Finalized).
		Bool("rate_limited", result.RateLimited).
		Int64("duration_ms", result.DurationMS).
		Msg("Worker tick complete")

	return result, nil
}

// processItem runs one leased queue item through its job's handler and
// settles the item and the job counters.
func (m *Manager) processItem(ctx context.Context, item *models.QueueItem) (itemOutcome, int64) {
	job, err := m.storage.JobStore().Get(ctx, item.JobID)
	if err != nil || job == nil || job.IsTerminal() {
		// Orphaned or cancelled owner. Drop the item without touching
		// any counters.
		if cerr := m.storage.QueueStore().Complete(ctx, item.ID); cerr != nil {
			m.logger.Warn().Err(cerr).Str("item", item.ID).Msg("Failed to drop orphaned queue item")
		}
		return outcomeIgnored, 0
	}

	if job.Status == models.JobStatusPending {
		if merr := m.storage.JobStore().MarkProcessing(ctx, job.ID); merr != nil {
			m.logger.Warn().Err(merr).Str("job_id", job.ID).Msg("Failed to mark job processing")
		} else {
			job.Status = models.JobStatusProcessing
			m.broadcast(ctx, EventJobStarted, job)
		}
	}

	itemCtx, cancelItem := context.WithTimeout(ctx, m.config.GetItemTimeout())
	res, runErr := m.runItem(itemCtx, job, item.TickerSymbol)
	cancelItem()

	if runErr != nil {
		if models.IsRateLimited(runErr) {
			var fe *models.FetchError
			if errors.As(runErr, &fe) {
				return outcomeRateLimited, fe.WaitMS
			}
			return outcomeRateLimited, 0
		}

		// Fail reschedules until retries exhaust, then removes the item.
		// The job's failed counter advances only on that final attempt.
		final := item.RetryCount+1 > item.MaxRetries
		if ferr := m.storage.QueueStore().Fail(ctx, item, runErr); ferr != nil {
			m.logger.Warn().Err(ferr).Str("item", item.ID).Msg("Failed to settle failed queue item")
		}
		m.logger.Warn().
			Err(runErr).
			Str("job_id", job.ID).
			Str("ticker", item.TickerSymbol).
			Int("retry", item.RetryCount).
			Bool("final", final).
			Msg("Queue item failed")
		if final {
			m.advance(ctx, job, 0, 1)
		}
		return outcomeFailed, 0
	}

	if cerr := m.storage.QueueStore().Complete(ctx, item.ID); cerr != nil {
		m.logger.Warn().Err(cerr).Str("item", item.ID).Msg("Failed to complete queue item")
	}
	m.advance(ctx, job, 1, 0)

	if res != nil && res.Skipped {
		m.logger.Debug().Str("ticker", item.TickerSymbol).Str("job_id", job.ID).Msg("Queue item skipped, data fresh")
		return outcomeSkipped, 0
	}
	return outcomeProcessed, 0
}

// runItem dispatches one queue item to its job type's handler.
func (m *Manager) runItem(ctx context.Context, job *models.Job, symbol string) (*models.ProcessResult, error) {
	switch job.JobType {
	case models.JobTypeDividendUpdate:
		return m.dividend.ProcessTicker(ctx, symbol, job.Force, models.FetchKindHistorical)
	case models.JobTypeTickerSync:
		return m.dividend.ProcessTicker(ctx, symbol, job.Force, models.FetchKindRecent)
	case models.JobTypeDataCleanup:
		return nil, m.runCleanup(ctx)
	default:
		return nil, fmt.Errorf("unknown job type: %s", job.JobType)
	}
}

// runCleanup purges call logs and terminal jobs past the retention window.
func (m *Manager) runCleanup(ctx context.Context) error {
	cutoff := m.now().Add(-m.config.GetPurgeAfter())

	logs, err := m.storage.BudgetStore().PurgeCallLogs(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to purge call logs: %w", err)
	}
	jobs, err := m.storage.JobStore().PurgeCompleted(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to purge completed jobs: %w", err)
	}

	m.logger.Info().Int("call_logs", logs).Int("jobs", jobs).Msg("Data cleanup complete")
	return nil
}

// advance bumps the job counters and broadcasts progress.
func (m *Manager) advance(ctx context.Context, job *models.Job, processedDelta, failedDelta int) {
	if err := m.storage.JobStore().Advance(ctx, job.ID, processedDelta, failedDelta); err != nil {
		m.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to advance job counters")
		return
	}
	job.Processed += processedDelta
	job.Failed += failedDelta
	m.broadcast(ctx, EventJobProgress, job)
}

// finalizeDrained closes out touched jobs whose queue is now empty:
// completed when anything processed, failed otherwise.
func (m *Manager) finalizeDrained(ctx context.Context, jobIDs map[string]bool) int {
	finalized := 0
	for jobID := range jobIDs {
		remaining, err := m.storage.QueueStore().CountByJob(ctx, jobID)
		if err != nil {
			m.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to count queue items")
			continue
		}
		if remaining > 0 {
			continue
		}

		job, err := m.storage.JobStore().Get(ctx, jobID)
		if err != nil || job == nil || job.IsTerminal() {
			continue
		}

		status := models.JobStatusCompleted
		event := EventJobCompleted
		if job.Processed == 0 {
			status = models.JobStatusFailed
			event = EventJobFailed
		}
		if err := m.storage.JobStore().Finalize(ctx, jobID, status, ""); err != nil {
			m.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to finalize job")
			continue
		}

		job.Status = status
		m.broadcast(ctx, event, job)
		finalized++

		m.logger.Info().
			Str("job_id", jobID).
			Str("status", status).
			Int("processed", job.Processed).
			Int("failed", job.Failed).
			Msg("Job finalized")
	}
	return finalized
}

// sleepCtx sleeps for d or until the context is done. Returns false on
// cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
