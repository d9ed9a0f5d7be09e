// Package jobmanager supervises background dividend jobs: submission,
// cancellation, progress reporting, and the worker loop that drains the
// per-ticker queue under the upstream rate budget.
package jobmanager

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/divvy/internal/common"
	"github.com/bobmcallan/divvy/internal/interfaces"
	"github.com/bobmcallan/divvy/internal/models"
)

// Compile-time interface check
var _ interfaces.JobManagerService = (*Manager)(nil)

// WebSocket event types.
const (
	EventJobQueued    = "job_queued"
	EventJobStarted   = "job_started"
	EventJobProgress  = "job_progress"
	EventJobCompleted = "job_completed"
	EventJobFailed    = "job_failed"
	EventJobCancelled = "job_cancelled"
)

// Manager runs the job lifecycle and the polling worker loop.
// Multiple instances may compete over the same queue; item leases keep
// them from double-processing.
type Manager struct {
	storage  interfaces.StorageManager
	dividend interfaces.DividendService
	budget   interfaces.BudgetService
	logger   *common.Logger
	config   common.JobManagerConfig
	hub      *Hub
	workerID string

	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time // injectable clock for testing
}

// NewManager creates a new job manager.
func NewManager(
	storage interfaces.StorageManager,
	dividend interfaces.DividendService,
	budget interfaces.BudgetService,
	logger *common.Logger,
	config common.JobManagerConfig,
) *Manager {
	return &Manager{
		storage:  storage,
		dividend: dividend,
		budget:   budget,
		logger:   logger,
		config:   config,
		hub:      NewHub(logger),
		workerID: "worker-" + uuid.New().String()[:8],
		now:      time.Now,
	}
}

// Hub returns the WebSocket hub for handler registration.
func (m *Manager) Hub() *Hub {
	return m.hub
}

// SubmitJob creates a job, fans it out into one queue item per symbol,
// and announces it to websocket listeners.
func (m *Manager) SubmitJob(ctx context.Context, jobType string, symbols []string, priority int, force bool, metadata map[string]interface{}) (*models.Job, error) {
	if len(symbols) == 0 {
		return nil, errors.New("job needs at least one symbol")
	}
	switch jobType {
	case models.JobTypeDividendUpdate, models.JobTypeTickerSync, models.JobTypeDataCleanup:
	default:
		return nil, fmt.Errorf("unknown job type: %s", jobType)
	}
	if priority <= 0 {
		priority = models.DefaultPriority(jobType)
	}

	job := &models.Job{
		JobType:       jobType,
		TickerSymbols: symbols,
		Priority:      priority,
		Force:         force,
		Metadata:      metadata,
	}
	if err := m.storage.JobStore().Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	if err := m.storage.QueueStore().Enqueue(ctx, job.ID, symbols, priority, m.config.GetMaxRetries()); err != nil {
		// The job row exists but got no items; fail it so it cannot sit
		// pending forever.
		if ferr := m.storage.JobStore().Finalize(ctx, job.ID, models.JobStatusFailed, "failed to enqueue queue items"); ferr != nil {
			m.logger.Warn().Err(ferr).Str("job_id", job.ID).Msg("Failed to finalize unenqueued job")
		}
		return nil, fmt.Errorf("failed to enqueue job items: %w", err)
	}

	m.broadcast(ctx, EventJobQueued, job)
	m.logger.Info().
		Str("job_id", job.ID).
		Str("job_type", jobType).
		Int("tickers", len(symbols)).
		Int("priority", priority).
		Bool("force", force).
		Msg("Job submitted")

	return job, nil
}

// Cancel stops a pending job and deletes its queue items. The store
// rejects jobs past pending with a Conflict error, which passes through
// for the handler to map.
func (m *Manager) Cancel(ctx context.Context, jobID string) error {
	if err := m.storage.JobStore().Cancel(ctx, jobID); err != nil {
		return err
	}

	if n, err := m.storage.QueueStore().DeleteByJob(ctx, jobID); err != nil {
		m.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to delete queue items for cancelled job")
	} else if n > 0 {
		m.logger.Debug().Str("job_id", jobID).Int("items", n).Msg("Deleted queue items for cancelled job")
	}

	if job, err := m.storage.JobStore().Get(ctx, jobID); err == nil {
		m.broadcast(ctx, EventJobCancelled, job)
	}

	m.logger.Info().Str("job_id", jobID).Msg("Job cancelled")
	return nil
}

// Progress reports counters, queue depth, and a remaining-time estimate
// for one job.
func (m *Manager) Progress(ctx context.Context, jobID string) (*models.JobProgress, error) {
	job, err := m.storage.JobStore().Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	remaining, err := m.storage.QueueStore().CountByJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to count queue items: %w", err)
	}
	processing, err := m.storage.QueueStore().CountLockedByJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to count leased items: %w", err)
	}

	percent := 100.0
	if job.Total > 0 {
		percent = float64(job.Processed+job.Failed) / float64(job.Total) * 100
	}

	return &models.JobProgress{
		Job:                job,
		Remaining:          remaining,
		Processing:         processing,
		PercentComplete:    percent,
		EstimatedRemaining: int64(remaining * models.EstimatedSecondsPerTicker),
	}, nil
}

// List returns jobs matching the filter
func (m *Manager) List(ctx context.Context, filter interfaces.JobFilter) ([]*models.Job, error) {
	jobs, err := m.storage.JobStore().List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// safeGo launches a goroutine with panic recovery and logging.
func (m *Manager) safeGo(name string, fn func()) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error().
					Str("goroutine", name).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(debug.Stack())).
					Msg("Recovered from panic in job manager goroutine")
			}
		}()
		fn()
	}()
}

// Start launches the WebSocket hub and the polling worker loops.
// Safe to call multiple times — stops any existing loops before starting.
func (m *Manager) Start() {
	if m.cancel != nil {
		m.Stop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	if err := m.recoverStalledJobs(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("Stalled job recovery failed")
	}

	m.safeGo("websocket-hub", func() { m.hub.Run() })

	workers := m.config.GetWorkers()
	for i := 0; i < workers; i++ {
		name := fmt.Sprintf("worker-%d", i)
		m.safeGo(name, func() { m.pollLoop(ctx) })
	}

	m.logger.Info().
		Int("workers", workers).
		Str("poll_interval", m.config.GetPollInterval().String()).
		Int("batch_size", m.config.GetBatchSize()).
		Msg("Job manager started")
}

// Stop cancels all loops and waits for completion.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.hub.Stop()
	m.wg.Wait()
	m.logger.Info().Msg("Job manager stopped")
}

// pollLoop ticks until the context is cancelled. An exhausted budget
// waits out the budget's own clock; a full queue short-cycles so the
// backlog drains faster than the poll interval.
func (m *Manager) pollLoop(ctx context.Context) {
	interval := m.config.GetPollInterval()

	for {
		res, err := m.Tick(ctx)
		if err != nil && ctx.Err() == nil {
			m.logger.Warn().Err(err).Msg("Worker tick failed")
		}

		wait := interval
		switch {
		case res != nil && res.RateLimited && res.WaitMS > 0:
			wait = time.Duration(res.WaitMS) * time.Millisecond
		case res != nil && res.Leased > 0:
			wait = time.Second
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// recoverStalledJobs finalizes processing jobs whose queue emptied while
// no worker was alive to close them out (typically after a crash). Jobs
// with surviving items are left alone; their leases expire and the
// normal tick path resumes them.
func (m *Manager) recoverStalledJobs(ctx context.Context) error {
	jobs, err := m.storage.JobStore().List(ctx, interfaces.JobFilter{Status: models.JobStatusProcessing})
	if err != nil {
		return err
	}

	recovered := 0
	for _, job := range jobs {
		remaining, err := m.storage.QueueStore().CountByJob(ctx, job.ID)
		if err != nil || remaining > 0 {
			continue
		}

		status := models.JobStatusCompleted
		if job.Processed == 0 {
			status = models.JobStatusFailed
		}
		if err := m.storage.JobStore().Finalize(ctx, job.ID, status, ""); err != nil {
			m.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to finalize stalled job")
			continue
		}
		recovered++
	}

	if recovered > 0 {
		m.logger.Info().Int("count", recovered).Msg("Recovered stalled jobs")
	}
	return nil
}

// broadcast sends a job event with the job's current queue depth.
func (m *Manager) broadcast(ctx context.Context, eventType string, job *models.Job) {
	if m.hub == nil || job == nil {
		return
	}
	queueSize, _ := m.storage.QueueStore().CountByJob(ctx, job.ID)
	m.hub.Broadcast(models.JobEvent{
		Type:      eventType,
		Job:       job,
		Timestamp: m.now(),
		QueueSize: queueSize,
	})
}
