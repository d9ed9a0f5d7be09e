package surrealdb

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/divvy/internal/common"
	"github.com/bobmcallan/divvy/internal/interfaces"
	"github.com/bobmcallan/divvy/internal/models"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// jobSelectFields lists the fields to select from api_jobs, aliasing job_id to id for struct mapping.
const jobSelectFields = `job_id as id, job_type, status, ticker_symbols, total, processed, failed,
	priority, force, metadata, error_message, requested_by,
	created_at, started_at, completed_at, estimated_completion`

// JobStore implements interfaces.JobStore using SurrealDB.
type JobStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewJobStore creates a new JobStore.
func NewJobStore(db *surrealdb.DB, logger *common.Logger) *JobStore {
	return &JobStore{db: db, logger: logger}
}

func (s *JobStore) Create(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()[:8]
	}
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.Priority == 0 {
		job.Priority = models.DefaultPriority(job.JobType)
	}
	job.Total = len(job.TickerSymbols)
	if job.EstimatedCompletion.IsZero() {
		job.EstimatedCompletion = job.CreatedAt.Add(time.Duration(job.Total*models.EstimatedSecondsPerTicker) * time.Second)
	}

	sql := `UPSERT $rid SET
		job_id = $job_id, job_type = $job_type, status = $status,
		ticker_symbols = $ticker_symbols, total = $total, processed = $processed,
		failed = $failed, priority = $priority, force = $force, metadata = $metadata,
		error_message = $error_message, requested_by = $requested_by,
		created_at = $created_at, started_at = $started_at,
		completed_at = $completed_at, estimated_completion = $estimated_completion`
	vars := map[string]any{
		"rid":                  surrealmodels.NewRecordID("api_jobs", job.ID),
		"job_id":               job.ID,
		"job_type":             job.JobType,
		"status":               job.Status,
		"ticker_symbols":       job.TickerSymbols,
		"total":                job.Total,
		"processed":            job.Processed,
		"failed":               job.Failed,
		"priority":             job.Priority,
		"force":                job.Force,
		"metadata":             job.Metadata,
		"error_message":        job.ErrorMessage,
		"requested_by":         job.RequestedBy,
		"created_at":           job.CreatedAt,
		"started_at":           job.StartedAt,
		"completed_at":         job.CompletedAt,
		"estimated_completion": job.EstimatedCompletion,
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return transientErr("create", "api_jobs", err)
	}
	return nil
}

func (s *JobStore) Get(ctx context.Context, id string) (*models.Job, error) {
	sql := "SELECT " + jobSelectFields + " FROM $rid"
	vars := map[string]any{
		"rid": surrealmodels.NewRecordID("api_jobs", id),
	}

	results, err := surrealdb.Query[[]models.Job](ctx, s.db, sql, vars)
	if err != nil {
		if isNotFoundError(err) {
			return nil, notFoundErr("get", "api_jobs")
		}
		return nil, transientErr("get", "api_jobs", err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, notFoundErr("get", "api_jobs")
	}
	return &(*results)[0].Result[0], nil
}

func (s *JobStore) List(ctx context.Context, filter interfaces.JobFilter) ([]*models.Job, error) {
	where := ""
	vars := map[string]any{}

	if filter.Status != "" {
		where += " AND status = $status"
		vars["status"] = filter.Status
	}
	if filter.JobType != "" {
		where += " AND job_type = $job_type"
		vars["job_type"] = filter.JobType
	}

	whereClause := ""
	if where != "" {
		whereClause = " WHERE " + where[5:]
	}

	// Validate sort field to prevent injection
	sortField := "created_at"
	switch filter.Sort {
	case "", "created_at":
	case "priority", "status", "job_type":
		sortField = filter.Sort
	default:
		return nil, invalidErr("list", "api_jobs", fmt.Errorf("invalid sort field: %s", filter.Sort))
	}
	direction := "DESC"
	if filter.Order == "asc" {
		direction = "ASC"
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	vars["limit"] = limit

	sql := "SELECT " + jobSelectFields + " FROM api_jobs" + whereClause +
		fmt.Sprintf(" ORDER BY %s %s, job_id DESC LIMIT $limit", sortField, direction)
	if filter.Offset > 0 {
		sql += " START $start"
		vars["start"] = filter.Offset
	}

	results, err := surrealdb.Query[[]models.Job](ctx, s.db, sql, vars)
	if err != nil {
		return nil, transientErr("list", "api_jobs", err)
	}

	var jobs []*models.Job
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			jobs = append(jobs, &(*results)[0].Result[i])
		}
	}
	return jobs, nil
}

func (s *JobStore) MarkProcessing(ctx context.Context, id string) error {
	// Conditional: only a pending job moves, so started_at is stamped once.
	sql := "UPDATE $rid SET status = $processing, started_at = $now WHERE status = $pending"
	vars := map[string]any{
		"rid":        surrealmodels.NewRecordID("api_jobs", id),
		"processing": models.JobStatusProcessing,
		"pending":    models.JobStatusPending,
		"now":        time.Now(),
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return transientErr("mark_processing", "api_jobs", err)
	}
	return nil
}

func (s *JobStore) Advance(ctx context.Context, id string, processedDelta, failedDelta int) error {
	sql := "UPDATE $rid SET processed += $dp, failed += $df"
	vars := map[string]any{
		"rid": surrealmodels.NewRecordID("api_jobs", id),
		"dp":  processedDelta,
		"df":  failedDelta,
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return transientErr("advance", "api_jobs", err)
	}
	return nil
}

func (s *JobStore) Finalize(ctx context.Context, id string, status string, errorMessage string) error {
	sql := `UPDATE $rid SET status = $status, error_message = $error_message, completed_at = $now
		WHERE status NOT IN [$completed, $failed, $cancelled]`
	vars := map[string]any{
		"rid":           surrealmodels.NewRecordID("api_jobs", id),
		"status":        status,
		"error_message": errorMessage,
		"now":           time.Now(),
		"completed":     models.JobStatusCompleted,
		"failed":        models.JobStatusFailed,
		"cancelled":     models.JobStatusCancelled,
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return transientErr("finalize", "api_jobs", err)
	}
	return nil
}

func (s *JobStore) Cancel(ctx context.Context, id string) error {
	// Conditional claim: only a still-pending job cancels. RETURN VALUE
	// tells us whether the update matched.
	sql := `UPDATE $rid SET status = $cancelled, error_message = $msg, completed_at = $now
		WHERE status = $pending RETURN VALUE job_id`
	vars := map[string]any{
		"rid":       surrealmodels.NewRecordID("api_jobs", id),
		"cancelled": models.JobStatusCancelled,
		"msg":       "Job cancelled by user",
		"now":       time.Now(),
		"pending":   models.JobStatusPending,
	}

	results, err := surrealdb.Query[[]string](ctx, s.db, sql, vars)
	if err != nil {
		return transientErr("cancel", "api_jobs", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		// Distinguish a missing job from one that left pending
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return getErr
		}
		return conflictErr("cancel", "api_jobs", fmt.Errorf("job %s is not pending", id))
	}
	return nil
}

func (s *JobStore) Delete(ctx context.Context, id string) error {
	// DELETE statement, not the delete RPC: the RPC echoes the deleted
	// record and its id field does not map onto Job.ID.
	sql := "DELETE $rid"
	vars := map[string]any{
		"rid": surrealmodels.NewRecordID("api_jobs", id),
	}
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return transientErr("delete", "api_jobs", err)
	}
	return nil
}

func (s *JobStore) PurgeCompleted(ctx context.Context, olderThan time.Time) (int, error) {
	// Count first; SurrealDB DELETE does not report affected rows.
	countSQL := `SELECT count() AS cnt FROM api_jobs
		WHERE status IN [$completed, $failed, $cancelled] AND completed_at < $cutoff GROUP ALL`
	vars := map[string]any{
		"completed": models.JobStatusCompleted,
		"failed":    models.JobStatusFailed,
		"cancelled": models.JobStatusCancelled,
		"cutoff":    olderThan,
	}

	type countResult struct {
		Cnt int `json:"cnt"`
	}
	count := 0
	countResults, err := surrealdb.Query[[]countResult](ctx, s.db, countSQL, vars)
	if err == nil && countResults != nil && len(*countResults) > 0 && len((*countResults)[0].Result) > 0 {
		count = (*countResults)[0].Result[0].Cnt
	}

	sql := `DELETE FROM api_jobs WHERE status IN [$completed, $failed, $cancelled] AND completed_at < $cutoff`
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return 0, transientErr("purge_completed", "api_jobs", err)
	}
	return count, nil
}

// Compile-time check
var _ interfaces.JobStore = (*JobStore)(nil)
