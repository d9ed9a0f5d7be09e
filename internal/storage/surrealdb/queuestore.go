package surrealdb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/divvy/internal/common"
	"github.com/bobmcallan/divvy/internal/interfaces"
	"github.com/bobmcallan/divvy/internal/models"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// itemSelectFields lists the fields to select from job_queue, aliasing item_id to id for struct mapping.
const itemSelectFields = `item_id as id, job_id, ticker_symbol, priority, retry_count, max_retries,
	error_message, scheduled_at, locked_at, locked_by, created_at`

// QueueStore implements interfaces.QueueStore using SurrealDB.
type QueueStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewQueueStore creates a new QueueStore.
func NewQueueStore(db *surrealdb.DB, logger *common.Logger) *QueueStore {
	return &QueueStore{db: db, logger: logger}
}

func (s *QueueStore) Enqueue(ctx context.Context, jobID string, symbols []string, priority int, maxRetries int) error {
	if len(symbols) == 0 {
		return nil
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	now := time.Now()

	// One transaction so a job never ends up with a partial queue.
	var sb strings.Builder
	sb.WriteString("BEGIN TRANSACTION;")
	vars := map[string]any{}
	for i, symbol := range symbols {
		id := uuid.New().String()[:8]
		sb.WriteString(fmt.Sprintf(` UPSERT $rid%d SET
			item_id = $id%d, job_id = $job_id, ticker_symbol = $ticker%d,
			priority = $priority, retry_count = 0, max_retries = $max_retries,
			scheduled_at = $now, created_at = $now;`, i, i, i))
		vars[fmt.Sprintf("rid%d", i)] = surrealmodels.NewRecordID("job_queue", id)
		vars[fmt.Sprintf("id%d", i)] = id
		vars[fmt.Sprintf("ticker%d", i)] = strings.ToUpper(strings.TrimSpace(symbol))
	}
	sb.WriteString(" COMMIT TRANSACTION;")
	vars["job_id"] = jobID
	vars["priority"] = priority
	vars["max_retries"] = maxRetries
	vars["now"] = now

	if _, err := surrealdb.Query[any](ctx, s.db, sb.String(), vars); err != nil {
		return transientErr("enqueue", "job_queue", err)
	}
	return nil
}

func (s *QueueStore) Lease(ctx context.Context, limit int, workerID string, leaseTTL time.Duration) ([]*models.QueueItem, error) {
	if limit <= 0 {
		return nil, nil
	}
	now := time.Now()
	lockCutoff := now.Add(-leaseTTL)

	// Step 1: find visible candidates. An item is visible when it is due,
	// has retries left, and holds no live lock.
	selectSQL := "SELECT " + itemSelectFields + ` FROM job_queue
		WHERE scheduled_at <= $now AND retry_count <= max_retries
			AND (locked_at = NONE OR locked_at < $lock_cutoff)
		ORDER BY priority DESC, scheduled_at ASC LIMIT $limit`
	vars := map[string]any{
		"now":         now,
		"lock_cutoff": lockCutoff,
		"limit":       limit,
	}

	candidates, err := surrealdb.Query[[]models.QueueItem](ctx, s.db, selectSQL, vars)
	if err != nil {
		return nil, transientErr("lease", "job_queue", err)
	}
	if candidates == nil || len(*candidates) == 0 || len((*candidates)[0].Result) == 0 {
		return nil, nil
	}

	// Step 2: claim each candidate with a conditional update. A concurrent
	// worker may win the race; RETURN VALUE tells us whether we did.
	claimSQL := `UPDATE $rid SET locked_at = $now, locked_by = $worker
		WHERE locked_at = NONE OR locked_at < $lock_cutoff
		RETURN VALUE item_id`

	var claimed []*models.QueueItem
	for i := range (*candidates)[0].Result {
		item := (*candidates)[0].Result[i]
		claimVars := map[string]any{
			"rid":         surrealmodels.NewRecordID("job_queue", item.ID),
			"now":         now,
			"worker":      workerID,
			"lock_cutoff": lockCutoff,
		}
		results, err := surrealdb.Query[[]string](ctx, s.db, claimSQL, claimVars)
		if err != nil {
			return claimed, transientErr("lease", "job_queue", err)
		}
		if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
			continue
		}
		item.LockedAt = now
		item.LockedBy = workerID
		claimed = append(claimed, &item)
	}
	return claimed, nil
}

func (s *QueueStore) Complete(ctx context.Context, id string) error {
	// DELETE statement, not the delete RPC: the RPC echoes the deleted
	// record and its id field does not map onto QueueItem.ID.
	sql := "DELETE $rid"
	vars := map[string]any{
		"rid": surrealmodels.NewRecordID("job_queue", id),
	}
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return transientErr("complete", "job_queue", err)
	}
	return nil
}

func (s *QueueStore) Fail(ctx context.Context, item *models.QueueItem, itemErr error) error {
	next := item.RetryCount + 1
	if next > item.MaxRetries {
		// Retries exhausted; the item leaves the queue for good.
		return s.Complete(ctx, item.ID)
	}

	errMsg := ""
	if itemErr != nil {
		errMsg = itemErr.Error()
	}
	backoff := time.Duration(1<<uint(next)) * time.Minute

	sql := `UPDATE $rid SET retry_count = $retry, scheduled_at = $rescheduled,
		error_message = $msg, locked_at = NONE, locked_by = NONE`
	vars := map[string]any{
		"rid":         surrealmodels.NewRecordID("job_queue", item.ID),
		"retry":       next,
		"rescheduled": time.Now().Add(backoff),
		"msg":         errMsg,
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return transientErr("fail", "job_queue", err)
	}
	return nil
}

func (s *QueueStore) Release(ctx context.Context, id string) error {
	sql := "UPDATE $rid SET locked_at = NONE, locked_by = NONE"
	vars := map[string]any{
		"rid": surrealmodels.NewRecordID("job_queue", id),
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return transientErr("release", "job_queue", err)
	}
	return nil
}

func (s *QueueStore) CountByJob(ctx context.Context, jobID string) (int, error) {
	sql := "SELECT count() AS cnt FROM job_queue WHERE job_id = $job_id GROUP ALL"
	return s.countItems(ctx, sql, map[string]any{"job_id": jobID})
}

func (s *QueueStore) CountLockedByJob(ctx context.Context, jobID string) (int, error) {
	sql := "SELECT count() AS cnt FROM job_queue WHERE job_id = $job_id AND locked_at != NONE GROUP ALL"
	return s.countItems(ctx, sql, map[string]any{"job_id": jobID})
}

func (s *QueueStore) DeleteByJob(ctx context.Context, jobID string) (int, error) {
	count, err := s.CountByJob(ctx, jobID)
	if err != nil {
		return 0, err
	}

	sql := "DELETE FROM job_queue WHERE job_id = $job_id"
	vars := map[string]any{"job_id": jobID}
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return 0, transientErr("delete_by_job", "job_queue", err)
	}
	return count, nil
}

func (s *QueueStore) Pending(ctx context.Context, limit int) ([]*models.QueueItem, error) {
	if limit <= 0 {
		limit = 100
	}
	now := time.Now()

	sql := "SELECT " + itemSelectFields + ` FROM job_queue
		WHERE scheduled_at <= $now AND retry_count <= max_retries AND locked_at = NONE
		ORDER BY priority DESC, scheduled_at ASC LIMIT $limit`
	vars := map[string]any{"now": now, "limit": limit}

	results, err := surrealdb.Query[[]models.QueueItem](ctx, s.db, sql, vars)
	if err != nil {
		return nil, transientErr("pending", "job_queue", err)
	}

	var items []*models.QueueItem
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			items = append(items, &(*results)[0].Result[i])
		}
	}
	return items, nil
}

func (s *QueueStore) countItems(ctx context.Context, sql string, vars map[string]any) (int, error) {
	type countResult struct {
		Cnt int `json:"cnt"`
	}

	results, err := surrealdb.Query[[]countResult](ctx, s.db, sql, vars)
	if err != nil {
		return 0, transientErr("count", "job_queue", err)
	}

	if results != nil && len(*results) > 0 && len((*results)[0].Result) > 0 {
		return (*results)[0].Result[0].Cnt, nil
	}
	return 0, nil
}

// Compile-time check
var _ interfaces.QueueStore = (*QueueStore)(nil)
