package surrealdb

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/divvy/internal/common"
	"github.com/bobmcallan/divvy/internal/interfaces"
	"github.com/bobmcallan/divvy/internal/models"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// BudgetStore implements interfaces.BudgetStore using SurrealDB.
// Budget counters live in rate_limits, one row per upstream service;
// the append-only audit trail lives in api_call_logs.
type BudgetStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewBudgetStore creates a new BudgetStore.
func NewBudgetStore(db *surrealdb.DB, logger *common.Logger) *BudgetStore {
	return &BudgetStore{db: db, logger: logger}
}

func (s *BudgetStore) Get(ctx context.Context, service string) (*models.RateBudget, error) {
	budget, err := surrealdb.Select[models.RateBudget](ctx, s.db, surrealmodels.NewRecordID("rate_limits", service))
	if err != nil {
		if isNotFoundError(err) {
			return nil, notFoundErr("get", "rate_limits")
		}
		return nil, transientErr("get", "rate_limits", err)
	}
	if budget == nil || budget.ServiceName == "" {
		return nil, notFoundErr("get", "rate_limits")
	}
	return budget, nil
}

func (s *BudgetStore) Put(ctx context.Context, budget *models.RateBudget) error {
	budget.UpdatedAt = time.Now()

	sql := "UPSERT $rid CONTENT $budget"
	vars := map[string]any{
		"rid":    surrealmodels.NewRecordID("rate_limits", budget.ServiceName),
		"budget": budget,
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return transientErr("put", "rate_limits", err)
	}
	return nil
}

func (s *BudgetStore) AppendCallLog(ctx context.Context, log *models.CallLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()[:8]
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}

	sql := `UPSERT $rid SET
		log_id = $log_id, service_name = $service_name, endpoint = $endpoint,
		ticker_symbol = $ticker_symbol, response_status = $response_status,
		response_time_ms = $response_time_ms, rate_limit_remaining = $rate_limit_remaining,
		error_message = $error_message, metadata = $metadata, created_at = $created_at`
	vars := map[string]any{
		"rid":                  surrealmodels.NewRecordID("api_call_logs", log.ID),
		"log_id":               log.ID,
		"service_name":         log.ServiceName,
		"endpoint":             log.Endpoint,
		"ticker_symbol":        log.TickerSymbol,
		"response_status":      log.ResponseStatus,
		"response_time_ms":     log.ResponseTimeMS,
		"rate_limit_remaining": log.RateLimitRemaining,
		"error_message":        log.ErrorMessage,
		"metadata":             log.Metadata,
		"created_at":           log.CreatedAt,
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return transientErr("append_call_log", "api_call_logs", err)
	}
	return nil
}

func (s *BudgetStore) CountCallsSince(ctx context.Context, service string, since time.Time) (int, error) {
	sql := "SELECT count() AS cnt FROM api_call_logs WHERE service_name = $service AND created_at >= $since GROUP ALL"
	vars := map[string]any{"service": service, "since": since}

	type countResult struct {
		Cnt int `json:"cnt"`
	}

	results, err := surrealdb.Query[[]countResult](ctx, s.db, sql, vars)
	if err != nil {
		return 0, transientErr("count_calls_since", "api_call_logs", err)
	}

	if results != nil && len(*results) > 0 && len((*results)[0].Result) > 0 {
		return (*results)[0].Result[0].Cnt, nil
	}
	return 0, nil
}

func (s *BudgetStore) PurgeCallLogs(ctx context.Context, olderThan time.Time) (int, error) {
	countSQL := "SELECT count() AS cnt FROM api_call_logs WHERE created_at < $cutoff GROUP ALL"
	vars := map[string]any{"cutoff": olderThan}

	type countResult struct {
		Cnt int `json:"cnt"`
	}
	count := 0
	countResults, err := surrealdb.Query[[]countResult](ctx, s.db, countSQL, vars)
	if err == nil && countResults != nil && len(*countResults) > 0 && len((*countResults)[0].Result) > 0 {
		count = (*countResults)[0].Result[0].Cnt
	}

	sql := "DELETE FROM api_call_logs WHERE created_at < $cutoff"
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return 0, transientErr("purge_call_logs", "api_call_logs", err)
	}
	return count, nil
}

// Compile-time check
var _ interfaces.BudgetStore = (*BudgetStore)(nil)
