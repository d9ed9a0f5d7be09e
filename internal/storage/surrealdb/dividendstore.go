package surrealdb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bobmcallan/divvy/internal/common"
	"github.com/bobmcallan/divvy/internal/interfaces"
	"github.com/bobmcallan/divvy/internal/models"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// DividendStore implements interfaces.DividendStore using SurrealDB.
type DividendStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewDividendStore creates a new DividendStore.
func NewDividendStore(db *surrealdb.DB, logger *common.Logger) *DividendStore {
	return &DividendStore{db: db, logger: logger}
}

// dividendID builds the natural record key: ticker plus ex-dividend date.
// Re-ingesting the same record lands on the same row.
func dividendID(ticker, exDate string) string {
	return tickerToID(ticker) + "_" + exDate
}

func (s *DividendStore) UpsertBatch(ctx context.Context, ticker string, dividends []*models.Dividend) (*models.UpsertResult, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	result := &models.UpsertResult{}
	now := time.Now()

	// Validate individually; bad records are reported, not written.
	var valid []*models.Dividend
	for _, d := range dividends {
		if d.ExDividendDate == "" {
			result.Errors++
			result.ErrorMessages = append(result.ErrorMessages, fmt.Sprintf("%s: missing ex_dividend_date", ticker))
			continue
		}
		if d.Amount <= 0 {
			result.Errors++
			result.ErrorMessages = append(result.ErrorMessages, fmt.Sprintf("%s %s: non-positive amount %.4f", ticker, d.ExDividendDate, d.Amount))
			continue
		}
		d.Ticker = ticker
		if d.CreatedAt.IsZero() {
			d.CreatedAt = now
		}
		d.UpdatedAt = now
		valid = append(valid, d)
	}

	if len(valid) == 0 {
		return result, nil
	}

	// One transaction per batch so a partial write never survives.
	var sb strings.Builder
	sb.WriteString("BEGIN TRANSACTION;")
	vars := map[string]any{}
	for i, d := range valid {
		sb.WriteString(fmt.Sprintf(" UPSERT $rid%d CONTENT $div%d;", i, i))
		vars[fmt.Sprintf("rid%d", i)] = surrealmodels.NewRecordID("dividends", dividendID(ticker, d.ExDividendDate))
		vars[fmt.Sprintf("div%d", i)] = d
	}
	sb.WriteString(" COMMIT TRANSACTION;")

	if _, err := surrealdb.Query[any](ctx, s.db, sb.String(), vars); err != nil {
		return result, transientErr("upsert_batch", "dividends", err)
	}

	result.Inserted = len(valid)
	return result, nil
}

func (s *DividendStore) ListByTicker(ctx context.Context, ticker string, filter interfaces.DividendFilter) ([]*models.Dividend, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	vars := map[string]any{"ticker": ticker}
	sql := "SELECT * FROM dividends WHERE ticker = $ticker" + dateClause(filter, vars) + orderClause(filter, vars)
	return s.queryDividends(ctx, sql, vars)
}

func (s *DividendStore) ListAll(ctx context.Context, filter interfaces.DividendFilter) ([]*models.Dividend, error) {
	vars := map[string]any{}
	where := dateClause(filter, vars)
	sql := "SELECT * FROM dividends"
	if where != "" {
		// Strip the leading " AND "
		sql += " WHERE " + where[5:]
	}
	sql += orderClause(filter, vars)
	return s.queryDividends(ctx, sql, vars)
}

func (s *DividendStore) ListForTickers(ctx context.Context, symbols []string, filter interfaces.DividendFilter) ([]*models.Dividend, error) {
	if len(symbols) == 0 {
		return nil, nil
	}
	upper := make([]string, len(symbols))
	for i, sym := range symbols {
		upper[i] = strings.ToUpper(strings.TrimSpace(sym))
	}

	vars := map[string]any{"symbols": upper}
	sql := "SELECT * FROM dividends WHERE ticker IN $symbols" + dateClause(filter, vars) + orderClause(filter, vars)
	return s.queryDividends(ctx, sql, vars)
}

func (s *DividendStore) CountByTicker(ctx context.Context, ticker string) (int, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	sql := "SELECT count() AS cnt FROM dividends WHERE ticker = $ticker GROUP ALL"
	vars := map[string]any{"ticker": ticker}

	type countResult struct {
		Cnt int `json:"cnt"`
	}

	results, err := surrealdb.Query[[]countResult](ctx, s.db, sql, vars)
	if err != nil {
		return 0, transientErr("count_by_ticker", "dividends", err)
	}

	if results != nil && len(*results) > 0 && len((*results)[0].Result) > 0 {
		return (*results)[0].Result[0].Cnt, nil
	}
	return 0, nil
}

// dateClause appends inclusive ex-dividend date bounds. ISO date
// strings compare correctly as strings.
func dateClause(filter interfaces.DividendFilter, vars map[string]any) string {
	clause := ""
	if filter.StartDate != "" {
		clause += " AND ex_dividend_date >= $start_date"
		vars["start_date"] = filter.StartDate
	}
	if filter.EndDate != "" {
		clause += " AND ex_dividend_date <= $end_date"
		vars["end_date"] = filter.EndDate
	}
	return clause
}

// orderClause appends deterministic ordering and pagination.
func orderClause(filter interfaces.DividendFilter, vars map[string]any) string {
	clause := " ORDER BY ex_dividend_date DESC, ticker ASC"
	if filter.Limit > 0 {
		clause += " LIMIT $limit"
		vars["limit"] = filter.Limit
		if filter.Offset > 0 {
			clause += " START $start"
			vars["start"] = filter.Offset
		}
	}
	return clause
}

func (s *DividendStore) queryDividends(ctx context.Context, sql string, vars map[string]any) ([]*models.Dividend, error) {
	results, err := surrealdb.Query[[]models.Dividend](ctx, s.db, sql, vars)
	if err != nil {
		return nil, transientErr("query", "dividends", err)
	}

	var dividends []*models.Dividend
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			dividends = append(dividends, &(*results)[0].Result[i])
		}
	}
	return dividends, nil
}

// Compile-time check
var _ interfaces.DividendStore = (*DividendStore)(nil)
