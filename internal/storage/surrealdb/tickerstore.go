package surrealdb

import (
	"context"
	"strings"
	"time"

	"github.com/bobmcallan/divvy/internal/common"
	"github.com/bobmcallan/divvy/internal/interfaces"
	"github.com/bobmcallan/divvy/internal/models"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// TickerStore implements interfaces.TickerStore using SurrealDB.
type TickerStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewTickerStore creates a new TickerStore.
func NewTickerStore(db *surrealdb.DB, logger *common.Logger) *TickerStore {
	return &TickerStore{db: db, logger: logger}
}

// tickerToID converts a symbol like "BRK.B" to a safe SurrealDB record ID.
// Record IDs cannot contain dots, so they become underscores.
func tickerToID(symbol string) string {
	return strings.ReplaceAll(symbol, ".", "_")
}

func (s *TickerStore) Upsert(ctx context.Context, symbol string) (*models.Ticker, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, invalidErr("upsert", "tickers", nil)
	}
	now := time.Now()

	existing, err := s.Get(ctx, symbol)
	if err != nil && !models.IsNotFound(err) {
		return nil, err
	}

	if existing == nil {
		t := &models.Ticker{
			Symbol:    symbol,
			Active:    true,
			Source:    models.TickerSourceSync,
			CreatedAt: now,
			UpdatedAt: now,
		}
		sql := "UPSERT $rid CONTENT $ticker"
		vars := map[string]any{
			"rid":    surrealmodels.NewRecordID("tickers", tickerToID(symbol)),
			"ticker": t,
		}
		if _, err := surrealdb.Query[[]models.Ticker](ctx, s.db, sql, vars); err != nil {
			return nil, transientErr("upsert", "tickers", err)
		}
		return t, nil
	}

	// Existing row: reactivate, keep created_at and last_dividend_update
	sql := "UPDATE $rid SET is_active = true, updated_at = $now"
	vars := map[string]any{
		"rid": surrealmodels.NewRecordID("tickers", tickerToID(symbol)),
		"now": now,
	}
	if _, err := surrealdb.Query[[]models.Ticker](ctx, s.db, sql, vars); err != nil {
		return nil, transientErr("upsert", "tickers", err)
	}
	existing.Active = true
	existing.UpdatedAt = now
	return existing, nil
}

func (s *TickerStore) Get(ctx context.Context, symbol string) (*models.Ticker, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	ticker, err := surrealdb.Select[models.Ticker](ctx, s.db, surrealmodels.NewRecordID("tickers", tickerToID(symbol)))
	if err != nil {
		if isNotFoundError(err) {
			return nil, notFoundErr("get", "tickers")
		}
		return nil, transientErr("get", "tickers", err)
	}
	if ticker == nil || ticker.Symbol == "" {
		return nil, notFoundErr("get", "tickers")
	}
	return ticker, nil
}

func (s *TickerStore) List(ctx context.Context, activeOnly bool) ([]*models.Ticker, error) {
	sql := "SELECT * FROM tickers ORDER BY symbol ASC"
	var vars map[string]any
	if activeOnly {
		sql = "SELECT * FROM tickers WHERE is_active = true ORDER BY symbol ASC"
	}

	results, err := surrealdb.Query[[]models.Ticker](ctx, s.db, sql, vars)
	if err != nil {
		return nil, transientErr("list", "tickers", err)
	}

	var tickers []*models.Ticker
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			tickers = append(tickers, &(*results)[0].Result[i])
		}
	}
	return tickers, nil
}

func (s *TickerStore) SetLastDividendUpdate(ctx context.Context, symbol string, t time.Time) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	sql := "UPDATE $rid SET last_dividend_update = $ts, updated_at = $ts"
	vars := map[string]any{
		"rid": surrealmodels.NewRecordID("tickers", tickerToID(symbol)),
		"ts":  t,
	}
	if _, err := surrealdb.Query[[]models.Ticker](ctx, s.db, sql, vars); err != nil {
		return transientErr("set_last_dividend_update", "tickers", err)
	}
	return nil
}

func (s *TickerStore) Count(ctx context.Context) (int, error) {
	sql := "SELECT count() AS cnt FROM tickers GROUP ALL"

	type countResult struct {
		Cnt int `json:"cnt"`
	}

	results, err := surrealdb.Query[[]countResult](ctx, s.db, sql, nil)
	if err != nil {
		return 0, transientErr("count", "tickers", err)
	}

	if results != nil && len(*results) > 0 && len((*results)[0].Result) > 0 {
		return (*results)[0].Result[0].Cnt, nil
	}
	return 0, nil
}

// Compile-time check
var _ interfaces.TickerStore = (*TickerStore)(nil)
