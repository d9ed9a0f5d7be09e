// Package dividend fetches, transforms, and persists dividend history
// from the Polygon reference API.
package dividend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bobmcallan/divvy/internal/clients/polygon"
	"github.com/bobmcallan/divvy/internal/common"
	"github.com/bobmcallan/divvy/internal/interfaces"
	"github.com/bobmcallan/divvy/internal/models"
)

const dividendsEndpoint = "/v3/reference/dividends"

// SkipReasonFresh is reported when the freshness gate short-circuits a
// ticker whose history was updated within its TTL.
const SkipReasonFresh = "no update needed"

// Service implements DividendService against the Polygon client.
// Every provider call goes through the persistent budget first, so the
// free-tier limit holds across restarts and concurrent callers.
type Service struct {
	storage interfaces.StorageManager
	polygon interfaces.PolygonClient
	budget  interfaces.BudgetService
	config  *common.Config
	logger  *common.Logger
	now     func() time.Time // injectable clock for testing
}

// NewService creates a new dividend service
func NewService(storage interfaces.StorageManager, polygonClient interfaces.PolygonClient, budget interfaces.BudgetService, config *common.Config, logger *common.Logger) *Service {
	return &Service{
		storage: storage,
		polygon: polygonClient,
		budget:  budget,
		config:  config,
		logger:  logger,
		now:     time.Now,
	}
}

// fetchWindow returns the ex-dividend date bounds for a fetch kind.
// The future bound captures declared-but-unpaid events.
func fetchWindow(kind string, now time.Time) (time.Time, time.Time) {
	if kind == models.FetchKindRecent {
		return now.AddDate(0, 0, -2), now.AddDate(0, 3, 0)
	}
	return now.AddDate(-2, 0, 0), now.AddDate(0, 6, 0)
}

// FetchDividends retrieves and transforms upstream records for one
// ticker without persisting them.
func (s *Service) FetchDividends(ctx context.Context, ticker string, kind string) ([]*models.Dividend, error) {
	symbol := strings.ToUpper(strings.TrimSpace(ticker))
	if symbol == "" {
		return nil, fmt.Errorf("ticker is required")
	}

	if err := s.reserve(ctx); err != nil {
		return nil, err
	}

	from, to := fetchWindow(kind, s.now())

	started := s.now()
	resp, err := s.polygon.GetDividends(ctx, symbol,
		interfaces.WithDateRange(from, to),
		interfaces.WithOrder("asc"),
		interfaces.WithPageLimit(1000),
	)
	s.logCall(ctx, symbol, started, err)
	if err != nil {
		return nil, classifyClientErr(err)
	}

	records, rejected := transformRecords(symbol, resp.Results)
	if len(rejected) > 0 {
		s.logger.Warn().
			Str("ticker", symbol).
			Int("rejected", len(rejected)).
			Msg("Rejected invalid upstream dividend records")
	}

	s.logger.Debug().
		Str("ticker", symbol).
		Str("kind", kind).
		Int("fetched", len(records)).
		Msg("Fetched dividends")

	return records, nil
}

// ProcessTicker runs the freshness gate, fetch, upsert, and stamp cycle
// for one ticker.
func (s *Service) ProcessTicker(ctx context.Context, symbol string, force bool, kind string) (*models.ProcessResult, error) {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if sym == "" {
		return nil, fmt.Errorf("ticker is required")
	}

	result := &models.ProcessResult{Ticker: sym}

	if !force {
		t, err := s.storage.TickerStore().Get(ctx, sym)
		if err == nil && s.isFresh(t) {
			result.Skipped = true
			result.SkipReason = SkipReasonFresh
			s.logger.Debug().
				Str("ticker", sym).
				Time("last_update", t.LastDividendUpdate).
				Msg("Skipping fresh ticker")
			return result, nil
		}
		// Unknown ticker or store trouble: fall through to the fetch
	}

	records, err := s.FetchDividends(ctx, sym, kind)
	if err != nil {
		return nil, err
	}
	result.Fetched = len(records)

	if len(records) > 0 {
		up, err := s.storage.DividendStore().UpsertBatch(ctx, sym, records)
		if err != nil {
			return nil, err
		}
		result.Inserted = up.Inserted
		result.Errors = up.Errors
		result.ErrorMessages = up.ErrorMessages
	}

	// Stamp even when the provider returned nothing: the fetch itself
	// succeeded, so the history is confirmed current.
	if err := s.storage.TickerStore().SetLastDividendUpdate(ctx, sym, s.now()); err != nil {
		s.logger.Warn().Err(err).Str("ticker", sym).Msg("Failed to stamp last dividend update")
	}

	s.logger.Info().
		Str("ticker", sym).
		Str("kind", kind).
		Int("fetched", result.Fetched).
		Int("inserted", result.Inserted).
		Int("errors", result.Errors).
		Msg("Processed ticker")

	return result, nil
}

// isFresh reports whether the ticker's history was refreshed within its
// TTL. Per-ticker overrides win over the configured default.
func (s *Service) isFresh(t *models.Ticker) bool {
	if t == nil || t.LastDividendUpdate.IsZero() {
		return false
	}

	ttl := t.UpdateFrequency()
	if t.UpdateFrequencyHours <= 0 && s.config != nil {
		ttl = s.config.Ingest.GetUpdateFrequency()
	}

	return s.now().Sub(t.LastDividendUpdate) < ttl
}

// reserve consumes one budget slot, converting a denial into a
// RateLimited error carrying the wait hint. The provider is never
// contacted on denial.
func (s *Service) reserve(ctx context.Context) error {
	adm, err := s.budget.CheckAndReserve(ctx, models.ServicePolygon)
	if err != nil {
		return fmt.Errorf("budget check failed: %w", err)
	}
	if !adm.Admitted {
		return &models.FetchError{
			Kind:     models.FetchRateLimited,
			Message:  "polygon call budget exhausted",
			Endpoint: dividendsEndpoint,
			WaitMS:   adm.WaitMS,
		}
	}
	return nil
}

// logCall appends one attempt to the audit log
func (s *Service) logCall(ctx context.Context, ticker string, started time.Time, callErr error) {
	log := &models.CallLog{
		ServiceName:    models.ServicePolygon,
		Endpoint:       dividendsEndpoint,
		TickerSymbol:   ticker,
		ResponseStatus: 200,
		ResponseTimeMS: s.now().Sub(started).Milliseconds(),
	}
	if callErr != nil {
		log.ResponseStatus = 0
		log.ErrorMessage = callErr.Error()
		var apiErr *polygon.APIError
		if errors.As(callErr, &apiErr) {
			log.ResponseStatus = apiErr.StatusCode
		}
	}
	s.budget.RecordCall(ctx, log)
}

// classifyClientErr maps client failures onto the fetch error taxonomy.
// Anything that is not an APIError is treated as transient network
// trouble, except caller-driven context cancellation.
func classifyClientErr(err error) error {
	var apiErr *polygon.APIError
	if errors.As(err, &apiErr) {
		return &models.FetchError{
			Kind:       models.ClassifyStatus(apiErr.StatusCode),
			StatusCode: apiErr.StatusCode,
			Message:    apiErr.Message,
			Endpoint:   apiErr.Endpoint,
			Err:        err,
		}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	return &models.FetchError{
		Kind:     models.FetchTransient,
		Message:  err.Error(),
		Endpoint: dividendsEndpoint,
		Err:      err,
	}
}

// Ensure Service implements DividendService
var _ interfaces.DividendService = (*Service)(nil)
