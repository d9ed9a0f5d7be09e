// Package ingest routes ticker update requests between the fast lane
// and the standard job queue.
package ingest

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/divvy/internal/common"
	"github.com/bobmcallan/divvy/internal/interfaces"
	"github.com/bobmcallan/divvy/internal/models"
)

// MaxBatchTickers caps one update-tickers request.
const MaxBatchTickers = 100

// Validation failures the handler maps to 400.
var (
	ErrNoTickers      = errors.New("tickers list is empty")
	ErrTooManyTickers = errors.New("too many tickers, limit is 100")
	ErrNoValidTickers = errors.New("no valid tickers after filtering")
)

// IsValidationErr reports whether err is a request shape problem rather
// than a processing failure.
func IsValidationErr(err error) bool {
	return errors.Is(err, ErrNoTickers) || errors.Is(err, ErrTooManyTickers) || errors.Is(err, ErrNoValidTickers)
}

// Service implements IngestService. The fast queue client may be nil
// when the edge lane is not deployed; its share then rides the
// standard job queue at fast-lane priority.
type Service struct {
	storage   interfaces.StorageManager
	fastqueue interfaces.FastQueueClient
	jobs      interfaces.JobManagerService
	logger    *common.Logger
	now       func() time.Time // injectable clock for testing
}

// NewService creates a new ingest service
func NewService(storage interfaces.StorageManager, fastqueue interfaces.FastQueueClient, jobs interfaces.JobManagerService, logger *common.Logger) *Service {
	return &Service{
		storage:   storage,
		fastqueue: fastqueue,
		jobs:      jobs,
		logger:    logger,
		now:       time.Now,
	}
}

// FallbackStandardQueue names the path fast-lane symbols take when
// dispatch is unavailable or fails.
const FallbackStandardQueue = "standard_queue"

// UpdateTickers registers the symbols, routes each, dispatches the
// fast-lane share, and creates a job for the rest. Routing happens
// before the ticker upserts so brand-new symbols land on the fast lane.
func (s *Service) UpdateTickers(ctx context.Context, req *models.UpdateTickersRequest) (*models.IngestResult, error) {
	if req == nil || len(req.Tickers) == 0 {
		return nil, ErrNoTickers
	}
	if len(req.Tickers) > MaxBatchTickers {
		return nil, ErrTooManyTickers
	}

	symbols := NormalizeSymbols(req.Tickers)
	if len(symbols) == 0 {
		return nil, ErrNoValidTickers
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}

	result := &models.IngestResult{
		RequestID: requestID,
		Routes:    make([]models.RouteDecision, 0, len(symbols)),
	}

	var fastSymbols, bulkSymbols []string
	for _, sym := range symbols {
		decision := s.RouteTicker(ctx, sym)
		result.Routes = append(result.Routes, decision)
		if decision.Lane == models.RouteFast {
			fastSymbols = append(fastSymbols, sym)
		} else {
			bulkSymbols = append(bulkSymbols, sym)
		}
	}
	result.NewCount = len(fastSymbols)
	result.ExistingCount = len(bulkSymbols)

	for _, sym := range symbols {
		if _, err := s.storage.TickerStore().Upsert(ctx, sym); err != nil {
			s.logger.Warn().Err(err).Str("ticker", sym).Msg("Ticker upsert failed")
		}
	}

	if len(fastSymbols) > 0 {
		status := &models.FastQueueStatus{Count: len(fastSymbols)}
		switch {
		case s.fastqueue == nil:
			s.logger.Debug().Int("count", len(fastSymbols)).Msg("Fast lane not deployed, using standard queue")
			status.Fallback = FallbackStandardQueue
			bulkSymbols = append(bulkSymbols, fastSymbols...)
		default:
			res, err := s.fastqueue.Dispatch(ctx, fastSymbols, req.Force, result.RequestID)
			if err != nil {
				s.logger.Warn().Err(err).Int("count", len(fastSymbols)).Msg("Fast queue dispatch failed, falling back")
				status.Fallback = FallbackStandardQueue
				bulkSymbols = append(bulkSymbols, fastSymbols...)
			} else {
				status.Dispatched = res.Dispatched
			}
		}
		result.FastQueue = status
	}

	if len(bulkSymbols) > 0 {
		job, err := s.jobs.SubmitJob(ctx, models.JobTypeDividendUpdate, bulkSymbols, req.Priority, req.Force, map[string]interface{}{
			"request_id": result.RequestID,
		})
		if err != nil {
			return nil, err
		}
		result.Job = job
	}

	s.logger.Info().
		Str("request_id", result.RequestID).
		Int("fast", result.NewCount).
		Int("bulk", result.ExistingCount).
		Msg("Update tickers routed")

	return result, nil
}

// NormalizeSymbols trims, uppercases, and filters request symbols.
// Only 1-10 uppercase ASCII letters survive; duplicates collapse.
func NormalizeSymbols(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]bool, len(raw))

	for _, r := range raw {
		sym := normalizeSymbol(r)
		if !validSymbol(sym) || seen[sym] {
			continue
		}
		seen[sym] = true
		out = append(out, sym)
	}

	return out
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func validSymbol(s string) bool {
	if len(s) < 1 || len(s) > 10 {
		return false
	}
	for _, c := range s {
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return true
}

// Ensure Service implements IngestService
var _ interfaces.IngestService = (*Service)(nil)
