package dividend

import (
	"context"
	"time"

	"github.com/bobmcallan/divvy/internal/interfaces"
	"github.com/bobmcallan/divvy/internal/models"
)

// Inter-page pacing for the bulk scan. PageInterval keeps a full scan
// inside the 5/min provider budget; BackoffInterval is the hold after
// an upstream 429 before retrying the same page.
var (
	PageInterval    = 12 * time.Second
	BackoffInterval = 60 * time.Second
)

// FetchBulkRecent scans recent ex-dividend dates across the whole
// market in one ascending paginated pass, persisting page by page.
// Progress made before a failure is kept and reported alongside it.
func (s *Service) FetchBulkRecent(ctx context.Context, daysBack int, pageSize int) (*models.BulkFetchResult, error) {
	if daysBack <= 0 {
		daysBack = 2
	}
	if pageSize <= 0 {
		pageSize = 1000
	}

	from := s.now().AddDate(0, 0, -daysBack)
	to := s.now().AddDate(0, 3, 0)

	s.logger.Info().
		Time("from", from).
		Int("page_size", pageSize).
		Msg("Starting bulk recent dividend scan")

	result := &models.BulkFetchResult{}
	seen := make(map[string]bool)
	nextURL := ""

	for {
		if err := s.reserve(ctx); err != nil {
			return result, err
		}

		started := s.now()
		var resp *models.PolygonDividendsResponse
		var err error
		if nextURL == "" {
			resp, err = s.polygon.GetDividends(ctx, "",
				interfaces.WithDateRange(from, to),
				interfaces.WithOrder("asc"),
				interfaces.WithPageLimit(pageSize),
			)
		} else {
			resp, err = s.polygon.GetDividendsPage(ctx, nextURL)
		}
		s.logCall(ctx, "", started, err)

		if err != nil {
			fe := classifyClientErr(err)
			if models.IsRateLimited(fe) {
				s.logger.Warn().
					Int("pages", result.Pages).
					Msg("Upstream rate limit during bulk scan, backing off")
				if serr := sleepCtx(ctx, BackoffInterval); serr != nil {
					return result, serr
				}
				continue // retry the same page
			}
			return result, fe
		}

		result.Pages++
		result.Fetched += len(resp.Results)

		records, rejected := transformRecords("", resp.Results)
		result.Errors += len(rejected)

		for symbol, batch := range groupByTicker(records) {
			if !seen[symbol] {
				seen[symbol] = true
				result.Tickers++
			}
			up, err := s.storage.DividendStore().UpsertBatch(ctx, symbol, batch)
			if err != nil {
				result.Errors++
				s.logger.Warn().Err(err).Str("ticker", symbol).Msg("Bulk upsert failed")
				continue
			}
			result.Inserted += up.Inserted
			result.Errors += up.Errors
		}

		if resp.NextURL == "" {
			break
		}
		nextURL = resp.NextURL

		if err := sleepCtx(ctx, PageInterval); err != nil {
			return result, err
		}
	}

	s.logger.Info().
		Int("pages", result.Pages).
		Int("tickers", result.Tickers).
		Int("inserted", result.Inserted).
		Int("errors", result.Errors).
		Msg("Bulk recent dividend scan complete")

	return result, nil
}

func groupByTicker(records []*models.Dividend) map[string][]*models.Dividend {
	groups := make(map[string][]*models.Dividend)
	for _, d := range records {
		groups[d.Ticker] = append(groups[d.Ticker], d)
	}
	return groups
}

// sleepCtx pauses for d unless the context ends first
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
