package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bobmcallan/divvy/internal/interfaces"
	"github.com/bobmcallan/divvy/internal/models"
)

// Listing bounds for cross-ticker dividend queries.
const (
	DefaultListLimit = 500
	MaxListLimit     = 5000
)

// dividendFilterFromQuery builds a store filter from the common list
// parameters (startDate, endDate, limit, offset).
func dividendFilterFromQuery(r *http.Request) interfaces.DividendFilter {
	limit := QueryInt(r, "limit", DefaultListLimit)
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	offset := QueryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	return interfaces.DividendFilter{
		StartDate: r.URL.Query().Get("startDate"),
		EndDate:   r.URL.Query().Get("endDate"),
		Limit:     limit,
		Offset:    offset,
	}
}

// lastUpdatedValue formats a ticker's refresh stamp, nil when never fetched.
func (s *Server) lastUpdatedValue(r *http.Request, sym string) interface{} {
	t, err := s.app.Storage.TickerStore().Get(r.Context(), sym)
	if err != nil || t.LastDividendUpdate.IsZero() {
		return nil
	}
	return t.LastDividendUpdate.UTC().Format(time.RFC3339)
}

func (s *Server) handleDividendsByTicker(w http.ResponseWriter, r *http.Request, ticker string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	sym := strings.ToUpper(strings.TrimSpace(ticker))
	if sym == "" {
		WriteError(w, http.StatusBadRequest, "Ticker is required")
		return
	}
	ctx := r.Context()

	if QueryBool(r, "checkOnly") {
		count, err := s.app.Storage.DividendStore().CountByTicker(ctx, sym)
		if err != nil {
			s.serverError(w, "Failed to check dividend data", err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"ticker":      sym,
			"hasData":     count > 0,
			"count":       count,
			"lastUpdated": s.lastUpdatedValue(r, sym),
		})
		return
	}

	filter := interfaces.DividendFilter{
		StartDate: r.URL.Query().Get("startDate"),
		EndDate:   r.URL.Query().Get("endDate"),
	}
	rows, err := s.app.Storage.DividendStore().ListByTicker(ctx, sym, filter)
	if err != nil {
		s.serverError(w, "Failed to load dividends", err)
		return
	}

	// Nothing stored: fallback=true fetches live before giving up
	if len(rows) == 0 && QueryBool(r, "fallback") {
		if _, err := s.app.DividendService.ProcessTicker(ctx, sym, true, models.FetchKindHistorical); err != nil {
			if models.IsRateLimited(err) {
				writeRateLimited(w, err)
				return
			}
			s.serverError(w, fmt.Sprintf("Live fetch failed for %s", sym), err)
			return
		}
		rows, err = s.app.Storage.DividendStore().ListByTicker(ctx, sym, filter)
		if err != nil {
			s.serverError(w, "Failed to load dividends", err)
			return
		}
	}

	if len(rows) == 0 {
		WriteError(w, http.StatusNotFound, fmt.Sprintf("No dividend data found for %s", sym))
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		writeDividendsCSV(w, sym, rows)
		return
	}

	resp := map[string]interface{}{
		"ticker":    sym,
		"count":     len(rows),
		"dividends": rows,
	}
	if QueryBool(r, "lastUpdated") {
		resp["lastUpdated"] = s.lastUpdatedValue(r, sym)
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDividendsAll(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	filter := dividendFilterFromQuery(r)
	rows, err := s.app.Storage.DividendStore().ListAll(r.Context(), filter)
	if err != nil {
		s.serverError(w, "Failed to load dividends", err)
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		writeAllDividendsCSV(w, "all_dividends.csv", rows)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"count":     len(rows),
		"limit":     filter.Limit,
		"offset":    filter.Offset,
		"dividends": rows,
	})
}

func (s *Server) handleDividendChart(w http.ResponseWriter, r *http.Request, ticker string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	years := QueryInt(r, "years", 5)
	png, err := s.app.DividendService.RenderChart(r.Context(), ticker, years)
	if err != nil {
		var se *models.StoreError
		if errors.As(err, &se) {
			s.serverError(w, "Failed to load dividends", err)
			return
		}
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("Unable to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}
