package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/bobmcallan/divvy/internal/models"
)

func seedDividends(f *testFixture, ticker string, dates ...string) {
	for _, d := range dates {
		f.storage.dividends.rows[ticker] = append(f.storage.dividends.rows[ticker], &models.Dividend{
			Ticker:         ticker,
			ExDividendDate: d,
			PayDate:        "2025-03-15",
			Amount:         0.25,
			Currency:       models.DefaultCurrency,
			Frequency:      models.DefaultFrequency,
			DividendType:   models.DefaultDividendType,
		})
	}
}

func TestDividendsByTicker(t *testing.T) {
	f := newTestServer(t)
	seedDividends(f, "AAPL", "2025-02-10", "2025-05-12")

	w := f.do(http.MethodGet, "/dividends/aapl", "", true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var body struct {
		Ticker    string             `json:"ticker"`
		Count     int                `json:"count"`
		Dividends []*models.Dividend `json:"dividends"`
	}
	json.Unmarshal(w.Body.Bytes(), &body)
	if body.Ticker != "AAPL" || body.Count != 2 {
		t.Errorf("unexpected payload: %+v", body)
	}
}

func TestDividendsByTicker_NotFound(t *testing.T) {
	f := newTestServer(t)

	w := f.do(http.MethodGet, "/dividends/GHOST", "", true)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestDividendsByTicker_CheckOnly(t *testing.T) {
	f := newTestServer(t)
	seedDividends(f, "AAPL", "2025-02-10")

	w := f.do(http.MethodGet, "/dividends/AAPL?checkOnly=true", "", true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var body map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &body)
	if body["hasData"] != true || body["count"].(float64) != 1 {
		t.Errorf("unexpected checkOnly payload: %v", body)
	}
}

func TestDividendsByTicker_Fallback(t *testing.T) {
	f := newTestServer(t)
	f.dividend.process = func(symbol string, force bool, kind string) (*models.ProcessResult, error) {
		// Live fetch lands rows the follow-up read will see
		seedDividends(f, symbol, "2025-02-10")
		return &models.ProcessResult{Ticker: symbol, Fetched: 1, Inserted: 1}, nil
	}

	w := f.do(http.MethodGet, "/dividends/AAPL?fallback=true", "", true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 after live fetch, got %d: %s", w.Code, w.Body.String())
	}
}

func TestDividendsByTicker_FallbackRateLimited(t *testing.T) {
	f := newTestServer(t)
	f.dividend.process = func(string, bool, string) (*models.ProcessResult, error) {
		return nil, &models.FetchError{Kind: models.FetchRateLimited, WaitMS: 10000}
	}

	w := f.do(http.MethodGet, "/dividends/AAPL?fallback=true", "", true)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
}

func TestDividendsByTicker_CSV(t *testing.T) {
	f := newTestServer(t)
	seedDividends(f, "AAPL", "2025-02-10")

	w := f.do(http.MethodGet, "/dividends/AAPL?format=csv", "", true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("Content-Type = %q, want text/csv", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "AAPL_dividends.csv") {
		t.Errorf("Content-Disposition = %q", cd)
	}

	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	if lines[0] != "Declaration Date,Record Date,Ex-Dividend Date,Pay Date,Amount,Currency,Frequency,Type" {
		t.Errorf("unexpected CSV header: %q", lines[0])
	}
	if len(lines) != 2 {
		t.Fatalf("expected header + 1 row, got %d lines", len(lines))
	}
	// Optional dates absent: empty leading columns
	if !strings.HasPrefix(lines[1], ",,2025-02-10,2025-03-15,0.25,USD,4,Cash") {
		t.Errorf("unexpected CSV row: %q", lines[1])
	}
}

func TestDividendsAll_CSV(t *testing.T) {
	f := newTestServer(t)
	seedDividends(f, "AAPL", "2025-02-10")

	w := f.do(http.MethodGet, "/dividends/all?format=csv", "", true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "all_dividends.csv") {
		t.Errorf("Content-Disposition = %q", cd)
	}

	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	if lines[0] != "Ticker,Declaration Date,Record Date,Ex-Dividend Date,Pay Date,Amount,Currency,Frequency,Type" {
		t.Errorf("unexpected CSV header: %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "AAPL,") {
		t.Errorf("row should lead with the ticker: %q", lines[1])
	}
}

func TestDividendsAll_Pagination(t *testing.T) {
	f := newTestServer(t)
	seedDividends(f, "AAPL", "2025-02-10")

	w := f.do(http.MethodGet, "/dividends/all?limit=999999", "", true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &body)
	if body["limit"].(float64) != MaxListLimit {
		t.Errorf("limit should be capped at %d, got %v", MaxListLimit, body["limit"])
	}
}

func TestDividendChart(t *testing.T) {
	f := newTestServer(t)
	f.dividend.png = []byte{0x89, 'P', 'N', 'G'}

	w := f.do(http.MethodGet, "/dividends/AAPL/chart", "", true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q, want image/png", ct)
	}
}
