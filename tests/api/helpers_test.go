package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/divvy/internal/app"
	"github.com/bobmcallan/divvy/internal/clients/polygon"
	"github.com/bobmcallan/divvy/internal/common"
	"github.com/bobmcallan/divvy/internal/models"
	"github.com/bobmcallan/divvy/internal/server"
	"github.com/bobmcallan/divvy/internal/services/dividend"
	"github.com/bobmcallan/divvy/internal/services/ingest"
	"github.com/bobmcallan/divvy/internal/services/jobmanager"
	"github.com/bobmcallan/divvy/internal/services/ratebudget"
	"github.com/bobmcallan/divvy/internal/services/subscription"
	"github.com/bobmcallan/divvy/internal/storage/surrealdb"
	tcommon "github.com/bobmcallan/divvy/tests/common"
)

const e2eKey = "tk_e2e_key_123456"

var dbCounter int64

// fakePolygon emulates the upstream dividends endpoint. Seed records
// per ticker; unseeded tickers come back with an empty page.
type fakePolygon struct {
	srv *httptest.Server

	mu      sync.Mutex
	records map[string][]map[string]any
	calls   int
	failure int // non-zero forces this HTTP status on every call
}

func newFakePolygon() *fakePolygon {
	f := &fakePolygon{records: make(map[string][]map[string]any)}
	mux := http.NewServeMux()
	mux.HandleFunc("/v3/reference/dividends", f.handleDividends)
	f.srv = httptest.NewServer(mux)
	return f
}

func (f *fakePolygon) handleDividends(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.calls++
	status := f.failure
	results := f.records[r.URL.Query().Get("ticker")]
	f.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		fmt.Fprint(w, `{"status":"ERROR"}`)
		return
	}
	if results == nil {
		results = []map[string]any{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":  "OK",
		"count":   len(results),
		"results": results,
	})
}

// seed registers upstream dividend records for a ticker.
func (f *fakePolygon) seed(ticker string, exDates ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, ex := range exDates {
		f.records[ticker] = append(f.records[ticker], map[string]any{
			"id":               fmt.Sprintf("%s-%d", ticker, i),
			"ticker":           ticker,
			"ex_dividend_date": ex,
			"pay_date":         "2025-03-15",
			"cash_amount":      0.25,
			"currency":         "USD",
			"frequency":        4,
			"dividend_type":    "CD",
		})
	}
}

func (f *fakePolygon) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakePolygon) setFailure(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failure = status
}

// fixture wires the full service stack against a real SurrealDB
// container and a fake upstream, then serves it over HTTP.
type fixture struct {
	t       *testing.T
	baseURL string
	app     *app.App
	polygon *fakePolygon
	client  *http.Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	sc := tcommon.StartSurrealDB(t)
	fake := newFakePolygon()
	t.Cleanup(fake.srv.Close)

	cfg := common.NewDefaultConfig()
	cfg.Storage.Address = sc.Address()
	cfg.Storage.Namespace = "divvy_e2e"
	cfg.Storage.Database = fmt.Sprintf("api_%d_%d", atomic.AddInt64(&dbCounter, 1), time.Now().UnixNano()%100000)
	cfg.Auth.APIKey = e2eKey
	cfg.Clients.Polygon.BaseURL = fake.srv.URL
	// Generous upstream budget; ticks are driven by hand via the API
	cfg.Budget.PerMinute = 600
	cfg.Clients.Polygon.RateLimit = 600
	cfg.JobManager.Enabled = false
	cfg.JobManager.ItemPause = "1ms"

	logger := common.NewSilentLogger()

	storage, err := surrealdb.NewManager(logger, cfg)
	require.NoError(t, err, "storage init")
	t.Cleanup(func() { storage.Close() })

	budget := ratebudget.NewService(storage, logger)
	budget.SetLimits(models.ServicePolygon, ratebudget.Limits{
		PerMinute: cfg.Budget.GetPerMinute(),
		PerHour:   cfg.Budget.PerHour,
		PerDay:    cfg.Budget.PerDay,
	})

	polygonClient := polygon.NewClient("test-key",
		polygon.WithBaseURL(fake.srv.URL),
		polygon.WithLogger(logger),
		polygon.WithRateLimit(cfg.Clients.Polygon.RateLimit),
	)

	dividendService := dividend.NewService(storage, polygonClient, budget, cfg, logger)
	jobManager := jobmanager.NewManager(storage, dividendService, budget, logger, cfg.JobManager)
	// No fast queue deployed: the fast lane falls back to the standard queue
	ingestService := ingest.NewService(storage, nil, jobManager, logger)
	subscriptionService := subscription.NewService(storage, ingestService, logger)

	a := &app.App{
		Config:              cfg,
		Logger:              logger,
		Storage:             storage,
		PolygonClient:       polygonClient,
		BudgetService:       budget,
		DividendService:     dividendService,
		JobManager:          jobManager,
		IngestService:       ingestService,
		SubscriptionService: subscriptionService,
		JobHub:              jobManager.Hub(),
		StartupTime:         time.Now(),
	}

	ts := httptest.NewServer(server.NewServer(a).Handler())
	t.Cleanup(ts.Close)

	return &fixture{
		t:       t,
		baseURL: ts.URL,
		app:     a,
		polygon: fake,
		client:  ts.Client(),
	}
}

// request performs one API call, returning the response and its body.
func (f *fixture) request(method, path, body string, authed bool) (*http.Response, []byte) {
	f.t.Helper()

	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req, err := http.NewRequest(method, f.baseURL+path, reader)
	require.NoError(f.t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		req.Header.Set("X-API-Key", e2eKey)
	}

	resp, err := f.client.Do(req)
	require.NoError(f.t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(f.t, err)
	return resp, data
}

// requestJSON performs a call and decodes the response body into out.
func (f *fixture) requestJSON(method, path, body string, out any) *http.Response {
	f.t.Helper()
	resp, data := f.request(method, path, body, true)
	if out != nil {
		require.NoError(f.t, json.Unmarshal(data, out), "decode %s %s: %s", method, path, string(data))
	}
	return resp
}

// drainQueue ticks the worker through the open tick endpoint until the
// queue stops yielding items.
func (f *fixture) drainQueue() *models.TickResult {
	f.t.Helper()

	total := &models.TickResult{}
	for i := 0; i < 20; i++ {
		resp, data := f.request(http.MethodPost, "/process-queue", "", false)
		require.Equal(f.t, http.StatusOK, resp.StatusCode, "tick: %s", string(data))

		var tick models.TickResult
		require.NoError(f.t, json.Unmarshal(data, &tick))
		total.Leased += tick.Leased
		total.Processed += tick.Processed
		total.Skipped += tick.Skipped
		total.Failed += tick.Failed
		total.Finalized += tick.Finalized
		if tick.Leased == 0 {
			return total
		}
	}
	f.t.Fatal("queue did not drain after 20 ticks")
	return total
}

// waitForJob polls job status until the job reaches a terminal state.
func (f *fixture) waitForJob(jobID string) *models.JobProgress {
	f.t.Helper()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		var progress models.JobProgress
		resp := f.requestJSON(http.MethodGet, "/job-status/"+jobID, "", &progress)
		require.Equal(f.t, http.StatusOK, resp.StatusCode)
		if progress.Job != nil && progress.Job.IsTerminal() {
			return &progress
		}
		time.Sleep(100 * time.Millisecond)
	}
	f.t.Fatalf("job %s never reached a terminal state", jobID)
	return nil
}
