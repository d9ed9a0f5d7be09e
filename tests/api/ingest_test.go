package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/divvy/internal/models"
	"github.com/bobmcallan/divvy/internal/services/ingest"
)

// A brand-new ticker rides the fast lane; with no edge queue deployed
// it falls back to the standard queue, gets fetched on the next tick,
// and its dividends become readable.
func TestIngestRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.polygon.seed("AAPL", "2025-02-10", "2025-05-12")

	var result models.IngestResult
	resp := f.requestJSON(http.MethodPost, "/update-tickers", `{"tickers":["aapl"]}`, &result)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	assert.NotEmpty(t, result.RequestID)
	assert.Equal(t, 1, result.NewCount)
	require.Len(t, result.Routes, 1)
	assert.Equal(t, "AAPL", result.Routes[0].Ticker)
	assert.Equal(t, models.RouteFast, result.Routes[0].Lane)
	assert.Equal(t, models.RouteReasonNewTicker, result.Routes[0].Reason)

	require.NotNil(t, result.FastQueue)
	assert.Equal(t, ingest.FallbackStandardQueue, result.FastQueue.Fallback)
	require.NotNil(t, result.Job, "fallback share needs a standard job")

	drained := f.drainQueue()
	assert.GreaterOrEqual(t, drained.Processed, 1)
	assert.Equal(t, 1, drained.Finalized)
	assert.GreaterOrEqual(t, f.polygon.callCount(), 1)

	progress := f.waitForJob(result.Job.ID)
	assert.Equal(t, models.JobStatusCompleted, progress.Job.Status)
	assert.Equal(t, 1, progress.Job.Processed)
	assert.Equal(t, 0, progress.Remaining)

	var dividends struct {
		Ticker string             `json:"ticker"`
		Count  int                `json:"count"`
		Rows   []*models.Dividend `json:"dividends"`
	}
	resp = f.requestJSON(http.MethodGet, "/dividends/AAPL", "", &dividends)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "AAPL", dividends.Ticker)
	assert.Equal(t, 2, dividends.Count)
}

// Once a ticker has fresh data, resubmitting routes it to the bulk
// lane and the worker skips the fetch.
func TestIngestFreshTickerSkips(t *testing.T) {
	f := newFixture(t)
	f.polygon.seed("MSFT", "2025-02-10")

	var first models.IngestResult
	f.requestJSON(http.MethodPost, "/update-tickers", `{"tickers":["MSFT"]}`, &first)
	f.drainQueue()
	callsAfterFirst := f.polygon.callCount()

	var second models.IngestResult
	resp := f.requestJSON(http.MethodPost, "/update-tickers", `{"tickers":["MSFT"]}`, &second)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Len(t, second.Routes, 1)
	assert.Equal(t, models.RouteBulk, second.Routes[0].Lane)
	assert.Equal(t, models.RouteReasonRecentExisting, second.Routes[0].Reason)

	drained := f.drainQueue()
	assert.GreaterOrEqual(t, drained.Skipped, 1)
	assert.Equal(t, callsAfterFirst, f.polygon.callCount(), "fresh ticker must not hit upstream")
}

// Upstream failures retry with backoff: the item stays queued and the
// job stays open rather than finalizing.
func TestIngestUpstreamFailure(t *testing.T) {
	f := newFixture(t)
	f.polygon.setFailure(http.StatusInternalServerError)

	var result models.IngestResult
	resp := f.requestJSON(http.MethodPost, "/update-tickers", `{"tickers":["GOOG"]}`, &result)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.NotNil(t, result.Job)

	drained := f.drainQueue()
	assert.GreaterOrEqual(t, drained.Failed, 1)
	assert.Equal(t, 0, drained.Finalized, "job must stay open while retries remain")

	var progress models.JobProgress
	f.requestJSON(http.MethodGet, "/job-status/"+result.Job.ID, "", &progress)
	assert.Equal(t, models.JobStatusProcessing, progress.Job.Status)
	// The failed counter advances only when retries exhaust
	assert.Equal(t, 0, progress.Job.Failed)
	assert.Equal(t, 1, progress.Remaining, "item stays queued for its backoff retry")
}

func TestIngestValidation(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.request(http.MethodPost, "/update-tickers", `{"tickers":[]}`, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.request(http.MethodPost, "/update-tickers", `{"tickers":["123","!!"]}`, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// Cancelling works only while a job is still pending.
func TestJobCancel(t *testing.T) {
	f := newFixture(t)

	var result models.IngestResult
	resp := f.requestJSON(http.MethodPost, "/update-tickers", `{"tickers":["NFLX"]}`, &result)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.NotNil(t, result.Job)

	resp, _ = f.request(http.MethodDelete, "/jobs?jobId="+result.Job.ID, "", true)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var progress models.JobProgress
	f.requestJSON(http.MethodGet, "/job-status/"+result.Job.ID, "", &progress)
	assert.Equal(t, models.JobStatusCancelled, progress.Job.Status)
	assert.Equal(t, 0, progress.Remaining, "queue items are deleted on cancel")

	// Second cancel conflicts
	resp, _ = f.request(http.MethodDelete, "/jobs?jobId="+result.Job.ID, "", true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
