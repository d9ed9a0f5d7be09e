package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/divvy/internal/models"
	"github.com/bobmcallan/divvy/internal/services/ingest"
)

// backgroundTimeout bounds a detached ingest run. Generous: a full
// 100-ticker batch of routing and enqueueing is store work only.
const backgroundTimeout = 5 * time.Minute

// writeRateLimited maps an upstream budget denial to 429 with a wait hint.
func writeRateLimited(w http.ResponseWriter, err error) {
	var fe *models.FetchError
	var waitMS int64
	if errors.As(err, &fe) {
		waitMS = fe.WaitMS
	}
	if waitMS > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt((waitMS+999)/1000, 10))
	}
	WriteJSON(w, http.StatusTooManyRequests, map[string]interface{}{
		"error":   "Upstream rate limit reached",
		"wait_ms": waitMS,
	})
}

// handleUpdateTickers handles POST /update-tickers, the ingest entry
// point. Fast mode (?fast=true, or any batch past the threshold) answers
// 202 immediately and routes in the background.
func (s *Server) handleUpdateTickers(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req models.UpdateTickersRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	// Shape problems answer 400 in either mode, before any routing or
	// store work; the fast-mode background run has no way to report one.
	if len(req.Tickers) == 0 {
		WriteError(w, http.StatusBadRequest, ingest.ErrNoTickers.Error())
		return
	}
	if len(req.Tickers) > ingest.MaxBatchTickers {
		WriteError(w, http.StatusBadRequest, ingest.ErrTooManyTickers.Error())
		return
	}
	if len(ingest.NormalizeSymbols(req.Tickers)) == 0 {
		WriteError(w, http.StatusBadRequest, ingest.ErrNoValidTickers.Error())
		return
	}

	// Large batches always answer before processing starts, keeping the
	// handler under its wall-time cap.
	fastMode := QueryBool(r, "fast") || len(req.Tickers) > s.app.Config.Ingest.GetFastModeThreshold()

	if !fastMode {
		result, err := s.app.IngestService.UpdateTickers(r.Context(), &req)
		if err != nil {
			if ingest.IsValidationErr(err) {
				WriteError(w, http.StatusBadRequest, err.Error())
				return
			}
			s.serverError(w, "Failed to process update request", err)
			return
		}
		WriteJSON(w, http.StatusAccepted, result)
		return
	}

	req.RequestID = uuid.New().String()
	go s.runIngestBackground(&req)

	WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"accepted":   true,
		"request_id": req.RequestID,
		"mode":       "fast",
		"tickers":    len(req.Tickers),
	})
}

// runIngestBackground executes a detached update-tickers run. The
// request is already answered; failures land in the log only.
func (s *Server) runIngestBackground(req *models.UpdateTickersRequest) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error().
				Str("panic", fmt.Sprintf("%v", rec)).
				Str("stack", string(debug.Stack())).
				Str("request_id", req.RequestID).
				Msg("Panic in background ingest run")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
	defer cancel()

	result, err := s.app.IngestService.UpdateTickers(ctx, req)
	if err != nil {
		s.logger.Error().Err(err).Str("request_id", req.RequestID).Msg("Background ingest run failed")
		return
	}

	s.logger.Info().
		Str("request_id", result.RequestID).
		Int("fast", result.NewCount).
		Int("bulk", result.ExistingCount).
		Msg("Background ingest run complete")
}

// processRequest is the POST /process body: one ticker through the
// fetch/upsert cycle synchronously.
type processRequest struct {
	Ticker    string `json:"ticker"`
	Force     bool   `json:"force,omitempty"`
	FetchType string `json:"fetchType,omitempty"`
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req processRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.Ticker == "" {
		WriteError(w, http.StatusBadRequest, "Ticker is required")
		return
	}

	kind := req.FetchType
	switch kind {
	case "":
		kind = models.FetchKindHistorical
	case models.FetchKindHistorical, models.FetchKindRecent:
	default:
		WriteError(w, http.StatusBadRequest, "fetchType must be historical or recent")
		return
	}

	result, err := s.app.DividendService.ProcessTicker(r.Context(), req.Ticker, req.Force, kind)
	if err != nil {
		if models.IsRateLimited(err) {
			writeRateLimited(w, err)
			return
		}
		s.serverError(w, fmt.Sprintf("Failed to process %s", req.Ticker), err)
		return
	}

	WriteJSON(w, http.StatusOK, result)
}

// handleProcessQueue handles POST /process-queue, the unauthenticated
// internal tick for external schedulers. One worker pass, result returned.
func (s *Server) handleProcessQueue(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	result, err := s.app.JobManager.Tick(r.Context())
	if err != nil {
		s.serverError(w, "Queue processing failed", err)
		return
	}

	WriteJSON(w, http.StatusOK, result)
}
