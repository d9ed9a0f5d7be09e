package server

import (
	"net/http"
	"strings"
	"time"
)

// registerRoutes sets up all REST API routes on the mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// System
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/version", s.handleVersion)
	mux.HandleFunc("/shutdown", s.handleShutdown)

	// Dividends
	mux.HandleFunc("/dividends/", s.routeDividends)
	mux.HandleFunc("/my-dividends", s.handleMyDividends)

	// Ingest
	mux.HandleFunc("/update-tickers", s.handleUpdateTickers)
	mux.HandleFunc("/process", s.handleProcess)
	mux.HandleFunc("/process-queue", s.handleProcessQueue)

	// Jobs
	mux.HandleFunc("/jobs", s.handleJobs)
	mux.HandleFunc("/job-status/", s.handleJobStatus)
	mux.HandleFunc("/ws/jobs", s.handleJobsWS)

	// Subscriptions
	mux.HandleFunc("/subscriptions", s.handleSubscriptions)
	mux.HandleFunc("/subscriptions/", s.routeSubscriptions)
}

// routeDividends dispatches /dividends/{ticker}, /dividends/all, and
// /dividends/{ticker}/chart.
func (s *Server) routeDividends(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/dividends/")
	if rest == "" {
		WriteError(w, http.StatusNotFound, "Ticker is required")
		return
	}

	parts := strings.SplitN(rest, "/", 2)
	switch {
	case parts[0] == "all":
		s.handleDividendsAll(w, r)
	case len(parts) == 2 && parts[1] == "chart":
		s.handleDividendChart(w, r, parts[0])
	case len(parts) == 1:
		s.handleDividendsByTicker(w, r, parts[0])
	default:
		WriteError(w, http.StatusNotFound, "Not found")
	}
}

// routeSubscriptions dispatches /subscriptions/bulk and /subscriptions/activity.
func (s *Server) routeSubscriptions(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/subscriptions/")
	switch rest {
	case "":
		s.handleSubscriptions(w, r)
	case "bulk":
		s.handleSubscriptionsBulk(w, r)
	case "activity":
		s.handleSubscriptionActivity(w, r)
	default:
		WriteError(w, http.StatusNotFound, "Not found")
	}
}

// handleShutdown handles POST /shutdown (dev mode only).
func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	if s.app.Config.IsProduction() {
		WriteError(w, http.StatusForbidden, "Shutdown endpoint disabled in production")
		return
	}

	s.logger.Info().Msg("Shutdown requested via HTTP endpoint")

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Shutting down gracefully...\n"))

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	if s.shutdownChan != nil {
		go func() {
			time.Sleep(100 * time.Millisecond)
			s.shutdownChan <- struct{}{}
		}()
	}
}
