package server

import (
	"errors"
	"net/http"

	"github.com/bobmcallan/divvy/internal/common"
	"github.com/bobmcallan/divvy/internal/models"
	"github.com/bobmcallan/divvy/internal/services/subscription"
)

// requireUser pulls the authenticated user from the request context.
// The auth middleware guarantees one on every gated route; a nil here
// means the route was wired outside the gate.
func (s *Server) requireUser(w http.ResponseWriter, r *http.Request) *models.APIUser {
	user := common.APIUserFromContext(r.Context())
	if user == nil {
		WriteError(w, http.StatusUnauthorized, "Authentication required")
		return nil
	}
	return user
}

// subscriptionRequest is the body for POST and DELETE /subscriptions.
type subscriptionRequest struct {
	Ticker   string `json:"ticker"`
	Priority int    `json:"priority,omitempty"`
}

// bulkSubscriptionRequest is the body for POST /subscriptions/bulk.
type bulkSubscriptionRequest struct {
	Action   string   `json:"action"`
	Tickers  []string `json:"tickers"`
	Priority int      `json:"priority,omitempty"`
}

// handleSubscriptions serves GET (list), POST (subscribe), and DELETE
// (unsubscribe) on /subscriptions.
func (s *Server) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	user := s.requireUser(w, r)
	if user == nil {
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.listSubscriptions(w, r, user)
	case http.MethodPost:
		s.subscribe(w, r, user)
	case http.MethodDelete:
		s.unsubscribe(w, r, user)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) listSubscriptions(w http.ResponseWriter, r *http.Request, user *models.APIUser) {
	subs, err := s.app.SubscriptionService.List(r.Context(), user.UserID)
	if err != nil {
		s.serverError(w, "Failed to list subscriptions", err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"count":         len(subs),
		"limit":         user.SubscriptionLimit(),
		"subscriptions": subs,
	})
}

func (s *Server) subscribe(w http.ResponseWriter, r *http.Request, user *models.APIUser) {
	var req subscriptionRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.Ticker == "" {
		WriteError(w, http.StatusBadRequest, "Ticker is required")
		return
	}

	sub, err := s.app.SubscriptionService.Subscribe(r.Context(), user, req.Ticker, req.Priority)
	if err != nil {
		switch {
		case subscription.IsCapReached(err):
			WriteError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, subscription.ErrInvalidTicker):
			WriteError(w, http.StatusBadRequest, err.Error())
		default:
			s.serverError(w, "Failed to save subscription", err)
		}
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"subscription": sub,
	})
}

func (s *Server) unsubscribe(w http.ResponseWriter, r *http.Request, user *models.APIUser) {
	var req subscriptionRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.Ticker == "" {
		WriteError(w, http.StatusBadRequest, "Ticker is required")
		return
	}

	if err := s.app.SubscriptionService.Unsubscribe(r.Context(), user, req.Ticker); err != nil {
		switch {
		case models.IsNotFound(err):
			WriteError(w, http.StatusNotFound, "Not subscribed to "+req.Ticker)
		case errors.Is(err, subscription.ErrInvalidTicker):
			WriteError(w, http.StatusBadRequest, err.Error())
		default:
			s.serverError(w, "Failed to remove subscription", err)
		}
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"ticker":       req.Ticker,
		"unsubscribed": true,
	})
}

// handleSubscriptionsBulk serves POST /subscriptions/bulk, applying one
// action per ticker and reporting per-ticker outcomes.
func (s *Server) handleSubscriptionsBulk(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	user := s.requireUser(w, r)
	if user == nil {
		return
	}

	var req bulkSubscriptionRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	outcomes, err := s.app.SubscriptionService.BulkApply(r.Context(), user, req.Action, req.Tickers, req.Priority)
	if err != nil {
		switch {
		case errors.Is(err, subscription.ErrInvalidAction), errors.Is(err, subscription.ErrNoTickers):
			WriteError(w, http.StatusBadRequest, err.Error())
		default:
			s.serverError(w, "Failed to apply bulk subscription change", err)
		}
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"action":  req.Action,
		"count":   len(outcomes),
		"results": outcomes,
	})
}

// handleSubscriptionActivity serves GET /subscriptions/activity, the
// user's audit trail of subscription mutations.
func (s *Server) handleSubscriptionActivity(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	user := s.requireUser(w, r)
	if user == nil {
		return
	}

	limit := QueryInt(r, "limit", 50)
	entries, err := s.app.Storage.SubscriptionStore().ListActivity(r.Context(), user.UserID, limit)
	if err != nil {
		s.serverError(w, "Failed to load subscription activity", err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(entries),
		"activity": entries,
	})
}

// handleMyDividends serves GET /my-dividends: the user's subscribed
// tickers joined with stored dividend history.
func (s *Server) handleMyDividends(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	user := s.requireUser(w, r)
	if user == nil {
		return
	}

	filter := dividendFilterFromQuery(r)
	rows, err := s.app.SubscriptionService.MyDividends(r.Context(), user.UserID, filter)
	if err != nil {
		s.serverError(w, "Failed to load dividends", err)
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		writeAllDividendsCSV(w, "my_dividends.csv", rows)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"count":     len(rows),
		"limit":     filter.Limit,
		"offset":    filter.Offset,
		"dividends": rows,
	})
}
