package ingest

import (
	"context"
	"time"

	"github.com/bobmcallan/divvy/internal/models"
)

// Routing windows. A ticker created within the last hour is treated as
// brand new even though its row exists; a dividend update within the
// last day keeps the ticker on the bulk lane's slow cadence.
const (
	recentCreationWindow = 1 * time.Hour
	recentUpdateWindow   = 24 * time.Hour
)

// Decide routes one ticker from its stored state alone. A nil ticker
// means the symbol has never been seen. The caller owns the symbol; the
// returned decision carries lane and reason only.
func Decide(t *models.Ticker, now time.Time) models.RouteDecision {
	if t == nil {
		return models.RouteDecision{Lane: models.RouteFast, Reason: models.RouteReasonNewTicker}
	}

	if t.LastDividendUpdate.IsZero() {
		if t.CreatedAt.After(now.Add(-recentCreationWindow)) {
			return models.RouteDecision{Lane: models.RouteFast, Reason: models.RouteReasonRecentlyCreated}
		}
		return models.RouteDecision{Lane: models.RouteFast, Reason: models.RouteReasonNoDividendData}
	}

	if !t.LastDividendUpdate.Before(now.Add(-recentUpdateWindow)) {
		return models.RouteDecision{Lane: models.RouteBulk, Reason: models.RouteReasonRecentExisting}
	}

	return models.RouteDecision{Lane: models.RouteBulk, Reason: models.RouteReasonStaleExisting}
}

// RouteTicker looks the symbol up and decides its lane. Store trouble
// routes to the fast lane rather than failing the request.
func (s *Service) RouteTicker(ctx context.Context, symbol string) models.RouteDecision {
	sym := normalizeSymbol(symbol)

	t, err := s.storage.TickerStore().Get(ctx, sym)
	if err != nil && !models.IsNotFound(err) {
		s.logger.Warn().Err(err).Str("ticker", sym).Msg("Ticker lookup failed, routing to fast lane")
		return models.RouteDecision{Ticker: sym, Lane: models.RouteFast, Reason: models.RouteReasonErrorFallback}
	}
	if models.IsNotFound(err) {
		t = nil
	}

	decision := Decide(t, s.now())
	decision.Ticker = sym
	return decision
}
