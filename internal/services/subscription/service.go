// Package subscription manages per-user dividend subscriptions and the
// first-time backfill a new subscription triggers.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bobmcallan/divvy/internal/common"
	"github.com/bobmcallan/divvy/internal/interfaces"
	"github.com/bobmcallan/divvy/internal/models"
)

// Compile-time interface check
var _ interfaces.SubscriptionService = (*Service)(nil)

// Activity log actions and per-ticker outcome statuses.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"

	OutcomeSubscribed   = "subscribed"
	OutcomeUnsubscribed = "unsubscribed"
	OutcomeError        = "error"
)

// Validation failures the handler maps to 400.
var (
	ErrInvalidTicker = errors.New("invalid ticker symbol")
	ErrInvalidAction = errors.New("action must be subscribe or unsubscribe")
	ErrNoTickers     = errors.New("tickers list is empty")
)

// CapError rejects a subscription that would exceed the user's limit.
type CapError struct {
	Limit   int
	Current int
}

func (e *CapError) Error() string {
	return fmt.Sprintf("Subscription limit reached, limit=%d, current=%d", e.Limit, e.Current)
}

// IsCapReached reports whether err is a subscription limit rejection.
func IsCapReached(err error) bool {
	var ce *CapError
	return errors.As(err, &ce)
}

// Service implements SubscriptionService
type Service struct {
	storage interfaces.StorageManager
	ingest  interfaces.IngestService
	logger  *common.Logger
	now     func() time.Time // injectable clock for testing
}

// NewService creates a new subscription service
func NewService(storage interfaces.StorageManager, ingest interfaces.IngestService, logger *common.Logger) *Service {
	return &Service{
		storage: storage,
		ingest:  ingest,
		logger:  logger,
		now:     time.Now,
	}
}

// List returns the user's subscriptions ordered by ticker
func (s *Service) List(ctx context.Context, userID string) ([]*models.Subscription, error) {
	subs, err := s.storage.SubscriptionStore().ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return subs, nil
}

// Subscribe creates or updates one user/ticker pair. The cap applies to
// new pairs only; re-subscribing an existing ticker just updates its
// priority. A new pair triggers a backfill request for the ticker.
func (s *Service) Subscribe(ctx context.Context, user *models.APIUser, ticker string, priority int) (*models.Subscription, error) {
	sym := normalizeTicker(ticker)
	if !validTicker(sym) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTicker, ticker)
	}
	priority = normalizePriority(priority)

	existing, err := s.storage.SubscriptionStore().Get(ctx, user.UserID, sym)
	if err != nil && !models.IsNotFound(err) {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}

	isNew := existing == nil
	if isNew {
		count, err := s.storage.SubscriptionStore().CountByUser(ctx, user.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to count subscriptions: %w", err)
		}
		if limit := user.SubscriptionLimit(); count >= limit {
			return nil, &CapError{Limit: limit, Current: count}
		}
	}

	sub := s.buildSubscription(user.UserID, sym, priority, existing)
	if err := s.storage.SubscriptionStore().Upsert(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to save subscription: %w", err)
	}

	s.recordActivity(ctx, user.UserID, sym, ActionSubscribe, fmt.Sprintf("priority=%d", priority))

	if isNew {
		s.backfill(ctx, user.UserID, []string{sym})
	}

	s.logger.Info().
		Str("user", user.UserID).
		Str("ticker", sym).
		Int("priority", priority).
		Bool("new", isNew).
		Msg("Subscription saved")

	return sub, nil
}

// Unsubscribe removes one pair. A missing pair surfaces the store's
// NotFound error so the handler can 404.
func (s *Service) Unsubscribe(ctx context.Context, user *models.APIUser, ticker string) error {
	sym := normalizeTicker(ticker)
	if !validTicker(sym) {
		return fmt.Errorf("%w: %q", ErrInvalidTicker, ticker)
	}

	if err := s.storage.SubscriptionStore().Delete(ctx, user.UserID, sym); err != nil {
		return err
	}

	s.recordActivity(ctx, user.UserID, sym, ActionUnsubscribe, "")
	s.logger.Info().Str("user", user.UserID).Str("ticker", sym).Msg("Subscription removed")
	return nil
}

// BulkApply runs one action across tickers, reporting a per-ticker
// outcome instead of failing the batch. The cap is evaluated against
// the live count as new pairs are added.
func (s *Service) BulkApply(ctx context.Context, user *models.APIUser, action string, tickers []string, priority int) ([]*models.BulkSubscriptionOutcome, error) {
	if action != ActionSubscribe && action != ActionUnsubscribe {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}
	if len(tickers) == 0 {
		return nil, ErrNoTickers
	}
	priority = normalizePriority(priority)

	count, err := s.storage.SubscriptionStore().CountByUser(ctx, user.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to count subscriptions: %w", err)
	}
	limit := user.SubscriptionLimit()

	outcomes := make([]*models.BulkSubscriptionOutcome, 0, len(tickers))
	var added []string
	applied := 0

	for _, raw := range tickers {
		sym := normalizeTicker(raw)
		out := &models.BulkSubscriptionOutcome{Ticker: sym}
		outcomes = append(outcomes, out)

		if !validTicker(sym) {
			out.Status = OutcomeError
			out.Error = "invalid ticker symbol"
			continue
		}

		if action == ActionUnsubscribe {
			err := s.storage.SubscriptionStore().Delete(ctx, user.UserID, sym)
			switch {
			case models.IsNotFound(err):
				out.Status = OutcomeError
				out.Error = "not subscribed"
			case err != nil:
				out.Status = OutcomeError
				out.Error = err.Error()
			default:
				out.Status = OutcomeUnsubscribed
				applied++
			}
			continue
		}

		existing, err := s.storage.SubscriptionStore().Get(ctx, user.UserID, sym)
		if err != nil && !models.IsNotFound(err) {
			out.Status = OutcomeError
			out.Error = err.Error()
			continue
		}
		isNew := existing == nil
		if isNew && count >= limit {
			out.Status = OutcomeError
			out.Error = (&CapError{Limit: limit, Current: count}).Error()
			continue
		}

		if err := s.storage.SubscriptionStore().Upsert(ctx, s.buildSubscription(user.UserID, sym, priority, existing)); err != nil {
			out.Status = OutcomeError
			out.Error = err.Error()
			continue
		}
		out.Status = OutcomeSubscribed
		applied++
		if isNew {
			count++
			added = append(added, sym)
		}
	}

	s.recordActivity(ctx, user.UserID, strings.Join(added, ","), "bulk_"+action,
		fmt.Sprintf("%d of %d applied", applied, len(tickers)))

	if len(added) > 0 {
		s.backfill(ctx, user.UserID, added)
	}

	s.logger.Info().
		Str("user", user.UserID).
		Str("action", action).
		Int("tickers", len(tickers)).
		Int("applied", applied).
		Msg("Bulk subscription change applied")

	return outcomes, nil
}

// MyDividends joins the user's subscribed tickers with stored dividends.
// A user with no subscriptions gets an empty list, not an error.
func (s *Service) MyDividends(ctx context.Context, userID string, filter interfaces.DividendFilter) ([]*models.Dividend, error) {
	subs, err := s.storage.SubscriptionStore().ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return []*models.Dividend{}, nil
	}

	symbols := make([]string, 0, len(subs))
	for _, sub := range subs {
		symbols = append(symbols, sub.TickerSymbol)
	}

	dividends, err := s.storage.DividendStore().ListForTickers(ctx, symbols, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list dividends: %w", err)
	}
	return dividends, nil
}

// buildSubscription updates the existing row's priority or assembles a
// fresh pair with notification and auto-update on.
func (s *Service) buildSubscription(userID, sym string, priority int, existing *models.Subscription) *models.Subscription {
	if existing != nil {
		existing.Priority = priority
		return existing
	}
	return &models.Subscription{
		UserID:              userID,
		TickerSymbol:        sym,
		Priority:            priority,
		NotificationEnabled: true,
		AutoUpdateEnabled:   true,
		SubscribedAt:        s.now(),
	}
}

// backfill registers new tickers and requests their first dividend
// history through the ingest fast path. Failures are logged, never
// surfaced; symbols the fast path cannot take (dotted class shares,
// for one) are still registered and picked up by the bulk scan.
func (s *Service) backfill(ctx context.Context, userID string, symbols []string) {
	for _, sym := range symbols {
		if _, err := s.storage.TickerStore().Upsert(ctx, sym); err != nil {
			s.logger.Warn().Err(err).Str("ticker", sym).Msg("Ticker registration failed")
		}
	}

	if s.ingest == nil {
		return
	}
	if _, err := s.ingest.UpdateTickers(ctx, &models.UpdateTickersRequest{Tickers: symbols, Priority: models.PriorityHigh}); err != nil {
		s.logger.Warn().Err(err).Str("user", userID).Strs("tickers", symbols).Msg("Subscription backfill not queued")
	}
}

// recordActivity appends to the audit log. Failures are logged, never raised.
func (s *Service) recordActivity(ctx context.Context, userID, ticker, action, detail string) {
	entry := &models.SubscriptionActivity{
		UserID:    userID,
		Ticker:    ticker,
		Action:    action,
		Detail:    detail,
		CreatedAt: s.now(),
	}
	if err := s.storage.SubscriptionStore().AppendActivity(ctx, entry); err != nil {
		s.logger.Warn().Err(err).Str("user", userID).Str("action", action).Msg("Activity log write failed")
	}
}

func normalizeTicker(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func normalizePriority(p int) int {
	if p == models.SubscriptionPriorityHigh {
		return p
	}
	return models.SubscriptionPriorityNormal
}

// validTicker accepts 1-10 uppercase letters with optional interior
// dots, covering class shares like BRK.B.
func validTicker(s string) bool {
	if len(s) < 1 || len(s) > 10 {
		return false
	}
	prevDot := true // a dot may not lead
	for _, c := range s {
		switch {
		case c >= 'A' && c <= 'Z':
			prevDot = false
		case c == '.':
			if prevDot {
				return false
			}
			prevDot = true
		default:
			return false
		}
	}
	return !prevDot // nor trail
}
