package surrealdb

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/divvy/internal/common"
	"github.com/bobmcallan/divvy/internal/interfaces"
	"github.com/bobmcallan/divvy/internal/models"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// activitySelectFields aliases activity_id to id for struct mapping.
const activitySelectFields = "activity_id as id, user_id, ticker, action, detail, created_at"

// SubscriptionStore implements interfaces.SubscriptionStore using SurrealDB.
type SubscriptionStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewSubscriptionStore creates a new SubscriptionStore.
func NewSubscriptionStore(db *surrealdb.DB, logger *common.Logger) *SubscriptionStore {
	return &SubscriptionStore{db: db, logger: logger}
}

// subID builds the natural record key for a user/ticker pair.
func subID(userID, ticker string) string {
	return userID + "_" + tickerToID(strings.ToUpper(ticker))
}

func (s *SubscriptionStore) Get(ctx context.Context, userID, ticker string) (*models.Subscription, error) {
	sub, err := surrealdb.Select[models.Subscription](ctx, s.db, surrealmodels.NewRecordID("user_subscriptions", subID(userID, ticker)))
	if err != nil {
		if isNotFoundError(err) {
			return nil, notFoundErr("get", "user_subscriptions")
		}
		return nil, transientErr("get", "user_subscriptions", err)
	}
	if sub == nil || sub.UserID == "" {
		return nil, notFoundErr("get", "user_subscriptions")
	}
	return sub, nil
}

func (s *SubscriptionStore) Upsert(ctx context.Context, sub *models.Subscription) error {
	sub.TickerSymbol = strings.ToUpper(strings.TrimSpace(sub.TickerSymbol))
	if sub.Priority == 0 {
		sub.Priority = models.SubscriptionPriorityNormal
	}
	if sub.SubscribedAt.IsZero() {
		sub.SubscribedAt = time.Now()
	}

	sql := "UPSERT $rid CONTENT $sub"
	vars := map[string]any{
		"rid": surrealmodels.NewRecordID("user_subscriptions", subID(sub.UserID, sub.TickerSymbol)),
		"sub": sub,
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return transientErr("upsert", "user_subscriptions", err)
	}
	return nil
}

func (s *SubscriptionStore) Delete(ctx context.Context, userID, ticker string) error {
	// Existence check first so callers can 404 on unknown pairs.
	if _, err := s.Get(ctx, userID, ticker); err != nil {
		return err
	}

	_, err := surrealdb.Delete[models.Subscription](ctx, s.db, surrealmodels.NewRecordID("user_subscriptions", subID(userID, ticker)))
	if err != nil && !isNotFoundError(err) {
		return transientErr("delete", "user_subscriptions", err)
	}
	return nil
}

func (s *SubscriptionStore) ListByUser(ctx context.Context, userID string) ([]*models.Subscription, error) {
	sql := "SELECT * FROM user_subscriptions WHERE user_id = $user_id ORDER BY ticker_symbol ASC"
	vars := map[string]any{"user_id": userID}

	results, err := surrealdb.Query[[]models.Subscription](ctx, s.db, sql, vars)
	if err != nil {
		return nil, transientErr("list_by_user", "user_subscriptions", err)
	}

	var subs []*models.Subscription
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			subs = append(subs, &(*results)[0].Result[i])
		}
	}
	return subs, nil
}

func (s *SubscriptionStore) CountByUser(ctx context.Context, userID string) (int, error) {
	sql := "SELECT count() AS cnt FROM user_subscriptions WHERE user_id = $user_id GROUP ALL"
	vars := map[string]any{"user_id": userID}

	type countResult struct {
		Cnt int `json:"cnt"`
	}

	results, err := surrealdb.Query[[]countResult](ctx, s.db, sql, vars)
	if err != nil {
		return 0, transientErr("count_by_user", "user_subscriptions", err)
	}

	if results != nil && len(*results) > 0 && len((*results)[0].Result) > 0 {
		return (*results)[0].Result[0].Cnt, nil
	}
	return 0, nil
}

func (s *SubscriptionStore) AppendActivity(ctx context.Context, entry *models.SubscriptionActivity) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()[:8]
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	sql := `UPSERT $rid SET
		activity_id = $activity_id, user_id = $user_id, ticker = $ticker,
		action = $action, detail = $detail, created_at = $created_at`
	vars := map[string]any{
		"rid":         surrealmodels.NewRecordID("subscription_activity", entry.ID),
		"activity_id": entry.ID,
		"user_id":     entry.UserID,
		"ticker":      entry.Ticker,
		"action":      entry.Action,
		"detail":      entry.Detail,
		"created_at":  entry.CreatedAt,
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return transientErr("append_activity", "subscription_activity", err)
	}
	return nil
}

func (s *SubscriptionStore) ListActivity(ctx context.Context, userID string, limit int) ([]*models.SubscriptionActivity, error) {
	if limit <= 0 {
		limit = 50
	}
	sql := "SELECT " + activitySelectFields + " FROM subscription_activity WHERE user_id = $user_id ORDER BY created_at DESC, activity_id DESC LIMIT $limit"
	vars := map[string]any{"user_id": userID, "limit": limit}

	results, err := surrealdb.Query[[]models.SubscriptionActivity](ctx, s.db, sql, vars)
	if err != nil {
		return nil, transientErr("list_activity", "subscription_activity", err)
	}

	var entries []*models.SubscriptionActivity
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			entries = append(entries, &(*results)[0].Result[i])
		}
	}
	return entries, nil
}

// Compile-time check
var _ interfaces.SubscriptionStore = (*SubscriptionStore)(nil)
