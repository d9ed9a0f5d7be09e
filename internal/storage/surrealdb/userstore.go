package surrealdb

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/divvy/internal/common"
	"github.com/bobmcallan/divvy/internal/interfaces"
	"github.com/bobmcallan/divvy/internal/models"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// UserStore implements interfaces.UserStore using SurrealDB.
type UserStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewUserStore creates a new UserStore.
func NewUserStore(db *surrealdb.DB, logger *common.Logger) *UserStore {
	return &UserStore{db: db, logger: logger}
}

func (s *UserStore) GetByKey(ctx context.Context, apiKey string) (*models.APIUser, error) {
	sql := "SELECT * FROM api_users WHERE api_key = $key LIMIT 1"
	vars := map[string]any{"key": apiKey}

	results, err := surrealdb.Query[[]models.APIUser](ctx, s.db, sql, vars)
	if err != nil {
		return nil, transientErr("get_by_key", "api_users", err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, notFoundErr("get_by_key", "api_users")
	}
	return &(*results)[0].Result[0], nil
}

func (s *UserStore) Upsert(ctx context.Context, user *models.APIUser) error {
	if user.UserID == "" {
		user.UserID = uuid.New().String()[:8]
	}
	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.ModifiedAt = now
	if user.PlanType == "" {
		user.PlanType = models.PlanFree
	}

	sql := "UPSERT $rid CONTENT $user"
	vars := map[string]any{
		"rid":  surrealmodels.NewRecordID("api_users", user.UserID),
		"user": user,
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return transientErr("upsert", "api_users", err)
	}
	return nil
}

func (s *UserStore) List(ctx context.Context) ([]*models.APIUser, error) {
	sql := "SELECT * FROM api_users ORDER BY created_at ASC"

	results, err := surrealdb.Query[[]models.APIUser](ctx, s.db, sql, nil)
	if err != nil {
		return nil, transientErr("list", "api_users", err)
	}

	var users []*models.APIUser
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			users = append(users, &(*results)[0].Result[i])
		}
	}
	return users, nil
}

func (s *UserStore) TouchLastUsed(ctx context.Context, apiKey string, t time.Time) error {
	sql := "UPDATE api_users SET last_used_at = $t WHERE api_key = $key"
	vars := map[string]any{"t": t, "key": apiKey}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return transientErr("touch_last_used", "api_users", err)
	}
	return nil
}

// Compile-time check
var _ interfaces.UserStore = (*UserStore)(nil)
