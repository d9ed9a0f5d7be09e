package app

import (
	"context"
	"time"

	"github.com/bobmcallan/divvy/internal/common"
	"github.com/bobmcallan/divvy/internal/interfaces"
	"github.com/bobmcallan/divvy/internal/models"
)

// BootstrapUserID is the api_users row backing the static config key.
const BootstrapUserID = "bootstrap"

// ensureBootstrapUser creates or reactivates the api_users row for the
// static config key so the gate can resolve it like any stored key.
// Idempotent; failures are logged and startup continues.
func ensureBootstrapUser(ctx context.Context, store interfaces.UserStore, apiKey string, logger *common.Logger) {
	existing, err := store.GetByKey(ctx, apiKey)
	if err == nil {
		if existing.Active {
			logger.Debug().Str("user_id", existing.UserID).Msg("Bootstrap API user already exists")
			return
		}
		existing.Active = true
		existing.ModifiedAt = time.Now()
		if err := store.Upsert(ctx, existing); err != nil {
			logger.Error().Err(err).Msg("Failed to reactivate bootstrap API user")
			return
		}
		logger.Info().Str("user_id", existing.UserID).Msg("Bootstrap API user reactivated")
		return
	}
	if !models.IsNotFound(err) {
		logger.Error().Err(err).Msg("Failed to look up bootstrap API user")
		return
	}

	now := time.Now()
	user := &models.APIUser{
		UserID:     BootstrapUserID,
		UserName:   "Bootstrap",
		APIKey:     apiKey,
		Role:       models.RoleAdmin,
		PlanType:   models.PlanFree,
		Active:     true,
		CreatedAt:  now,
		ModifiedAt: now,
	}
	if err := store.Upsert(ctx, user); err != nil {
		logger.Error().Err(err).Msg("Failed to create bootstrap API user")
		return
	}

	logger.Info().Str("user_id", user.UserID).Msg("Bootstrap API user created")
}
