package common

import (
	"context"

	"github.com/bobmcallan/divvy/internal/models"
)

type contextKey int

const (
	apiUserKey contextKey = iota
	correlationIDKey
)

// WithAPIUser stores the authenticated API user in the request context.
func WithAPIUser(ctx context.Context, user *models.APIUser) context.Context {
	return context.WithValue(ctx, apiUserKey, user)
}

// APIUserFromContext retrieves the authenticated API user, or nil if absent.
func APIUserFromContext(ctx context.Context) *models.APIUser {
	u, _ := ctx.Value(apiUserKey).(*models.APIUser)
	return u
}

// WithCorrelationID stores a request correlation ID in the context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationIDFromContext retrieves the correlation ID, or "" if absent.
func CorrelationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey).(string)
	return id
}

// ResolveUserID returns the authenticated user's id, or "system" when the
// request carries no user (internal loops, the unauthenticated tick).
func ResolveUserID(ctx context.Context) string {
	if u := APIUserFromContext(ctx); u != nil && u.UserID != "" {
		return u.UserID
	}
	return "system"
}
