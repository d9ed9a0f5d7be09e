package models

import "time"

// APIUser represents an authenticated API consumer.
// Keys are opaque "tk_" tokens; there are no passwords or sessions.
type APIUser struct {
	UserID           string    `json:"user_id"`
	UserName         string    `json:"user_name,omitempty"`
	APIKey           string    `json:"api_key"`
	Role             string    `json:"role"`
	PlanType         string    `json:"plan_type"`
	MaxSubscriptions int       `json:"max_subscriptions"` // 0 = plan default
	RateLimit        int       `json:"rate_limit"`        // Requests per hour; 0 = gate default
	Active           bool      `json:"is_active"`
	CreatedAt        time.Time `json:"created_at"`
	ModifiedAt       time.Time `json:"modified_at"`
	LastUsedAt       time.Time `json:"last_used_at"`
}

// SubscriptionLimit returns the user's cap, falling back to the plan default.
func (u *APIUser) SubscriptionLimit() int {
	if u.MaxSubscriptions > 0 {
		return u.MaxSubscriptions
	}
	return PlanSubscriptionLimit(u.PlanType)
}

// User role constants
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Subscription links a user to a ticker whose dividends they track.
type Subscription struct {
	UserID              string    `json:"user_id"`
	TickerSymbol        string    `json:"ticker_symbol"`
	Priority            int       `json:"priority"` // 1 = normal, 2 = high
	NotificationEnabled bool      `json:"notification_enabled"`
	AutoUpdateEnabled   bool      `json:"auto_update_enabled"`
	SubscribedAt        time.Time `json:"subscribed_at"`
	LastDividendCheck   time.Time `json:"last_dividend_check"`
}

// Subscription priority levels
const (
	SubscriptionPriorityNormal = 1
	SubscriptionPriorityHigh   = 2
)

// Subscription plan constants
const (
	PlanFree    = "free"
	PlanBasic   = "basic"
	PlanPremium = "premium"
)

// PlanSubscriptionLimit returns the maximum active subscriptions for a plan.
// Unknown plans fall back to the free tier.
func PlanSubscriptionLimit(plan string) int {
	switch plan {
	case PlanPremium:
		return 500
	case PlanBasic:
		return 50
	default:
		return 10
	}
}

// PlanRateLimit returns the default hourly request allowance for a plan.
func PlanRateLimit(plan string) int {
	switch plan {
	case PlanPremium:
		return 1000
	case PlanBasic:
		return 300
	default:
		return 100
	}
}

// BulkSubscriptionOutcome is the per-ticker result of a bulk action.
type BulkSubscriptionOutcome struct {
	Ticker string `json:"ticker"`
	Status string `json:"status"` // "subscribed", "unsubscribed", "error"
	Error  string `json:"error,omitempty"`
}

// SubscriptionActivity records one subscription mutation for audit.
type SubscriptionActivity struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Ticker    string    `json:"ticker"`
	Action    string    `json:"action"` // "subscribe", "unsubscribe", "bulk_subscribe", "bulk_unsubscribe"
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
