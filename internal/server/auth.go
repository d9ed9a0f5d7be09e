package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bobmcallan/divvy/internal/app"
	"github.com/bobmcallan/divvy/internal/common"
	"github.com/bobmcallan/divvy/internal/models"
)

// keyPattern is the accepted API key shape: a tk_ prefix followed by at
// least six token characters.
var keyPattern = regexp.MustCompile(`^tk_[A-Za-z0-9_]{6,}$`)

// errUnknownKey covers both missing and deactivated keys so the response
// does not reveal which.
var errUnknownKey = errors.New("unknown or inactive API key")

// isAuthExempt reports whether a path skips the API gate. The internal
// tick endpoint stays open for schedulers that hold no key.
func isAuthExempt(path string) bool {
	switch path {
	case "/health", "/version", "/process-queue":
		return true
	}
	return false
}

// extractAPIKey pulls the key from the X-API-Key header, a bearer
// Authorization header, or the api_key query parameter. The query form
// exists for websocket clients that cannot set headers.
func extractAPIKey(r *http.Request) (string, bool) {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key, true
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer "), true
	}
	if key := r.URL.Query().Get("api_key"); key != "" {
		return key, true
	}
	return "", false
}

// rateWindow tracks request timestamps per API key over a sliding window.
// Per-process state: a multi-instance deployment rates each instance
// separately, which the design accepts.
type rateWindow struct {
	mu      sync.Mutex
	history map[string][]time.Time
	window  time.Duration
	ops     int
	now     func() time.Time // injectable clock for testing
}

func newRateWindow(window time.Duration) *rateWindow {
	return &rateWindow{
		history: make(map[string][]time.Time),
		window:  window,
		now:     time.Now,
	}
}

// Allow admits one request for key under limit. remaining is the
// allowance left after admission; on denial, reset is the unix second
// the oldest counted request leaves the window.
func (rw *rateWindow) Allow(key string, limit int) (allowed bool, remaining int, reset int64) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	now := rw.now()
	cutoff := now.Add(-rw.window)

	// Amortized cleanup of keys that went quiet
	rw.ops++
	if rw.ops%256 == 0 {
		rw.sweep(cutoff)
	}

	ts := pruneBefore(rw.history[key], cutoff)

	if len(ts) >= limit {
		rw.history[key] = ts
		return false, 0, ts[0].Add(rw.window).Unix()
	}

	ts = append(ts, now)
	rw.history[key] = ts
	return true, limit - len(ts), 0
}

func (rw *rateWindow) sweep(cutoff time.Time) {
	for k, ts := range rw.history {
		ts = pruneBefore(ts, cutoff)
		if len(ts) == 0 {
			delete(rw.history, k)
			continue
		}
		rw.history[k] = ts
	}
}

// pruneBefore drops leading timestamps older than cutoff. Entries are
// appended in arrival order, so the slice stays sorted.
func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	return ts[i:]
}

// resolveRateLimit returns the hourly allowance for a user: the row's
// explicit limit, else the plan allowance, else the configured default.
func resolveRateLimit(user *models.APIUser, cfg *common.Config) int {
	if user.RateLimit > 0 {
		return user.RateLimit
	}
	if user.PlanType != "" {
		return models.PlanRateLimit(user.PlanType)
	}
	return cfg.Auth.GetRateLimit()
}

// resolveUser maps an API key to its user. The static config key is
// accepted even when its api_users row is missing; every other key needs
// an active row.
func (s *Server) resolveUser(ctx context.Context, key string) (*models.APIUser, error) {
	staticKey := s.app.Config.Auth.APIKey
	isStatic := staticKey != "" && subtle.ConstantTimeCompare([]byte(key), []byte(staticKey)) == 1

	user, err := s.app.Storage.UserStore().GetByKey(ctx, key)
	if err == nil {
		if !user.Active && !isStatic {
			return nil, errUnknownKey
		}
		return user, nil
	}

	if isStatic && models.IsNotFound(err) {
		// Bootstrap row not provisioned yet; fall back to its defaults
		return &models.APIUser{
			UserID:   app.BootstrapUserID,
			UserName: "Bootstrap",
			APIKey:   key,
			Role:     models.RoleAdmin,
			PlanType: models.PlanFree,
			Active:   true,
		}, nil
	}
	if models.IsNotFound(err) {
		return nil, errUnknownKey
	}
	return nil, err
}

// authMiddleware is the API gate: key extraction, format check, user
// lookup, and the per-key sliding-window rate limit. Authenticated
// responses always carry the X-RateLimit-* headers.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isAuthExempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		key, ok := extractAPIKey(r)
		if !ok {
			WriteError(w, http.StatusUnauthorized, "API key required")
			return
		}
		if !keyPattern.MatchString(key) {
			WriteError(w, http.StatusUnauthorized, "Invalid API key format")
			return
		}

		user, err := s.resolveUser(r.Context(), key)
		if err != nil {
			if errors.Is(err, errUnknownKey) {
				WriteError(w, http.StatusUnauthorized, "Invalid API key")
				return
			}
			s.serverError(w, "Authentication unavailable", err)
			return
		}

		limit := resolveRateLimit(user, s.app.Config)
		allowed, remaining, reset := s.limiter.Allow(key, limit)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !allowed {
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset, 10))
			WriteError(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}

		// Best effort; a failed stamp never blocks the request
		if err := s.app.Storage.UserStore().TouchLastUsed(r.Context(), key, time.Now()); err != nil {
			s.logger.Debug().Err(err).Msg("Failed to stamp key last_used_at")
		}

		r = r.WithContext(common.WithAPIUser(r.Context(), user))
		next.ServeHTTP(w, r)
	})
}
