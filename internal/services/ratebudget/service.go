// Package ratebudget enforces persistent call budgets for upstream APIs.
package ratebudget

import (
	"context"
	"sync"
	"time"

	"github.com/bobmcallan/divvy/internal/common"
	"github.com/bobmcallan/divvy/internal/interfaces"
	"github.com/bobmcallan/divvy/internal/models"
)

// Limits holds the per-window call allowances for one service.
// A zero window is not enforced; its counter is still maintained.
type Limits struct {
	PerMinute int
	PerHour   int
	PerDay    int
}

// PolygonFreeTier is the hard allowance of the Polygon free plan.
var PolygonFreeTier = Limits{PerMinute: 5}

// Service meters outbound calls against budgets persisted in storage,
// so counters survive restarts. All admission goes through one mutex;
// this process is the only writer of its budget rows.
type Service struct {
	storage interfaces.StorageManager
	logger  *common.Logger
	limits  map[string]Limits

	mu  sync.Mutex
	now func() time.Time // injectable clock for testing
}

// NewService creates a budget service with the Polygon free-tier default.
func NewService(storage interfaces.StorageManager, logger *common.Logger) *Service {
	return &Service{
		storage: storage,
		logger:  logger,
		limits: map[string]Limits{
			models.ServicePolygon: PolygonFreeTier,
		},
		now: time.Now,
	}
}

// SetLimits overrides the allowance for a service. Used when the
// configuration grants a paid tier.
func (s *Service) SetLimits(service string, limits Limits) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limits[service] = limits
}

// CheckAndReserve consumes one slot for the service if any are free.
// Counters reset when the wall clock crosses a truncation boundary, so a
// slot consumed at :59 is back at :00, not sixty seconds later.
func (s *Service) CheckAndReserve(ctx context.Context, service string) (models.Admission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	budget, err := s.load(ctx, service)
	if err != nil {
		return models.Admission{}, err
	}
	s.applyResets(budget, now)

	limits := s.limits[service]
	if limits.PerMinute > 0 && budget.MinuteCount >= limits.PerMinute {
		wait := budget.ResetMinute.Add(time.Minute).Sub(now)
		return models.Admission{WaitMS: wait.Milliseconds()}, nil
	}
	if limits.PerHour > 0 && budget.HourCount >= limits.PerHour {
		wait := budget.ResetHour.Add(time.Hour).Sub(now)
		return models.Admission{WaitMS: wait.Milliseconds()}, nil
	}
	if limits.PerDay > 0 && budget.DayCount >= limits.PerDay {
		wait := budget.ResetDay.Add(24 * time.Hour).Sub(now)
		return models.Admission{WaitMS: wait.Milliseconds()}, nil
	}

	budget.MinuteCount++
	budget.HourCount++
	budget.DayCount++
	if err := s.storage.BudgetStore().Put(ctx, budget); err != nil {
		return models.Admission{}, err
	}
	return models.Admission{Admitted: true}, nil
}

// TimeUntilNextCall reports the wait for the next free slot without
// consuming one. Zero means a call would be admitted now.
func (s *Service) TimeUntilNextCall(ctx context.Context, service string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	budget, err := s.load(ctx, service)
	if err != nil {
		return 0, err
	}
	s.applyResets(budget, now)

	limits := s.limits[service]
	wait := time.Duration(0)
	if limits.PerMinute > 0 && budget.MinuteCount >= limits.PerMinute {
		if w := budget.ResetMinute.Add(time.Minute).Sub(now); w > wait {
			wait = w
		}
	}
	if limits.PerHour > 0 && budget.HourCount >= limits.PerHour {
		if w := budget.ResetHour.Add(time.Hour).Sub(now); w > wait {
			wait = w
		}
	}
	if limits.PerDay > 0 && budget.DayCount >= limits.PerDay {
		if w := budget.ResetDay.Add(24 * time.Hour).Sub(now); w > wait {
			wait = w
		}
	}
	return wait, nil
}

// RecordCall appends one outbound call to the audit trail and stamps the
// budget's last call time. Auditing never blocks the caller: failures are
// logged and swallowed.
func (s *Service) RecordCall(ctx context.Context, log *models.CallLog) {
	if log.ServiceName == "" {
		log.ServiceName = models.ServicePolygon
	}
	if err := s.storage.BudgetStore().AppendCallLog(ctx, log); err != nil {
		s.logger.Warn().Err(err).Str("service", log.ServiceName).Msg("Failed to append call log")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	budget, err := s.load(ctx, log.ServiceName)
	if err != nil {
		s.logger.Warn().Err(err).Str("service", log.ServiceName).Msg("Failed to load budget for call stamp")
		return
	}
	budget.LastCallTime = s.now()
	if err := s.storage.BudgetStore().Put(ctx, budget); err != nil {
		s.logger.Warn().Err(err).Str("service", log.ServiceName).Msg("Failed to stamp last call time")
	}
}

// load fetches the persisted budget, starting a fresh one for services
// never seen before.
func (s *Service) load(ctx context.Context, service string) (*models.RateBudget, error) {
	budget, err := s.storage.BudgetStore().Get(ctx, service)
	if err != nil {
		if models.IsNotFound(err) {
			return &models.RateBudget{ServiceName: service}, nil
		}
		return nil, err
	}
	return budget, nil
}

// applyResets zeroes any counter whose truncation boundary has passed.
// Day boundaries are UTC.
func (s *Service) applyResets(budget *models.RateBudget, now time.Time) {
	minuteStart := now.Truncate(time.Minute)
	if budget.ResetMinute.Before(minuteStart) {
		budget.MinuteCount = 0
		budget.ResetMinute = minuteStart
	}
	hourStart := now.Truncate(time.Hour)
	if budget.ResetHour.Before(hourStart) {
		budget.HourCount = 0
		budget.ResetHour = hourStart
	}
	dayStart := now.UTC().Truncate(24 * time.Hour)
	if budget.ResetDay.Before(dayStart) {
		budget.DayCount = 0
		budget.ResetDay = dayStart
	}
}

// Ensure Service implements BudgetService
var _ interfaces.BudgetService = (*Service)(nil)
