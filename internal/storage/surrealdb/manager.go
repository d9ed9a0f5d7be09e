package surrealdb

import (
	"context"
	"fmt"

	"github.com/bobmcallan/divvy/internal/common"
	"github.com/bobmcallan/divvy/internal/interfaces"
	"github.com/surrealdb/surrealdb.go"
)

// Manager implements interfaces.StorageManager using SurrealDB.
type Manager struct {
	db     *surrealdb.DB
	logger *common.Logger

	tickerStore       *TickerStore
	dividendStore     *DividendStore
	jobStore          *JobStore
	queueStore        *QueueStore
	budgetStore       *BudgetStore
	userStore         *UserStore
	subscriptionStore *SubscriptionStore
}

// NewManager creates a new StorageManager connected to SurrealDB.
func NewManager(logger *common.Logger, config *common.Config) (*Manager, error) {
	ctx := context.Background()

	// Connect to SurrealDB
	db, err := surrealdb.New(config.Storage.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SurrealDB: %w", err)
	}

	// Sign in
	if _, err := db.SignIn(ctx, map[string]interface{}{
		"user": config.Storage.Username,
		"pass": config.Storage.Password,
	}); err != nil {
		return nil, fmt.Errorf("failed to sign in to SurrealDB: %w", err)
	}

	// Select namespace and database
	if err := db.Use(ctx, config.Storage.Namespace, config.Storage.Database); err != nil {
		return nil, fmt.Errorf("failed to select namespace/database: %w", err)
	}

	// Define tables to ensure they exist (SurrealDB v3 errors on querying non-existent tables)
	tables := []string{"tickers", "dividends", "api_jobs", "job_queue", "rate_limits", "api_call_logs", "api_users", "user_subscriptions", "subscription_activity"}
	for _, table := range tables {
		sql := fmt.Sprintf("DEFINE TABLE IF NOT EXISTS %s SCHEMALESS", table)
		if _, err := surrealdb.Query[any](ctx, db, sql, nil); err != nil {
			return nil, fmt.Errorf("failed to define table %s: %w", table, err)
		}
	}

	m := &Manager{
		db:     db,
		logger: logger,
	}

	// Init stores
	m.tickerStore = NewTickerStore(db, logger)
	m.dividendStore = NewDividendStore(db, logger)
	m.jobStore = NewJobStore(db, logger)
	m.queueStore = NewQueueStore(db, logger)
	m.budgetStore = NewBudgetStore(db, logger)
	m.userStore = NewUserStore(db, logger)
	m.subscriptionStore = NewSubscriptionStore(db, logger)

	logger.Info().
		Str("address", config.Storage.Address).
		Str("namespace", config.Storage.Namespace).
		Str("database", config.Storage.Database).
		Msg("SurrealDB storage manager initialized")

	return m, nil
}

func (m *Manager) TickerStore() interfaces.TickerStore {
	return m.tickerStore
}

func (m *Manager) DividendStore() interfaces.DividendStore {
	return m.dividendStore
}

func (m *Manager) JobStore() interfaces.JobStore {
	return m.jobStore
}

func (m *Manager) QueueStore() interfaces.QueueStore {
	return m.queueStore
}

func (m *Manager) BudgetStore() interfaces.BudgetStore {
	return m.budgetStore
}

func (m *Manager) UserStore() interfaces.UserStore {
	return m.userStore
}

func (m *Manager) SubscriptionStore() interfaces.SubscriptionStore {
	return m.subscriptionStore
}

// Ping verifies the connection with a trivial query.
func (m *Manager) Ping(ctx context.Context) error {
	if _, err := surrealdb.Query[any](ctx, m.db, "RETURN 1", nil); err != nil {
		return fmt.Errorf("storage ping failed: %w", err)
	}
	return nil
}

func (m *Manager) Close() error {
	m.db.Close(context.Background())
	return nil
}

// Compile-time check
var _ interfaces.StorageManager = (*Manager)(nil)
