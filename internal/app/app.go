package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bobmcallan/divvy/internal/clients/fastqueue"
	"github.com/bobmcallan/divvy/internal/clients/polygon"
	"github.com/bobmcallan/divvy/internal/common"
	"github.com/bobmcallan/divvy/internal/interfaces"
	"github.com/bobmcallan/divvy/internal/models"
	"github.com/bobmcallan/divvy/internal/services/dividend"
	"github.com/bobmcallan/divvy/internal/services/ingest"
	"github.com/bobmcallan/divvy/internal/services/jobmanager"
	"github.com/bobmcallan/divvy/internal/services/ratebudget"
	"github.com/bobmcallan/divvy/internal/services/subscription"
	"github.com/bobmcallan/divvy/internal/storage/surrealdb"
)

// App holds all initialized services, clients, and storage.
// It is the shared core consumed by cmd/divvy-server and the test suites.
type App struct {
	Config  *common.Config
	Logger  *common.Logger
	Storage interfaces.StorageManager

	PolygonClient   interfaces.PolygonClient
	FastQueueClient interfaces.FastQueueClient

	BudgetService       interfaces.BudgetService
	DividendService     interfaces.DividendService
	JobManager          interfaces.JobManagerService
	IngestService       interfaces.IngestService
	SubscriptionService interfaces.SubscriptionService

	// JobHub streams job lifecycle events to websocket clients. Nil in
	// tests that wire mock services directly.
	JobHub *jobmanager.Hub

	StartupTime time.Time

	runner *jobmanager.Manager
}

// getBinaryDir returns the directory containing the executable.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// NewApp initializes configuration, storage, clients, and services.
// configPath may be empty, in which case the default resolution logic is used.
func NewApp(configPath string) (*App, error) {
	startupStart := time.Now()

	// Load version from .version file (fallback if ldflags not set)
	common.LoadVersionFromFile()

	binDir := getBinaryDir()

	// Load configuration - check provided path, DIVVY_CONFIG, then binary dir, then fallback
	if configPath == "" {
		configPath = os.Getenv("DIVVY_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join(binDir, "divvy.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = "config/divvy.toml" // fallback for development
		}
	}

	config, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Resolve relative log file path to binary directory
	if config.Logging.FilePath != "" && !filepath.IsAbs(config.Logging.FilePath) {
		config.Logging.FilePath = filepath.Join(binDir, config.Logging.FilePath)
	}

	logger := common.NewLoggerFromConfig(config.Logging)

	// The Polygon key is the one credential the service cannot run without
	polygonKey, err := common.ResolveAPIKey("polygon_api_key", config.Clients.Polygon.APIKey)
	if err != nil {
		return nil, fmt.Errorf("polygon API key is required: %w", err)
	}
	config.Clients.Polygon.APIKey = polygonKey

	if staticKey, err := common.ResolveAPIKey("ticker_api_key", config.Auth.APIKey); err == nil {
		config.Auth.APIKey = staticKey
	} else {
		logger.Warn().Msg("No static API key configured - only stored api_users keys will authenticate")
	}

	storageManager, err := surrealdb.NewManager(logger, config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	ctx := context.Background()
	if config.Auth.APIKey != "" {
		ensureBootstrapUser(ctx, storageManager.UserStore(), config.Auth.APIKey, logger)
	}

	budgetService := ratebudget.NewService(storageManager, logger)
	budgetService.SetLimits(models.ServicePolygon, ratebudget.Limits{
		PerMinute: config.Budget.GetPerMinute(),
		PerHour:   config.Budget.PerHour,
		PerDay:    config.Budget.PerDay,
	})

	polygonClient := polygon.NewClient(polygonKey,
		polygon.WithBaseURL(config.Clients.Polygon.BaseURL),
		polygon.WithLogger(logger),
		polygon.WithRateLimit(config.Clients.Polygon.RateLimit),
		polygon.WithTimeout(config.Clients.Polygon.GetTimeout()),
	)

	var fastQueueClient interfaces.FastQueueClient
	if config.Clients.FastQueue.URL != "" {
		fastQueueClient = fastqueue.NewClient(config.Clients.FastQueue.URL, config.Clients.FastQueue.Token,
			fastqueue.WithLogger(logger),
			fastqueue.WithTimeout(config.Clients.FastQueue.GetTimeout()),
		)
	} else {
		logger.Warn().Msg("Fast queue URL not configured - fast lane requests will use the standard queue")
	}

	dividendService := dividend.NewService(storageManager, polygonClient, budgetService, config, logger)
	jobManager := jobmanager.NewManager(storageManager, dividendService, budgetService, logger, config.JobManager)
	ingestService := ingest.NewService(storageManager, fastQueueClient, jobManager, logger)
	subscriptionService := subscription.NewService(storageManager, ingestService, logger)

	a := &App{
		Config:              config,
		Logger:              logger,
		Storage:             storageManager,
		PolygonClient:       polygonClient,
		FastQueueClient:     fastQueueClient,
		BudgetService:       budgetService,
		DividendService:     dividendService,
		JobManager:          jobManager,
		IngestService:       ingestService,
		SubscriptionService: subscriptionService,
		JobHub:              jobManager.Hub(),
		StartupTime:         startupStart,
		runner:              jobManager,
	}

	logger.Info().Dur("startup", time.Since(startupStart)).Msg("App initialized")

	return a, nil
}

// StartBackground launches the job manager's worker loops and the
// websocket hub. No-op when the manager is disabled by config.
func (a *App) StartBackground() {
	if a.runner == nil {
		return
	}
	if !a.Config.JobManager.Enabled {
		a.Logger.Info().Msg("Job manager disabled by config")
		return
	}
	a.runner.Start()
}

// Close releases all resources held by the App.
// Shutdown order: stop background workers, then close storage.
func (a *App) Close() {
	if a.runner != nil {
		a.runner.Stop()
		a.runner = nil
	}
	if a.Storage != nil {
		a.Storage.Close()
		a.Storage = nil
	}
}
