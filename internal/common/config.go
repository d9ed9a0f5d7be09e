// Package common provides shared utilities for Divvy
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for Divvy
type Config struct {
	Environment string           `toml:"environment"`
	Server      ServerConfig     `toml:"server"`
	Auth        AuthConfig       `toml:"auth"`
	Storage     StorageConfig    `toml:"storage"`
	Clients     ClientsConfig    `toml:"clients"`
	Ingest      IngestConfig     `toml:"ingest"`
	JobManager  JobManagerConfig `toml:"jobmanager"`
	Budget      BudgetConfig     `toml:"budget"`
	Logging     LoggingConfig    `toml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// AuthConfig holds API gate configuration.
// APIKey is the static bootstrap key; additional keys live in the
// api_users table.
type AuthConfig struct {
	APIKey    string `toml:"api_key"`
	RateLimit int    `toml:"rate_limit"` // Default requests per key per hour
}

// GetRateLimit returns the default per-key hourly allowance.
func (c *AuthConfig) GetRateLimit() int {
	if c.RateLimit > 0 {
		return c.RateLimit
	}
	return 100
}

// StorageConfig holds the SurrealDB connection settings.
type StorageConfig struct {
	Address   string `toml:"address"` // ws://host:port/rpc
	Namespace string `toml:"namespace"`
	Database  string `toml:"database"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
}

// ClientsConfig holds API client configurations
type ClientsConfig struct {
	Polygon   PolygonConfig   `toml:"polygon"`
	FastQueue FastQueueConfig `toml:"fastqueue"`
}

// PolygonConfig holds Polygon.io API configuration
type PolygonConfig struct {
	BaseURL   string `toml:"base_url"`
	APIKey    string `toml:"api_key"`
	RateLimit int    `toml:"rate_limit"` // Calls per minute
	Timeout   string `toml:"timeout"`
}

// GetTimeout parses and returns the timeout duration
func (c *PolygonConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// FastQueueConfig holds the edge worker queue endpoint.
// When URL is empty the fast lane falls back to the standard queue.
type FastQueueConfig struct {
	URL     string `toml:"url"`
	Token   string `toml:"token"`
	Timeout string `toml:"timeout"`
}

// GetTimeout parses and returns the timeout duration
func (c *FastQueueConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// IngestConfig holds ingest routing and freshness settings.
type IngestConfig struct {
	UpdateFrequencyHours int `toml:"update_frequency_hours"` // Dividend freshness TTL
	FastModeThreshold    int `toml:"fast_mode_threshold"`    // Batch size that forces async handling
}

// GetUpdateFrequency returns the dividend freshness TTL.
func (c *IngestConfig) GetUpdateFrequency() time.Duration {
	if c.UpdateFrequencyHours > 0 {
		return time.Duration(c.UpdateFrequencyHours) * time.Hour
	}
	return 24 * time.Hour
}

// GetFastModeThreshold returns the ticker count above which update
// requests are always handled in the background.
func (c *IngestConfig) GetFastModeThreshold() int {
	if c.FastModeThreshold > 0 {
		return c.FastModeThreshold
	}
	return 20
}

// JobManagerConfig holds worker pool configuration.
type JobManagerConfig struct {
	Enabled      bool   `toml:"enabled"`
	Workers      int    `toml:"workers"`
	PollInterval string `toml:"poll_interval"`
	BatchSize    int    `toml:"batch_size"`
	MaxRetries   int    `toml:"max_retries"`
	LeaseTimeout string `toml:"lease_timeout"`
	ItemPause    string `toml:"item_pause"`
	ItemTimeout  string `toml:"item_timeout"`
	PurgeAfter   string `toml:"purge_after"`
}

// GetWorkers returns the worker goroutine count.
func (c *JobManagerConfig) GetWorkers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return 1
}

// GetPollInterval parses the tick interval with a 60s fallback.
func (c *JobManagerConfig) GetPollInterval() time.Duration {
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// GetBatchSize returns how many queue items one tick may lease.
func (c *JobManagerConfig) GetBatchSize() int {
	if c.BatchSize > 0 {
		return c.BatchSize
	}
	return 5
}

// GetMaxRetries returns the per-item retry ceiling.
func (c *JobManagerConfig) GetMaxRetries() int {
	if c.MaxRetries > 0 {
		return c.MaxRetries
	}
	return 3
}

// GetLeaseTimeout parses the lease visibility timeout with a 5m fallback.
func (c *JobManagerConfig) GetLeaseTimeout() time.Duration {
	d, err := time.ParseDuration(c.LeaseTimeout)
	if err != nil || d < 5*time.Minute {
		return 5 * time.Minute
	}
	return d
}

// GetItemPause parses the courtesy pause between items.
func (c *JobManagerConfig) GetItemPause() time.Duration {
	d, err := time.ParseDuration(c.ItemPause)
	if err != nil {
		return 1 * time.Second
	}
	return d
}

// GetItemTimeout parses the per-item soft budget.
func (c *JobManagerConfig) GetItemTimeout() time.Duration {
	d, err := time.ParseDuration(c.ItemTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetPurgeAfter parses the completed-job retention window.
func (c *JobManagerConfig) GetPurgeAfter() time.Duration {
	d, err := time.ParseDuration(c.PurgeAfter)
	if err != nil {
		return 7 * 24 * time.Hour
	}
	return d
}

// BudgetConfig caps upstream API usage. PerMinute is the hard Polygon
// free-tier limit; hour/day caps are enforced only when non-zero.
type BudgetConfig struct {
	PerMinute int `toml:"per_minute"`
	PerHour   int `toml:"per_hour"`
	PerDay    int `toml:"per_day"`
}

// GetPerMinute returns the per-minute call cap.
func (c *BudgetConfig) GetPerMinute() int {
	if c.PerMinute > 0 {
		return c.PerMinute
	}
	return 5
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level    string `toml:"level"`
	Format   string `toml:"format"`
	FilePath string `toml:"file_path"`
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Auth: AuthConfig{
			RateLimit: 100,
		},
		Storage: StorageConfig{
			Address:   "ws://localhost:8000/rpc",
			Namespace: "divvy",
			Database:  "divvy",
			Username:  "root",
			Password:  "root",
		},
		Clients: ClientsConfig{
			Polygon: PolygonConfig{
				BaseURL:   "https://api.polygon.io",
				RateLimit: 5,
				Timeout:   "10s",
			},
			FastQueue: FastQueueConfig{
				Timeout: "10s",
			},
		},
		Ingest: IngestConfig{
			UpdateFrequencyHours: 24,
			FastModeThreshold:    20,
		},
		JobManager: JobManagerConfig{
			Enabled:      true,
			Workers:      1,
			PollInterval: "60s",
			BatchSize:    5,
			MaxRetries:   3,
			LeaseTimeout: "5m",
			ItemPause:    "1s",
			ItemTimeout:  "30s",
			PurgeAfter:   "168h",
		},
		Budget: BudgetConfig{
			PerMinute: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier)
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue // Skip missing files
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	// Apply environment overrides
	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("DIVVY_ENV"); env != "" {
		config.Environment = env
	}

	if host := os.Getenv("DIVVY_HOST"); host != "" {
		config.Server.Host = host
	}

	if port := os.Getenv("DIVVY_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if level := os.Getenv("DIVVY_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if addr := os.Getenv("DIVVY_STORAGE_ADDRESS"); addr != "" {
		config.Storage.Address = addr
	}
	if ns := os.Getenv("DIVVY_STORAGE_NAMESPACE"); ns != "" {
		config.Storage.Namespace = ns
	}
	if db := os.Getenv("DIVVY_STORAGE_DATABASE"); db != "" {
		config.Storage.Database = db
	}
	if user := os.Getenv("DIVVY_STORAGE_USERNAME"); user != "" {
		config.Storage.Username = user
	}
	if pass := os.Getenv("DIVVY_STORAGE_PASSWORD"); pass != "" {
		config.Storage.Password = pass
	}

	// Edge queue endpoint
	for _, name := range []string{"CLOUDFLARE_WORKER_QUEUE_URL", "DIVVY_FASTQUEUE_URL"} {
		if v := os.Getenv(name); v != "" {
			config.Clients.FastQueue.URL = v
			break
		}
	}
	if v := os.Getenv("DIVVY_FASTQUEUE_TOKEN"); v != "" {
		config.Clients.FastQueue.Token = v
	}
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// ResolveAPIKey resolves an API key from environment or config fallback.
// Environment variables win so deployments can rotate keys without
// touching config files.
func ResolveAPIKey(name string, fallback string) (string, error) {
	keyToEnvMapping := map[string][]string{
		"polygon_api_key": {"POLYGON_API_KEY", "DIVVY_POLYGON_API_KEY"},
		"ticker_api_key":  {"TICKER_API_KEY", "DIVVY_API_KEY"},
	}

	if envVarNames, ok := keyToEnvMapping[name]; ok {
		for _, envVarName := range envVarNames {
			if envValue := os.Getenv(envVarName); envValue != "" {
				return envValue, nil
			}
		}
	}

	if fallback != "" {
		return fallback, nil
	}

	return "", fmt.Errorf("API key '%s' not found in environment or config", name)
}
