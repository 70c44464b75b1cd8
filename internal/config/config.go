package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Risk      RiskConfig      `yaml:"risk"`
	Selection SelectionConfig `yaml:"selection"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Quota     QuotaConfig     `yaml:"quota"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Platform  PlatformConfig  `yaml:"platform"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	// In a container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_seconds"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// RiskConfig holds the risk assessor's factor weights and block threshold.
// These are operator-tunable; the mechanism (additive clamped factors,
// fixed threshold) is fixed in code.
type RiskConfig struct {
	BatchSizeWeight  float64 `yaml:"batch_size_weight"`
	RecentFlagWeight float64 `yaml:"recent_flag_weight"`
	OffPeakWeight    float64 `yaml:"off_peak_weight"`
	BlockThreshold   float64 `yaml:"block_threshold"`
	PeakHourStart    int     `yaml:"peak_hour_start"`
	PeakHourEnd      int     `yaml:"peak_hour_end"`
	// FlagSaturation is the trailing-24h flag count at which the flag
	// factor reaches its full weight.
	FlagSaturation int `yaml:"flag_saturation"`
}

// SelectionConfig holds account scoring weights
type SelectionConfig struct {
	HealthWeight  float64 `yaml:"health_weight"`
	RecencyWeight float64 `yaml:"recency_weight"`
	// RecencyHalfLifeHours controls how quickly the recency bonus recovers
	// after an account posts.
	RecencyHalfLifeHours int `yaml:"recency_half_life_hours"`
}

// ScheduleConfig holds slot scheduling parameters
type ScheduleConfig struct {
	JitterMinSeconds int `yaml:"jitter_min_seconds"`
	JitterMaxSeconds int `yaml:"jitter_max_seconds"`
	PeakHourStart    int `yaml:"peak_hour_start"`
	PeakHourEnd      int `yaml:"peak_hour_end"`
}

// JitterMin returns the jitter floor as a duration
func (c ScheduleConfig) JitterMin() time.Duration {
	return time.Duration(c.JitterMinSeconds) * time.Second
}

// JitterMax returns the jitter ceiling as a duration
func (c ScheduleConfig) JitterMax() time.Duration {
	return time.Duration(c.JitterMaxSeconds) * time.Second
}

// QuotaConfig holds per-class sliding window capacities. Accounts younger
// than YoungAgeDays get their capacity scaled by YoungFactor.
type QuotaConfig struct {
	PersonalHourly int     `yaml:"personal_hourly"`
	PersonalDaily  int     `yaml:"personal_daily"`
	BusinessHourly int     `yaml:"business_hourly"`
	BusinessDaily  int     `yaml:"business_daily"`
	YoungAgeDays   int     `yaml:"young_age_days"`
	YoungFactor    float64 `yaml:"young_factor"`
}

// ExecutorConfig holds worker pool and retry settings
type ExecutorConfig struct {
	NumWorkers            int `yaml:"num_workers"`
	BatchSize             int `yaml:"batch_size"`
	PollIntervalMillis    int `yaml:"poll_interval_millis"`
	AccountLockTTLSeconds int `yaml:"account_lock_ttl_seconds"`
	PublishTimeoutSeconds int `yaml:"publish_timeout_seconds"`
	// BackoffSeconds is the retry delay schedule indexed by attempt number
	// (attempt 1 failed -> BackoffSeconds[0], and so on).
	BackoffSeconds []int `yaml:"backoff_seconds"`
	// StuckAfterSeconds is how long an in_flight job may sit unclaimed by a
	// live worker before the recovery sweep requeues it.
	StuckAfterSeconds int `yaml:"stuck_after_seconds"`
}

// PollInterval returns the due-job poll interval as a duration
func (c ExecutorConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMillis) * time.Millisecond
}

// AccountLockTTL returns the per-account lease duration
func (c ExecutorConfig) AccountLockTTL() time.Duration {
	return time.Duration(c.AccountLockTTLSeconds) * time.Second
}

// PublishTimeout returns the bounded timeout for one publish call
func (c ExecutorConfig) PublishTimeout() time.Duration {
	return time.Duration(c.PublishTimeoutSeconds) * time.Second
}

// StuckAfter returns the in_flight age past which the recovery sweep
// requeues a job
func (c ExecutorConfig) StuckAfter() time.Duration {
	return time.Duration(c.StuckAfterSeconds) * time.Second
}

// Backoff returns the retry delay for a given failed attempt count.
// Attempts beyond the schedule reuse the last entry.
func (c ExecutorConfig) Backoff(attempt int) time.Duration {
	if len(c.BackoffSeconds) == 0 {
		return 30 * time.Second
	}
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(c.BackoffSeconds) {
		idx = len(c.BackoffSeconds) - 1
	}
	return time.Duration(c.BackoffSeconds[idx]) * time.Second
}

// PlatformConfig holds external collaborator endpoints
type PlatformConfig struct {
	DirectoryBaseURL  string  `yaml:"directory_base_url"`
	VariationBaseURL  string  `yaml:"variation_base_url"`
	PublishBaseURL    string  `yaml:"publish_base_url"`
	TimeoutSeconds    int     `yaml:"timeout_seconds"`
	PublishRatePerSec float64 `yaml:"publish_rate_per_sec"`
	PublishBurst      int     `yaml:"publish_burst"`
}

// Timeout returns the collaborator HTTP timeout as a duration
func (c PlatformConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 300
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Risk.BatchSizeWeight == 0 {
		cfg.Risk.BatchSizeWeight = 50
	}
	if cfg.Risk.RecentFlagWeight == 0 {
		cfg.Risk.RecentFlagWeight = 30
	}
	if cfg.Risk.OffPeakWeight == 0 {
		cfg.Risk.OffPeakWeight = 20
	}
	if cfg.Risk.BlockThreshold == 0 {
		cfg.Risk.BlockThreshold = 80
	}
	if cfg.Risk.PeakHourStart == 0 && cfg.Risk.PeakHourEnd == 0 {
		cfg.Risk.PeakHourStart = 18
		cfg.Risk.PeakHourEnd = 22
	}
	if cfg.Risk.FlagSaturation == 0 {
		cfg.Risk.FlagSaturation = 10
	}
	if cfg.Selection.HealthWeight == 0 {
		cfg.Selection.HealthWeight = 0.7
	}
	if cfg.Selection.RecencyWeight == 0 {
		cfg.Selection.RecencyWeight = 0.3
	}
	if cfg.Selection.RecencyHalfLifeHours == 0 {
		cfg.Selection.RecencyHalfLifeHours = 12
	}
	if cfg.Schedule.JitterMinSeconds == 0 {
		cfg.Schedule.JitterMinSeconds = 120
	}
	if cfg.Schedule.JitterMaxSeconds == 0 {
		cfg.Schedule.JitterMaxSeconds = 900
	}
	if cfg.Schedule.PeakHourStart == 0 && cfg.Schedule.PeakHourEnd == 0 {
		cfg.Schedule.PeakHourStart = 18
		cfg.Schedule.PeakHourEnd = 22
	}
	if cfg.Quota.PersonalHourly == 0 {
		cfg.Quota.PersonalHourly = 6
	}
	if cfg.Quota.PersonalDaily == 0 {
		cfg.Quota.PersonalDaily = 24
	}
	if cfg.Quota.BusinessHourly == 0 {
		cfg.Quota.BusinessHourly = 10
	}
	if cfg.Quota.BusinessDaily == 0 {
		cfg.Quota.BusinessDaily = 60
	}
	if cfg.Quota.YoungAgeDays == 0 {
		cfg.Quota.YoungAgeDays = 30
	}
	if cfg.Quota.YoungFactor == 0 {
		cfg.Quota.YoungFactor = 0.5
	}
	if cfg.Executor.NumWorkers == 0 {
		cfg.Executor.NumWorkers = 8
	}
	if cfg.Executor.BatchSize == 0 {
		cfg.Executor.BatchSize = 20
	}
	if cfg.Executor.PollIntervalMillis == 0 {
		cfg.Executor.PollIntervalMillis = 500
	}
	if cfg.Executor.AccountLockTTLSeconds == 0 {
		cfg.Executor.AccountLockTTLSeconds = 120
	}
	if cfg.Executor.PublishTimeoutSeconds == 0 {
		cfg.Executor.PublishTimeoutSeconds = 30
	}
	if len(cfg.Executor.BackoffSeconds) == 0 {
		cfg.Executor.BackoffSeconds = []int{30, 120, 600}
	}
	if cfg.Executor.StuckAfterSeconds == 0 {
		cfg.Executor.StuckAfterSeconds = 300
	}
	if cfg.Platform.TimeoutSeconds == 0 {
		cfg.Platform.TimeoutSeconds = 30
	}
	if cfg.Platform.PublishRatePerSec == 0 {
		cfg.Platform.PublishRatePerSec = 5
	}
	if cfg.Platform.PublishBurst == 0 {
		cfg.Platform.PublishBurst = 10
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in production.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		cfg.Redis.Password = pw
	}
	if v := os.Getenv("DIRECTORY_BASE_URL"); v != "" {
		cfg.Platform.DirectoryBaseURL = v
	}
	if v := os.Getenv("VARIATION_BASE_URL"); v != "" {
		cfg.Platform.VariationBaseURL = v
	}
	if v := os.Getenv("PUBLISH_BASE_URL"); v != "" {
		cfg.Platform.PublishBaseURL = v
	}
	if v := os.Getenv("EXECUTOR_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Executor.NumWorkers = n
		}
	}
	if v := os.Getenv("RISK_BLOCK_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.Risk.BlockThreshold = f
		}
	}

	return cfg, nil
}
