// Package config provides configuration management for jules-command.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/jules-command/internal/automerge"
	"github.com/thebtf/jules-command/internal/complexity"
	"github.com/thebtf/jules-command/internal/stall"
)

const (
	// DefaultWorkerPort is the default HTTP port for the worker API.
	DefaultWorkerPort = 37790

	// DriverSQLite selects the embedded sqlite store.
	DriverSQLite = "sqlite"
	// DriverPostgres selects a PostgreSQL store reached through JULES_DATABASE_URL.
	DriverPostgres = "postgres"

	// DataDirEnv overrides the data directory.
	DataDirEnv = "JULES_DATA_DIR"
)

// Config holds all runtime settings. JSON keys double as environment variable names.
type Config struct {
	DBDriver    string `json:"JULES_DB_DRIVER"`
	DBPath      string `json:"JULES_DB_PATH"`
	DatabaseURL string `json:"JULES_DATABASE_URL"`
	MaxConns    int    `json:"JULES_DB_MAX_CONNS"`
	WorkerHost  string `json:"JULES_WORKER_HOST"`
	WorkerPort  int    `json:"JULES_WORKER_PORT"`
	LogLevel    string `json:"JULES_LOG_LEVEL"`

	// GitHubEnabled turns on PR sync through the gh CLI.
	GitHubEnabled bool   `json:"JULES_GITHUB_ENABLED"`
	GHPath        string `json:"JULES_GH_PATH"`

	PollingIntervalMs          int `json:"JULES_POLLING_INTERVAL_MS"`
	PollDelayBetweenSessionsMs int `json:"JULES_POLL_DELAY_BETWEEN_SESSIONS_MS"`
	ActivityWindow             int `json:"JULES_ACTIVITY_WINDOW"`

	StallPlanApprovalTimeoutMin int `json:"JULES_STALL_PLAN_APPROVAL_TIMEOUT_MIN"`
	StallFeedbackTimeoutMin     int `json:"JULES_STALL_FEEDBACK_TIMEOUT_MIN"`
	StallNoProgressTimeoutMin   int `json:"JULES_STALL_NO_PROGRESS_TIMEOUT_MIN"`
	StallQueueTimeoutMin        int `json:"JULES_STALL_QUEUE_TIMEOUT_MIN"`
	StallConsecutiveErrors      int `json:"JULES_STALL_CONSECUTIVE_ERRORS"`

	AutoMergeMaxComplexity float64 `json:"JULES_AUTO_MERGE_MAX_COMPLEXITY"`
	AutoMergeMaxLines      int     `json:"JULES_AUTO_MERGE_MAX_LINES"`
	AutoMergeMaxFiles      int     `json:"JULES_AUTO_MERGE_MAX_FILES"`
	AutoMergeMinAgeHours   float64 `json:"JULES_AUTO_MERGE_MIN_AGE_HOURS"`

	ComplexityLinesThreshold int `json:"JULES_COMPLEXITY_LINES_THRESHOLD"`
	ComplexityFilesThreshold int `json:"JULES_COMPLEXITY_FILES_THRESHOLD"`
}

// DataDir returns the data directory path.
func DataDir() string {
	if dir := os.Getenv(DataDirEnv); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".jules-command")
}

// DBPath returns the default sqlite database path.
func DBPath() string {
	return filepath.Join(DataDir(), "jules-command.db")
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), "settings.json")
}

// RulesPath returns the path-rules file path.
func RulesPath() string {
	return filepath.Join(DataDir(), "rules.yaml")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0750)
}

// EnsureSettings writes a default settings file if none exists.
func EnsureSettings() error {
	path := SettingsPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	data, err := json.MarshalIndent(Default(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// EnsureAll ensures the data directory and settings file exist.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return err
	}
	return EnsureSettings()
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		DBDriver:   DriverSQLite,
		MaxConns:   4,
		WorkerHost: "127.0.0.1",
		WorkerPort: DefaultWorkerPort,
		LogLevel:   "info",
		GHPath:     "gh",

		PollingIntervalMs:          5000,
		PollDelayBetweenSessionsMs: 100,
		ActivityWindow:             100,

		StallPlanApprovalTimeoutMin: 30,
		StallFeedbackTimeoutMin:     30,
		StallNoProgressTimeoutMin:   15,
		StallQueueTimeoutMin:        10,
		StallConsecutiveErrors:      3,

		AutoMergeMaxComplexity: 0.3,
		AutoMergeMaxLines:      200,
		AutoMergeMaxFiles:      5,
		AutoMergeMinAgeHours:   2,

		ComplexityLinesThreshold: 500,
		ComplexityFilesThreshold: 20,
	}
}

// Load reads the settings file, then applies environment overrides.
// A missing settings file yields defaults; an unparseable one is logged and ignored.
func Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(SettingsPath())
	switch {
	case err == nil:
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			log.Warn().Err(jsonErr).Str("path", SettingsPath()).Msg("Invalid settings file, using defaults")
			cfg = Default()
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("read settings: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from JULES_* environment variables.
func (c *Config) applyEnv() error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	integer := func(name string, dst *int) {
		v, ok := os.LookupEnv(name)
		if !ok {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid integer %q", name, v))
			return
		}
		*dst = n
	}
	float := func(name string, dst *float64) {
		v, ok := os.LookupEnv(name)
		if !ok {
			return
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid number %q", name, v))
			return
		}
		*dst = f
	}
	boolean := func(name string, dst *bool) {
		v, ok := os.LookupEnv(name)
		if !ok {
			return
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid boolean %q", name, v))
			return
		}
		*dst = b
	}

	str("JULES_DB_DRIVER", &c.DBDriver)
	str("JULES_DB_PATH", &c.DBPath)
	str("JULES_DATABASE_URL", &c.DatabaseURL)
	integer("JULES_DB_MAX_CONNS", &c.MaxConns)
	str("JULES_WORKER_HOST", &c.WorkerHost)
	integer("JULES_WORKER_PORT", &c.WorkerPort)
	str("JULES_LOG_LEVEL", &c.LogLevel)
	boolean("JULES_GITHUB_ENABLED", &c.GitHubEnabled)
	str("JULES_GH_PATH", &c.GHPath)

	integer("JULES_POLLING_INTERVAL_MS", &c.PollingIntervalMs)
	integer("JULES_POLL_DELAY_BETWEEN_SESSIONS_MS", &c.PollDelayBetweenSessionsMs)
	integer("JULES_ACTIVITY_WINDOW", &c.ActivityWindow)

	integer("JULES_STALL_PLAN_APPROVAL_TIMEOUT_MIN", &c.StallPlanApprovalTimeoutMin)
	integer("JULES_STALL_FEEDBACK_TIMEOUT_MIN", &c.StallFeedbackTimeoutMin)
	integer("JULES_STALL_NO_PROGRESS_TIMEOUT_MIN", &c.StallNoProgressTimeoutMin)
	integer("JULES_STALL_QUEUE_TIMEOUT_MIN", &c.StallQueueTimeoutMin)
	integer("JULES_STALL_CONSECUTIVE_ERRORS", &c.StallConsecutiveErrors)

	float("JULES_AUTO_MERGE_MAX_COMPLEXITY", &c.AutoMergeMaxComplexity)
	integer("JULES_AUTO_MERGE_MAX_LINES", &c.AutoMergeMaxLines)
	integer("JULES_AUTO_MERGE_MAX_FILES", &c.AutoMergeMaxFiles)
	float("JULES_AUTO_MERGE_MIN_AGE_HOURS", &c.AutoMergeMinAgeHours)

	integer("JULES_COMPLEXITY_LINES_THRESHOLD", &c.ComplexityLinesThreshold)
	integer("JULES_COMPLEXITY_FILES_THRESHOLD", &c.ComplexityFilesThreshold)

	return errors.Join(errs...)
}

// ResolvedDBPath returns the sqlite path, falling back to the data directory.
func (c *Config) ResolvedDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}
	return DBPath()
}

// WorkerAddr returns the host:port the worker API listens on.
func (c *Config) WorkerAddr() string {
	return fmt.Sprintf("%s:%d", c.WorkerHost, c.WorkerPort)
}

// PollingInterval returns the time between scheduled poll cycles.
func (c *Config) PollingInterval() time.Duration {
	return time.Duration(c.PollingIntervalMs) * time.Millisecond
}

// PollDelay returns the pause between sessions inside one cycle.
func (c *Config) PollDelay() time.Duration {
	return time.Duration(c.PollDelayBetweenSessionsMs) * time.Millisecond
}

// StallThresholds converts the stall settings for stall.NewDetector.
func (c *Config) StallThresholds() stall.Thresholds {
	return stall.Thresholds{
		PlanApprovalTimeout: minutes(c.StallPlanApprovalTimeoutMin),
		FeedbackTimeout:     minutes(c.StallFeedbackTimeoutMin),
		NoProgressTimeout:   minutes(c.StallNoProgressTimeoutMin),
		QueueTimeout:        minutes(c.StallQueueTimeoutMin),
		ConsecutiveErrors:   c.StallConsecutiveErrors,
	}
}

// AutoMergeThresholds converts the gate settings for automerge.NewEvaluator.
func (c *Config) AutoMergeThresholds() automerge.Thresholds {
	return automerge.Thresholds{
		MaxComplexity: c.AutoMergeMaxComplexity,
		MaxLines:      c.AutoMergeMaxLines,
		MaxFiles:      c.AutoMergeMaxFiles,
		MinAge:        time.Duration(c.AutoMergeMinAgeHours * float64(time.Hour)),
	}
}

// ComplexityThresholds converts the scoring denominators for complexity.NewScorer.
func (c *Config) ComplexityThresholds() complexity.Thresholds {
	return complexity.Thresholds{
		Lines: c.ComplexityLinesThreshold,
		Files: c.ComplexityFilesThreshold,
	}
}

func minutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}
