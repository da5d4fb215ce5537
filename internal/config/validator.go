package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError is one rejected settings value.
type ValidationError struct {
	Field   string // JULES_* key as written in settings.json or the environment
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects every problem found in one Validate pass.
type ValidationErrors []ValidationError

// Error lists each failure on its own numbered line.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, ve := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, ve.Error())
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidDrivers returns the supported database drivers
func ValidDrivers() []string {
	return []string{DriverSQLite, DriverPostgres}
}

// Validate checks the Config for invalid values and returns all validation errors found.
// A nil result means the config is usable.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors

	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validateWorker()...)
	errs = append(errs, c.validatePolling()...)
	errs = append(errs, c.validateStall()...)
	errs = append(errs, c.validateAutoMerge()...)
	errs = append(errs, c.validateComplexity()...)

	if len(errs) == 0 {
		return nil
	}
	return errs
}

func (c *Config) validateStorage() []ValidationError {
	var errs []ValidationError
	if !slices.Contains(ValidDrivers(), c.DBDriver) {
		errs = append(errs, ValidationError{
			Field:   "JULES_DB_DRIVER",
			Value:   c.DBDriver,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidDrivers(), ", ")),
		})
	}
	if c.DBDriver == DriverPostgres && c.DatabaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "JULES_DATABASE_URL",
			Value:   c.DatabaseURL,
			Message: "is required when the postgres driver is selected",
		})
	}
	if c.MaxConns < 1 {
		errs = append(errs, ValidationError{
			Field:   "JULES_DB_MAX_CONNS",
			Value:   c.MaxConns,
			Message: "must be at least 1",
		})
	}
	return errs
}

func (c *Config) validateWorker() []ValidationError {
	var errs []ValidationError
	if c.WorkerPort < 1 || c.WorkerPort > 65535 {
		errs = append(errs, ValidationError{
			Field:   "JULES_WORKER_PORT",
			Value:   c.WorkerPort,
			Message: "must be between 1 and 65535",
		})
	}
	if !slices.Contains(ValidLogLevels(), strings.ToLower(c.LogLevel)) {
		errs = append(errs, ValidationError{
			Field:   "JULES_LOG_LEVEL",
			Value:   c.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}
	if c.GitHubEnabled && c.GHPath == "" {
		errs = append(errs, ValidationError{
			Field:   "JULES_GH_PATH",
			Value:   c.GHPath,
			Message: "is required when GitHub sync is enabled",
		})
	}
	return errs
}

func (c *Config) validatePolling() []ValidationError {
	var errs []ValidationError
	if c.PollingIntervalMs <= 0 {
		errs = append(errs, ValidationError{
			Field:   "JULES_POLLING_INTERVAL_MS",
			Value:   c.PollingIntervalMs,
			Message: "must be positive",
		})
	}
	if c.PollDelayBetweenSessionsMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "JULES_POLL_DELAY_BETWEEN_SESSIONS_MS",
			Value:   c.PollDelayBetweenSessionsMs,
			Message: "must not be negative",
		})
	}
	if c.ActivityWindow < 1 {
		errs = append(errs, ValidationError{
			Field:   "JULES_ACTIVITY_WINDOW",
			Value:   c.ActivityWindow,
			Message: "must be at least 1",
		})
	} else if c.ActivityWindow < c.StallConsecutiveErrors {
		errs = append(errs, ValidationError{
			Field:   "JULES_ACTIVITY_WINDOW",
			Value:   c.ActivityWindow,
			Message: fmt.Sprintf("must be at least JULES_STALL_CONSECUTIVE_ERRORS (%d)", c.StallConsecutiveErrors),
		})
	}
	return errs
}

func (c *Config) validateStall() []ValidationError {
	var errs []ValidationError
	timeouts := []struct {
		field string
		value int
	}{
		{"JULES_STALL_PLAN_APPROVAL_TIMEOUT_MIN", c.StallPlanApprovalTimeoutMin},
		{"JULES_STALL_FEEDBACK_TIMEOUT_MIN", c.StallFeedbackTimeoutMin},
		{"JULES_STALL_NO_PROGRESS_TIMEOUT_MIN", c.StallNoProgressTimeoutMin},
		{"JULES_STALL_QUEUE_TIMEOUT_MIN", c.StallQueueTimeoutMin},
	}
	for _, t := range timeouts {
		if t.value <= 0 {
			errs = append(errs, ValidationError{Field: t.field, Value: t.value, Message: "must be positive"})
		}
	}
	if c.StallConsecutiveErrors < 1 {
		errs = append(errs, ValidationError{
			Field:   "JULES_STALL_CONSECUTIVE_ERRORS",
			Value:   c.StallConsecutiveErrors,
			Message: "must be at least 1",
		})
	}
	return errs
}

func (c *Config) validateAutoMerge() []ValidationError {
	var errs []ValidationError
	if c.AutoMergeMaxComplexity < 0 || c.AutoMergeMaxComplexity > 1 {
		errs = append(errs, ValidationError{
			Field:   "JULES_AUTO_MERGE_MAX_COMPLEXITY",
			Value:   c.AutoMergeMaxComplexity,
			Message: "must be between 0 and 1",
		})
	}
	if c.AutoMergeMaxLines < 0 {
		errs = append(errs, ValidationError{
			Field:   "JULES_AUTO_MERGE_MAX_LINES",
			Value:   c.AutoMergeMaxLines,
			Message: "must not be negative",
		})
	}
	if c.AutoMergeMaxFiles < 0 {
		errs = append(errs, ValidationError{
			Field:   "JULES_AUTO_MERGE_MAX_FILES",
			Value:   c.AutoMergeMaxFiles,
			Message: "must not be negative",
		})
	}
	if c.AutoMergeMinAgeHours < 0 {
		errs = append(errs, ValidationError{
			Field:   "JULES_AUTO_MERGE_MIN_AGE_HOURS",
			Value:   c.AutoMergeMinAgeHours,
			Message: "must not be negative",
		})
	}
	return errs
}

func (c *Config) validateComplexity() []ValidationError {
	var errs []ValidationError
	if c.ComplexityLinesThreshold <= 0 {
		errs = append(errs, ValidationError{
			Field:   "JULES_COMPLEXITY_LINES_THRESHOLD",
			Value:   c.ComplexityLinesThreshold,
			Message: "must be positive",
		})
	}
	if c.ComplexityFilesThreshold <= 0 {
		errs = append(errs, ValidationError{
			Field:   "JULES_COMPLEXITY_FILES_THRESHOLD",
			Value:   c.ComplexityFilesThreshold,
			Message: "must be positive",
		})
	}
	return errs
}
