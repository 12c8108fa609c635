package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"fadeout/internal/constants"
	"fadeout/internal/models"
	"fadeout/internal/security"
	"fadeout/internal/tracing"
	"fadeout/internal/validation"

	"github.com/go-playground/validator/v10"
)

var (
	ErrMissingDBPath = models.ConfigError{Message: "missing database path"}
)

func LoadConfig(path string) (*models.Config, error) {
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	// Perform security validation after environment overrides
	if err := validateSecurity(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// validate applies defaults and then checks struct rules.
func validate(c *models.Config) error {
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}

	applyDefaults(c)

	if err := validator.New().Struct(c); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid configuration: %v", err)}
	}

	if err := validation.ValidateRetentionDays(c.Archive.RetentionDays); err != nil {
		return models.ConfigError{Message: err.Error()}
	}
	if err := validation.ValidateTimeout(c.Archive.CommitTimeoutSec, "archive.commitTimeoutSec"); err != nil {
		return models.ConfigError{Message: err.Error()}
	}
	if c.Retry.MaxBackoffMs < c.Retry.InitialBackoffMs {
		return models.ConfigError{Message: "retry.maxBackoffMs must not be smaller than retry.initialBackoffMs"}
	}

	return nil
}

func applyDefaults(c *models.Config) {
	if c.Server.Port == 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.ReadTimeoutSec == 0 {
		c.Server.ReadTimeoutSec = constants.DefaultServerReadTimeoutSec
	}
	if c.Server.WriteTimeoutSec == 0 {
		c.Server.WriteTimeoutSec = constants.DefaultServerWriteTimeoutSec
	}
	if c.Server.IdleTimeoutSec == 0 {
		c.Server.IdleTimeoutSec = constants.DefaultServerIdleTimeoutSec
	}

	if c.Archive.SweepIntervalHours == 0 {
		c.Archive.SweepIntervalHours = constants.DefaultArchiveSweepIntervalHour
	}
	if c.Archive.CommitTimeoutSec == 0 {
		c.Archive.CommitTimeoutSec = constants.DefaultCommitTimeoutSec
	}

	if c.Retry.InitialBackoffMs == 0 {
		c.Retry.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if c.Retry.MaxBackoffMs == 0 {
		c.Retry.MaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = constants.DefaultMaxAttempts
	}

	tracingDefaults := tracing.DefaultConfig()
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = tracingDefaults.ServiceName
	}
	if c.Tracing.ServiceVersion == "" {
		c.Tracing.ServiceVersion = tracingDefaults.ServiceVersion
	}
	if c.Tracing.Environment == "" {
		c.Tracing.Environment = tracingDefaults.Environment
	}
	if c.Tracing.OTLPEndpoint == "" {
		c.Tracing.OTLPEndpoint = tracingDefaults.OTLPEndpoint
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func applyEnvironmentOverrides(c *models.Config) {
	if path := os.Getenv("FADEOUT_DB_PATH"); path != "" {
		c.Database.Path = path
	}

	// SECURITY: Webhook secrets should be set via environment variables
	if secret := os.Getenv("FADEOUT_WEBHOOK_SECRET"); secret != "" {
		c.Server.WebhookSecret = secret
	}

	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	if level := os.Getenv("FADEOUT_LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
}

// validateSecurity performs security-specific validation
func validateSecurity(c *models.Config) error {
	isProduction := os.Getenv("FADEOUT_ENV") == "production"

	if isProduction {
		if c.Server.WebhookSecret == "" {
			return models.ConfigError{Message: "webhook secret is required in production (set FADEOUT_WEBHOOK_SECRET environment variable)"}
		}

		if len(c.Server.WebhookSecret) < 32 {
			return models.ConfigError{Message: "webhook secret must be at least 32 characters long"}
		}

		if c.LogLevel == "debug" || c.LogLevel == "trace" {
			return models.ConfigError{Message: "debug logging should not be used in production (security risk)"}
		}
	} else if c.Server.WebhookSecret == "" {
		fmt.Fprintf(os.Stderr, "WARNING: webhook secret not set. Set FADEOUT_WEBHOOK_SECRET environment variable for security.\n")
	}

	return nil
}
