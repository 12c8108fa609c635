package models

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database" validate:"required"`
	Archive  ArchiveConfig  `json:"archive"`
	Tracing  TracingConfig  `json:"tracing"`
	Retry    RetryConfig    `json:"retry"`
	LogLevel string         `json:"log_level" validate:"omitempty,oneof=trace debug info warn warning error fatal panic"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int    `json:"port" validate:"omitempty,min=1,max=65535"`
	WebhookSecret   string `json:"webhook_secret"`
	ReadTimeoutSec  int    `json:"readTimeoutSec" validate:"min=0"`
	WriteTimeoutSec int    `json:"writeTimeoutSec" validate:"min=0"`
	IdleTimeoutSec  int    `json:"idleTimeoutSec" validate:"min=0"`
}

// DatabaseConfig holds database related configurations
type DatabaseConfig struct {
	Path string `json:"path" validate:"required"`
}

// ArchiveConfig controls how long archive records are kept. Zero retention
// keeps them forever.
type ArchiveConfig struct {
	RetentionDays      int `json:"retentionDays" validate:"min=0"`
	SweepIntervalHours int `json:"sweepIntervalHours" validate:"min=0"`
	CommitTimeoutSec   int `json:"commitTimeoutSec" validate:"min=0"`
}

// TracingConfig contains OpenTelemetry configuration
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate" validate:"min=0,max=1"`
	UseStdout      bool    `json:"use_stdout"`
}

// RetryConfig holds retry related configurations
type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs" validate:"min=0"`
	MaxBackoffMs     int `json:"maxBackoffMs" validate:"min=0"`
	MaxAttempts      int `json:"maxAttempts" validate:"min=0"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
