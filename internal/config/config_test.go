package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fadeout/internal/constants"
	"fadeout/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()

	validConfigPath := writeConfigFile(t, tmpDir, "valid_config.json", `{
		"server": {
			"port": 9090,
			"webhook_secret": "secret123"
		},
		"retry": {
			"initialBackoffMs": 1000,
			"maxBackoffMs": 5000,
			"maxAttempts": 3
		},
		"database": {
			"path": "/path/to/fadeout.db"
		},
		"archive": {
			"retentionDays": 30,
			"sweepIntervalHours": 6
		},
		"log_level": "warn"
	}`)
	missingDBPath := writeConfigFile(t, tmpDir, "missing_db.json", `{"database": {}}`)
	badLevelPath := writeConfigFile(t, tmpDir, "bad_level.json", `{"database": {"path": "/tmp/x.db"}, "log_level": "loud"}`)
	badRetentionPath := writeConfigFile(t, tmpDir, "bad_retention.json", `{"database": {"path": "/tmp/x.db"}, "archive": {"retentionDays": -1}}`)
	badBackoffPath := writeConfigFile(t, tmpDir, "bad_backoff.json", `{"database": {"path": "/tmp/x.db"}, "retry": {"initialBackoffMs": 5000, "maxBackoffMs": 100}}`)
	badPortPath := writeConfigFile(t, tmpDir, "bad_port.json", `{"database": {"path": "/tmp/x.db"}, "server": {"port": 70000}}`)
	badJSONPath := writeConfigFile(t, tmpDir, "bad.json", `{not json`)

	tests := []struct {
		name      string
		path      string
		setEnv    map[string]string
		wantError string
		validate  func(*testing.T, *models.Config)
	}{
		{
			name: "valid config",
			path: validConfigPath,
			validate: func(t *testing.T, config *models.Config) {
				assert.Equal(t, 9090, config.Server.Port)
				assert.Equal(t, "secret123", config.Server.WebhookSecret)
				assert.Equal(t, "/path/to/fadeout.db", config.Database.Path)
				assert.Equal(t, 30, config.Archive.RetentionDays)
				assert.Equal(t, 6, config.Archive.SweepIntervalHours)
				assert.Equal(t, constants.DefaultCommitTimeoutSec, config.Archive.CommitTimeoutSec)
				assert.Equal(t, 3, config.Retry.MaxAttempts)
				assert.Equal(t, "warn", config.LogLevel)
			},
		},
		{
			name: "environment overrides",
			path: validConfigPath,
			setEnv: map[string]string{
				"FADEOUT_DB_PATH":        "/env/fadeout.db",
				"FADEOUT_WEBHOOK_SECRET": "env-secret",
				"PORT":                   "7070",
				"FADEOUT_LOG_LEVEL":      "error",
			},
			validate: func(t *testing.T, config *models.Config) {
				assert.Equal(t, "/env/fadeout.db", config.Database.Path)
				assert.Equal(t, "env-secret", config.Server.WebhookSecret)
				assert.Equal(t, 7070, config.Server.Port)
				assert.Equal(t, "error", config.LogLevel)
			},
		},
		{
			name:   "env db path fills missing value",
			path:   missingDBPath,
			setEnv: map[string]string{"FADEOUT_DB_PATH": "/env/fadeout.db"},
			validate: func(t *testing.T, config *models.Config) {
				assert.Equal(t, "/env/fadeout.db", config.Database.Path)
			},
		},
		{
			name:      "missing database path",
			path:      missingDBPath,
			wantError: "missing database path",
		},
		{
			name:      "invalid log level",
			path:      badLevelPath,
			wantError: "invalid configuration",
		},
		{
			name:      "negative retention",
			path:      badRetentionPath,
			wantError: "RetentionDays",
		},
		{
			name:      "backoff ordering",
			path:      badBackoffPath,
			wantError: "maxBackoffMs",
		},
		{
			name:      "port out of range",
			path:      badPortPath,
			wantError: "invalid configuration",
		},
		{
			name:      "malformed json",
			path:      badJSONPath,
			wantError: "invalid character",
		},
		{
			name:      "non-existent file",
			path:      filepath.Join(tmpDir, "missing.json"),
			wantError: "no such file",
		},
		{
			name:      "path traversal",
			path:      "../config.json",
			wantError: "invalid config path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.setEnv {
				t.Setenv(k, v)
			}

			config, err := LoadConfig(tt.path)
			if tt.wantError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantError)
				assert.Nil(t, config)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, config)
			if tt.validate != nil {
				tt.validate(t, config)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	config := &models.Config{Database: models.DatabaseConfig{Path: "/tmp/fadeout.db"}}

	require.NoError(t, validate(config))

	assert.Equal(t, constants.DefaultServerPort, config.Server.Port)
	assert.Equal(t, constants.DefaultServerReadTimeoutSec, config.Server.ReadTimeoutSec)
	assert.Equal(t, constants.DefaultServerWriteTimeoutSec, config.Server.WriteTimeoutSec)
	assert.Equal(t, constants.DefaultServerIdleTimeoutSec, config.Server.IdleTimeoutSec)
	assert.Equal(t, 0, config.Archive.RetentionDays)
	assert.Equal(t, constants.DefaultArchiveSweepIntervalHour, config.Archive.SweepIntervalHours)
	assert.Equal(t, constants.DefaultCommitTimeoutSec, config.Archive.CommitTimeoutSec)
	assert.Equal(t, constants.DefaultRetryBackoffMs, config.Retry.InitialBackoffMs)
	assert.Equal(t, constants.DefaultMaxBackoffMs, config.Retry.MaxBackoffMs)
	assert.Equal(t, constants.DefaultMaxAttempts, config.Retry.MaxAttempts)
	assert.Equal(t, "fadeout", config.Tracing.ServiceName)
	assert.Equal(t, "info", config.LogLevel)
}

func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	config := &models.Config{
		Server:   models.ServerConfig{Port: 1234},
		Database: models.DatabaseConfig{Path: "/tmp/fadeout.db"},
		Archive:  models.ArchiveConfig{CommitTimeoutSec: 3},
		Tracing:  models.TracingConfig{ServiceName: "custom"},
		LogLevel: "debug",
	}

	require.NoError(t, validate(config))

	assert.Equal(t, 1234, config.Server.Port)
	assert.Equal(t, 3, config.Archive.CommitTimeoutSec)
	assert.Equal(t, "custom", config.Tracing.ServiceName)
	assert.Equal(t, "debug", config.LogLevel)
}

func TestValidateSecurity(t *testing.T) {
	longSecret := strings.Repeat("s", 32)

	tests := []struct {
		name      string
		env       string
		config    models.Config
		wantError string
	}{
		{
			name:   "development without secret",
			env:    "development",
			config: models.Config{LogLevel: "debug"},
		},
		{
			name:      "production without secret",
			env:       "production",
			config:    models.Config{LogLevel: "info"},
			wantError: "webhook secret is required",
		},
		{
			name:      "production with short secret",
			env:       "production",
			config:    models.Config{Server: models.ServerConfig{WebhookSecret: "short"}, LogLevel: "info"},
			wantError: "at least 32 characters",
		},
		{
			name:      "production with debug logging",
			env:       "production",
			config:    models.Config{Server: models.ServerConfig{WebhookSecret: longSecret}, LogLevel: "debug"},
			wantError: "debug logging",
		},
		{
			name:   "production ok",
			env:    "production",
			config: models.Config{Server: models.ServerConfig{WebhookSecret: longSecret}, LogLevel: "info"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("FADEOUT_ENV", tt.env)

			err := validateSecurity(&tt.config)
			if tt.wantError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantError)
				return
			}
			assert.NoError(t, err)
		})
	}
}
