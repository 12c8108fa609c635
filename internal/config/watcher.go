package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"os"
	"sync"
	"time"

	"fadeout/internal/models"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

const defaultPollInterval = 5 * time.Second

// restartOnly lists settings that are read once at startup. A reload that
// changes one of them is accepted but only logged.
var restartOnly = []struct {
	name  string
	value func(*models.Config) any
}{
	{"server.port", func(c *models.Config) any { return c.Server.Port }},
	{"database.path", func(c *models.Config) any { return c.Database.Path }},
	{"archive.retentionDays", func(c *models.Config) any { return c.Archive.RetentionDays }},
	{"archive.sweepIntervalHours", func(c *models.Config) any { return c.Archive.SweepIntervalHours }},
	{"archive.commitTimeoutSec", func(c *models.Config) any { return c.Archive.CommitTimeoutSec }},
	{"tracing.enabled", func(c *models.Config) any { return c.Tracing.Enabled }},
}

// WatcherOption customizes a ConfigWatcher.
type WatcherOption func(*ConfigWatcher)

// WithPollInterval sets how often the file is checked.
func WithPollInterval(d time.Duration) WatcherOption {
	return func(cw *ConfigWatcher) { cw.interval = d }
}

// WithWatcherClock replaces the clock driving the poll loop.
func WithWatcherClock(clock clockwork.Clock) WatcherOption {
	return func(cw *ConfigWatcher) { cw.clock = clock }
}

// ConfigWatcher polls the config file and republishes it when its content
// changes. Only the log level is applied live; see restartOnly.
type ConfigWatcher struct {
	configPath string
	interval   time.Duration
	clock      clockwork.Clock
	logger     *logrus.Logger

	mu        sync.RWMutex
	config    *models.Config
	digest    []byte
	callbacks []func(*models.Config)
}

// NewConfigWatcher creates a new configuration watcher
func NewConfigWatcher(configPath string, logger *logrus.Logger, opts ...WatcherOption) *ConfigWatcher {
	cw := &ConfigWatcher{
		configPath: configPath,
		interval:   defaultPollInterval,
		clock:      clockwork.NewRealClock(),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(cw)
	}
	return cw
}

// Start loads the file and then polls it until ctx is done. It fails only
// if the initial load fails.
func (cw *ConfigWatcher) Start(ctx context.Context) error {
	if err := cw.load(); err != nil {
		return err
	}

	cw.logger.WithFields(logrus.Fields{
		"path":     cw.configPath,
		"interval": cw.interval.String(),
	}).Info("Configuration watcher started")

	ticker := cw.clock.NewTicker(cw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			cw.logger.Info("Configuration watcher stopping")
			return nil
		case <-ticker.Chan():
			cw.poll()
		}
	}
}

func (cw *ConfigWatcher) load() error {
	raw, err := os.ReadFile(cw.configPath)
	if err != nil {
		return err
	}
	config, err := LoadConfig(cw.configPath)
	if err != nil {
		return err
	}

	sum := sha256.Sum256(raw)
	cw.mu.Lock()
	cw.config = config
	cw.digest = sum[:]
	cw.mu.Unlock()
	return nil
}

// poll reloads the file when its content hash differs from the last one
// seen. Touching the file without changing it does nothing.
func (cw *ConfigWatcher) poll() {
	raw, err := os.ReadFile(cw.configPath)
	if err != nil {
		cw.logger.WithError(err).Error("Failed to read configuration file")
		return
	}

	sum := sha256.Sum256(raw)
	cw.mu.RLock()
	unchanged := bytes.Equal(sum[:], cw.digest)
	cw.mu.RUnlock()
	if unchanged {
		return
	}

	cw.logger.Debug("Configuration file changed")
	cw.mu.Lock()
	cw.digest = sum[:]
	cw.mu.Unlock()
	cw.reloadConfig()
}

// GetConfig returns the current configuration (thread-safe)
func (cw *ConfigWatcher) GetConfig() *models.Config {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.config
}

// OnConfigChange registers a callback run after every successful reload.
// Callbacks run in registration order on the watcher goroutine.
func (cw *ConfigWatcher) OnConfigChange(callback func(*models.Config)) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.callbacks = append(cw.callbacks, callback)
}

// reloadConfig swaps in the file's current content. An invalid file keeps
// the previous config.
func (cw *ConfigWatcher) reloadConfig() {
	newConfig, err := LoadConfig(cw.configPath)
	if err != nil {
		cw.logger.WithError(err).Error("Failed to reload configuration")
		return
	}

	cw.mu.Lock()
	oldConfig := cw.config
	cw.config = newConfig
	callbacks := make([]func(*models.Config), len(cw.callbacks))
	copy(callbacks, cw.callbacks)
	cw.mu.Unlock()

	cw.logger.Info("Configuration reloaded successfully")
	cw.logConfigChanges(oldConfig, newConfig)

	for _, callback := range callbacks {
		cw.notify(callback, newConfig)
	}
}

func (cw *ConfigWatcher) notify(callback func(*models.Config), config *models.Config) {
	defer func() {
		if r := recover(); r != nil {
			cw.logger.WithField("panic", r).Error("Config change callback panicked")
		}
	}()
	callback(config)
}

func (cw *ConfigWatcher) logConfigChanges(old, new *models.Config) {
	if old == nil {
		return
	}

	if old.LogLevel != new.LogLevel {
		cw.logger.WithFields(logrus.Fields{
			"old": old.LogLevel,
			"new": new.LogLevel,
		}).Info("Log level changed")
	}

	for _, setting := range restartOnly {
		before, after := setting.value(old), setting.value(new)
		if before != after {
			cw.logger.WithFields(logrus.Fields{
				"setting": setting.name,
				"old":     before,
				"new":     after,
			}).Warn("Setting changed, takes effect on restart")
		}
	}
}
