package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fadeout/internal/config"
	"fadeout/internal/constants"
	"fadeout/internal/database"
	"fadeout/internal/models"
	"fadeout/internal/realtime"
	"fadeout/internal/retry"
	"fadeout/internal/service"
	"fadeout/internal/tracing"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging (includes sensitive information)")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("fadeout %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting fadeout")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	applyLogLevel(logger, cfg.LogLevel, *verbose)
	if *verbose {
		logger.Info("Verbose logging enabled - sensitive information will be logged")
	}

	tracingConfig := cfg.Tracing
	tracingConfig.ServiceVersion = Version
	tracingManager := tracing.NewManager(tracingConfig, logger)

	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	db, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	hub := realtime.NewHub(constants.DefaultSubscriberBufferSize, logger)
	defer hub.Close()

	clock := clockwork.NewRealClock()
	archiver := service.NewArchiveWriter(db, clock)
	committer := service.NewDeletionCommitter(db, archiver, clock, logger)

	// Sessions commit under their own root so in-flight deletes finish
	// after the shutdown signal.
	engineCtx, cancelEngine := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelEngine()
	engineCtx = context.WithValue(engineCtx, service.VerboseContextKey, *verbose)

	sessions := service.NewSessionManager(engineCtx, service.SessionDeps{
		Store:         db,
		Committer:     committer,
		Bus:           hub,
		Clock:         clock,
		Logger:        logger,
		CommitTimeout: time.Duration(cfg.Archive.CommitTimeoutSec) * time.Second,
		Breaker: service.NewCircuitBreaker("message_store",
			constants.DefaultBreakerMaxFailures,
			time.Duration(constants.DefaultBreakerTimeoutSec)*time.Second,
			clock, logger),
	})

	if cfg.Archive.RetentionDays > 0 {
		scheduler := service.NewScheduler(db, cfg.Archive.RetentionDays, cfg.Archive.SweepIntervalHours, logger)
		go scheduler.Start(ctx)
		defer scheduler.Stop()
	} else {
		logger.Info("Archive retention disabled, records are kept forever")
	}

	watcher := config.NewConfigWatcher(*configPath, logger)
	watcher.OnConfigChange(func(updated *models.Config) {
		applyLogLevel(logger, updated.LogLevel, *verbose)
	})
	go func() {
		if err := watcher.Start(ctx); err != nil {
			logger.WithError(err).Warn("Configuration watcher stopped")
		}
	}()

	server := NewServer(cfg, sessions, hub, logger, *verbose)
	serverErrCh := make(chan error, constants.ServerErrorChannelSize)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	if err := sessions.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Sessions did not close cleanly")
	}

	logger.Info("Server shutdown completed")
	return nil
}

// openDatabase opens the store with exponential backoff so a briefly locked
// or not yet mounted database does not abort startup.
func openDatabase(ctx context.Context, cfg *models.Config, logger *logrus.Logger) (*database.Database, error) {
	backoffConfig := retry.FromRetryConfig(cfg.Retry)
	if err := backoffConfig.Validate(); err != nil {
		logger.WithError(err).Warn("Invalid retry configuration, using defaults")
		backoffConfig = retry.DefaultBackoffConfig()
	}

	backoff := retry.NewBackoff(backoffConfig, retry.WithOnRetry(func(attempt int, delay time.Duration, err error) {
		logger.WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay.String(),
		}).WithError(err).Warn("Failed to initialize database, retrying")
	}))

	var db *database.Database
	err := backoff.Retry(ctx, func() error {
		var initErr error
		db, initErr = database.New(cfg.Database.Path)
		return initErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database after retries: %w", err)
	}
	return db, nil
}

// applyLogLevel sets the level from config. Debug output needs -verbose.
func applyLogLevel(logger *logrus.Logger, configured string, verbose bool) {
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
		return
	}
	if configured == "" {
		logger.SetLevel(logrus.InfoLevel)
		return
	}

	level, err := logrus.ParseLevel(configured)
	if err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", configured)
		logger.SetLevel(logrus.InfoLevel)
		return
	}
	if level > logrus.InfoLevel {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
}
