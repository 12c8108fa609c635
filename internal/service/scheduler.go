package service

import (
	"context"
	"time"

	"fadeout/internal/constants"

	"github.com/sirupsen/logrus"
)

// Scheduler purges archive records older than the configured retention.
// Retention of zero keeps the archive forever and the scheduler is not run.
type Scheduler struct {
	purger        ArchivePurger
	retentionDays int
	intervalHours int
	logger        *logrus.Logger
	stopCh        chan struct{}
}

func NewScheduler(purger ArchivePurger, retentionDays, intervalHours int, logger *logrus.Logger) *Scheduler {
	if intervalHours <= 0 {
		intervalHours = constants.DefaultArchiveSweepIntervalHour
	}
	return &Scheduler{
		purger:        purger,
		retentionDays: retentionDays,
		intervalHours: intervalHours,
		logger:        logger,
		stopCh:        make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(s.intervalHours) * time.Hour)
	defer ticker.Stop()

	s.logger.Info("Starting archive retention scheduler")

	s.runCleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler context cancelled, stopping")
			return
		case <-s.stopCh:
			s.logger.Info("Scheduler stop signal received, stopping")
			return
		case <-ticker.C:
			s.runCleanup(ctx)
		}
	}
}

func (s *Scheduler) Stop() {
	close(s.stopCh)
}

func (s *Scheduler) runCleanup(ctx context.Context) {
	s.logger.WithField(LogFieldRetentionDays, s.retentionDays).Info("Running archive retention sweep")

	removed, err := s.purger.CleanupOldArchiveRecords(ctx, s.retentionDays)
	if err != nil {
		s.logger.WithError(err).Error("Failed to purge old archive records")
		return
	}

	s.logger.WithField(LogFieldCount, removed).Info("Archive retention sweep completed successfully")
}
