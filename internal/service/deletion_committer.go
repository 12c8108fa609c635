package service

import (
	"context"

	"fadeout/internal/errors"
	"fadeout/internal/metrics"
	"fadeout/internal/tracing"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// CommitResult summarizes one batched commit.
type CommitResult struct {
	Archived      []string
	ArchiveFailed []string
	RowsAffected  int64
}

// DeletionCommitter archives and then soft-deletes a batch of expired
// messages. An archive failure is logged and the delete still goes ahead;
// a failed delete is logged and not retried.
type DeletionCommitter struct {
	store    MessageStore
	archiver *ArchiveWriter
	clock    clockwork.Clock
	logger   *errors.Logger
}

func NewDeletionCommitter(store MessageStore, archiver *ArchiveWriter, clock clockwork.Clock, logger *logrus.Logger) *DeletionCommitter {
	return &DeletionCommitter{
		store:    store,
		archiver: archiver,
		clock:    clock,
		logger:   errors.WrapLogger(logger),
	}
}

func (c *DeletionCommitter) Commit(ctx context.Context, ids []string) (CommitResult, error) {
	var result CommitResult
	if len(ids) == 0 {
		return result, nil
	}

	ctx, span := tracing.StartSpan(ctx, "deletion.commit", tracing.AttrBatchSize.Int(len(ids)))
	defer span.End()

	for _, id := range ids {
		if _, err := c.archiver.Archive(ctx, id); err != nil {
			result.ArchiveFailed = append(result.ArchiveFailed, id)
			c.logger.LogWarn(err, "Archive failed, deleting anyway", logrus.Fields{
				LogFieldMessageID: id,
			})
			continue
		}
		result.Archived = append(result.Archived, id)
	}

	affected, err := c.store.SoftDeleteMessages(ctx, ids, c.clock.Now())
	if err != nil {
		writeErr := errors.NewStoreWriteError("soft_delete", len(ids), err)
		tracing.RecordError(ctx, writeErr)
		metrics.IncrementCounter("store_write_failures_total", nil, "Batched soft-deletes that failed")
		c.logger.LogError(writeErr, "Failed to commit deletion batch", logrus.Fields{
			LogFieldCount: len(ids),
		})
		return result, writeErr
	}
	result.RowsAffected = affected

	metrics.IncrementCounter("deletion_batches_total", nil, "Deletion batches committed")
	metrics.AddToCounter("messages_deleted_total", float64(affected), nil, "Messages soft-deleted by the lifecycle engine")
	span.SetAttributes(tracing.AttrRowsAffected.Int64(affected))

	c.logger.WithFields(logrus.Fields{
		LogFieldCount:         len(ids),
		LogFieldRowsAffected:  affected,
		LogFieldArchiveFailed: len(result.ArchiveFailed),
	}).Info("Committed deletion batch")

	return result, nil
}
