package service

import (
	"context"
	"time"

	"fadeout/internal/constants"
	"fadeout/internal/errors"
	"fadeout/internal/metrics"
	"fadeout/internal/models"
	"fadeout/internal/tracing"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// ArchiveWriter copies a message into the append-only archive before it is
// destroyed.
type ArchiveWriter struct {
	store MessageStore
	clock clockwork.Clock
	newID func() string
}

func NewArchiveWriter(store MessageStore, clock clockwork.Clock) *ArchiveWriter {
	return &ArchiveWriter{
		store: store,
		clock: clock,
		newID: uuid.NewString,
	}
}

// Archive snapshots messageID. A message that is missing, already deleted or
// already archived yields a NOT_FOUND error wrapped in ARCHIVE_FAILED.
func (w *ArchiveWriter) Archive(ctx context.Context, messageID string) (*models.ArchiveRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "archive.write", tracing.AttrMessageID.String(messageID))
	defer span.End()

	start := w.clock.Now()
	record, err := w.archive(ctx, messageID)
	metrics.RecordTimer("archive_write_duration", w.clock.Since(start), nil, "Time spent writing one archive record")
	if err != nil {
		tracing.RecordError(ctx, err)
		metrics.IncrementCounter("archive_failures_total", map[string]string{
			"code": string(errors.RootCode(err)),
		}, "Archive writes that failed")
		return nil, err
	}

	metrics.IncrementCounter("archive_records_total", map[string]string{
		"message_type": string(record.MessageType),
	}, "Archive records written")
	return record, nil
}

func (w *ArchiveWriter) archive(ctx context.Context, messageID string) (*models.ArchiveRecord, error) {
	msg, err := w.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, errors.NewArchiveError(messageID, errors.NewDatabaseError("get_message", err))
	}
	if msg == nil || msg.IsDeleted() {
		return nil, errors.NewArchiveError(messageID, errors.NewNotFoundError("message", messageID))
	}

	exists, err := w.store.HasArchiveRecord(ctx, messageID)
	if err != nil {
		return nil, errors.NewArchiveError(messageID, errors.NewDatabaseError("has_archive_record", err))
	}
	if exists {
		return nil, errors.NewArchiveError(messageID, errors.NewNotFoundError("unarchived message", messageID))
	}

	record := snapshot(msg, w.newID(), w.clock.Now())
	if err := w.store.InsertArchiveRecord(ctx, record); err != nil {
		return nil, errors.NewArchiveError(messageID, errors.NewStoreWriteError("insert_archive_record", 1, err))
	}

	return record, nil
}

func snapshot(msg *models.Message, id string, now time.Time) *models.ArchiveRecord {
	record := &models.ArchiveRecord{
		ID:                id,
		OriginalMessageID: msg.ID,
		ConversationID:    msg.ConversationID,
		UserID:            msg.SenderID,
		MessageType:       models.ArchiveMessageTypeText,
		OriginalCreatedAt: msg.CreatedAt,
		DeletionReason:    constants.DeletionReasonTimerExpired,
		ArchivedAt:        now,
	}

	if msg.Content != nil {
		content := *msg.Content
		record.ContentSnapshot = &content
	}
	if len(msg.Media) > 0 {
		record.MessageType = models.ArchiveMessageTypeMedia
		record.MediaSnapshot = append([]models.MediaRef(nil), msg.Media...)
	}

	return record
}
