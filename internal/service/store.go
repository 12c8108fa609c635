package service

import (
	"context"
	"time"

	"fadeout/internal/models"
	"fadeout/internal/realtime"
)

// MessageStore is the slice of the message store the lifecycle engine
// depends on. database.Database implements it.
type MessageStore interface {
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	SoftDeleteMessages(ctx context.Context, ids []string, deletedAt time.Time) (int64, error)
	InsertArchiveRecord(ctx context.Context, record *models.ArchiveRecord) error
	HasArchiveRecord(ctx context.Context, messageID string) (bool, error)
}

// ArchivePurger removes archive records past their retention.
type ArchivePurger interface {
	CleanupOldArchiveRecords(ctx context.Context, retentionDays int) (int64, error)
}

// EventBus is the realtime collaborator sessions publish to and listen on.
type EventBus interface {
	Publish(evt realtime.Event) int
	SubscribeFiltered(conversationID string, accept realtime.Filter) *realtime.Subscription
}
