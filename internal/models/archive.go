package models

import "time"

// ArchiveMessageType is the coarse type recorded on an archive snapshot.
type ArchiveMessageType string

const (
	ArchiveMessageTypeText  ArchiveMessageType = "text"
	ArchiveMessageTypeMedia ArchiveMessageType = "media"
)

// ArchiveRecord is the append-only audit copy written before a message is
// destroyed. It is the only durable trace of the original content.
type ArchiveRecord struct {
	ID                string             `json:"id" db:"id"`
	OriginalMessageID string             `json:"original_message_id" db:"original_message_id"`
	ConversationID    string             `json:"conversation_id" db:"conversation_id"`
	UserID            string             `json:"user_id" db:"user_id"`
	ContentSnapshot   *string            `json:"content_snapshot,omitempty" db:"content_snapshot"`
	MediaSnapshot     []MediaRef         `json:"media_snapshot,omitempty" db:"media_snapshot"`
	MessageType       ArchiveMessageType `json:"message_type" db:"message_type"`
	OriginalCreatedAt time.Time          `json:"original_created_at" db:"original_created_at"`
	DeletionReason    string             `json:"deletion_reason" db:"deletion_reason"`
	ArchivedAt        time.Time          `json:"archived_at" db:"archived_at"`
}
