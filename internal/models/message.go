package models

import (
	"net/url"
	"path"
	"strings"
	"time"

	"fadeout/internal/constants"
)

// MediaKind classifies a media attachment.
type MediaKind string

const (
	MediaKindImage MediaKind = "image"
	MediaKindAudio MediaKind = "audio"
	MediaKindVideo MediaKind = "video"
	MediaKindFile  MediaKind = "file"
)

// MediaRef points at an attachment stored outside the message row.
type MediaRef struct {
	URL      string    `json:"url"`
	Kind     MediaKind `json:"kind,omitempty"`
	MimeType string    `json:"mime_type,omitempty"`
}

// IsAudio reports whether the reference is a voice note or other audio clip.
// Kind wins, then the declared MIME type, then the URL extension.
func (m MediaRef) IsAudio() bool {
	if m.Kind != "" {
		return m.Kind == MediaKindAudio
	}
	if m.MimeType != "" {
		return strings.HasPrefix(strings.ToLower(m.MimeType), "audio/")
	}
	mime, ok := constants.MimeTypes[strings.ToLower(path.Ext(urlPath(m.URL)))]
	return ok && strings.HasPrefix(mime, "audio/")
}

// urlPath strips the query and fragment of signed CDN links.
func urlPath(raw string) string {
	if u, err := url.Parse(raw); err == nil {
		return u.Path
	}
	return raw
}

// Message is a chat message row as exposed by the message store. The engine
// never writes to it except through the soft-delete.
type Message struct {
	ID             string     `json:"id" db:"id"`
	ConversationID string     `json:"conversation_id" db:"conversation_id"`
	SenderID       string     `json:"sender_id" db:"sender_id"`
	Content        *string    `json:"content,omitempty" db:"content"`
	Media          []MediaRef `json:"media,omitempty" db:"media"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// Text returns the message content or the empty string.
func (m *Message) Text() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

// HasAudio reports whether any attachment is audio.
func (m *Message) HasAudio() bool {
	for _, ref := range m.Media {
		if ref.IsAudio() {
			return true
		}
	}
	return false
}

// IsPlainText is true for messages with text and no attachments. Only these
// go through the erosion phase.
func (m *Message) IsPlainText() bool {
	return len(m.Media) == 0 && m.Text() != ""
}

// IsDeleted reports whether the row has been soft-deleted.
func (m *Message) IsDeleted() bool {
	return m.DeletedAt != nil
}
