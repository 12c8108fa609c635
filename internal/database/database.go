package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"fadeout/internal/migrations"
	"fadeout/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

// Database is the SQLite-backed message store. Archive snapshots are
// encrypted at rest when FADEOUT_ENABLE_ENCRYPTION is set.
type Database struct {
	db        *sql.DB
	encryptor *encryptor
}

func New(dbPath string) (*Database, error) {
	if len(dbPath) == 0 || dbPath[0] == '\x00' {
		return nil, fmt.Errorf("invalid database path")
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	schema, err := migrations.GetInitialSchema()
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to read schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	encryptor, err := NewEncryptor()
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize encryptor: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	return &Database{db: db, encryptor: encryptor}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

const messageColumns = `id, conversation_id, sender_id, content, media, created_at, deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var (
		msg       models.Message
		content   sql.NullString
		media     sql.NullString
		deletedAt sql.NullTime
	)

	if err := row.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &content, &media, &msg.CreatedAt, &deletedAt); err != nil {
		return nil, err
	}

	if content.Valid {
		text := content.String
		msg.Content = &text
	}

	if media.Valid && media.String != "" {
		if err := json.Unmarshal([]byte(media.String), &msg.Media); err != nil {
			return nil, fmt.Errorf("failed to decode media for message %s: %w", msg.ID, err)
		}
	}

	if deletedAt.Valid {
		at := deletedAt.Time
		msg.DeletedAt = &at
	}

	return &msg, nil
}

// ListMessages returns every message of the conversation, deleted rows
// included, ordered by creation time.
func (d *Database) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id = ? ORDER BY created_at ASC, id ASC`

	var messages []models.Message
	err := retryableDBOperation(ctx, func() error {
		rows, err := d.db.QueryContext(ctx, query, conversationID)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		result := make([]models.Message, 0)
		for rows.Next() {
			msg, err := scanMessage(rows)
			if err != nil {
				return err
			}
			result = append(result, *msg)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		messages = result
		return nil
	}, "list messages")
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	return messages, nil
}

// GetMessage returns nil, nil when no message has the given id.
func (d *Database) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = ?`

	var msg *models.Message
	err := retryableDBOperation(ctx, func() error {
		found, err := scanMessage(d.db.QueryRowContext(ctx, query, id))
		if errors.Is(err, sql.ErrNoRows) {
			msg = nil
			return nil
		}
		if err != nil {
			return err
		}
		msg = found
		return nil
	}, "get message")
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	return msg, nil
}

// InsertMessage stores a new message row. Used by seeding tools and tests;
// message creation itself belongs to the chat product.
func (d *Database) InsertMessage(ctx context.Context, msg *models.Message) error {
	if msg == nil || msg.ID == "" || msg.ConversationID == "" {
		return fmt.Errorf("message id and conversation id are required")
	}

	var content any
	if msg.Content != nil {
		content = *msg.Content
	}

	var media any
	if len(msg.Media) > 0 {
		encoded, err := json.Marshal(msg.Media)
		if err != nil {
			return fmt.Errorf("failed to encode media: %w", err)
		}
		media = string(encoded)
	}

	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	var deletedAt any
	if msg.DeletedAt != nil {
		deletedAt = msg.DeletedAt.UTC()
	}

	query := `INSERT INTO messages (id, conversation_id, sender_id, content, media, created_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	if _, err := d.db.ExecContext(ctx, query, msg.ID, msg.ConversationID, msg.SenderID, content, media, createdAt.UTC(), deletedAt); err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	return nil
}

// SoftDeleteMessages marks all ids deleted in a single statement and clears
// their content and media. Rows that are already deleted are left untouched. Returns the number of
// rows changed.
func (d *Database) SoftDeleteMessages(ctx context.Context, ids []string, deletedAt time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, deletedAt.UTC())
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}

	query := fmt.Sprintf(`UPDATE messages SET deleted_at = ?, content = NULL, media = NULL WHERE id IN (%s) AND deleted_at IS NULL`,
		strings.Join(placeholders, ", "))

	result, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to soft-delete messages: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return affected, nil
}

// InsertArchiveRecord appends an archive record. The table is append-only and
// keyed uniquely on the original message id.
func (d *Database) InsertArchiveRecord(ctx context.Context, record *models.ArchiveRecord) error {
	if record == nil || record.ID == "" || record.OriginalMessageID == "" {
		return fmt.Errorf("archive record id and original message id are required")
	}

	var content any
	if record.ContentSnapshot != nil {
		encrypted, err := d.encryptor.Encrypt(*record.ContentSnapshot, snapshotLabel(record.ID, "content_snapshot"))
		if err != nil {
			return fmt.Errorf("failed to encrypt content snapshot: %w", err)
		}
		content = encrypted
	}

	var media any
	if len(record.MediaSnapshot) > 0 {
		encoded, err := json.Marshal(record.MediaSnapshot)
		if err != nil {
			return fmt.Errorf("failed to encode media snapshot: %w", err)
		}
		encrypted, err := d.encryptor.Encrypt(string(encoded), snapshotLabel(record.ID, "media_snapshot"))
		if err != nil {
			return fmt.Errorf("failed to encrypt media snapshot: %w", err)
		}
		media = encrypted
	}

	query := `INSERT INTO message_archive (
		id, original_message_id, conversation_id, user_id, content_snapshot, media_snapshot,
		message_type, original_created_at, deletion_reason, archived_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := d.db.ExecContext(ctx, query,
		record.ID,
		record.OriginalMessageID,
		record.ConversationID,
		record.UserID,
		content,
		media,
		string(record.MessageType),
		record.OriginalCreatedAt.UTC(),
		record.DeletionReason,
		record.ArchivedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert archive record: %w", err)
	}

	return nil
}

func (d *Database) HasArchiveRecord(ctx context.Context, messageID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM message_archive WHERE original_message_id = ?)`

	var exists bool
	err := retryableDBOperation(ctx, func() error {
		return d.db.QueryRowContext(ctx, query, messageID).Scan(&exists)
	}, "check archive record")
	if err != nil {
		return false, fmt.Errorf("failed to check archive record: %w", err)
	}

	return exists, nil
}

// GetArchiveRecord returns nil, nil when the message was never archived.
func (d *Database) GetArchiveRecord(ctx context.Context, messageID string) (*models.ArchiveRecord, error) {
	query := `SELECT id, original_message_id, conversation_id, user_id, content_snapshot, media_snapshot,
		message_type, original_created_at, deletion_reason, archived_at
		FROM message_archive WHERE original_message_id = ?`

	var (
		record      models.ArchiveRecord
		content     sql.NullString
		media       sql.NullString
		messageType string
	)

	err := retryableDBOperation(ctx, func() error {
		return d.db.QueryRowContext(ctx, query, messageID).Scan(
			&record.ID,
			&record.OriginalMessageID,
			&record.ConversationID,
			&record.UserID,
			&content,
			&media,
			&messageType,
			&record.OriginalCreatedAt,
			&record.DeletionReason,
			&record.ArchivedAt,
		)
	}, "get archive record")
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get archive record: %w", err)
	}

	record.MessageType = models.ArchiveMessageType(messageType)

	if content.Valid {
		decrypted, err := d.encryptor.Decrypt(content.String, snapshotLabel(record.ID, "content_snapshot"))
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt content snapshot: %w", err)
		}
		record.ContentSnapshot = &decrypted
	}

	if media.Valid && media.String != "" {
		decrypted, err := d.encryptor.Decrypt(media.String, snapshotLabel(record.ID, "media_snapshot"))
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt media snapshot: %w", err)
		}
		if err := json.Unmarshal([]byte(decrypted), &record.MediaSnapshot); err != nil {
			return nil, fmt.Errorf("failed to decode media snapshot: %w", err)
		}
	}

	return &record, nil
}

// CleanupOldArchiveRecords removes archive rows archived before the cutoff.
// The append-only trigger guards updates only; retention deletes are allowed.
func (d *Database) CleanupOldArchiveRecords(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays).UTC()
	result, err := d.db.ExecContext(ctx, `DELETE FROM message_archive WHERE archived_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup archive records: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return affected, nil
}
