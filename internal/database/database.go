package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"carefeed/internal/migrations"
	"carefeed/internal/models"
	"carefeed/internal/security"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Database owns the persistent FeedbackMessage store. Messages are created
// once and never deleted here; only read_status may change afterwards.
type Database struct {
	db        *sql.DB
	encryptor *encryptor
}

func New(dbPath string) (*Database, error) {
	if len(dbPath) == 0 || dbPath[0] == '\x00' {
		return nil, fmt.Errorf("invalid database path")
	}

	// Validate database path to prevent directory traversal
	if err := security.ValidateFilePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(migrations.GetInitialSchema()); err != nil {
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

// SaveFeedbackMessage persists a new message. An empty ID is assigned one;
// read status always starts unread.
func (d *Database) SaveFeedbackMessage(ctx context.Context, msg *models.FeedbackMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	msg.ReadStatus = models.ReadStatusUnread

	encryptedContent, err := d.encryptor.EncryptIfEnabled(msg.Content)
	if err != nil {
		return fmt.Errorf("failed to encrypt message content: %w", err)
	}

	query := `
		INSERT INTO feedback_messages (
			id, chat_id, sender_type, sender_id, content, read_status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = d.db.ExecContext(ctx, query,
		msg.ID,
		msg.ChatID,
		msg.SenderType,
		msg.SenderID,
		encryptedContent,
		msg.ReadStatus,
		msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save feedback message: %w", err)
	}

	return nil
}

func (d *Database) GetFeedbackMessage(ctx context.Context, id string) (*models.FeedbackMessage, error) {
	query := `
		SELECT id, chat_id, sender_type, sender_id, content, read_status, created_at
		FROM feedback_messages
		WHERE id = ?
	`

	msg, err := d.scanMessage(d.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feedback message: %w", err)
	}
	return msg, nil
}

// GetThreadMessages returns all messages in a thread in creation order.
func (d *Database) GetThreadMessages(ctx context.Context, chatID string) ([]*models.FeedbackMessage, error) {
	query := `
		SELECT id, chat_id, sender_type, sender_id, content, read_status, created_at
		FROM feedback_messages
		WHERE chat_id = ?
		ORDER BY created_at ASC, id ASC
	`

	rows, err := d.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to query thread messages: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var messages []*models.FeedbackMessage
	for rows.Next() {
		msg, err := d.scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan thread message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate thread messages: %w", err)
	}

	return messages, nil
}

// MarkRead transitions one message unread -> read. It reports whether a row
// actually transitioned, so repeated calls stay idempotent and the caller
// never double-adjusts the unread counter.
func (d *Database) MarkRead(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE feedback_messages
		SET read_status = ?
		WHERE id = ? AND read_status = ?
	`

	result, err := d.db.ExecContext(ctx, query, models.ReadStatusRead, id, models.ReadStatusUnread)
	if err != nil {
		return false, fmt.Errorf("failed to mark message read: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected > 0, nil
}

// MarkAllRead transitions every unread message in a thread that was NOT sent
// by the recipient, returning the number of rows transitioned.
func (d *Database) MarkAllRead(ctx context.Context, chatID, recipientID string) (int64, error) {
	query := `
		UPDATE feedback_messages
		SET read_status = ?
		WHERE chat_id = ? AND sender_id != ? AND read_status = ?
	`

	result, err := d.db.ExecContext(ctx, query, models.ReadStatusRead, chatID, recipientID, models.ReadStatusUnread)
	if err != nil {
		return 0, fmt.Errorf("failed to mark thread read: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (d *Database) scanMessage(row rowScanner) (*models.FeedbackMessage, error) {
	var msg models.FeedbackMessage
	var content string

	err := row.Scan(
		&msg.ID,
		&msg.ChatID,
		&msg.SenderType,
		&msg.SenderID,
		&content,
		&msg.ReadStatus,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	decrypted, err := d.encryptor.DecryptIfEnabled(content)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt message content: %w", err)
	}
	msg.Content = decrypted

	return &msg, nil
}
