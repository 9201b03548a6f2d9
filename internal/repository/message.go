package repository

import (
	"context"
	"errors"
	"fmt"

	"direct-messenger/internal/apperrors"
	"direct-messenger/internal/models"

	"github.com/jackc/pgx/v5"
)

const messageColumns = `id, sender_id, receiver_id, ciphertext, kind, attachment_ref, created_at, read`

// betweenPair matches both directions of the conversation ($1, $2)
const betweenPair = `((sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1))`

// MessageRepository handles database operations for messages. Payloads are
// stored and returned as ciphertext.
type MessageRepository struct {
	db DBTX
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(db DBTX) *MessageRepository {
	return &MessageRepository{db: db}
}

func scanMessage(row pgx.Row) (*models.Message, error) {
	var msg models.Message
	err := row.Scan(
		&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Ciphertext,
		&msg.Kind, &msg.AttachmentRef, &msg.CreatedAt, &msg.Read,
	)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func collectMessages(rows pgx.Rows) ([]*models.Message, error) {
	defer rows.Close()

	messages := []*models.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return messages, nil
}

// Create inserts the message and fills in ID, CreatedAt and Read
func (r *MessageRepository) Create(ctx context.Context, msg *models.Message) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO messages (sender_id, receiver_id, ciphertext, kind, attachment_ref)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, read
	`, msg.SenderID, msg.ReceiverID, msg.Ciphertext, string(msg.Kind), msg.AttachmentRef).Scan(&msg.ID, &msg.CreatedAt, &msg.Read)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

// Between returns the messages of the pair with id above sinceID in
// conversation order. sinceID 0 returns the full history.
func (r *MessageRepository) Between(ctx context.Context, a, b, sinceID int64) ([]*models.Message, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE `+betweenPair+` AND id > $3
		ORDER BY created_at, id
	`, a, b, sinceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return collectMessages(rows)
}

// Last returns the newest message of the pair
func (r *MessageRepository) Last(ctx context.Context, a, b int64) (*models.Message, error) {
	msg, err := scanMessage(r.db.QueryRow(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE `+betweenPair+`
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, a, b))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("no messages between %d and %d: %w", a, b, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get last message: %w", err)
	}
	return msg, nil
}

// MaxID returns the highest message id of the pair, or 0
func (r *MessageRepository) MaxID(ctx context.Context, a, b int64) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `SELECT COALESCE(MAX(id), 0) FROM messages WHERE `+betweenPair, a, b).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest message id: %w", err)
	}
	return id, nil
}

// MarkRead flags every unread message from senderID to readerID as read
func (r *MessageRepository) MarkRead(ctx context.Context, readerID, senderID int64) (int64, error) {
	result, err := r.db.Exec(ctx, `
		UPDATE messages SET read = TRUE
		WHERE receiver_id = $1 AND sender_id = $2 AND NOT read
	`, readerID, senderID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages read: %w", err)
	}
	return result.RowsAffected(), nil
}

// UnreadCount counts unread messages from senderID to readerID
func (r *MessageRepository) UnreadCount(ctx context.Context, readerID, senderID int64) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE receiver_id = $1 AND sender_id = $2 AND NOT read
	`, readerID, senderID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}
	return n, nil
}

// DeleteOwned removes a message sent by senderID and returns it
func (r *MessageRepository) DeleteOwned(ctx context.Context, id, senderID int64) (*models.Message, error) {
	msg, err := scanMessage(r.db.QueryRow(ctx,
		`DELETE FROM messages WHERE id = $1 AND sender_id = $2 RETURNING `+messageColumns,
		id, senderID))
	if err == nil {
		return msg, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to delete message: %w", err)
	}

	var owner int64
	err = r.db.QueryRow(ctx, `SELECT sender_id FROM messages WHERE id = $1`, id).Scan(&owner)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, fmt.Errorf("message %d not found: %w", id, apperrors.ErrNotFound)
	case err != nil:
		return nil, fmt.Errorf("failed to get message owner: %w", err)
	default:
		return nil, fmt.Errorf("user %d cannot delete message %d: %w", senderID, id, apperrors.ErrForbidden)
	}
}
