package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/Subhi2911/LilYapper-backend/internal/models"
)

// InsertMessage persists a message, seeds its readBy set with the sender and
// updates the conversation's latest-message reference, all in one
// transaction. The commit completes before any fan-out happens.
func (db *Database) InsertMessage(ctx context.Context, m *models.Message) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	m.CreatedAt = now
	m.UpdatedAt = now

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, content, is_system, reply_to, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.SenderID, m.Content, m.IsSystem, m.ReplyToID, now, now,
	); err != nil {
		return err
	}

	if m.SenderID != "" {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO message_reads (message_id, user_id) VALUES (?, ?)",
			m.ID, m.SenderID,
		); err != nil {
			return err
		}
	}

	result, err := tx.ExecContext(ctx,
		"UPDATE conversations SET latest_message_id = ?, updated_at = ? WHERE id = ?",
		m.ID, now, m.ConversationID,
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

func (db *Database) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	m := &models.Message{}
	err := db.QueryRowContext(ctx, `
		SELECT id, conversation_id, sender_id, content, is_system, reply_to, created_at, updated_at
		FROM messages WHERE id = ?`,
		id,
	).Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.IsSystem, &m.ReplyToID, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	readBy, err := db.getReadBy(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	m.ReadBy = readBy
	return m, nil
}

// ListMessages returns a conversation's messages oldest-first with their
// readBy sets loaded.
func (db *Database) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, conversation_id, sender_id, content, is_system, reply_to, created_at, updated_at
		FROM messages WHERE conversation_id = ?
		ORDER BY created_at, id`,
		conversationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.IsSystem, &m.ReplyToID, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	readers, err := db.getReadByForConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	for i := range messages {
		messages[i].ReadBy = readers[messages[i].ID]
	}
	return messages, nil
}

func (db *Database) getReadBy(ctx context.Context, messageID string) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT user_id FROM message_reads WHERE message_id = ? ORDER BY user_id", messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readers []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		readers = append(readers, userID)
	}
	return readers, rows.Err()
}

func (db *Database) getReadByForConversation(ctx context.Context, conversationID string) (map[string][]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT r.message_id, r.user_id FROM message_reads r
		JOIN messages m ON m.id = r.message_id
		WHERE m.conversation_id = ?
		ORDER BY r.user_id`,
		conversationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	readers := make(map[string][]string)
	for rows.Next() {
		var messageID, userID string
		if err := rows.Scan(&messageID, &userID); err != nil {
			return nil, err
		}
		readers[messageID] = append(readers[messageID], userID)
	}
	return readers, rows.Err()
}

// MarkMessageRead appends the user to a single message's readBy set.
func (db *Database) MarkMessageRead(ctx context.Context, messageID, userID string) error {
	_, err := db.ExecContext(ctx,
		"INSERT OR IGNORE INTO message_reads (message_id, user_id) VALUES (?, ?)",
		messageID, userID,
	)
	return err
}

// MarkConversationRead appends the user to the readBy set of every message
// in the conversation in one statement.
func (db *Database) MarkConversationRead(ctx context.Context, conversationID, userID string) error {
	_, err := db.ExecContext(ctx, `
		INSERT OR IGNORE INTO message_reads (message_id, user_id)
		SELECT id, ? FROM messages WHERE conversation_id = ?`,
		userID, conversationID,
	)
	return err
}

// EditMessage updates content in place, owner-only.
func (db *Database) EditMessage(ctx context.Context, id, senderID, content string) error {
	result, err := db.ExecContext(ctx,
		"UPDATE messages SET content = ?, updated_at = ? WHERE id = ? AND sender_id = ?",
		content, time.Now(), id, senderID,
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteMessage removes a message, owner-only. If it was the conversation's
// latest message, the reference is moved to the newest remaining message (or
// cleared) in the same transaction so it never dangles.
func (db *Database) DeleteMessage(ctx context.Context, id, senderID string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var conversationID string
	err = tx.QueryRowContext(ctx,
		"SELECT conversation_id FROM messages WHERE id = ? AND sender_id = ?",
		id, senderID,
	).Scan(&conversationID)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE id = ?", id); err != nil {
		return err
	}

	var latest string
	if err := tx.QueryRowContext(ctx,
		"SELECT latest_message_id FROM conversations WHERE id = ?", conversationID,
	).Scan(&latest); err != nil {
		return err
	}
	if latest == id {
		var next string
		err := tx.QueryRowContext(ctx, `
			SELECT id FROM messages WHERE conversation_id = ?
			ORDER BY created_at DESC, id DESC LIMIT 1`,
			conversationID,
		).Scan(&next)
		if err != nil && err != sql.ErrNoRows {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE conversations SET latest_message_id = ? WHERE id = ?",
			next, conversationID,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}
