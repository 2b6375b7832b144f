package db

import (
	"context"
	"time"

	"github.com/Subhi2911/LilYapper-backend/internal/models"
)

// InsertNotification persists a notification for later retrieval by the
// notification endpoints that live outside this service.
func (db *Database) InsertNotification(ctx context.Context, n *models.Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO notifications (id, recipient_id, sender_id, sender_username, type, conversation_id, message, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.RecipientID, n.SenderID, n.SenderUsername, n.Type, n.ConversationID, n.Message, n.IsRead, n.CreatedAt,
	)
	return err
}

// ListNotifications returns a user's notifications, newest first.
func (db *Database) ListNotifications(ctx context.Context, recipientID string) ([]models.Notification, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, recipient_id, sender_id, sender_username, type, conversation_id, message, is_read, created_at
		FROM notifications WHERE recipient_id = ?
		ORDER BY created_at DESC`,
		recipientID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.SenderID, &n.SenderUsername, &n.Type, &n.ConversationID, &n.Message, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
