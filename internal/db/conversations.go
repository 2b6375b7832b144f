package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/Subhi2911/LilYapper-backend/internal/models"
)

const conversationColumns = `id, kind, name, avatar, latest_message_id,
	wallpaper_url, sender_bubble, receiver_bubble, sender_text, receiver_text,
	perm_rename, perm_add_member, perm_remove_member, created_at, updated_at`

func scanConversation(row *sql.Row) (*models.Conversation, error) {
	c := &models.Conversation{}
	err := row.Scan(
		&c.ID, &c.Kind, &c.Name, &c.Avatar, &c.LatestMessageID,
		&c.Wallpaper.URL, &c.Wallpaper.SenderBubble, &c.Wallpaper.ReceiverBubble,
		&c.Wallpaper.SenderText, &c.Wallpaper.ReceiverText,
		&c.Permissions.Rename, &c.Permissions.AddMember, &c.Permissions.RemoveMember,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// CreateConversation inserts the conversation and its initial member rows in
// one transaction.
func (db *Database) CreateConversation(ctx context.Context, c *models.Conversation) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (id, kind, name, avatar,
			wallpaper_url, sender_bubble, receiver_bubble, sender_text, receiver_text,
			perm_rename, perm_add_member, perm_remove_member, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Kind, c.Name, c.Avatar,
		c.Wallpaper.URL, c.Wallpaper.SenderBubble, c.Wallpaper.ReceiverBubble,
		c.Wallpaper.SenderText, c.Wallpaper.ReceiverText,
		c.Permissions.Rename, c.Permissions.AddMember, c.Permissions.RemoveMember,
		now, now,
	); err != nil {
		return err
	}

	for i := range c.Members {
		m := &c.Members[i]
		m.JoinedAt = now
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO conversation_members (conversation_id, user_id, is_admin, joined_at) VALUES (?, ?, ?, ?)",
			c.ID, m.UserID, m.IsAdmin, now,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetConversation loads a conversation with its member rows.
func (db *Database) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	c, err := scanConversation(db.QueryRowContext(ctx,
		"SELECT "+conversationColumns+" FROM conversations WHERE id = ?", id))
	if err != nil {
		return nil, err
	}

	members, err := db.getMembers(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Members = members
	return c, nil
}

func (db *Database) getMembers(ctx context.Context, conversationID string) ([]models.Member, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT user_id, is_admin, deleted, last_read_message_id, joined_at
		FROM conversation_members WHERE conversation_id = ?
		ORDER BY joined_at, user_id`,
		conversationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []models.Member
	for rows.Next() {
		var m models.Member
		if err := rows.Scan(&m.UserID, &m.IsAdmin, &m.Deleted, &m.LastReadMessageID, &m.JoinedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// FindDirectConversation returns the existing one-on-one conversation
// between two users, skipping ones the viewer has soft-deleted.
func (db *Database) FindDirectConversation(ctx context.Context, viewer, other string) (*models.Conversation, error) {
	var id string
	err := db.QueryRowContext(ctx, `
		SELECT c.id FROM conversations c
		JOIN conversation_members a ON a.conversation_id = c.id AND a.user_id = ?
		JOIN conversation_members b ON b.conversation_id = c.id AND b.user_id = ?
		WHERE c.kind = 'direct' AND a.deleted = 0
		LIMIT 1`,
		viewer, other,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return db.GetConversation(ctx, id)
}

// ListConversationIDs returns the ids of every conversation the user is a
// member of and has not soft-deleted.
func (db *Database) ListConversationIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT conversation_id FROM conversation_members
		WHERE user_id = ? AND deleted = 0`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (db *Database) RenameConversation(ctx context.Context, id, name string) error {
	return db.execOnConversation(ctx, id,
		"UPDATE conversations SET name = ?, updated_at = ? WHERE id = ?",
		name, time.Now(), id,
	)
}

func (db *Database) UpdatePermissions(ctx context.Context, id string, p models.Permissions) error {
	return db.execOnConversation(ctx, id, `
		UPDATE conversations SET perm_rename = ?, perm_add_member = ?, perm_remove_member = ?, updated_at = ?
		WHERE id = ?`,
		p.Rename, p.AddMember, p.RemoveMember, time.Now(), id,
	)
}

func (db *Database) UpdateWallpaper(ctx context.Context, id string, w models.Wallpaper) error {
	return db.execOnConversation(ctx, id, `
		UPDATE conversations SET wallpaper_url = ?, sender_bubble = ?, receiver_bubble = ?,
			sender_text = ?, receiver_text = ?, updated_at = ?
		WHERE id = ?`,
		w.URL, w.SenderBubble, w.ReceiverBubble, w.SenderText, w.ReceiverText, time.Now(), id,
	)
}

func (db *Database) execOnConversation(ctx context.Context, id, query string, args ...any) error {
	result, err := db.ExecContext(ctx, query, args...)
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

// AddMembers inserts the given users as non-admin members. Users who are
// already members keep their row; a previously soft-deleted membership is
// revived.
func (db *Database) AddMembers(ctx context.Context, conversationID string, userIDs []string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	for _, userID := range userIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversation_members (conversation_id, user_id, joined_at) VALUES (?, ?, ?)
			ON CONFLICT(conversation_id, user_id) DO UPDATE SET deleted = 0`,
			conversationID, userID, now,
		); err != nil {
			return err
		}
	}

	if err := touchConversationTx(ctx, tx, conversationID); err != nil {
		return err
	}
	return tx.Commit()
}

// RemoveMembers deletes the given member rows. If the removal empties the
// admin set while members remain, one remaining member is promoted at
// random inside the same transaction and returned.
func (db *Database) RemoveMembers(ctx context.Context, conversationID string, userIDs []string) (promoted string, err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	for _, userID := range userIDs {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM conversation_members WHERE conversation_id = ? AND user_id = ?",
			conversationID, userID,
		); err != nil {
			return "", err
		}
	}

	var admins int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM conversation_members WHERE conversation_id = ? AND is_admin = 1",
		conversationID,
	).Scan(&admins); err != nil {
		return "", err
	}

	if admins == 0 {
		err := tx.QueryRowContext(ctx,
			"SELECT user_id FROM conversation_members WHERE conversation_id = ? ORDER BY RANDOM() LIMIT 1",
			conversationID,
		).Scan(&promoted)
		if err != nil && err != sql.ErrNoRows {
			return "", err
		}
		if promoted != "" {
			if _, err := tx.ExecContext(ctx,
				"UPDATE conversation_members SET is_admin = 1 WHERE conversation_id = ? AND user_id = ?",
				conversationID, promoted,
			); err != nil {
				return "", err
			}
		}
	}

	if err := touchConversationTx(ctx, tx, conversationID); err != nil {
		return "", err
	}
	return promoted, tx.Commit()
}

func (db *Database) PromoteAdmin(ctx context.Context, conversationID, userID string) error {
	result, err := db.ExecContext(ctx,
		"UPDATE conversation_members SET is_admin = 1 WHERE conversation_id = ? AND user_id = ?",
		conversationID, userID,
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

// SetDeleted flips the per-viewer soft-delete marker. The conversation and
// its history stay intact for everyone else.
func (db *Database) SetDeleted(ctx context.Context, conversationID, userID string, deleted bool) error {
	result, err := db.ExecContext(ctx,
		"UPDATE conversation_members SET deleted = ? WHERE conversation_id = ? AND user_id = ?",
		deleted, conversationID, userID,
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

// SetLastRead moves the member's last-read bookmark in one atomic statement.
// Members always have a row from CreateConversation or AddMembers, so this is
// a plain update; an insert branch would quietly re-create the row for a user
// who has since been removed. Zero rows means the user is not a member.
func (db *Database) SetLastRead(ctx context.Context, conversationID, userID, messageID string) error {
	result, err := db.ExecContext(ctx,
		"UPDATE conversation_members SET last_read_message_id = ? WHERE conversation_id = ? AND user_id = ?",
		messageID, conversationID, userID,
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
