package store

import (
	"database/sql"
	"time"
)

// UpsertConversation inserts or updates a conversation snapshot.
func (db *DB) UpsertConversation(c *Conversation) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (id, contact_name, contact_phone, status, assignee_id, last_message, last_message_type, unread_count, updated_at, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			contact_name = excluded.contact_name,
			contact_phone = excluded.contact_phone,
			status = excluded.status,
			assignee_id = excluded.assignee_id,
			last_message = excluded.last_message,
			last_message_type = excluded.last_message_type,
			unread_count = excluded.unread_count,
			updated_at = excluded.updated_at,
			archived_at = excluded.archived_at`,
		c.ID, c.ContactName, c.ContactPhone, c.Status, c.AssigneeID,
		c.LastMessage, c.LastMessageType, c.UnreadCount, c.UpdatedAt, now)
	return err
}

// ListConversations returns archived conversations by recency.
func (db *DB) ListConversations(limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, contact_name, contact_phone, status, assignee_id, last_message, last_message_type, unread_count, updated_at
		FROM conversations
		ORDER BY updated_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.ContactName, &c.ContactPhone, &c.Status, &c.AssigneeID,
			&c.LastMessage, &c.LastMessageType, &c.UnreadCount, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetConversation returns a single archived conversation, or nil.
func (db *DB) GetConversation(id string) (*Conversation, error) {
	var c Conversation
	err := db.QueryRow(`
		SELECT id, contact_name, contact_phone, status, assignee_id, last_message, last_message_type, unread_count, updated_at
		FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &c.ContactName, &c.ContactPhone, &c.Status, &c.AssigneeID,
			&c.LastMessage, &c.LastMessageType, &c.UnreadCount, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
