package store

import (
	"database/sql"
	"time"
)

// UpsertMessage inserts or updates a message (idempotent on conversation_id + msg_id).
func (db *DB) UpsertMessage(m *Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (conversation_id, msg_id, from_me, body, message_type, delivered, read, is_system, media_url, media_mimetype, created_at, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, msg_id) DO UPDATE SET
			body = excluded.body,
			delivered = excluded.delivered,
			read = excluded.read,
			media_url = excluded.media_url,
			media_mimetype = excluded.media_mimetype`,
		m.ConversationID, m.MsgID, m.FromMe, m.Body, m.MessageType,
		m.Delivered, m.Read, m.IsSystem, m.MediaURL, m.MediaMimetype, m.CreatedAt, now)
	return err
}

// GetMessage returns one archived message by its server id, or nil.
func (db *DB) GetMessage(conversationID, msgID string) (*Message, error) {
	var m Message
	err := db.QueryRow(`
		SELECT rowid, conversation_id, msg_id, from_me, body, message_type, delivered, read, is_system, media_url, media_mimetype, created_at
		FROM messages WHERE conversation_id = ? AND msg_id = ?`, conversationID, msgID).
		Scan(&m.RowID, &m.ConversationID, &m.MsgID, &m.FromMe, &m.Body, &m.MessageType,
			&m.Delivered, &m.Read, &m.IsSystem, &m.MediaURL, &m.MediaMimetype, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMessages returns archived messages for a conversation using
// keyset pagination by creation time.
func (db *DB) ListMessages(conversationID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT rowid, conversation_id, msg_id, from_me, body, message_type, delivered, read, is_system, media_url, media_mimetype, created_at
		FROM messages
		WHERE conversation_id = ? AND created_at < ?
		ORDER BY created_at DESC
		LIMIT ?`, conversationID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.RowID, &m.ConversationID, &m.MsgID, &m.FromMe, &m.Body, &m.MessageType,
			&m.Delivered, &m.Read, &m.IsSystem, &m.MediaURL, &m.MediaMimetype, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
