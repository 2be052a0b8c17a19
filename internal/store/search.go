package store

// SearchMessages performs a full-text search on archived message bodies.
func (db *DB) SearchMessages(query string, conversationID string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT m.rowid, m.conversation_id, m.msg_id, m.from_me, m.body,
		       m.message_type, m.delivered, m.read, m.is_system,
		       m.media_url, m.media_mimetype, m.created_at,
		       snippet(messages_fts, 0, '<<', '>>', '...', 32)
		FROM messages_fts f
		JOIN messages m ON m.rowid = f.rowid
		WHERE messages_fts MATCH ?`

	args := []any{query}
	if conversationID != "" {
		q += " AND m.conversation_id = ?"
		args = append(args, conversationID)
	}
	q += " ORDER BY rank LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(
			&r.Message.RowID, &r.Message.ConversationID, &r.Message.MsgID,
			&r.Message.FromMe, &r.Message.Body, &r.Message.MessageType,
			&r.Message.Delivered, &r.Message.Read, &r.Message.IsSystem,
			&r.Message.MediaURL, &r.Message.MediaMimetype, &r.Message.CreatedAt,
			&r.Snippet,
		); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
