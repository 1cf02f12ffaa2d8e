package store

import (
	"database/sql"

	"github.com/swiftim-go/core/internal/model"
)

func scanConversation(rows *sql.Rows) (*model.Conversation, error) {
	var c model.Conversation
	var conversationType, isPinned, isMuted int
	if err := rows.Scan(
		&c.ConversationID, &conversationType, &c.PeerOrGroupID, &c.LastMessage,
		&c.LastMessageTime, &c.UnreadCount, &c.LastReadTime, &isPinned, &isMuted,
		&c.Draft, &c.UpdateTime,
	); err != nil {
		return nil, err
	}
	c.ConversationType = model.ConversationType(conversationType)
	c.IsPinned = isPinned != 0
	c.IsMuted = isMuted != 0
	return &c, nil
}

const conversationColumns = `conversation_id, conversation_type, peer_or_group_id, last_message,
	last_message_time, unread_count, last_read_time, is_pinned, is_muted, draft, update_time`

// ensureConversation inserts a placeholder row if convID has never
// been seen, so mutation methods below can always UPDATE.
func ensureConversation(ex execer, convID string, convType model.ConversationType, peerOrGroupID string) error {
	_, err := ex.Exec(
		`INSERT INTO conversations (conversation_id, conversation_type, peer_or_group_id, update_time)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(conversation_id) DO NOTHING`,
		convID, int(convType), peerOrGroupID, model.NowMillis(),
	)
	return err
}

// UpsertLastMessage records a conversation's preview (spec.md §4.6
// "update last-message").
func (s *Store) UpsertLastMessage(convID string, convType model.ConversationType, peerOrGroupID string, lastMessage []byte, lastMessageTime int64) error {
	if err := ensureConversation(s.db, convID, convType, peerOrGroupID); err != nil {
		return err
	}
	_, err := s.db.Exec(
		`UPDATE conversations SET last_message = ?, last_message_time = ?, update_time = ?
			WHERE conversation_id = ?`,
		lastMessage, lastMessageTime, model.NowMillis(), convID,
	)
	return err
}

// SetPinned pins/unpins a conversation.
func (s *Store) SetPinned(convID string, pinned bool) error {
	if err := ensureConversation(s.db, convID, model.ConversationSingle, ""); err != nil {
		return err
	}
	_, err := s.db.Exec(`UPDATE conversations SET is_pinned = ? WHERE conversation_id = ?`, boolToInt(pinned), convID)
	return err
}

// SetMuted mutes/unmutes a conversation.
func (s *Store) SetMuted(convID string, muted bool) error {
	if err := ensureConversation(s.db, convID, model.ConversationSingle, ""); err != nil {
		return err
	}
	_, err := s.db.Exec(`UPDATE conversations SET is_muted = ? WHERE conversation_id = ?`, boolToInt(muted), convID)
	return err
}

// UpdateDraft stores the unsent draft text for a conversation.
func (s *Store) UpdateDraft(convID, draft string) error {
	if err := ensureConversation(s.db, convID, model.ConversationSingle, ""); err != nil {
		return err
	}
	_, err := s.db.Exec(`UPDATE conversations SET draft = ? WHERE conversation_id = ?`, draft, convID)
	return err
}

// MarkRead sets last_read_time = now and unread_count = 0 (spec.md
// §4.6 "mark_read").
func (s *Store) MarkRead(convID string) error {
	if err := ensureConversation(s.db, convID, model.ConversationSingle, ""); err != nil {
		return err
	}
	_, err := s.db.Exec(
		`UPDATE conversations SET last_read_time = ?, unread_count = 0 WHERE conversation_id = ?`,
		model.NowMillis(), convID,
	)
	return err
}

// CalcUnread recomputes unread_count from messages with create_time >
// last_read_time (spec.md §4.6 "calc_unread") and persists it.
func (s *Store) CalcUnread(convID string) (int, error) {
	var lastReadTime int64
	err := s.db.QueryRow(`SELECT last_read_time FROM conversations WHERE conversation_id = ?`, convID).Scan(&lastReadTime)
	if err == sql.ErrNoRows {
		lastReadTime = 0
	} else if err != nil {
		return 0, err
	}

	var count int
	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ? AND create_time > ? AND direction = ?`,
		convID, lastReadTime, int(model.DirectionReceive),
	).Scan(&count); err != nil {
		return 0, err
	}

	if err := ensureConversation(s.db, convID, model.ConversationSingle, ""); err != nil {
		return 0, err
	}
	if _, err := s.db.Exec(`UPDATE conversations SET unread_count = ? WHERE conversation_id = ?`, count, convID); err != nil {
		return 0, err
	}
	return count, nil
}

// ListConversations returns every conversation with all pinned ones
// (by last_message_time desc) ahead of all unpinned ones (by
// last_message_time desc) (spec.md §4.6 "Sorted listing").
func (s *Store) ListConversations() ([]*model.Conversation, error) {
	rows, err := s.db.Query(
		`SELECT ` + conversationColumns + ` FROM conversations
			ORDER BY is_pinned DESC, last_message_time DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// TotalUnread sums unread_count over non-muted conversations (spec.md
// §4.6 "Total unread").
func (s *Store) TotalUnread() (int, error) {
	var total sql.NullInt64
	if err := s.db.QueryRow(
		`SELECT SUM(unread_count) FROM conversations WHERE is_muted = 0`,
	).Scan(&total); err != nil {
		return 0, err
	}
	return int(total.Int64), nil
}
