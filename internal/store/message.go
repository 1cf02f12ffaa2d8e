package store

import (
	"bytes"
	"database/sql"
	"fmt"
	"strings"

	"github.com/swiftim-go/core/internal/model"
)

// execer is satisfied by both *sql.DB and *sql.Tx, so the save logic
// below runs identically inside SaveMessage's single-statement
// transaction and SaveMessages' whole-batch transaction.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
	QueryRow(query string, args ...any) *sql.Row
}

type storedMessageRow struct {
	rowID       int64
	messageID   string
	clientMsgID string
	content     []byte
	status      int
	seq         int64
	serverTime  int64
	isRevoked   bool
	revokedBy   string
	revokedTime int64
	readBy      string
	readTime    int64
}

func joinReadBy(readBy []string) string {
	return strings.Join(readBy, ",")
}

func splitReadBy(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// lookupMessage finds the existing row matching m's key: message_id if
// non-empty, else client_msg_id (spec.md §4.6 "Upsert"). When m has a
// message_id, a row still keyed only by m's client_msg_id also matches,
// so it can migrate; a message_id match is preferred.
func lookupMessage(ex execer, m *model.Message) (*storedMessageRow, error) {
	var query string
	var args []any
	if m.MessageID != "" {
		query = `SELECT id, message_id, client_msg_id, content, status, seq, server_time,
			is_revoked, revoked_by, revoked_time, read_by, read_time
			FROM messages WHERE message_id = ? OR (client_msg_id != '' AND client_msg_id = ?)
			ORDER BY message_id = ? DESC LIMIT 1`
		args = []any{m.MessageID, m.ClientMsgID, m.MessageID}
	} else {
		query = `SELECT id, message_id, client_msg_id, content, status, seq, server_time,
			is_revoked, revoked_by, revoked_time, read_by, read_time
			FROM messages WHERE client_msg_id = ?`
		args = []any{m.ClientMsgID}
	}

	var row storedMessageRow
	var isRevoked int
	err := ex.QueryRow(query, args...).Scan(
		&row.rowID, &row.messageID, &row.clientMsgID, &row.content, &row.status,
		&row.seq, &row.serverTime, &isRevoked, &row.revokedBy, &row.revokedTime,
		&row.readBy, &row.readTime,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	row.isRevoked = isRevoked != 0
	return &row, nil
}

// saveMessageTx implements spec.md §4.6 "save_message" against any
// execer, so the same code path serves SaveMessage's single-row
// transaction and SaveMessages' batch transaction.
func saveMessageTx(ex execer, m *model.Message) (model.UpsertOutcome, error) {
	existing, err := lookupMessage(ex, m)
	if err != nil {
		return model.Skipped, err
	}

	readByStr := joinReadBy(m.ReadBy)

	if existing == nil {
		createTime := m.CreateTime
		if createTime == 0 {
			createTime = model.NowMillis()
		}
		_, err := ex.Exec(
			`INSERT INTO messages (
				message_id, client_msg_id, conversation_id, conversation_type,
				sender_id, receiver_id, group_id, message_type, content, status,
				direction, seq, send_time, server_time, create_time,
				is_revoked, revoked_by, revoked_time, read_by, read_time
			) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			m.MessageID, m.ClientMsgID, m.ConversationID, int(m.ConversationType),
			m.SenderID, m.ReceiverID, m.GroupID, m.MessageType, m.Content, int(m.Status),
			int(m.Direction), m.Seq, m.SendTime, m.ServerTime, createTime,
			boolToInt(m.IsRevoked), m.RevokedBy, m.RevokedTime, readByStr, m.ReadTime,
		)
		if err != nil {
			return model.Skipped, fmt.Errorf("store: insert message: %w", err)
		}
		return model.Inserted, nil
	}

	changed := !bytes.Equal(existing.content, m.Content) ||
		existing.status != int(m.Status) ||
		existing.seq != m.Seq ||
		existing.serverTime != m.ServerTime ||
		existing.messageID != m.MessageID ||
		existing.isRevoked != m.IsRevoked ||
		existing.revokedBy != m.RevokedBy ||
		existing.revokedTime != m.RevokedTime ||
		existing.readBy != readByStr ||
		existing.readTime != m.ReadTime

	if !changed {
		return model.Skipped, nil
	}

	// A row originally keyed by client_msg_id migrates to the server's
	// message_id once assigned (spec.md §4.6 "migrated").
	_, err = ex.Exec(
		`UPDATE messages SET message_id = ?, content = ?, status = ?, seq = ?,
			server_time = ?, is_revoked = ?, revoked_by = ?, revoked_time = ?,
			read_by = ?, read_time = ? WHERE id = ?`,
		m.MessageID, m.Content, int(m.Status), m.Seq, m.ServerTime,
		boolToInt(m.IsRevoked), m.RevokedBy, m.RevokedTime, readByStr, m.ReadTime,
		existing.rowID,
	)
	if err != nil {
		return model.Skipped, fmt.Errorf("store: update message: %w", err)
	}
	return model.Updated, nil
}

// SaveMessage upserts one message row (spec.md §4.6).
func (s *Store) SaveMessage(m *model.Message) (model.UpsertOutcome, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return model.Skipped, err
	}
	outcome, err := saveMessageTx(tx, m)
	if err != nil {
		tx.Rollback()
		return model.Skipped, err
	}
	if err := tx.Commit(); err != nil {
		return model.Skipped, err
	}
	return outcome, nil
}

// SaveMessages upserts a batch in one transaction (spec.md §4.6
// "save_messages").
func (s *Store) SaveMessages(ms []*model.Message) (model.BatchResult, error) {
	var result model.BatchResult
	if len(ms) == 0 {
		return result, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return result, err
	}
	for _, m := range ms {
		outcome, err := saveMessageTx(tx, m)
		if err != nil {
			tx.Rollback()
			return model.BatchResult{}, err
		}
		switch outcome {
		case model.Inserted:
			result.Inserted++
		case model.Updated:
			result.Updated++
		case model.Skipped:
			result.Skipped++
		}
	}
	if err := tx.Commit(); err != nil {
		return model.BatchResult{}, err
	}
	return result, nil
}

func scanMessage(rows *sql.Rows) (*model.Message, error) {
	var m model.Message
	var conversationType, status, direction, isRevoked int
	var readBy string
	if err := rows.Scan(
		&m.MessageID, &m.ClientMsgID, &m.ConversationID, &conversationType,
		&m.SenderID, &m.ReceiverID, &m.GroupID, &m.MessageType, &m.Content, &status,
		&direction, &m.Seq, &m.SendTime, &m.ServerTime, &m.CreateTime,
		&isRevoked, &m.RevokedBy, &m.RevokedTime, &readBy, &m.ReadTime,
	); err != nil {
		return nil, err
	}
	m.ConversationType = model.ConversationType(conversationType)
	m.Status = model.MessageStatus(status)
	m.Direction = model.Direction(direction)
	m.IsRevoked = isRevoked != 0
	m.ReadBy = splitReadBy(readBy)
	return &m, nil
}

const messageColumns = `message_id, client_msg_id, conversation_id, conversation_type,
	sender_id, receiver_id, group_id, message_type, content, status,
	direction, seq, send_time, server_time, create_time,
	is_revoked, revoked_by, revoked_time, read_by, read_time`

// GetMessages returns up to limit rows with create_time < startTime
// (or the most recent page when startTime is 0), newest first, tied
// by insertion order (spec.md §4.6 "get_messages").
func (s *Store) GetMessages(convID string, startTime int64, limit int) ([]*model.Message, error) {
	var query string
	var args []any
	if startTime <= 0 {
		query = `SELECT ` + messageColumns + ` FROM messages
			WHERE conversation_id = ? ORDER BY create_time DESC, id DESC LIMIT ?`
		args = []any{convID, limit}
	} else {
		query = `SELECT ` + messageColumns + ` FROM messages
			WHERE conversation_id = ? AND create_time < ?
			ORDER BY create_time DESC, id DESC LIMIT ?`
		args = []any{convID, startTime, limit}
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetMessagesBySeq mirrors GetMessages but pages by seq instead of
// create_time (spec.md §4.6 "get_messages_by_seq").
func (s *Store) GetMessagesBySeq(convID string, startSeq int64, limit int) ([]*model.Message, error) {
	var query string
	var args []any
	if startSeq <= 0 {
		query = `SELECT ` + messageColumns + ` FROM messages
			WHERE conversation_id = ? ORDER BY seq DESC, id DESC LIMIT ?`
		args = []any{convID, limit}
	} else {
		query = `SELECT ` + messageColumns + ` FROM messages
			WHERE conversation_id = ? AND seq < ?
			ORDER BY seq DESC, id DESC LIMIT ?`
		args = []any{convID, startSeq, limit}
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetMessagesInRange returns messages with create_time in [fromMs,
// toMs] inclusive (spec.md §4.6 "get_messages_in_range").
func (s *Store) GetMessagesInRange(convID string, fromMs, toMs int64) ([]*model.Message, error) {
	rows, err := s.db.Query(
		`SELECT `+messageColumns+` FROM messages
			WHERE conversation_id = ? AND create_time >= ? AND create_time <= ?
			ORDER BY create_time DESC, id DESC`,
		convID, fromMs, toMs,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SearchOptions narrows SearchMessages (spec.md §4.6 "search_messages").
type SearchOptions struct {
	ConversationID string
	Types          []string
	FromMs, ToMs   int64
	Limit          int
}

// SearchMessages does a case-insensitive substring search over
// content, treating special characters literally. A blank or
// whitespace-only keyword returns no rows.
func (s *Store) SearchMessages(keyword string, opts SearchOptions) ([]*model.Message, error) {
	if strings.TrimSpace(keyword) == "" {
		return nil, nil
	}

	query := `SELECT ` + messageColumns + ` FROM messages WHERE LOWER(CAST(content AS TEXT)) LIKE ? ESCAPE '\'`
	args := []any{"%" + escapeLike(strings.ToLower(keyword)) + "%"}

	if opts.ConversationID != "" {
		query += ` AND conversation_id = ?`
		args = append(args, opts.ConversationID)
	}
	if len(opts.Types) > 0 {
		placeholders := make([]string, len(opts.Types))
		for i, typ := range opts.Types {
			placeholders[i] = "?"
			args = append(args, typ)
		}
		query += ` AND message_type IN (` + strings.Join(placeholders, ",") + `)`
	}
	if opts.FromMs > 0 {
		query += ` AND create_time >= ?`
		args = append(args, opts.FromMs)
	}
	if opts.ToMs > 0 {
		query += ` AND create_time <= ?`
		args = append(args, opts.ToMs)
	}
	query += ` ORDER BY create_time DESC, id DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// escapeLike escapes SQLite LIKE metacharacters so keyword matching is
// literal, per spec.md §4.6 "special characters are treated literally".
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// GetMaxSeq returns the highest seq stored across all conversations.
func (s *Store) GetMaxSeq() (int64, error) {
	var max sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(seq) FROM messages`).Scan(&max); err != nil {
		return 0, err
	}
	return max.Int64, nil
}

// GetOldestTime returns the oldest create_time in a conversation, 0 if
// empty.
func (s *Store) GetOldestTime(convID string) (int64, error) {
	var t sql.NullInt64
	if err := s.db.QueryRow(
		`SELECT MIN(create_time) FROM messages WHERE conversation_id = ?`, convID,
	).Scan(&t); err != nil {
		return 0, err
	}
	return t.Int64, nil
}

// GetLatestTime returns the most recent create_time in a conversation,
// 0 if empty.
func (s *Store) GetLatestTime(convID string) (int64, error) {
	var t sql.NullInt64
	if err := s.db.QueryRow(
		`SELECT MAX(create_time) FROM messages WHERE conversation_id = ?`, convID,
	).Scan(&t); err != nil {
		return 0, err
	}
	return t.Int64, nil
}
