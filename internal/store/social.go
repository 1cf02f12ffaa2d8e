package store

import (
	"database/sql"
	"strings"

	"github.com/swiftim-go/core/internal/model"
)

// UpsertUser inserts or replaces a user profile row (spec.md §4.6
// "Users ... standard upsert").
func (s *Store) UpsertUser(u *model.User) error {
	_, err := s.db.Exec(
		`INSERT INTO users (user_id, nickname, avatar, phone, remark, update_time)
			VALUES (?,?,?,?,?,?)
			ON CONFLICT(user_id) DO UPDATE SET
				nickname = excluded.nickname, avatar = excluded.avatar,
				phone = excluded.phone, remark = excluded.remark, update_time = excluded.update_time`,
		u.UserID, u.Nickname, u.Avatar, u.Phone, u.Remark, u.UpdateTime,
	)
	return err
}

func scanUser(rows *sql.Rows) (*model.User, error) {
	var u model.User
	if err := rows.Scan(&u.UserID, &u.Nickname, &u.Avatar, &u.Phone, &u.Remark, &u.UpdateTime); err != nil {
		return nil, err
	}
	return &u, nil
}

// SearchUsers does a case-insensitive substring search over
// nickname/phone/remark (spec.md §4.6 "search by name/phone/remark
// substring").
func (s *Store) SearchUsers(keyword string) ([]*model.User, error) {
	if strings.TrimSpace(keyword) == "" {
		return nil, nil
	}
	pattern := "%" + escapeLike(strings.ToLower(keyword)) + "%"
	rows, err := s.db.Query(
		`SELECT user_id, nickname, avatar, phone, remark, update_time FROM users
			WHERE LOWER(nickname) LIKE ? ESCAPE '\' OR LOWER(phone) LIKE ? ESCAPE '\' OR LOWER(remark) LIKE ? ESCAPE '\'
			ORDER BY nickname ASC`,
		pattern, pattern, pattern,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// UpsertGroup inserts or replaces a group header row.
func (s *Store) UpsertGroup(g *model.Group) error {
	_, err := s.db.Exec(
		`INSERT INTO groups (group_id, name, owner_id, member_count, update_time)
			VALUES (?,?,?,?,?)
			ON CONFLICT(group_id) DO UPDATE SET
				name = excluded.name, owner_id = excluded.owner_id, update_time = excluded.update_time`,
		g.GroupID, g.Name, g.OwnerID, g.MemberCount, g.UpdateTime,
	)
	return err
}

// DeleteGroup removes a group and cascades deletion of its membership
// rows (spec.md §4.6 "cascading deletion of group members").
func (s *Store) DeleteGroup(groupID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM group_members WHERE group_id = ?`, groupID); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.Exec(`DELETE FROM groups WHERE group_id = ?`, groupID); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// AddGroupMember adds (or no-ops on) a membership row, maintaining
// groups.member_count. Adding a duplicate member is idempotent
// (spec.md §4.6).
func (s *Store) AddGroupMember(m model.GroupMember) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	res, err := tx.Exec(
		`INSERT INTO group_members (group_id, user_id, nickname, join_time)
			VALUES (?,?,?,?)
			ON CONFLICT(group_id, user_id) DO NOTHING`,
		m.GroupID, m.UserID, m.Nickname, m.JoinTime,
	)
	if err != nil {
		tx.Rollback()
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return err
	}
	if n > 0 {
		if _, err := tx.Exec(`UPDATE groups SET member_count = member_count + 1 WHERE group_id = ?`, m.GroupID); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// RemoveGroupMember removes a membership row and decrements
// member_count if a row was actually removed.
func (s *Store) RemoveGroupMember(groupID, userID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	res, err := tx.Exec(`DELETE FROM group_members WHERE group_id = ? AND user_id = ?`, groupID, userID)
	if err != nil {
		tx.Rollback()
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return err
	}
	if n > 0 {
		if _, err := tx.Exec(`UPDATE groups SET member_count = MAX(member_count - 1, 0) WHERE group_id = ?`, groupID); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// ListGroupMembers returns every member of a group.
func (s *Store) ListGroupMembers(groupID string) ([]model.GroupMember, error) {
	rows, err := s.db.Query(
		`SELECT group_id, user_id, nickname, join_time FROM group_members WHERE group_id = ? ORDER BY join_time ASC`,
		groupID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.GroupMember
	for rows.Next() {
		var m model.GroupMember
		if err := rows.Scan(&m.GroupID, &m.UserID, &m.Nickname, &m.JoinTime); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// AddFriend adds a friend relationship; adding a duplicate updates the
// remark instead of erroring (spec.md §4.6 "Adding a duplicate friend
// updates the remark").
func (s *Store) AddFriend(f model.Friend) error {
	_, err := s.db.Exec(
		`INSERT INTO friends (owner_user_id, friend_user_id, remark, create_time)
			VALUES (?,?,?,?)
			ON CONFLICT(owner_user_id, friend_user_id) DO UPDATE SET remark = excluded.remark`,
		f.OwnerUserID, f.FriendUserID, f.Remark, f.CreateTime,
	)
	return err
}

// RemoveFriend deletes a friend relationship.
func (s *Store) RemoveFriend(ownerUserID, friendUserID string) error {
	_, err := s.db.Exec(
		`DELETE FROM friends WHERE owner_user_id = ? AND friend_user_id = ?`,
		ownerUserID, friendUserID,
	)
	return err
}

// ListFriends returns every friend of ownerUserID.
func (s *Store) ListFriends(ownerUserID string) ([]model.Friend, error) {
	rows, err := s.db.Query(
		`SELECT owner_user_id, friend_user_id, remark, create_time FROM friends
			WHERE owner_user_id = ? ORDER BY create_time ASC`,
		ownerUserID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Friend
	for rows.Next() {
		var f model.Friend
		if err := rows.Scan(&f.OwnerUserID, &f.FriendUserID, &f.Remark, &f.CreateTime); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// SearchFriends does a case-insensitive substring search over remark
// among ownerUserID's friends.
func (s *Store) SearchFriends(ownerUserID, keyword string) ([]model.Friend, error) {
	if strings.TrimSpace(keyword) == "" {
		return nil, nil
	}
	pattern := "%" + escapeLike(strings.ToLower(keyword)) + "%"
	rows, err := s.db.Query(
		`SELECT owner_user_id, friend_user_id, remark, create_time FROM friends
			WHERE owner_user_id = ? AND LOWER(remark) LIKE ? ESCAPE '\'
			ORDER BY create_time ASC`,
		ownerUserID, pattern,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Friend
	for rows.Next() {
		var f model.Friend
		if err := rows.Scan(&f.OwnerUserID, &f.FriendUserID, &f.Remark, &f.CreateTime); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// SyncState returns the persisted sync watermark, creating a zeroed
// row on first use.
func (s *Store) SyncState() (model.SyncState, error) {
	var st model.SyncState
	var isSyncing int
	err := s.db.QueryRow(`SELECT last_sync_seq, last_sync_time, is_syncing FROM sync_config WHERE id = 1`).Scan(
		&st.LastSyncSeq, &st.LastSyncTime, &isSyncing,
	)
	if err == sql.ErrNoRows {
		if _, err := s.db.Exec(`INSERT INTO sync_config (id, last_sync_seq, last_sync_time, is_syncing) VALUES (1, 0, 0, 0)`); err != nil {
			return st, err
		}
		return model.SyncState{}, nil
	}
	if err != nil {
		return st, err
	}
	st.IsSyncing = isSyncing != 0
	return st, nil
}

// SaveSyncState persists the sync watermark.
func (s *Store) SaveSyncState(st model.SyncState) error {
	_, err := s.db.Exec(
		`INSERT INTO sync_config (id, last_sync_seq, last_sync_time, is_syncing) VALUES (1, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				last_sync_seq = excluded.last_sync_seq,
				last_sync_time = excluded.last_sync_time,
				is_syncing = excluded.is_syncing`,
		st.LastSyncSeq, st.LastSyncTime, boolToInt(st.IsSyncing),
	)
	return err
}
