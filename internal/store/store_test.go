package store

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/swiftim-go/core/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestSaveMessageDedupOnRetransmit implements scenario S2 from
// spec.md §8.
func TestSaveMessageDedupOnRetransmit(t *testing.T) {
	s := openTestStore(t)

	msg := func(status model.MessageStatus) *model.Message {
		return &model.Message{
			MessageID:      "M1",
			ConversationID: "c1",
			Content:        []byte("a"),
			Status:         status,
		}
	}

	outcome, err := s.SaveMessage(msg(model.StatusSending))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if outcome != model.Inserted {
		t.Fatalf("expected Inserted, got %v", outcome)
	}

	for i := 0; i < 3; i++ {
		outcome, err := s.SaveMessage(msg(model.StatusSending))
		if err != nil {
			t.Fatalf("retransmit %d: %v", i, err)
		}
		if outcome != model.Skipped {
			t.Fatalf("retransmit %d: expected Skipped, got %v", i, outcome)
		}
	}

	outcome, err = s.SaveMessage(msg(model.StatusSent))
	if err != nil {
		t.Fatalf("status update: %v", err)
	}
	if outcome != model.Updated {
		t.Fatalf("expected Updated, got %v", outcome)
	}

	rows, err := s.GetMessages("c1", 0, 10)
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected exactly one message in conversation, got %d", len(rows))
	}
	if rows[0].Status != model.StatusSent || string(rows[0].Content) != "a" {
		t.Fatalf("unexpected final row: %+v", rows[0])
	}
}

func TestSaveMessageMigratesClientMsgIDToMessageID(t *testing.T) {
	s := openTestStore(t)

	_, err := s.SaveMessage(&model.Message{
		ClientMsgID:    "c-local-1",
		ConversationID: "c1",
		Content:        []byte("hi"),
		Status:         model.StatusSending,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	outcome, err := s.SaveMessage(&model.Message{
		ClientMsgID:    "c-local-1",
		MessageID:      "srv-99",
		ConversationID: "c1",
		Content:        []byte("hi"),
		Status:         model.StatusSent,
	})
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if outcome != model.Updated {
		t.Fatalf("expected Updated on migration, got %v", outcome)
	}

	rows, err := s.GetMessages("c1", 0, 10)
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected the row to migrate in place, got %d rows", len(rows))
	}
	if rows[0].MessageID != "srv-99" {
		t.Fatalf("expected message_id migrated to srv-99, got %q", rows[0].MessageID)
	}
}

func TestSaveMessagesBatchCountsAndDedupRate(t *testing.T) {
	s := openTestStore(t)

	batch := []*model.Message{
		{MessageID: "M1", ConversationID: "c1", Content: []byte("a")},
		{MessageID: "M2", ConversationID: "c1", Content: []byte("b")},
	}
	result, err := s.SaveMessages(batch)
	if err != nil {
		t.Fatalf("save batch: %v", err)
	}
	if result.Inserted != 2 || result.Total() != 2 {
		t.Fatalf("unexpected first batch result: %+v", result)
	}

	result, err = s.SaveMessages(batch)
	if err != nil {
		t.Fatalf("save batch again: %v", err)
	}
	if result.Skipped != 2 || result.DedupRate() != 1.0 {
		t.Fatalf("expected full dedup on retransmit, got %+v", result)
	}
}

func TestGetMessagesPagingAndOrdering(t *testing.T) {
	s := openTestStore(t)

	for i, ct := range []int64{100, 200, 300} {
		_, err := s.SaveMessage(&model.Message{
			MessageID:      string(rune('A' + i)),
			ConversationID: "c1",
			CreateTime:     ct,
		})
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	page, err := s.GetMessages("c1", 0, 10)
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(page) != 3 || page[0].CreateTime != 300 || page[2].CreateTime != 100 {
		t.Fatalf("expected descending create_time order, got %+v", page)
	}

	page2, err := s.GetMessages("c1", 300, 10)
	if err != nil {
		t.Fatalf("get messages before 300: %v", err)
	}
	if len(page2) != 2 || page2[0].CreateTime != 200 {
		t.Fatalf("expected page starting below 300, got %+v", page2)
	}
}

func TestSearchMessagesIgnoresBlankKeywordAndIsCaseInsensitive(t *testing.T) {
	s := openTestStore(t)
	_, err := s.SaveMessage(&model.Message{MessageID: "M1", ConversationID: "c1", Content: []byte("Hello World")})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	blank, err := s.SearchMessages("   ", SearchOptions{})
	if err != nil {
		t.Fatalf("search blank: %v", err)
	}
	if len(blank) != 0 {
		t.Fatalf("expected no results for blank keyword, got %d", len(blank))
	}

	hits, err := s.SearchMessages("WORLD", SearchOptions{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 case-insensitive hit, got %d", len(hits))
	}
}

func TestConversationPinnedOrderingAndUnread(t *testing.T) {
	s := openTestStore(t)

	if err := s.UpsertLastMessage("c1", model.ConversationSingle, "u1", []byte("hi"), 100); err != nil {
		t.Fatalf("upsert c1: %v", err)
	}
	if err := s.UpsertLastMessage("c2", model.ConversationSingle, "u2", []byte("hey"), 200); err != nil {
		t.Fatalf("upsert c2: %v", err)
	}
	if err := s.SetPinned("c1", true); err != nil {
		t.Fatalf("pin c1: %v", err)
	}

	convs, err := s.ListConversations()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(convs) != 2 || convs[0].ConversationID != "c1" {
		t.Fatalf("expected pinned c1 first despite older timestamp, got %+v", convs)
	}

	if err := s.SetMuted("c2", true); err != nil {
		t.Fatalf("mute c2: %v", err)
	}
	if _, err := s.SaveMessage(&model.Message{
		MessageID: "m-c2-1", ConversationID: "c2", Direction: model.DirectionReceive, CreateTime: 250,
	}); err != nil {
		t.Fatalf("insert message: %v", err)
	}
	if _, err := s.CalcUnread("c2"); err != nil {
		t.Fatalf("calc unread: %v", err)
	}

	total, err := s.TotalUnread()
	if err != nil {
		t.Fatalf("total unread: %v", err)
	}
	if total != 0 {
		t.Fatalf("expected muted conversation excluded from total unread, got %d", total)
	}
}

func TestGroupMembershipCascadeAndIdempotentAdd(t *testing.T) {
	s := openTestStore(t)

	if err := s.UpsertGroup(&model.Group{GroupID: "g1", Name: "Team"}); err != nil {
		t.Fatalf("upsert group: %v", err)
	}
	if err := s.AddGroupMember(model.GroupMember{GroupID: "g1", UserID: "u1"}); err != nil {
		t.Fatalf("add member: %v", err)
	}
	if err := s.AddGroupMember(model.GroupMember{GroupID: "g1", UserID: "u1"}); err != nil {
		t.Fatalf("re-add same member: %v", err)
	}

	members, err := s.ListGroupMembers("g1")
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	if len(members) != 1 {
		t.Fatalf("expected idempotent add to leave exactly 1 member, got %d", len(members))
	}

	if err := s.DeleteGroup("g1"); err != nil {
		t.Fatalf("delete group: %v", err)
	}
	members, err = s.ListGroupMembers("g1")
	if err != nil {
		t.Fatalf("list members after delete: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("expected cascading delete of members, got %d remaining", len(members))
	}
}

func TestAddFriendDuplicateUpdatesRemark(t *testing.T) {
	s := openTestStore(t)

	if err := s.AddFriend(model.Friend{OwnerUserID: "u1", FriendUserID: "u2", Remark: "buddy"}); err != nil {
		t.Fatalf("add friend: %v", err)
	}
	if err := s.AddFriend(model.Friend{OwnerUserID: "u1", FriendUserID: "u2", Remark: "best friend"}); err != nil {
		t.Fatalf("re-add friend: %v", err)
	}

	friends, err := s.ListFriends("u1")
	if err != nil {
		t.Fatalf("list friends: %v", err)
	}
	if len(friends) != 1 || friends[0].Remark != "best friend" {
		t.Fatalf("expected remark updated in place, got %+v", friends)
	}
}
