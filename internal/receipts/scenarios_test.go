package receipts

import (
	"context"
	"testing"

	"github.com/fechatter/messaging-core/internal/identitygate"
	"github.com/fechatter/messaging-core/internal/model"
	"github.com/fechatter/messaging-core/internal/store"
	"github.com/google/uuid"
)

// TestS4MarkReadAndMentions is spec.md §8 worked example S4: marking read
// up to a cursor must recompute both the unread count (sequence > cursor,
// sender != self) and the unread-mention count (mentions strictly after
// the cursor) rather than zeroing either blindly.
func TestS4MarkReadAndMentions(t *testing.T) {
	s := getTestStore(t)
	ctx := context.Background()

	workspaceID, users := seedWorkspaceAndUsers(t, s, "sender", "e")
	sender, e := users[0], users[1]

	chat, err := s.CreateChat(ctx, store.CreateChatParams{
		WorkspaceID: workspaceID, Type: model.ChatGroup, CreatedBy: sender, Members: []uuid.UUID{e},
	})
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}

	const total = 20
	mentionAt := map[int]bool{12: true, 15: true, 18: true}
	for i := 1; i <= total; i++ {
		var mentions []model.MessageMention
		if mentionAt[i] {
			mentions = []model.MessageMention{{MentionedUserID: e, Kind: model.MentionUser}}
		}
		if _, _, err := s.InsertMessage(ctx, store.InsertMessageParams{
			ChatID: chat.ID, SenderID: sender, Content: "msg", Mentions: mentions,
		}); err != nil {
			t.Fatalf("InsertMessage %d: %v", i, err)
		}
	}

	tracker := NewTracker(s)
	principal := identitygate.Principal{UserID: e, WorkspaceID: workspaceID}

	if err := tracker.MarkRead(ctx, principal, chat.ID, 14); err != nil {
		t.Fatalf("MarkRead(14): %v", err)
	}
	summary, err := tracker.Unread(ctx, principal, chat.ID)
	if err != nil {
		t.Fatalf("Unread: %v", err)
	}
	if summary.UnreadCount != 6 {
		t.Fatalf("after mark_read(14): expected unread_count=6, got %d", summary.UnreadCount)
	}
	if summary.UnreadMentions != 2 {
		t.Fatalf("after mark_read(14): expected unread_mentions=2, got %d", summary.UnreadMentions)
	}

	if err := tracker.MarkRead(ctx, principal, chat.ID, 20); err != nil {
		t.Fatalf("MarkRead(20): %v", err)
	}
	summary, err = tracker.Unread(ctx, principal, chat.ID)
	if err != nil {
		t.Fatalf("Unread: %v", err)
	}
	if summary.UnreadCount != 0 {
		t.Fatalf("after mark_read(20): expected unread_count=0, got %d", summary.UnreadCount)
	}
	if summary.UnreadMentions != 0 {
		t.Fatalf("after mark_read(20): expected unread_mentions=0, got %d", summary.UnreadMentions)
	}
}
