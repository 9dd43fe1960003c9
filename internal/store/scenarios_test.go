package store

import (
	"context"
	"sync"
	"testing"

	"github.com/fechatter/messaging-core/internal/apperrors"
	"github.com/fechatter/messaging-core/internal/model"
	"github.com/google/uuid"
)

// TestS1IdempotentSend is spec.md §8 worked example S1: two concurrent
// submits of the same (chat, idempotency_key) collapse into one message
// row, both calls observing the same id and sequence_number.
func TestS1IdempotentSend(t *testing.T) {
	s := getTestStore(t)
	ctx := context.Background()

	workspaceID, users := seedWorkspaceAndUsers(t, s, "sender")
	chat, err := s.CreateChat(ctx, CreateChatParams{WorkspaceID: workspaceID, Type: model.ChatGroup, CreatedBy: users[0]})
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}

	key := "k1"
	params := InsertMessageParams{ChatID: chat.ID, SenderID: users[0], Content: "hi", IdempotencyKey: &key}

	var wg sync.WaitGroup
	results := make([]*model.Message, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = s.InsertMessage(ctx, params)
		}(i)
	}
	wg.Wait()

	for i, e := range errs {
		if e != nil {
			t.Fatalf("InsertMessage[%d]: %v", i, e)
		}
	}
	if results[0].ID != results[1].ID {
		t.Fatalf("expected both submits to return the same message id, got %s and %s", results[0].ID, results[1].ID)
	}
	if results[0].SequenceNumber != results[1].SequenceNumber {
		t.Fatalf("expected both submits to report the same sequence_number, got %d and %d",
			results[0].SequenceNumber, results[1].SequenceNumber)
	}

	msgs, err := s.GetMessages(ctx, chat.ID, Bound{Kind: BoundAfter, N: 0, Limit: 200})
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected exactly one persisted message row, got %d", len(msgs))
	}
}

// TestS2OrderingUnderContention is spec.md §8 worked example S2: three
// senders each submit 100 messages to the same chat concurrently; the
// result must be exactly 300 rows with sequence_numbers forming one
// contiguous run, no duplicates and no gaps.
func TestS2OrderingUnderContention(t *testing.T) {
	s := getTestStore(t)
	ctx := context.Background()

	workspaceID, users := seedWorkspaceAndUsers(t, s, "a", "b", "c")
	chat, err := s.CreateChat(ctx, CreateChatParams{WorkspaceID: workspaceID, Type: model.ChatGroup, CreatedBy: users[0]})
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}

	const perSender = 100
	var wg sync.WaitGroup
	errCh := make(chan error, len(users)*perSender)
	for _, u := range users {
		for i := 0; i < perSender; i++ {
			wg.Add(1)
			go func(u uuid.UUID) {
				defer wg.Done()
				_, _, err := s.InsertMessage(ctx, InsertMessageParams{ChatID: chat.ID, SenderID: u, Content: "msg"})
				if err != nil {
					errCh <- err
				}
			}(u)
		}
	}
	wg.Wait()
	close(errCh)
	for e := range errCh {
		t.Fatalf("InsertMessage: %v", e)
	}

	msgs, err := s.GetMessages(ctx, chat.ID, Bound{Kind: BoundAfter, N: 0, Limit: 200})
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	// GetMessages clamps to 200; fetch the full run in two pages to check
	// contiguity across all 300 rows.
	tail, err := s.GetMessages(ctx, chat.ID, Bound{Kind: BoundAfter, N: 200, Limit: 200})
	if err != nil {
		t.Fatalf("GetMessages (tail): %v", err)
	}
	all := append(msgs, tail...)

	want := len(users) * perSender
	if len(all) != want {
		t.Fatalf("expected %d messages, got %d", want, len(all))
	}
	seen := make(map[int64]bool, want)
	for _, m := range all {
		if seen[m.SequenceNumber] {
			t.Fatalf("duplicate sequence_number %d", m.SequenceNumber)
		}
		seen[m.SequenceNumber] = true
	}
	for seq := all[0].SequenceNumber; seq < all[0].SequenceNumber+int64(want); seq++ {
		if !seen[seq] {
			t.Fatalf("gap at sequence_number %d", seq)
		}
	}
}

// TestS5Permission is spec.md §8 worked example S5: a plain member
// attempting to remove the owner of a group chat must be rejected with
// Forbidden, and membership must be left unchanged.
func TestS5Permission(t *testing.T) {
	s := getTestStore(t)
	ctx := context.Background()

	workspaceID, users := seedWorkspaceAndUsers(t, s, "owner", "member")
	owner, member := users[0], users[1]

	chat, err := s.CreateChat(ctx, CreateChatParams{
		WorkspaceID: workspaceID, Type: model.ChatGroup, CreatedBy: owner, Members: []uuid.UUID{member},
	})
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}

	err = s.RemoveMember(ctx, chat.ID, owner, member)
	if !apperrors.Is(err, apperrors.Forbidden) {
		t.Fatalf("expected Forbidden removing the owner, got %v", err)
	}

	m, err := s.GetMember(ctx, chat.ID, owner)
	if err != nil {
		t.Fatalf("GetMember: %v", err)
	}
	if !m.Active() {
		t.Fatal("owner membership must be unchanged after a rejected removal attempt")
	}
}

// TestS6DMConstraint is spec.md §8 worked example S6: attempting to add a
// third member to a Single (DM) chat is rejected with InvalidArgument and
// membership stays at two.
func TestS6DMConstraint(t *testing.T) {
	s := getTestStore(t)
	ctx := context.Background()

	workspaceID, users := seedWorkspaceAndUsers(t, s, "g", "h", "i")
	g, h, i := users[0], users[1], users[2]

	chat, err := s.CreateChat(ctx, CreateChatParams{
		WorkspaceID: workspaceID, Type: model.ChatSingle, CreatedBy: g, Members: []uuid.UUID{h},
	})
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}

	err = s.AddMember(ctx, chat.ID, i, g, model.RoleMember)
	if !apperrors.Is(err, apperrors.InvalidArgument) {
		t.Fatalf("expected InvalidArgument adding a third member to a single chat, got %v", err)
	}

	members, err := s.ActiveMembers(ctx, chat.ID)
	if err != nil {
		t.Fatalf("ActiveMembers: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected membership to remain at 2, got %d", len(members))
	}
}
