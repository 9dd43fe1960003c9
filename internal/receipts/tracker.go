// Package receipts implements the Read/Receipt Tracker of spec.md §4.7:
// per-member read cursors, delivery receipts, and unread/unread-mention
// counts, gated by the same active-membership rule as message send.
package receipts

import (
	"context"

	"github.com/fechatter/messaging-core/internal/apperrors"
	"github.com/fechatter/messaging-core/internal/identitygate"
	"github.com/fechatter/messaging-core/internal/store"
	"github.com/google/uuid"
)

type Tracker struct {
	store *store.Store
}

func NewTracker(s *store.Store) *Tracker {
	return &Tracker{store: s}
}

// MarkRead advances the caller's own read cursor in chatID. A member can
// only move their own cursor (spec.md §4.7) — there is no OpMarkReadOnBehalfOf.
func (t *Tracker) MarkRead(ctx context.Context, p identitygate.Principal, chatID uuid.UUID, upToSequence int64) error {
	if err := t.requireMember(ctx, p, chatID); err != nil {
		return err
	}
	return t.store.MarkRead(ctx, chatID, p.UserID, upToSequence)
}

func (t *Tracker) MarkDelivered(ctx context.Context, p identitygate.Principal, messageID uuid.UUID) error {
	msg, err := t.store.FindMessageByID(ctx, messageID)
	if err != nil {
		return err
	}
	if err := t.requireMember(ctx, p, msg.ChatID); err != nil {
		return err
	}
	return t.store.MarkDelivered(ctx, messageID, p.UserID)
}

type UnreadSummary struct {
	ChatID          uuid.UUID
	UnreadCount     int64
	UnreadMentions  int
}

func (t *Tracker) Unread(ctx context.Context, p identitygate.Principal, chatID uuid.UUID) (*UnreadSummary, error) {
	if err := t.requireMember(ctx, p, chatID); err != nil {
		return nil, err
	}
	count, err := t.store.UnreadCount(ctx, chatID, p.UserID)
	if err != nil {
		return nil, err
	}
	mentions, err := t.store.UnreadMentionsCount(ctx, chatID, p.UserID)
	if err != nil {
		return nil, err
	}
	return &UnreadSummary{ChatID: chatID, UnreadCount: count, UnreadMentions: mentions}, nil
}

func (t *Tracker) requireMember(ctx context.Context, p identitygate.Principal, chatID uuid.UUID) error {
	member, err := t.store.GetMember(ctx, chatID, p.UserID)
	if err != nil {
		if apperrors.Is(err, apperrors.NotFound) {
			return apperrors.New(apperrors.Forbidden, "not a member of this chat")
		}
		return err
	}
	if !member.Active() {
		return apperrors.New(apperrors.Forbidden, "not a member of this chat")
	}
	return nil
}
