package model

import (
	"time"

	"github.com/google/uuid"
)

// Event type discriminators written into outbox rows and published on the
// bus. Consumers deduplicate by (ChatID, SequenceNumber) where present.
const (
	EventMessageCreated     = "MessageCreated"
	EventMessageUpdated     = "MessageUpdated"
	EventMessageDeleted     = "MessageDeleted"
	EventChatMemberChanged  = "ChatMemberChanged"
	EventReceiptUpdated     = "ReceiptUpdated"
	EventTypingChanged      = "TypingChanged"
	EventPresenceChanged    = "PresenceChanged"
)

type MessageCreated struct {
	ChatID         uuid.UUID   `json:"chat_id"`
	SequenceNumber int64       `json:"sequence_number"`
	MessageID      uuid.UUID   `json:"message_id"`
	SenderID       uuid.UUID   `json:"sender_id"`
	Recipients     []uuid.UUID `json:"recipients"`
}

type MessageUpdated struct {
	ChatID         uuid.UUID `json:"chat_id"`
	SequenceNumber int64     `json:"sequence_number"`
	MessageID      uuid.UUID `json:"message_id"`
	UpdatedFields  []string  `json:"updated_fields"`
}

type MessageDeleted struct {
	ChatID         uuid.UUID `json:"chat_id"`
	SequenceNumber int64     `json:"sequence_number"`
	MessageID      uuid.UUID `json:"message_id"`
}

type MemberChangeKind string

const (
	MemberAdded    MemberChangeKind = "added"
	MemberRemoved  MemberChangeKind = "removed"
	MemberRoleSet  MemberChangeKind = "role_changed"
)

type ChatMemberChanged struct {
	ChatID uuid.UUID        `json:"chat_id"`
	UserID uuid.UUID        `json:"user_id"`
	Change MemberChangeKind `json:"change"`
}

type ReceiptUpdated struct {
	ChatID           uuid.UUID `json:"chat_id"`
	UserID           uuid.UUID `json:"user_id"`
	LastReadSequence int64     `json:"last_read_sequence"`
}

type TypingChanged struct {
	ChatID    uuid.UUID `json:"chat_id"`
	UserID    uuid.UUID `json:"user_id"`
	Active    bool      `json:"active"`
	ExpiresAt time.Time `json:"expires_at"`
}

type PresenceChanged struct {
	UserID uuid.UUID      `json:"user_id"`
	Status PresenceStatus `json:"status"`
}
