// Package model holds the persisted entities of the messaging substrate,
// shared by every component that reads or writes them. None of these
// types own their own persistence — internal/store does.
package model

import (
	"time"

	"github.com/google/uuid"
)

type UserStatus string

const (
	UserActive    UserStatus = "active"
	UserSuspended UserStatus = "suspended"
)

type ChatType string

const (
	ChatSingle          ChatType = "single"
	ChatGroup           ChatType = "group"
	ChatPublicChannel   ChatType = "public_channel"
	ChatPrivateChannel  ChatType = "private_channel"
)

type MemberRole string

const (
	RoleOwner     MemberRole = "owner"
	RoleAdmin     MemberRole = "admin"
	RoleModerator MemberRole = "moderator"
	RoleMember    MemberRole = "member"
)

type MessagePriority string

const (
	PriorityLow    MessagePriority = "low"
	PriorityNormal MessagePriority = "normal"
	PriorityHigh   MessagePriority = "high"
	PriorityUrgent MessagePriority = "urgent"
)

type MessageStatus string

const (
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
	MessageFailed    MessageStatus = "failed"
)

type MentionKind string

const (
	MentionUser     MentionKind = "user"
	MentionEveryone MentionKind = "everyone"
	MentionHere     MentionKind = "here"
)

type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceAway    PresenceStatus = "away"
	PresenceBusy    PresenceStatus = "busy"
	PresenceOffline PresenceStatus = "offline"
)

type Workspace struct {
	ID        uuid.UUID
	Name      string
	OwnerID   uuid.UUID
	CreatedAt time.Time
}

type User struct {
	ID             uuid.UUID
	WorkspaceID    uuid.UUID
	FullName       string
	Email          string
	PasswordHash   string
	Username       string
	Status         UserStatus
	IsBot          bool
	LastActiveAt   *time.Time
	CreatedAt      time.Time
}

// RefreshCredential is the opaque refresh-token row a user presents to
// rotate their bearer credential. Only the hash is ever persisted.
type RefreshCredential struct {
	ID                uuid.UUID
	UserID            uuid.UUID
	TokenHash         string
	DeviceFingerprint string
	IssuedAt          time.Time
	ExpiresAt         time.Time
	AbsoluteExpiresAt time.Time
	Revoked           bool
	ReplacedBy        *uuid.UUID
}

type Chat struct {
	ID          uuid.UUID
	WorkspaceID uuid.UUID
	Name        *string
	Type        ChatType
	CreatedBy   uuid.UUID
	CreatedAt   time.Time
	IsPublic    bool
	InviteCode  *string
	MaxMembers  int
	Settings    map[string]any
	LastMessageAt *time.Time
}

type ChatMember struct {
	ChatID              uuid.UUID
	UserID              uuid.UUID
	Role                MemberRole
	JoinedAt            time.Time
	LeftAt              *time.Time
	LastReadMessageID   *uuid.UUID
	LastReadAt          *time.Time
	UnreadMentionsCount int
	MutedUntil          *time.Time
	IsBanned            bool
}

func (m *ChatMember) Active() bool {
	return m.LeftAt == nil
}

func (m *ChatMember) Muted(now time.Time) bool {
	return m.MutedUntil != nil && m.MutedUntil.After(now)
}

type Message struct {
	ID              uuid.UUID
	ChatID          uuid.UUID
	SenderID        uuid.UUID
	Content         string
	Files           []FileRef
	ReplyTo         *uuid.UUID
	Mentions        []uuid.UUID
	IdempotencyKey  *string
	SequenceNumber  int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
	IsEdited        bool
	EditCount       int
	Priority        MessagePriority
	Status          MessageStatus
	Deleted         bool
}

// FileRef is the opaque reference the core stores for an uploaded file.
// The bytes themselves live entirely outside the core (spec.md §6).
type FileRef struct {
	ID        uuid.UUID `json:"id"`
	URL       string    `json:"url"`
	MimeType  string    `json:"mime_type"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

type MessageMention struct {
	MessageID       uuid.UUID
	MentionedUserID uuid.UUID
	Kind            MentionKind
}

type MessageReceipt struct {
	MessageID   uuid.UUID
	UserID      uuid.UUID
	DeliveredAt *time.Time
	ReadAt      *time.Time
}

type TypingIndicator struct {
	ChatID    uuid.UUID
	UserID    uuid.UUID
	StartedAt time.Time
	ExpiresAt time.Time
}

type UserPresence struct {
	UserID       uuid.UUID
	Status       PresenceStatus
	CustomStatus string
	LastSeen     time.Time
}

// OutboxEvent is a row of the transactional outbox: written in the same
// transaction as the domain mutation it describes, read asynchronously by
// the Event Bus Adapter.
type OutboxEvent struct {
	ID             uuid.UUID
	AggregateType  string
	AggregateID    uuid.UUID
	ChatID         uuid.UUID
	SequenceNumber int64
	EventType      string
	Payload        []byte
	CreatedAt      time.Time
	PublishedAt    *time.Time
}
