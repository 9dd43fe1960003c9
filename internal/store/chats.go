package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/fechatter/messaging-core/internal/apperrors"
	"github.com/fechatter/messaging-core/internal/model"
	"github.com/fechatter/messaging-core/internal/permission"
	"github.com/google/uuid"
)

type CreateChatParams struct {
	WorkspaceID uuid.UUID
	Name        *string
	Type        model.ChatType
	CreatedBy   uuid.UUID
	IsPublic    bool
	InviteCode  *string
	MaxMembers  int
	Members     []uuid.UUID // additional members beyond CreatedBy, who becomes owner
}

// CreateChat creates a chat and its initial membership row(s) atomically.
// The creator is always inserted as owner (spec.md §4.6: exactly one
// owner per chat).
func (s *Store) CreateChat(ctx context.Context, p CreateChatParams) (*model.Chat, error) {
	if p.Type == model.ChatSingle && len(p.Members) != 1 {
		return nil, apperrors.New(apperrors.InvalidArgument, "single chats require exactly two members")
	}

	var chat *model.Chat
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		id := uuid.New()
		now := time.Now()
		settingsJSON, _ := json.Marshal(map[string]any{})

		_, e := tx.ExecContext(ctx, `
			INSERT INTO chats (id, workspace_id, name, type, created_by, created_at, is_public, invite_code, max_members, settings)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, id, p.WorkspaceID, p.Name, p.Type, p.CreatedBy, now, p.IsPublic, p.InviteCode, p.MaxMembers, settingsJSON)
		if e != nil {
			if isUniqueViolation(e) {
				return apperrors.New(apperrors.Conflict, "invite code already in use")
			}
			return wrapDBErr(e)
		}

		if e := insertMemberTx(ctx, tx, id, p.CreatedBy, model.RoleOwner); e != nil {
			return e
		}
		role := model.RoleMember
		if p.Type == model.ChatSingle {
			role = model.RoleMember
		}
		for _, uid := range p.Members {
			if e := insertMemberTx(ctx, tx, id, uid, role); e != nil {
				return e
			}
		}

		chat = &model.Chat{
			ID: id, WorkspaceID: p.WorkspaceID, Name: p.Name, Type: p.Type,
			CreatedBy: p.CreatedBy, CreatedAt: now, IsPublic: p.IsPublic,
			InviteCode: p.InviteCode, MaxMembers: p.MaxMembers, Settings: map[string]any{},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return chat, nil
}

func insertMemberTx(ctx context.Context, tx *sql.Tx, chatID, userID uuid.UUID, role model.MemberRole) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO chat_members (chat_id, user_id, role, joined_at)
		VALUES ($1,$2,$3,now())
	`, chatID, userID, role)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.New(apperrors.Conflict, "user is already a member")
		}
		return wrapDBErr(err)
	}
	return nil
}

// GetOrCreateSingleChat returns the existing Single chat between a and b
// in workspaceID, creating it if none exists (spec.md §10 supplemented
// feature — the original spec assumes DM chats exist without naming the
// operation that establishes one).
func (s *Store) GetOrCreateSingleChat(ctx context.Context, workspaceID, a, b uuid.UUID) (*model.Chat, error) {
	existing, err := s.findSingleChat(ctx, workspaceID, a, b)
	if err == nil {
		return existing, nil
	}
	if !apperrors.Is(err, apperrors.NotFound) {
		return nil, err
	}
	return s.CreateChat(ctx, CreateChatParams{
		WorkspaceID: workspaceID, Type: model.ChatSingle, CreatedBy: a, Members: []uuid.UUID{b},
	})
}

func (s *Store) findSingleChat(ctx context.Context, workspaceID, a, b uuid.UUID) (*model.Chat, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.workspace_id, c.name, c.type, c.created_by, c.created_at,
		       c.is_public, c.invite_code, c.max_members, c.last_message_at
		FROM chats c
		WHERE c.workspace_id = $1 AND c.type = 'single'
		  AND (SELECT count(*) FROM chat_members m WHERE m.chat_id = c.id AND m.user_id IN ($2,$3) AND m.left_at IS NULL) = 2
		  AND (SELECT count(*) FROM chat_members m WHERE m.chat_id = c.id AND m.left_at IS NULL) = 2
		LIMIT 1
	`, workspaceID, a, b)
	return scanChat(row)
}

func (s *Store) GetChat(ctx context.Context, chatID uuid.UUID) (*model.Chat, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, name, type, created_by, created_at, is_public, invite_code, max_members, last_message_at
		FROM chats WHERE id = $1
	`, chatID)
	return scanChat(row)
}

func scanChat(row scanner) (*model.Chat, error) {
	var c model.Chat
	var name, inviteCode sql.NullString
	var lastMsg sql.NullTime
	err := row.Scan(&c.ID, &c.WorkspaceID, &name, &c.Type, &c.CreatedBy, &c.CreatedAt,
		&c.IsPublic, &inviteCode, &c.MaxMembers, &lastMsg)
	if err != nil {
		return nil, wrapDBErr(err)
	}
	if name.Valid {
		c.Name = &name.String
	}
	if inviteCode.Valid {
		c.InviteCode = &inviteCode.String
	}
	if lastMsg.Valid {
		c.LastMessageAt = &lastMsg.Time
	}
	return &c, nil
}

func (s *Store) GetMember(ctx context.Context, chatID, userID uuid.UUID) (*model.ChatMember, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT chat_id, user_id, role, joined_at, left_at, last_read_message_id, last_read_at,
		       unread_mentions_count, muted_until, is_banned
		FROM chat_members WHERE chat_id = $1 AND user_id = $2
	`, chatID, userID)
	return scanMember(row)
}

func scanMember(row scanner) (*model.ChatMember, error) {
	var m model.ChatMember
	var leftAt, lastReadAt, mutedUntil sql.NullTime
	var lastReadMsg sql.NullString
	err := row.Scan(&m.ChatID, &m.UserID, &m.Role, &m.JoinedAt, &leftAt, &lastReadMsg, &lastReadAt,
		&m.UnreadMentionsCount, &mutedUntil, &m.IsBanned)
	if err != nil {
		return nil, wrapDBErr(err)
	}
	if leftAt.Valid {
		m.LeftAt = &leftAt.Time
	}
	if lastReadAt.Valid {
		m.LastReadAt = &lastReadAt.Time
	}
	if mutedUntil.Valid {
		m.MutedUntil = &mutedUntil.Time
	}
	if lastReadMsg.Valid {
		id, perr := uuid.Parse(lastReadMsg.String)
		if perr == nil {
			m.LastReadMessageID = &id
		}
	}
	return &m, nil
}

func (s *Store) ActiveMembers(ctx context.Context, chatID uuid.UUID) ([]*model.ChatMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chat_id, user_id, role, joined_at, left_at, last_read_message_id, last_read_at,
		       unread_mentions_count, muted_until, is_banned
		FROM chat_members WHERE chat_id = $1 AND left_at IS NULL
	`, chatID)
	if err != nil {
		return nil, wrapDBErr(err)
	}
	defer rows.Close()
	var out []*model.ChatMember
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, wrapDBErr(rows.Err())
}

func loadChatType(ctx context.Context, tx *sql.Tx, chatID uuid.UUID) (model.ChatType, error) {
	var chatType model.ChatType
	if e := tx.QueryRowContext(ctx, `SELECT type FROM chats WHERE id = $1`, chatID).Scan(&chatType); e != nil {
		return "", wrapDBErr(e)
	}
	return chatType, nil
}

func loadActiveRole(ctx context.Context, tx *sql.Tx, chatID, userID uuid.UUID) (model.MemberRole, error) {
	var role model.MemberRole
	e := tx.QueryRowContext(ctx, `
		SELECT role FROM chat_members WHERE chat_id = $1 AND user_id = $2 AND left_at IS NULL
	`, chatID, userID).Scan(&role)
	if isNoRows(e) {
		return "", apperrors.New(apperrors.Forbidden, "not an active member of this chat")
	}
	if e != nil {
		return "", wrapDBErr(e)
	}
	return role, nil
}

// AddMember inserts a membership row for userID with the given role. Both
// the chat-type constraint (Single chats are fixed at two members) and
// the role x chat-type permission matrix (spec.md §4.6) are enforced here
// against actorID, so the check holds for every caller of this method,
// not only the HTTP handler that happens to gate it today.
func (s *Store) AddMember(ctx context.Context, chatID, userID, actorID uuid.UUID, role model.MemberRole) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		chatType, e := loadChatType(ctx, tx, chatID)
		if e != nil {
			return e
		}
		if chatType == model.ChatSingle {
			return apperrors.New(apperrors.InvalidArgument, "cannot add members to a single chat")
		}

		actorRole, e := loadActiveRole(ctx, tx, chatID, actorID)
		if e != nil {
			return e
		}
		if !permission.Can(actorRole, chatType, permission.OpAddMember) {
			return apperrors.New(apperrors.Forbidden, "not permitted to add members")
		}

		if e := insertMemberTx(ctx, tx, chatID, userID, role); e != nil {
			return e
		}

		return writeOutboxTx(ctx, tx, outboxRow{
			AggregateType: "chat_member", AggregateID: userID, ChatID: chatID,
			EventType: model.EventChatMemberChanged,
			Payload:   model.ChatMemberChanged{ChatID: chatID, UserID: userID, Change: model.MemberAdded},
		})
	})
}

// RemoveMember sets left_at on the membership row. The owner can never be
// removed (spec.md §4.6: CanRemoveOwner is always false) — checked
// before the permission matrix so it cannot be bypassed by any role. A
// member removing themself (leaving) skips the matrix entirely; removing
// someone else requires OpRemoveMember.
func (s *Store) RemoveMember(ctx context.Context, chatID, userID, actorID uuid.UUID) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		role, e := loadActiveRole(ctx, tx, chatID, userID)
		if e != nil {
			return e
		}
		if role == model.RoleOwner {
			return apperrors.New(apperrors.Forbidden, "the owner cannot be removed")
		}

		if actorID != userID {
			chatType, e := loadChatType(ctx, tx, chatID)
			if e != nil {
				return e
			}
			actorRole, e := loadActiveRole(ctx, tx, chatID, actorID)
			if e != nil {
				return e
			}
			if !permission.Can(actorRole, chatType, permission.OpRemoveMember) {
				return apperrors.New(apperrors.Forbidden, "not permitted to remove members")
			}
		}

		res, e := tx.ExecContext(ctx, `
			UPDATE chat_members SET left_at = now() WHERE chat_id = $1 AND user_id = $2 AND left_at IS NULL
		`, chatID, userID)
		if e != nil {
			return wrapDBErr(e)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperrors.New(apperrors.NotFound, "member not found")
		}

		return writeOutboxTx(ctx, tx, outboxRow{
			AggregateType: "chat_member", AggregateID: userID, ChatID: chatID,
			EventType: model.EventChatMemberChanged,
			Payload:   model.ChatMemberChanged{ChatID: chatID, UserID: userID, Change: model.MemberRemoved},
		})
	})
}

// ChangeRole updates a member's role. Demoting or promoting the owner is
// rejected outright: exactly one owner exists per chat for its lifetime.
// Otherwise actorID must hold OpChangeRole under the permission matrix.
func (s *Store) ChangeRole(ctx context.Context, chatID, userID, actorID uuid.UUID, newRole model.MemberRole) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		currentRole, e := loadActiveRole(ctx, tx, chatID, userID)
		if e != nil {
			return e
		}
		if currentRole == model.RoleOwner || newRole == model.RoleOwner {
			return apperrors.New(apperrors.Forbidden, "ownership cannot be reassigned")
		}

		chatType, e := loadChatType(ctx, tx, chatID)
		if e != nil {
			return e
		}
		actorRole, e := loadActiveRole(ctx, tx, chatID, actorID)
		if e != nil {
			return e
		}
		if !permission.Can(actorRole, chatType, permission.OpChangeRole) {
			return apperrors.New(apperrors.Forbidden, "not permitted to change roles")
		}

		if _, e := tx.ExecContext(ctx, `
			UPDATE chat_members SET role = $3 WHERE chat_id = $1 AND user_id = $2
		`, chatID, userID, newRole); e != nil {
			return wrapDBErr(e)
		}

		return writeOutboxTx(ctx, tx, outboxRow{
			AggregateType: "chat_member", AggregateID: userID, ChatID: chatID,
			EventType: model.EventChatMemberChanged,
			Payload:   model.ChatMemberChanged{ChatID: chatID, UserID: userID, Change: model.MemberRoleSet},
		})
	})
}

// MuteMember sets or clears a member's mute expiry (spec.md §4.6:
// moderators and above may mute members; spec.md §4.5 step 2 rejects
// posts from a member whose MutedUntil is in the future). A nil
// mutedUntil clears an existing mute.
func (s *Store) MuteMember(ctx context.Context, chatID, userID, actorID uuid.UUID, mutedUntil *time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		chatType, e := loadChatType(ctx, tx, chatID)
		if e != nil {
			return e
		}
		actorRole, e := loadActiveRole(ctx, tx, chatID, actorID)
		if e != nil {
			return e
		}
		if !permission.Can(actorRole, chatType, permission.OpMuteMember) {
			return apperrors.New(apperrors.Forbidden, "not permitted to mute members")
		}
		targetRole, e := loadActiveRole(ctx, tx, chatID, userID)
		if e != nil {
			return e
		}
		if targetRole == model.RoleOwner {
			return apperrors.New(apperrors.Forbidden, "the owner cannot be muted")
		}

		res, e := tx.ExecContext(ctx, `
			UPDATE chat_members SET muted_until = $3 WHERE chat_id = $1 AND user_id = $2 AND left_at IS NULL
		`, chatID, userID, mutedUntil)
		if e != nil {
			return wrapDBErr(e)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperrors.New(apperrors.NotFound, "member not found")
		}
		return nil
	})
}

// BanMember sets is_banned and ends the member's active membership in the
// same transaction (spec.md §3 invariant 3: a banned member can never
// post, and must not linger as an active member). Only a chat's
// OpRemoveMember holder may ban, mirroring the removal permission since a
// ban is a stronger form of removal.
func (s *Store) BanMember(ctx context.Context, chatID, userID, actorID uuid.UUID) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		chatType, e := loadChatType(ctx, tx, chatID)
		if e != nil {
			return e
		}
		actorRole, e := loadActiveRole(ctx, tx, chatID, actorID)
		if e != nil {
			return e
		}
		if !permission.Can(actorRole, chatType, permission.OpRemoveMember) {
			return apperrors.New(apperrors.Forbidden, "not permitted to ban members")
		}
		targetRole, e := loadActiveRole(ctx, tx, chatID, userID)
		if e != nil {
			return e
		}
		if targetRole == model.RoleOwner {
			return apperrors.New(apperrors.Forbidden, "the owner cannot be banned")
		}

		res, e := tx.ExecContext(ctx, `
			UPDATE chat_members SET is_banned = true, left_at = coalesce(left_at, now())
			WHERE chat_id = $1 AND user_id = $2 AND left_at IS NULL
		`, chatID, userID)
		if e != nil {
			return wrapDBErr(e)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperrors.New(apperrors.NotFound, "member not found")
		}

		return writeOutboxTx(ctx, tx, outboxRow{
			AggregateType: "chat_member", AggregateID: userID, ChatID: chatID,
			EventType: model.EventChatMemberChanged,
			Payload:   model.ChatMemberChanged{ChatID: chatID, UserID: userID, Change: model.MemberRemoved},
		})
	})
}
