// Package messaging implements the Message Service of spec.md §4.5: the
// top-level send/edit/delete pipeline that orchestrates membership checks,
// idempotency, sequencing, persistence, mention extraction, and outbox
// event emission.
package messaging

import (
	"context"
	"time"

	"github.com/fechatter/messaging-core/internal/apperrors"
	"github.com/fechatter/messaging-core/internal/idempotency"
	"github.com/fechatter/messaging-core/internal/identitygate"
	"github.com/fechatter/messaging-core/internal/model"
	"github.com/fechatter/messaging-core/internal/permission"
	"github.com/fechatter/messaging-core/internal/store"
	"github.com/fechatter/messaging-core/internal/validation"
	"github.com/google/uuid"
)

type Service struct {
	store  *store.Store
	filter *idempotency.Filter
}

func NewService(s *store.Store) *Service {
	return &Service{store: s, filter: idempotency.NewFilter(s)}
}

type SendMessageCommand struct {
	Principal      identitygate.Principal
	ChatID         uuid.UUID
	Content        string
	Files          []model.FileRef
	ReplyTo        *uuid.UUID
	IdempotencyKey *string
	Priority       model.MessagePriority
}

// Send runs the pipeline of spec.md §4.5: membership → validation →
// mention resolution → idempotency → sequencing+persistence → chat
// last-activity update. Steps 6-7 are performed atomically by
// store.InsertMessage.
func (s *Service) Send(ctx context.Context, cmd SendMessageCommand) (*model.Message, error) {
	chat, member, err := s.requirePostingMember(ctx, cmd.Principal, cmd.ChatID)
	if err != nil {
		return nil, err
	}

	if err := validation.ValidateContent(cmd.Content, len(cmd.Files) > 0); err != nil {
		return nil, err
	}
	if cmd.IdempotencyKey != nil {
		if err := validation.ValidateIdempotencyKey(*cmd.IdempotencyKey); err != nil {
			return nil, err
		}
	}

	mentions, err := s.resolveMentions(ctx, chat, cmd.Content)
	if err != nil {
		return nil, err
	}

	msg, _, err := s.filter.Submit(ctx, store.InsertMessageParams{
		ChatID: cmd.ChatID, SenderID: cmd.Principal.UserID, Content: cmd.Content,
		Files: cmd.Files, ReplyTo: cmd.ReplyTo, IdempotencyKey: cmd.IdempotencyKey,
		Mentions: mentions, Priority: cmd.Priority,
	})
	if err != nil {
		return nil, err
	}

	_ = member // membership already validated; role not needed further here
	return msg, nil
}

type EditMessageCommand struct {
	Principal  identitygate.Principal
	MessageID  uuid.UUID
	NewContent string
}

func (s *Service) Edit(ctx context.Context, cmd EditMessageCommand) (*model.Message, error) {
	msg, chat, member, err := s.loadMessageForActor(ctx, cmd.MessageID, cmd.Principal)
	if err != nil {
		return nil, err
	}

	allowed := msg.SenderID == cmd.Principal.UserID && permission.Can(member.Role, chat.Type, permission.OpEditOwn)
	allowed = allowed || permission.Can(member.Role, chat.Type, permission.OpEditAny)
	if !allowed {
		return nil, apperrors.New(apperrors.Forbidden, "not permitted to edit this message")
	}

	if err := validation.ValidateContent(cmd.NewContent, true); err != nil {
		return nil, err
	}

	return s.store.EditMessage(ctx, cmd.MessageID, cmd.Principal.UserID, cmd.NewContent)
}

type DeleteMessageCommand struct {
	Principal identitygate.Principal
	MessageID uuid.UUID
}

func (s *Service) Delete(ctx context.Context, cmd DeleteMessageCommand) error {
	msg, chat, member, err := s.loadMessageForActor(ctx, cmd.MessageID, cmd.Principal)
	if err != nil {
		return err
	}

	allowed := msg.SenderID == cmd.Principal.UserID && permission.Can(member.Role, chat.Type, permission.OpDeleteOwn)
	allowed = allowed || permission.Can(member.Role, chat.Type, permission.OpDeleteAny)
	if !allowed {
		return apperrors.New(apperrors.Forbidden, "not permitted to delete this message")
	}

	return s.store.DeleteMessage(ctx, cmd.MessageID, cmd.Principal.UserID)
}

type ListMessagesCommand struct {
	Principal identitygate.Principal
	ChatID    uuid.UUID
	Bound     store.Bound
}

func (s *Service) List(ctx context.Context, cmd ListMessagesCommand) ([]*model.Message, error) {
	if _, _, err := s.requireActiveMember(ctx, cmd.Principal, cmd.ChatID); err != nil {
		return nil, err
	}
	return s.store.GetMessages(ctx, cmd.ChatID, cmd.Bound)
}

// requirePostingMember enforces spec.md §4.5 step 2: active, unbanned,
// unmuted membership in a chat belonging to the principal's workspace.
func (s *Service) requirePostingMember(ctx context.Context, p identitygate.Principal, chatID uuid.UUID) (*model.Chat, *model.ChatMember, error) {
	chat, member, err := s.requireActiveMember(ctx, p, chatID)
	if err != nil {
		return nil, nil, err
	}
	if member.Muted(time.Now()) {
		return nil, nil, apperrors.New(apperrors.Forbidden, "member is muted in this chat")
	}
	return chat, member, nil
}

func (s *Service) requireActiveMember(ctx context.Context, p identitygate.Principal, chatID uuid.UUID) (*model.Chat, *model.ChatMember, error) {
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, nil, err
	}
	if chat.WorkspaceID != p.WorkspaceID {
		return nil, nil, apperrors.New(apperrors.NotFound, "chat not found")
	}
	member, err := s.store.GetMember(ctx, chatID, p.UserID)
	if err != nil {
		if apperrors.Is(err, apperrors.NotFound) {
			return nil, nil, apperrors.New(apperrors.Forbidden, "not a member of this chat")
		}
		return nil, nil, err
	}
	if !member.Active() {
		return nil, nil, apperrors.New(apperrors.Forbidden, "not a member of this chat")
	}
	if member.IsBanned {
		return nil, nil, apperrors.New(apperrors.Forbidden, "banned from this chat")
	}
	return chat, member, nil
}

func (s *Service) loadMessageForActor(ctx context.Context, messageID uuid.UUID, p identitygate.Principal) (*model.Message, *model.Chat, *model.ChatMember, error) {
	msg, err := s.store.FindMessageByID(ctx, messageID)
	if err != nil {
		return nil, nil, nil, err
	}
	chat, member, err := s.requireActiveMember(ctx, p, msg.ChatID)
	if err != nil {
		return nil, nil, nil, err
	}
	return msg, chat, member, nil
}

// resolveMentions extracts @tokens from content and maps them to active
// member ids, dropping unknown usernames silently (spec.md §4.5 step 4).
func (s *Service) resolveMentions(ctx context.Context, chat *model.Chat, content string) ([]model.MessageMention, error) {
	tokens := validation.ExtractMentionTokens(content)
	if len(tokens) == 0 {
		return nil, nil
	}

	members, err := s.store.ActiveMembers(ctx, chat.ID)
	if err != nil {
		return nil, err
	}

	var out []model.MessageMention
	for _, t := range tokens {
		switch {
		case t.Everyone:
			for _, m := range members {
				out = append(out, model.MessageMention{MentionedUserID: m.UserID, Kind: model.MentionEveryone})
			}
		case t.Here:
			for _, m := range members {
				out = append(out, model.MessageMention{MentionedUserID: m.UserID, Kind: model.MentionHere})
			}
		default:
			user, err := s.store.GetUserByUsername(ctx, chat.WorkspaceID, t.Raw)
			if err != nil {
				continue // unknown username: dropped silently
			}
			if !isActiveMember(members, user.ID) {
				continue
			}
			out = append(out, model.MessageMention{MentionedUserID: user.ID, Kind: model.MentionUser})
		}
	}
	return out, nil
}

func isActiveMember(members []*model.ChatMember, userID uuid.UUID) bool {
	for _, m := range members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}
