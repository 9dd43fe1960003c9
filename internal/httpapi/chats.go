package httpapi

import (
	"time"

	"github.com/fechatter/messaging-core/internal/apperrors"
	"github.com/fechatter/messaging-core/internal/model"
	"github.com/fechatter/messaging-core/internal/permission"
	"github.com/fechatter/messaging-core/internal/store"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type ChatHandler struct {
	store *store.Store
}

func NewChatHandler(s *store.Store) *ChatHandler {
	return &ChatHandler{store: s}
}

type createChatRequest struct {
	Name       *string  `json:"name"`
	Type       string   `json:"type"`
	IsPublic   bool     `json:"is_public"`
	MaxMembers int      `json:"max_members"`
	MemberIDs  []string `json:"member_ids"`
}

func (h *ChatHandler) Create(c *fiber.Ctx) error {
	p := principalFrom(c)

	var req createChatRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.New(apperrors.InvalidArgument, "malformed request body")
	}

	members := make([]uuid.UUID, 0, len(req.MemberIDs))
	for _, s := range req.MemberIDs {
		id, err := uuid.Parse(s)
		if err != nil {
			return apperrors.New(apperrors.InvalidArgument, "invalid member id")
		}
		members = append(members, id)
	}

	chat, err := h.store.CreateChat(c.Context(), store.CreateChatParams{
		WorkspaceID: p.WorkspaceID, Name: req.Name, Type: model.ChatType(req.Type),
		CreatedBy: p.UserID, IsPublic: req.IsPublic, MaxMembers: req.MaxMembers, Members: members,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(chat)
}

func (h *ChatHandler) Get(c *fiber.Ctx) error {
	chatID, err := uuid.Parse(c.Params("chatID"))
	if err != nil {
		return apperrors.New(apperrors.InvalidArgument, "invalid chat id")
	}
	p := principalFrom(c)
	if _, err := h.store.GetMember(c.Context(), chatID, p.UserID); err != nil {
		return apperrors.New(apperrors.Forbidden, "not a member of this chat")
	}
	chat, err := h.store.GetChat(c.Context(), chatID)
	if err != nil {
		return err
	}
	return c.JSON(chat)
}

type addMemberRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

func (h *ChatHandler) AddMember(c *fiber.Ctx) error {
	chatID, err := uuid.Parse(c.Params("chatID"))
	if err != nil {
		return apperrors.New(apperrors.InvalidArgument, "invalid chat id")
	}
	p := principalFrom(c)

	if err := h.requirePermission(c, chatID, p.UserID, permission.OpAddMember); err != nil {
		return err
	}

	var req addMemberRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.New(apperrors.InvalidArgument, "malformed request body")
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return apperrors.New(apperrors.InvalidArgument, "invalid user id")
	}
	role := model.RoleMember
	if req.Role != "" {
		role = model.MemberRole(req.Role)
	}

	if err := h.store.AddMember(c.Context(), chatID, userID, p.UserID, role); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *ChatHandler) RemoveMember(c *fiber.Ctx) error {
	chatID, err := uuid.Parse(c.Params("chatID"))
	if err != nil {
		return apperrors.New(apperrors.InvalidArgument, "invalid chat id")
	}
	userID, err := uuid.Parse(c.Params("userID"))
	if err != nil {
		return apperrors.New(apperrors.InvalidArgument, "invalid user id")
	}
	p := principalFrom(c)

	if userID != p.UserID {
		if err := h.requirePermission(c, chatID, p.UserID, permission.OpRemoveMember); err != nil {
			return err
		}
	}

	if err := h.store.RemoveMember(c.Context(), chatID, userID, p.UserID); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type changeRoleRequest struct {
	Role string `json:"role"`
}

func (h *ChatHandler) ChangeRole(c *fiber.Ctx) error {
	chatID, err := uuid.Parse(c.Params("chatID"))
	if err != nil {
		return apperrors.New(apperrors.InvalidArgument, "invalid chat id")
	}
	userID, err := uuid.Parse(c.Params("userID"))
	if err != nil {
		return apperrors.New(apperrors.InvalidArgument, "invalid user id")
	}
	p := principalFrom(c)

	if err := h.requirePermission(c, chatID, p.UserID, permission.OpChangeRole); err != nil {
		return err
	}

	var req changeRoleRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.New(apperrors.InvalidArgument, "malformed request body")
	}

	if err := h.store.ChangeRole(c.Context(), chatID, userID, p.UserID, model.MemberRole(req.Role)); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type muteMemberRequest struct {
	DurationSeconds int64 `json:"duration_seconds"`
}

// MuteMember mutes userID in chatID for the requested duration, or clears
// an existing mute when duration_seconds is 0 or omitted (spec.md §4.6:
// moderators and above may mute members).
func (h *ChatHandler) MuteMember(c *fiber.Ctx) error {
	chatID, err := uuid.Parse(c.Params("chatID"))
	if err != nil {
		return apperrors.New(apperrors.InvalidArgument, "invalid chat id")
	}
	userID, err := uuid.Parse(c.Params("userID"))
	if err != nil {
		return apperrors.New(apperrors.InvalidArgument, "invalid user id")
	}
	p := principalFrom(c)

	if err := h.requirePermission(c, chatID, p.UserID, permission.OpMuteMember); err != nil {
		return err
	}

	var req muteMemberRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.New(apperrors.InvalidArgument, "malformed request body")
	}
	var mutedUntil *time.Time
	if req.DurationSeconds > 0 {
		until := time.Now().Add(time.Duration(req.DurationSeconds) * time.Second)
		mutedUntil = &until
	}

	if err := h.store.MuteMember(c.Context(), chatID, userID, p.UserID, mutedUntil); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// BanMember removes userID from chatID and blocks them from rejoining
// (spec.md §3 invariant 3).
func (h *ChatHandler) BanMember(c *fiber.Ctx) error {
	chatID, err := uuid.Parse(c.Params("chatID"))
	if err != nil {
		return apperrors.New(apperrors.InvalidArgument, "invalid chat id")
	}
	userID, err := uuid.Parse(c.Params("userID"))
	if err != nil {
		return apperrors.New(apperrors.InvalidArgument, "invalid user id")
	}
	p := principalFrom(c)

	if err := h.requirePermission(c, chatID, p.UserID, permission.OpRemoveMember); err != nil {
		return err
	}

	if err := h.store.BanMember(c.Context(), chatID, userID, p.UserID); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *ChatHandler) requirePermission(c *fiber.Ctx, chatID, actorID uuid.UUID, op permission.Op) error {
	chat, err := h.store.GetChat(c.Context(), chatID)
	if err != nil {
		return err
	}
	member, err := h.store.GetMember(c.Context(), chatID, actorID)
	if err != nil {
		return apperrors.New(apperrors.Forbidden, "not a member of this chat")
	}
	if !member.Active() || !permission.Can(member.Role, chat.Type, op) {
		return apperrors.New(apperrors.Forbidden, "not permitted to perform this operation")
	}
	return nil
}
