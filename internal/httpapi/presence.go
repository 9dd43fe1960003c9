package httpapi

import (
	"github.com/fechatter/messaging-core/internal/apperrors"
	"github.com/fechatter/messaging-core/internal/model"
	"github.com/fechatter/messaging-core/internal/presence"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type PresenceHandler struct {
	tracker *presence.Tracker
}

func NewPresenceHandler(t *presence.Tracker) *PresenceHandler {
	return &PresenceHandler{tracker: t}
}

type updatePresenceRequest struct {
	Status string `json:"status"`
}

func (h *PresenceHandler) Update(c *fiber.Ctx) error {
	var req updatePresenceRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.New(apperrors.InvalidArgument, "malformed request body")
	}
	p := principalFrom(c)
	switch model.PresenceStatus(req.Status) {
	case model.PresenceOnline:
		h.tracker.SetOnline(p.UserID)
	case model.PresenceAway, model.PresenceBusy:
		h.tracker.SetStatus(p.UserID, model.PresenceStatus(req.Status))
	case model.PresenceOffline:
		h.tracker.Disconnect(p.UserID)
	default:
		return apperrors.New(apperrors.InvalidArgument, "unknown presence status")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type typingRequest struct {
	ChatID string `json:"chat_id"`
	Active bool   `json:"active"`
}

func (h *PresenceHandler) Typing(c *fiber.Ctx) error {
	var req typingRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.New(apperrors.InvalidArgument, "malformed request body")
	}
	chatID, err := uuid.Parse(req.ChatID)
	if err != nil {
		return apperrors.New(apperrors.InvalidArgument, "invalid chat id")
	}
	p := principalFrom(c)
	if req.Active {
		h.tracker.StartTyping(chatID, p.UserID)
	} else {
		h.tracker.StopTyping(chatID, p.UserID)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
