package httpapi

import (
	"strconv"

	"github.com/fechatter/messaging-core/internal/apperrors"
	"github.com/fechatter/messaging-core/internal/messaging"
	"github.com/fechatter/messaging-core/internal/model"
	"github.com/fechatter/messaging-core/internal/store"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type MessageHandler struct {
	messages *messaging.Service
}

func NewMessageHandler(m *messaging.Service) *MessageHandler {
	return &MessageHandler{messages: m}
}

type sendMessageRequest struct {
	Content        string          `json:"content"`
	Files          []model.FileRef `json:"files"`
	ReplyTo        *string         `json:"reply_to"`
	IdempotencyKey *string         `json:"idempotency_key"`
	Priority       string          `json:"priority"`
}

func (h *MessageHandler) Send(c *fiber.Ctx) error {
	chatID, err := uuid.Parse(c.Params("chatID"))
	if err != nil {
		return apperrors.New(apperrors.InvalidArgument, "invalid chat id")
	}

	var req sendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.New(apperrors.InvalidArgument, "malformed request body")
	}

	var replyTo *uuid.UUID
	if req.ReplyTo != nil {
		id, err := uuid.Parse(*req.ReplyTo)
		if err != nil {
			return apperrors.New(apperrors.InvalidArgument, "invalid reply_to id")
		}
		replyTo = &id
	}

	priority := model.PriorityNormal
	if req.Priority != "" {
		priority = model.MessagePriority(req.Priority)
	}

	msg, err := h.messages.Send(c.Context(), messaging.SendMessageCommand{
		Principal: principalFrom(c), ChatID: chatID, Content: req.Content,
		Files: req.Files, ReplyTo: replyTo, IdempotencyKey: req.IdempotencyKey, Priority: priority,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

type editMessageRequest struct {
	Content string `json:"content"`
}

func (h *MessageHandler) Edit(c *fiber.Ctx) error {
	messageID, err := uuid.Parse(c.Params("messageID"))
	if err != nil {
		return apperrors.New(apperrors.InvalidArgument, "invalid message id")
	}
	var req editMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.New(apperrors.InvalidArgument, "malformed request body")
	}
	msg, err := h.messages.Edit(c.Context(), messaging.EditMessageCommand{
		Principal: principalFrom(c), MessageID: messageID, NewContent: req.Content,
	})
	if err != nil {
		return err
	}
	return c.JSON(msg)
}

func (h *MessageHandler) Delete(c *fiber.Ctx) error {
	messageID, err := uuid.Parse(c.Params("messageID"))
	if err != nil {
		return apperrors.New(apperrors.InvalidArgument, "invalid message id")
	}
	if err := h.messages.Delete(c.Context(), messaging.DeleteMessageCommand{
		Principal: principalFrom(c), MessageID: messageID,
	}); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *MessageHandler) List(c *fiber.Ctx) error {
	chatID, err := uuid.Parse(c.Params("chatID"))
	if err != nil {
		return apperrors.New(apperrors.InvalidArgument, "invalid chat id")
	}

	bound := store.Bound{Kind: store.BoundBefore, Limit: 50}
	if v := c.Query("before"); v != "" {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			return apperrors.New(apperrors.InvalidArgument, "invalid before cursor")
		}
		bound = store.Bound{Kind: store.BoundBefore, N: n, Limit: bound.Limit}
	}
	if v := c.Query("after"); v != "" {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			return apperrors.New(apperrors.InvalidArgument, "invalid after cursor")
		}
		bound = store.Bound{Kind: store.BoundAfter, N: n, Limit: bound.Limit}
	}
	if v := c.Query("around"); v != "" {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			return apperrors.New(apperrors.InvalidArgument, "invalid around cursor")
		}
		bound = store.Bound{Kind: store.BoundAround, N: n, Limit: bound.Limit}
	}
	if v := c.QueryInt("limit"); v > 0 {
		bound.Limit = v
	}

	msgs, err := h.messages.List(c.Context(), messaging.ListMessagesCommand{
		Principal: principalFrom(c), ChatID: chatID, Bound: bound,
	})
	if err != nil {
		return err
	}
	return c.JSON(msgs)
}
