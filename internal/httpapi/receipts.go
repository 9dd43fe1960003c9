package httpapi

import (
	"github.com/fechatter/messaging-core/internal/apperrors"
	"github.com/fechatter/messaging-core/internal/receipts"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type ReceiptHandler struct {
	tracker *receipts.Tracker
}

func NewReceiptHandler(t *receipts.Tracker) *ReceiptHandler {
	return &ReceiptHandler{tracker: t}
}

type markReadRequest struct {
	UpToSequence int64 `json:"up_to_sequence"`
}

func (h *ReceiptHandler) MarkRead(c *fiber.Ctx) error {
	chatID, err := uuid.Parse(c.Params("chatID"))
	if err != nil {
		return apperrors.New(apperrors.InvalidArgument, "invalid chat id")
	}
	var req markReadRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.New(apperrors.InvalidArgument, "malformed request body")
	}
	if err := h.tracker.MarkRead(c.Context(), principalFrom(c), chatID, req.UpToSequence); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *ReceiptHandler) Unread(c *fiber.Ctx) error {
	chatID, err := uuid.Parse(c.Params("chatID"))
	if err != nil {
		return apperrors.New(apperrors.InvalidArgument, "invalid chat id")
	}
	summary, err := h.tracker.Unread(c.Context(), principalFrom(c), chatID)
	if err != nil {
		return err
	}
	return c.JSON(summary)
}
