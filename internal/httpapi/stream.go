package httpapi

import (
	"bufio"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/fechatter/messaging-core/internal/apperrors"
	"github.com/fechatter/messaging-core/internal/fanout"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type StreamHandler struct {
	gateway *fanout.Gateway
}

func NewStreamHandler(g *fanout.Gateway) *StreamHandler {
	return &StreamHandler{gateway: g}
}

// Stream opens the Fan-out & Stream Gateway's long-lived connection over
// SSE, following the teacher's handleStreamingChat framing
// (SetBodyStreamWriter + "data: ...\n\n") generalized from one chat reply
// to an indefinitely long multi-chat event feed (spec.md §4.9).
//
// Query parameters: last_seen=<chat_id>:<sequence>,<chat_id>:<sequence>,...
func (h *StreamHandler) Stream(c *fiber.Ctx) error {
	lastSeen, err := parseLastSeen(c.Query("last_seen"))
	if err != nil {
		return err
	}

	conn, err := h.gateway.Connect(c.Context(), principalFrom(c), fanout.HandshakeRequest{LastSeen: lastSeen})
	if err != nil {
		return err
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer conn.Close()
		for v := range conn.Out {
			data, err := json.Marshal(v)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
				return
			}
			if err := w.Flush(); err != nil {
				return
			}
		}
	})
	return nil
}

func parseLastSeen(raw string) (map[uuid.UUID]int64, error) {
	out := make(map[uuid.UUID]int64)
	if raw == "" {
		return out, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			return nil, apperrors.New(apperrors.InvalidArgument, "malformed last_seen entry")
		}
		chatID, err := uuid.Parse(parts[0])
		if err != nil {
			return nil, apperrors.New(apperrors.InvalidArgument, "invalid chat id in last_seen")
		}
		seq, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, apperrors.New(apperrors.InvalidArgument, "invalid sequence in last_seen")
		}
		out[chatID] = seq
	}
	return out, nil
}
