package searchindex

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/fechatter/messaging-core/internal/model"
	"github.com/fechatter/messaging-core/internal/store"
)

// Sync projects published message events onto Indexer. Indexing is
// best-effort (spec.md §4.11 Non-goals exclude guaranteed search
// consistency): a failure here never unwinds the message pipeline, it
// only logs.
type Sync struct {
	store   *store.Store
	indexer Indexer
}

func NewSync(s *store.Store, idx Indexer) *Sync {
	return &Sync{store: s, indexer: idx}
}

// HandleEvent inspects a published outbox event and mirrors it into the
// search index. Unrelated event types are ignored.
func (s *Sync) HandleEvent(ctx context.Context, ev *model.OutboxEvent) {
	switch ev.EventType {
	case model.EventMessageCreated, model.EventMessageUpdated:
		// Both payloads carry message_id; the current row is reloaded and
		// re-indexed so an edit replaces the indexed content.
		var created model.MessageCreated
		if err := json.Unmarshal(ev.Payload, &created); err != nil {
			slog.Warn("search sync: malformed message payload", "event_type", ev.EventType, "event_id", ev.ID, "error", err)
			return
		}
		msg, err := s.store.FindMessageByID(ctx, created.MessageID)
		if err != nil {
			slog.Warn("search sync: failed to load message for indexing", "message_id", created.MessageID, "error", err)
			return
		}
		if err := s.indexer.IndexMessage(ctx, MessageDocument{
			MessageID:      msg.ID,
			ChatID:         msg.ChatID,
			SenderID:       msg.SenderID,
			Content:        msg.Content,
			SequenceNumber: msg.SequenceNumber,
		}); err != nil {
			slog.Warn("search sync: index failed", "message_id", msg.ID, "error", err)
		}
	case model.EventMessageDeleted:
		var deleted model.MessageDeleted
		if err := json.Unmarshal(ev.Payload, &deleted); err != nil {
			slog.Warn("search sync: malformed MessageDeleted payload", "event_id", ev.ID, "error", err)
			return
		}
		if err := s.indexer.RemoveMessage(ctx, deleted.ChatID, deleted.MessageID); err != nil {
			slog.Warn("search sync: remove failed", "message_id", deleted.MessageID, "error", err)
		}
	}
}
