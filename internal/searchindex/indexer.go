// Package searchindex implements the Search Indexer of spec.md §4.11: a
// best-effort consumer of MessageCreated/Updated/Deleted events that keeps
// an external full-text index in sync. Modeled on the teacher's RAGClient
// (internal/services/rag_client.go): a resty.Client with retries talking
// to an external HTTP service, generalized from one-shot RAG queries to
// an indexing sink. Indexing failures never fail the message pipeline —
// they are logged and dropped (spec.md §4.11 Non-goal: the index is a
// best-effort projection, not a source of truth).
package searchindex

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/fechatter/messaging-core/internal/config"
	"github.com/fechatter/messaging-core/internal/model"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

// Indexer is the narrow interface the outbox consumer depends on.
type Indexer interface {
	IndexMessage(ctx context.Context, doc MessageDocument) error
	RemoveMessage(ctx context.Context, chatID, messageID uuid.UUID) error
}

// MessageDocument is what gets shipped to the external search service.
type MessageDocument struct {
	MessageID      uuid.UUID `json:"message_id"`
	ChatID         uuid.UUID `json:"chat_id"`
	SenderID       uuid.UUID `json:"sender_id"`
	Content        string    `json:"content"`
	SequenceNumber int64     `json:"sequence_number"`
}

// NoopIndexer discards everything; used when search.enabled is false.
type NoopIndexer struct{}

func (NoopIndexer) IndexMessage(context.Context, MessageDocument) error   { return nil }
func (NoopIndexer) RemoveMessage(context.Context, uuid.UUID, uuid.UUID) error { return nil }

type HTTPIndexer struct {
	client *resty.Client
}

func NewHTTPIndexer(cfg config.SearchConfig) *HTTPIndexer {
	client := resty.New()
	client.SetTimeout(10 * time.Second)
	client.SetRetryCount(3)
	client.SetRetryWaitTime(200 * time.Millisecond)
	client.SetRetryMaxWaitTime(2 * time.Second)
	client.SetHeader("Content-Type", "application/json")
	client.SetBaseURL(cfg.IndexerURL)
	client.AddRetryCondition(func(r *resty.Response, err error) bool {
		if err != nil {
			return true
		}
		return r.StatusCode() >= 500
	})
	return &HTTPIndexer{client: client}
}

func (i *HTTPIndexer) IndexMessage(ctx context.Context, doc MessageDocument) error {
	resp, err := i.client.R().SetContext(ctx).SetBody(doc).Put("/documents/" + doc.MessageID.String())
	if err != nil {
		slog.Warn("search index upsert failed", "message_id", doc.MessageID, "error", err)
		return err
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated {
		slog.Warn("search index upsert rejected", "message_id", doc.MessageID, "status", resp.StatusCode())
	}
	return nil
}

func (i *HTTPIndexer) RemoveMessage(ctx context.Context, chatID, messageID uuid.UUID) error {
	_, err := i.client.R().SetContext(ctx).Delete("/documents/" + messageID.String())
	if err != nil {
		slog.Warn("search index delete failed", "message_id", messageID, "error", err)
	}
	return err
}
