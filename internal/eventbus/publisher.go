package eventbus

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/fechatter/messaging-core/internal/model"
	"github.com/fechatter/messaging-core/internal/store"
	"github.com/fechatter/messaging-core/internal/workerpool"
	"github.com/google/uuid"
)

// Publisher polls the transactional outbox and drains it onto Bus,
// retrying a chat's batch with exponential backoff (capped at 30s) when
// the bus rejects it, per spec.md §4.8.
type Publisher struct {
	store     *store.Store
	bus       Bus
	pool      *workerpool.Manager
	batch     int
	interval  time.Duration
	onPublish func(ctx context.Context, ev *model.OutboxEvent)
}

func NewPublisher(s *store.Store, bus Bus, pool *workerpool.Manager) *Publisher {
	return &Publisher{store: s, bus: bus, pool: pool, batch: 256, interval: 250 * time.Millisecond}
}

// OnPublish registers a hook invoked after an event is durably published
// and marked done in the outbox. Used to fan the event out to projections
// like the Search Indexer without coupling the publish path to them.
func (p *Publisher) OnPublish(fn func(ctx context.Context, ev *model.OutboxEvent)) {
	p.onPublish = fn
}

// Run polls until ctx is cancelled. Intended to be started once from
// main as a long-lived goroutine; each poll's publishing work is
// submitted to the pool so a slow bus write never blocks the next poll.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drainOnce(ctx)
		}
	}
}

// drainOnce submits one goroutine per distinct chat_id in the batch, each
// publishing that chat's events strictly in the order
// PendingOutboxEvents returned them. Chats run concurrently on the pool;
// within one poll a chat's events never run on two workers at once, so a
// later sequence number is never published before an earlier one for the
// same chat. Polls do not wait for earlier polls: a chat whose worker is
// still retrying is picked up again by the next poll, so its unpublished
// events can be published more than once (at-least-once).
func (p *Publisher) drainOnce(ctx context.Context) {
	events, err := p.store.PendingOutboxEvents(ctx, p.batch)
	if err != nil {
		slog.Error("failed to read pending outbox events", "error", err)
		return
	}

	byChat := make(map[uuid.UUID][]*model.OutboxEvent, len(events))
	order := make([]uuid.UUID, 0)
	for _, ev := range events {
		if _, ok := byChat[ev.ChatID]; !ok {
			order = append(order, ev.ChatID)
		}
		byChat[ev.ChatID] = append(byChat[ev.ChatID], ev)
	}

	for _, chatID := range order {
		chatEvents := byChat[chatID]
		p.pool.SubmitPublish(func() {
			for _, ev := range chatEvents {
				p.publishWithRetry(ctx, ev)
			}
		})
	}
}

func (p *Publisher) publishWithRetry(ctx context.Context, ev *model.OutboxEvent) {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second
	for attempt := 0; ; attempt++ {
		err := p.bus.Publish(ctx, Envelope{
			EventType: ev.EventType,
			ChatID:    ev.ChatID.String(),
			Payload:   ev.Payload,
		})
		if err == nil {
			if markErr := p.store.MarkOutboxPublished(ctx, ev.ID); markErr != nil {
				slog.Error("failed to mark outbox event published", "event_id", ev.ID, "error", markErr)
			}
			if p.onPublish != nil {
				p.onPublish(ctx, ev)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		slog.Warn("outbox publish failed, retrying", "event_id", ev.ID, "attempt", attempt, "error", err)
		jitter := time.Duration(rand.Intn(100)) * time.Millisecond
		time.Sleep(backoff + jitter)
		if backoff < maxBackoff {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}
