// Package eventbus implements the Event Bus Adapter of spec.md §4.8: a
// durable, per-chat-ordered channel between the transactional outbox and
// the Fan-out & Stream Gateway. Redis Streams gives ordering within a
// stream key and consumer-group acknowledgment for free, which is why the
// teacher's go-redis dependency becomes this component rather than the
// plain pub/sub the rest of the pack favors — pub/sub has no durability or
// replay, and spec.md §4.9 requires at-least-once fan-out with backfill.
package eventbus

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Envelope is what gets published: the event type discriminator plus its
// JSON-encoded payload, already carrying chat_id/sequence_number so
// consumers can order and dedupe without a second lookup.
type Envelope struct {
	EventType string
	ChatID    string
	Payload   []byte
}

// Bus is the narrow interface the Fan-out Gateway and the outbox publisher
// depend on, so either side can be swapped or mocked independently of
// Redis.
type Bus interface {
	Publish(ctx context.Context, env Envelope) error
	Subscribe(ctx context.Context, chatID, consumerGroup, consumerName string, lastID string) (<-chan Delivery, error)
	Ack(ctx context.Context, chatID, consumerGroup string, deliveryID string) error
}

// Delivery is one message read back off a stream, carrying the stream
// entry id the consumer must Ack.
type Delivery struct {
	ID  string
	Env Envelope
}

const streamMaxLen = 10000

type RedisStreamBus struct {
	client *redis.Client
}

func NewRedisStreamBus(client *redis.Client) *RedisStreamBus {
	return &RedisStreamBus{client: client}
}

func streamKey(chatID string) string {
	return "fechatter:chat:" + chatID
}

// Publish appends env to the chat's stream, capped with an approximate
// MAXLEN trim so long-lived chats don't grow the stream unboundedly —
// backfill beyond that horizon falls back to the Store (spec.md §4.9).
func (b *RedisStreamBus) Publish(ctx context.Context, env Envelope) error {
	_, err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(env.ChatID),
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{
			"event_type": env.EventType,
			"payload":    env.Payload,
		},
	}).Result()
	return err
}

// Subscribe creates consumerGroup on the chat's stream if absent and
// starts delivering from lastID: "" or ">" reads entries not yet delivered
// to the group; "0" first re-reads this consumer's pending (unacked)
// entries and then continues with new ones. Reads block up to 5s so the
// returned channel's consumer can interleave heartbeats.
func (b *RedisStreamBus) Subscribe(ctx context.Context, chatID, consumerGroup, consumerName, lastID string) (<-chan Delivery, error) {
	key := streamKey(chatID)
	if err := b.client.XGroupCreateMkStream(ctx, key, consumerGroup, "0").Err(); err != nil && err != redis.Nil {
		if !isBusyGroupErr(err) {
			return nil, err
		}
	}

	out := make(chan Delivery, 256)
	go func() {
		defer close(out)
		cursor := lastID
		if cursor == "" {
			cursor = ">"
		}
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			res, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
				Group:    consumerGroup,
				Consumer: consumerName,
				Streams:  []string{key, cursor},
				Count:    64,
				Block:    5 * time.Second,
			}).Result()
			if err != nil {
				if err == redis.Nil || ctx.Err() != nil {
					continue
				}
				slog.Error("event bus read failed", "chat_id", chatID, "error", err)
				time.Sleep(time.Second)
				continue
			}

			for _, stream := range res {
				for _, msg := range stream.Messages {
					env := Envelope{ChatID: chatID}
					if v, ok := msg.Values["event_type"].(string); ok {
						env.EventType = v
					}
					if v, ok := msg.Values["payload"].(string); ok {
						env.Payload = []byte(v)
					}
					select {
					case out <- Delivery{ID: msg.ID, Env: env}:
					case <-ctx.Done():
						return
					}
				}
			}
			// ">" only ever returns new entries; after the first read we
			// always want new entries for this consumer, so cursor stays ">".
			cursor = ">"
		}
	}()
	return out, nil
}

func (b *RedisStreamBus) Ack(ctx context.Context, chatID, consumerGroup, deliveryID string) error {
	return b.client.XAck(ctx, streamKey(chatID), consumerGroup, deliveryID).Err()
}

func isBusyGroupErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "BUSYGROUP")
}
