package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/fechatter/messaging-core/internal/apperrors"
	"github.com/fechatter/messaging-core/internal/model"
	"github.com/google/uuid"
)

type outboxRow struct {
	AggregateType  string
	AggregateID    uuid.UUID
	ChatID         uuid.UUID
	SequenceNumber int64
	EventType      string
	Payload        any
}

func writeOutboxTx(ctx context.Context, tx *sql.Tx, row outboxRow) error {
	payload, err := json.Marshal(row.Payload)
	if err != nil {
		return apperrors.Wrap(err, apperrors.Fatal)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO outbox (aggregate_type, aggregate_id, chat_id, sequence_number, event_type, payload)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, row.AggregateType, row.AggregateID, row.ChatID, row.SequenceNumber, row.EventType, payload)
	if err != nil {
		return wrapDBErr(err)
	}
	return nil
}

// WriteOutboxEvent writes a standalone outbox row in its own transaction,
// for events that are not attached to any store mutation (TypingChanged,
// PresenceChanged). ChatMemberChanged and ReceiptUpdated rows are written
// by writeOutboxTx inside their mutations' own transactions.
func (s *Store) WriteOutboxEvent(ctx context.Context, aggregateType string, aggregateID, chatID uuid.UUID, seq int64, eventType string, payload any) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return writeOutboxTx(ctx, tx, outboxRow{
			AggregateType: aggregateType, AggregateID: aggregateID, ChatID: chatID,
			SequenceNumber: seq, EventType: eventType, Payload: payload,
		})
	})
}

// PendingOutboxEvents returns up to limit unpublished outbox rows ordered
// by (chat_id, sequence_number) as spec.md §4.8 requires, oldest first by
// created_at (then id) as a tiebreak for non-sequenced events.
func (s *Store) PendingOutboxEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, aggregate_type, aggregate_id, chat_id, sequence_number, event_type, payload, created_at, published_at
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY chat_id, sequence_number, created_at, id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, wrapDBErr(err)
	}
	defer rows.Close()

	var out []*model.OutboxEvent
	for rows.Next() {
		ev := &model.OutboxEvent{}
		var published sql.NullTime
		if err := rows.Scan(&ev.ID, &ev.AggregateType, &ev.AggregateID, &ev.ChatID,
			&ev.SequenceNumber, &ev.EventType, &ev.Payload, &ev.CreatedAt, &published); err != nil {
			return nil, wrapDBErr(err)
		}
		if published.Valid {
			ev.PublishedAt = &published.Time
		}
		out = append(out, ev)
	}
	return out, wrapDBErr(rows.Err())
}

// MarkOutboxPublished marks a row published after a successful bus publish.
func (s *Store) MarkOutboxPublished(ctx context.Context, id uuid.UUID) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `UPDATE outbox SET published_at = $2 WHERE id = $1`, id, now)
	return wrapDBErr(err)
}

// OldestUnpublishedAge reports how long the oldest unpublished outbox row
// has been waiting, for the health endpoint's publisher-lag metric.
func (s *Store) OldestUnpublishedAge(ctx context.Context) (time.Duration, error) {
	var createdAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT created_at FROM outbox WHERE published_at IS NULL ORDER BY created_at ASC LIMIT 1
	`).Scan(&createdAt)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, wrapDBErr(err)
	}
	return time.Since(createdAt.Time), nil
}
