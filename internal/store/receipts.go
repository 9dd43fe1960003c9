package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/fechatter/messaging-core/internal/apperrors"
	"github.com/fechatter/messaging-core/internal/model"
	"github.com/google/uuid"
)

// MarkRead advances a member's read cursor to upToSequence and recomputes
// the unread-mention counter from mentions still after the new cursor, in
// one transaction with the outbox write (spec.md §4.7). A read cursor
// never moves backwards.
func (s *Store) MarkRead(ctx context.Context, chatID, userID uuid.UUID, upToSequence int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var currentSeq sql.NullInt64
		e := tx.QueryRowContext(ctx, `
			SELECT m.sequence_number FROM chat_members cm
			LEFT JOIN messages m ON m.id = cm.last_read_message_id
			WHERE cm.chat_id = $1 AND cm.user_id = $2 AND cm.left_at IS NULL
			FOR UPDATE OF cm
		`, chatID, userID).Scan(&currentSeq)
		if e != nil {
			return wrapDBErr(e)
		}
		if currentSeq.Valid && upToSequence <= currentSeq.Int64 {
			return nil // cursor never moves backwards
		}

		var msgID uuid.UUID
		if e := tx.QueryRowContext(ctx, `
			SELECT id FROM messages WHERE chat_id = $1 AND sequence_number = $2
		`, chatID, upToSequence).Scan(&msgID); e != nil {
			return wrapDBErr(e)
		}

		now := time.Now()
		var remainingMentions int
		if e := tx.QueryRowContext(ctx, `
			SELECT count(*) FROM message_mentions mm
			JOIN messages msg ON msg.id = mm.message_id
			WHERE msg.chat_id = $1 AND msg.sequence_number > $2 AND mm.mentioned_user_id = $3
		`, chatID, upToSequence, userID).Scan(&remainingMentions); e != nil {
			return wrapDBErr(e)
		}

		if _, e := tx.ExecContext(ctx, `
			UPDATE chat_members SET last_read_message_id = $3, last_read_at = $4, unread_mentions_count = $5
			WHERE chat_id = $1 AND user_id = $2
		`, chatID, userID, msgID, now, remainingMentions); e != nil {
			return wrapDBErr(e)
		}

		if _, e := tx.ExecContext(ctx, `
			INSERT INTO message_receipts (message_id, user_id, read_at)
			VALUES ($1,$2,$3)
			ON CONFLICT (message_id, user_id) DO UPDATE SET read_at = excluded.read_at
		`, msgID, userID, now); e != nil {
			return wrapDBErr(e)
		}

		return writeOutboxTx(ctx, tx, outboxRow{
			AggregateType: "chat_member", AggregateID: userID, ChatID: chatID, SequenceNumber: upToSequence,
			EventType: model.EventReceiptUpdated,
			Payload:   model.ReceiptUpdated{ChatID: chatID, UserID: userID, LastReadSequence: upToSequence},
		})
	})
}

// MarkDelivered records the first delivery of messageID to userID. Unlike
// MarkRead this never revisits unread-mention counters — delivery and
// read are independent facts (spec.md §4.7).
func (s *Store) MarkDelivered(ctx context.Context, messageID, userID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO message_receipts (message_id, user_id, delivered_at)
		VALUES ($1,$2,now())
		ON CONFLICT (message_id, user_id) DO UPDATE
			SET delivered_at = coalesce(message_receipts.delivered_at, excluded.delivered_at)
	`, messageID, userID)
	return wrapDBErr(err)
}

// UnreadCount returns how many messages in chatID sit after the member's
// read cursor and were not sent by the member themself (spec.md §4.7:
// sequence > last_read AND sender != user).
func (s *Store) UnreadCount(ctx context.Context, chatID, userID uuid.UUID) (int64, error) {
	var lastRead sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT m.sequence_number FROM chat_members cm
		LEFT JOIN messages m ON m.id = cm.last_read_message_id
		WHERE cm.chat_id = $1 AND cm.user_id = $2 AND cm.left_at IS NULL
	`, chatID, userID).Scan(&lastRead)
	if err != nil {
		if isNoRows(err) {
			return 0, apperrors.New(apperrors.NotFound, "not a member of this chat")
		}
		return 0, wrapDBErr(err)
	}

	floor := int64(0)
	if lastRead.Valid {
		floor = lastRead.Int64
	}

	var count int64
	err = s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM messages
		WHERE chat_id = $1 AND sequence_number > $2 AND sender_id != $3
	`, chatID, floor, userID).Scan(&count)
	return count, wrapDBErr(err)
}

// UnreadMentionsCount returns the member's running unread-mention counter,
// which MarkRead resets and which InsertMessage increments as it writes
// message_mentions rows for still-unread messages.
func (s *Store) UnreadMentionsCount(ctx context.Context, chatID, userID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT unread_mentions_count FROM chat_members
		WHERE chat_id = $1 AND user_id = $2 AND left_at IS NULL
	`, chatID, userID).Scan(&n)
	if isNoRows(err) {
		return 0, apperrors.New(apperrors.NotFound, "not a member of this chat")
	}
	return n, wrapDBErr(err)
}

// IncrementUnreadMentions adds one to a member's unread-mention counter.
// The message send path does not call it: InsertMessage increments the
// counters of mentioned members inline, inside its own transaction.
func (s *Store) IncrementUnreadMentions(ctx context.Context, chatID, userID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE chat_members SET unread_mentions_count = unread_mentions_count + 1
		WHERE chat_id = $1 AND user_id = $2 AND left_at IS NULL
	`, chatID, userID)
	return wrapDBErr(err)
}
