// Package sequencer allocates per-chat monotonic sequence numbers. It is
// the only serialization point for a given chat (spec.md §4.3): the
// allocation is an UPSERT-and-return against a single row, executed in the
// same transaction as the message insert that consumes it so a reader can
// never observe a gap.
package sequencer

import (
	"context"
	"database/sql"

	"github.com/fechatter/messaging-core/internal/apperrors"
	"github.com/google/uuid"
)

// Allocate returns the next sequence number for chatID, one greater than
// any previously returned value for that chat. tx must be the same
// transaction that will insert the message consuming this number —
// allocating outside that transaction would permit observable gaps
// (spec.md §9).
func Allocate(ctx context.Context, tx *sql.Tx, chatID uuid.UUID) (int64, error) {
	var next int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO chat_sequences (chat_id, last_sequence)
		VALUES ($1, 1)
		ON CONFLICT (chat_id) DO UPDATE
			SET last_sequence = chat_sequences.last_sequence + 1
		RETURNING last_sequence
	`, chatID).Scan(&next)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.Transient)
	}
	return next, nil
}

// Current returns the last allocated sequence number for chatID without
// allocating a new one, or 0 if the chat has never had a message.
func Current(ctx context.Context, tx *sql.Tx, chatID uuid.UUID) (int64, error) {
	var last int64
	err := tx.QueryRowContext(ctx, `SELECT last_sequence FROM chat_sequences WHERE chat_id = $1`, chatID).Scan(&last)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.Transient)
	}
	return last, nil
}
