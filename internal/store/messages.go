package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/fechatter/messaging-core/internal/apperrors"
	"github.com/fechatter/messaging-core/internal/model"
	"github.com/fechatter/messaging-core/internal/sequencer"
	"github.com/google/uuid"
)

// InsertMessageParams are the inputs to InsertMessage. Mentions must
// already be resolved to active member user ids (invariant 6) — the
// Message Service owns @username/@everyone/@here resolution.
type InsertMessageParams struct {
	ChatID         uuid.UUID
	SenderID       uuid.UUID
	Content        string
	Files          []model.FileRef
	ReplyTo        *uuid.UUID
	IdempotencyKey *string
	Mentions       []model.MessageMention
	Priority       model.MessagePriority
}

// InsertMessage allocates a sequence number and writes the message,
// mentions, and an outbox row in one transaction (spec.md §3 invariant 8,
// §4.2, §4.3). If idempotencyKey collides with an already-accepted
// message, the existing row is returned with duplicate=true and no new
// row is written (spec.md §4.4).
func (s *Store) InsertMessage(ctx context.Context, p InsertMessageParams) (msg *model.Message, duplicate bool, err error) {
	if p.IdempotencyKey != nil {
		if existing, ferr := s.FindMessageByIdempotencyKey(ctx, p.ChatID, *p.IdempotencyKey); ferr == nil {
			return existing, true, nil
		} else if !apperrors.Is(ferr, apperrors.NotFound) {
			return nil, false, ferr
		}
	}

	if p.Priority == "" {
		p.Priority = model.PriorityNormal
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if p.ReplyTo != nil {
			var replyChat uuid.UUID
			if e := tx.QueryRowContext(ctx, `SELECT chat_id FROM messages WHERE id = $1`, *p.ReplyTo).Scan(&replyChat); e != nil {
				if isNoRows(e) {
					return apperrors.New(apperrors.InvalidReference, "reply_to message not found")
				}
				return wrapDBErr(e)
			}
			if replyChat != p.ChatID {
				return apperrors.New(apperrors.InvalidReference, "reply_to must be in the same chat")
			}
		}

		for _, m := range p.Mentions {
			var active bool
			e := tx.QueryRowContext(ctx, `
				SELECT true FROM chat_members
				WHERE chat_id = $1 AND user_id = $2 AND left_at IS NULL
			`, p.ChatID, m.MentionedUserID).Scan(&active)
			if e != nil {
				if isNoRows(e) {
					return apperrors.New(apperrors.InvalidReference, "mentioned user is not an active member")
				}
				return wrapDBErr(e)
			}
		}

		seq, e := sequencer.Allocate(ctx, tx, p.ChatID)
		if e != nil {
			return e
		}

		filesJSON, e := json.Marshal(p.Files)
		if e != nil {
			return apperrors.Wrap(e, apperrors.InvalidArgument)
		}

		id := uuid.New()
		now := time.Now()

		_, e = tx.ExecContext(ctx, `
			INSERT INTO messages
				(id, chat_id, sender_id, content, files, reply_to, idempotency_key,
				 sequence_number, created_at, updated_at, priority, status)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9,$10,'sent')
		`, id, p.ChatID, p.SenderID, p.Content, filesJSON, p.ReplyTo, p.IdempotencyKey, seq, now, p.Priority)
		if e != nil {
			if isUniqueViolation(e) {
				return apperrors.New(apperrors.Conflict, "duplicate idempotency key")
			}
			return wrapDBErr(e)
		}

		mentionedIDs := make([]uuid.UUID, 0, len(p.Mentions))
		for _, m := range p.Mentions {
			if _, e := tx.ExecContext(ctx, `
				INSERT INTO message_mentions (message_id, mentioned_user_id, kind)
				VALUES ($1,$2,$3)
			`, id, m.MentionedUserID, string(m.Kind)); e != nil {
				return wrapDBErr(e)
			}
			if m.Kind == model.MentionUser {
				mentionedIDs = append(mentionedIDs, m.MentionedUserID)
			}
			if m.MentionedUserID != p.SenderID {
				if _, e := tx.ExecContext(ctx, `
					UPDATE chat_members SET unread_mentions_count = unread_mentions_count + 1
					WHERE chat_id = $1 AND user_id = $2 AND left_at IS NULL
				`, p.ChatID, m.MentionedUserID); e != nil {
					return wrapDBErr(e)
				}
			}
		}

		if _, e := tx.ExecContext(ctx, `
			UPDATE chats SET last_message_at = $2 WHERE id = $1
		`, p.ChatID, now); e != nil {
			return wrapDBErr(e)
		}

		recipients, e := activeMemberIDsTx(ctx, tx, p.ChatID)
		if e != nil {
			return e
		}

		if e := writeOutboxTx(ctx, tx, outboxRow{
			AggregateType:  "message",
			AggregateID:    id,
			ChatID:         p.ChatID,
			SequenceNumber: seq,
			EventType:      model.EventMessageCreated,
			Payload: model.MessageCreated{
				ChatID: p.ChatID, SequenceNumber: seq, MessageID: id,
				SenderID: p.SenderID, Recipients: recipients,
			},
		}); e != nil {
			return e
		}

		msg = &model.Message{
			ID: id, ChatID: p.ChatID, SenderID: p.SenderID, Content: p.Content,
			Files: p.Files, ReplyTo: p.ReplyTo, Mentions: mentionedIDs,
			IdempotencyKey: p.IdempotencyKey, SequenceNumber: seq,
			CreatedAt: now, UpdatedAt: now, Priority: p.Priority, Status: model.MessageSent,
		}
		return nil
	})

	if err != nil {
		if apperrors.Is(err, apperrors.Conflict) && p.IdempotencyKey != nil {
			if existing, ferr := s.FindMessageByIdempotencyKey(ctx, p.ChatID, *p.IdempotencyKey); ferr == nil {
				return existing, true, nil
			}
		}
		return nil, false, err
	}
	return msg, false, nil
}

func (s *Store) FindMessageByID(ctx context.Context, messageID uuid.UUID) (*model.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, chat_id, sender_id, content, files, reply_to, idempotency_key,
		       sequence_number, created_at, updated_at, is_edited, edit_count, priority, status, deleted
		FROM messages WHERE id = $1
	`, messageID)
	return scanMessage(row)
}

func (s *Store) FindMessageByIdempotencyKey(ctx context.Context, chatID uuid.UUID, key string) (*model.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, chat_id, sender_id, content, files, reply_to, idempotency_key,
		       sequence_number, created_at, updated_at, is_edited, edit_count, priority, status, deleted
		FROM messages WHERE chat_id = $1 AND idempotency_key = $2
	`, chatID, key)
	return scanMessage(row)
}

// EditMessage updates content if the editor may edit this message
// (permission checks already performed by the caller); sequence_number is
// preserved, edit_count incremented, original content archived
// (spec.md §4.2).
func (s *Store) EditMessage(ctx context.Context, messageID, editorID uuid.UUID, newContent string) (*model.Message, error) {
	var msg *model.Message
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var priorContent string
		var chatID uuid.UUID
		var seq int64
		e := tx.QueryRowContext(ctx, `
			SELECT content, chat_id, sequence_number FROM messages WHERE id = $1 FOR UPDATE
		`, messageID).Scan(&priorContent, &chatID, &seq)
		if e != nil {
			return wrapDBErr(e)
		}

		now := time.Now()
		if _, e := tx.ExecContext(ctx, `
			INSERT INTO message_edit_history (message_id, prior_content, edited_by, edited_at)
			VALUES ($1,$2,$3,$4)
		`, messageID, priorContent, editorID, now); e != nil {
			return wrapDBErr(e)
		}

		if _, e := tx.ExecContext(ctx, `
			UPDATE messages SET content = $2, is_edited = true,
				edit_count = edit_count + 1, updated_at = $3
			WHERE id = $1
		`, messageID, newContent, now); e != nil {
			return wrapDBErr(e)
		}

		if e := writeOutboxTx(ctx, tx, outboxRow{
			AggregateType: "message", AggregateID: messageID, ChatID: chatID, SequenceNumber: seq,
			EventType: model.EventMessageUpdated,
			Payload: model.MessageUpdated{
				ChatID: chatID, SequenceNumber: seq, MessageID: messageID,
				UpdatedFields: []string{"content"},
			},
		}); e != nil {
			return e
		}

		msg = &model.Message{
			ID: messageID, ChatID: chatID, Content: newContent, SequenceNumber: seq,
			UpdatedAt: now, IsEdited: true,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// DeleteMessage logically tombstones the message: content is blanked and
// the deleted flag is set, but the row and its sequence_number survive so
// backfill never shows a hole (spec.md §4.2, testable property 5).
func (s *Store) DeleteMessage(ctx context.Context, messageID, actorID uuid.UUID) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var chatID uuid.UUID
		var seq int64
		e := tx.QueryRowContext(ctx, `
			SELECT chat_id, sequence_number FROM messages WHERE id = $1 FOR UPDATE
		`, messageID).Scan(&chatID, &seq)
		if e != nil {
			return wrapDBErr(e)
		}

		if _, e := tx.ExecContext(ctx, `
			UPDATE messages SET content = '', deleted = true, updated_at = now() WHERE id = $1
		`, messageID); e != nil {
			return wrapDBErr(e)
		}

		return writeOutboxTx(ctx, tx, outboxRow{
			AggregateType: "message", AggregateID: messageID, ChatID: chatID, SequenceNumber: seq,
			EventType: model.EventMessageDeleted,
			Payload:   model.MessageDeleted{ChatID: chatID, SequenceNumber: seq, MessageID: messageID},
		})
	})
}

// Bound selects the window of messages get_messages returns.
type Bound struct {
	Kind  BoundKind
	N     int64
	Limit int
}

type BoundKind int

const (
	BoundBefore BoundKind = iota
	BoundAfter
	BoundAround
)

func clampLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > 200 {
		return 200
	}
	return limit
}

// GetMessages returns messages for chatID within bound, always in
// ascending sequence order (spec.md §4.2).
func (s *Store) GetMessages(ctx context.Context, chatID uuid.UUID, bound Bound) ([]*model.Message, error) {
	limit := clampLimit(bound.Limit)

	var rows *sql.Rows
	var err error
	switch bound.Kind {
	case BoundBefore:
		rows, err = s.db.QueryContext(ctx, `
			SELECT * FROM (
				SELECT id, chat_id, sender_id, content, files, reply_to, idempotency_key,
				       sequence_number, created_at, updated_at, is_edited, edit_count, priority, status, deleted
				FROM messages
				WHERE chat_id = $1 AND sequence_number < $2
				ORDER BY sequence_number DESC LIMIT $3
			) sub ORDER BY sequence_number ASC
		`, chatID, bound.N, limit)
	case BoundAfter:
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, chat_id, sender_id, content, files, reply_to, idempotency_key,
			       sequence_number, created_at, updated_at, is_edited, edit_count, priority, status, deleted
			FROM messages
			WHERE chat_id = $1 AND sequence_number > $2
			ORDER BY sequence_number ASC LIMIT $3
		`, chatID, bound.N, limit)
	case BoundAround:
		half := int64(limit / 2)
		rows, err = s.db.QueryContext(ctx, `
			SELECT * FROM (
				(SELECT id, chat_id, sender_id, content, files, reply_to, idempotency_key,
				        sequence_number, created_at, updated_at, is_edited, edit_count, priority, status, deleted
				 FROM messages WHERE chat_id = $1 AND sequence_number <= $2
				 ORDER BY sequence_number DESC LIMIT $4)
				UNION ALL
				(SELECT id, chat_id, sender_id, content, files, reply_to, idempotency_key,
				        sequence_number, created_at, updated_at, is_edited, edit_count, priority, status, deleted
				 FROM messages WHERE chat_id = $1 AND sequence_number > $2
				 ORDER BY sequence_number ASC LIMIT $3)
			) sub ORDER BY sequence_number ASC
		`, chatID, bound.N, limit-int(half), half)
	}
	if err != nil {
		return nil, wrapDBErr(err)
	}
	defer rows.Close()

	var out []*model.Message
	for rows.Next() {
		m, err := scanMessageRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, wrapDBErr(rows.Err())
}

func activeMemberIDsTx(ctx context.Context, tx *sql.Tx, chatID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT user_id FROM chat_members WHERE chat_id = $1 AND left_at IS NULL
	`, chatID)
	if err != nil {
		return nil, wrapDBErr(err)
	}
	defer rows.Close()
	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, wrapDBErr(err)
		}
		out = append(out, id)
	}
	return out, wrapDBErr(rows.Err())
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (*model.Message, error) {
	return scanMessageRows(row)
}

func scanMessageRows(row scanner) (*model.Message, error) {
	var m model.Message
	var filesJSON []byte
	var replyTo sql.NullString
	var idemKey sql.NullString

	err := row.Scan(
		&m.ID, &m.ChatID, &m.SenderID, &m.Content, &filesJSON, &replyTo, &idemKey,
		&m.SequenceNumber, &m.CreatedAt, &m.UpdatedAt, &m.IsEdited, &m.EditCount,
		&m.Priority, &m.Status, &m.Deleted,
	)
	if err != nil {
		return nil, wrapDBErr(err)
	}

	if replyTo.Valid {
		id, perr := uuid.Parse(replyTo.String)
		if perr == nil {
			m.ReplyTo = &id
		}
	}
	if idemKey.Valid {
		k := idemKey.String
		m.IdempotencyKey = &k
	}
	if len(filesJSON) > 0 {
		_ = json.Unmarshal(filesJSON, &m.Files)
	}
	return &m, nil
}
