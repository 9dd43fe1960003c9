// Package idempotency implements the Idempotency Filter of spec.md §4.4:
// collapsing duplicate submits keyed by (chat_id, idempotency_key) into
// the single accepted Message. The filter is a thin policy layer over the
// Store, which owns the actual pre-check-then-insert-then-reselect
// mechanics against the unique index — this package is the named
// component boundary the Message Service talks to, so the pipeline step
// in spec.md §4.5 stays an explicit call rather than an implicit Store
// behavior.
package idempotency

import (
	"context"

	"github.com/fechatter/messaging-core/internal/model"
	"github.com/fechatter/messaging-core/internal/store"
)

// MaxKeyBytes is the limit spec.md §4.4 places on idempotency keys.
const MaxKeyBytes = 128

type Filter struct {
	store *store.Store
}

func NewFilter(s *store.Store) *Filter {
	return &Filter{store: s}
}

// Submit either returns the previously accepted message for
// (params.ChatID, *params.IdempotencyKey) or inserts a new one. The bool
// return reports whether the returned message was a replay rather than a
// new row (spec.md invariant 2).
func (f *Filter) Submit(ctx context.Context, params store.InsertMessageParams) (*model.Message, bool, error) {
	if params.IdempotencyKey == nil {
		msg, _, err := f.store.InsertMessage(ctx, params)
		return msg, false, err
	}
	return f.store.InsertMessage(ctx, params)
}
