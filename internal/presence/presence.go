// Package presence implements the Presence Tracker of spec.md §4.10: an
// in-memory, sharded view of who is online and who is typing, backed by
// the Store only for the durable last-seen snapshot. Single-writer-per-
// shard avoids a global lock on every heartbeat from every connection.
package presence

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/fechatter/messaging-core/internal/model"
	"github.com/fechatter/messaging-core/internal/store"
	"github.com/google/uuid"
)

const shardCount = 32

type shard struct {
	mu    sync.Mutex
	users map[uuid.UUID]*userState
}

type userState struct {
	status       model.PresenceStatus
	lastActivity time.Time
	offlineTimer *time.Timer
}

// Tracker holds sharded presence state plus the set of active typing
// indicators, each with its own expiry.
type Tracker struct {
	store *store.Store

	shards [shardCount]*shard

	offlineDelay time.Duration
	typingTTL    time.Duration

	onPresenceChange func(model.PresenceChanged)
	onTypingChange   func(model.TypingChanged)

	typingMu sync.Mutex
	typing   map[typingKey]time.Time
}

type typingKey struct {
	ChatID uuid.UUID
	UserID uuid.UUID
}

func NewTracker(s *store.Store, offlineDelay, typingTTL time.Duration) *Tracker {
	t := &Tracker{
		store: s, offlineDelay: offlineDelay, typingTTL: typingTTL,
		typing: make(map[typingKey]time.Time),
	}
	for i := range t.shards {
		t.shards[i] = &shard{users: make(map[uuid.UUID]*userState)}
	}
	return t
}

// OnPresenceChange registers the callback used to emit PresenceChanged
// outbox/bus events; main wires this to a writer that persists+publishes.
func (t *Tracker) OnPresenceChange(fn func(model.PresenceChanged)) { t.onPresenceChange = fn }

// OnTypingChange registers the callback used to emit TypingChanged events.
func (t *Tracker) OnTypingChange(fn func(model.TypingChanged)) { t.onTypingChange = fn }

func (t *Tracker) shardFor(userID uuid.UUID) *shard {
	h := fnv.New32a()
	_, _ = h.Write(userID[:])
	return t.shards[h.Sum32()%shardCount]
}

// SetOnline marks userID online immediately and cancels any pending
// offline transition from a prior disconnect within offlineDelay (a
// reconnect inside the grace window never flickers the client's presence
// view — spec.md §4.10).
func (t *Tracker) SetOnline(userID uuid.UUID) {
	s := t.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.users[userID]
	wasOffline := !ok || st.status == model.PresenceOffline
	if ok && st.offlineTimer != nil {
		st.offlineTimer.Stop()
		st.offlineTimer = nil
	}
	if !ok {
		st = &userState{}
		s.users[userID] = st
	}
	st.status = model.PresenceOnline
	st.lastActivity = time.Now()

	if wasOffline && t.onPresenceChange != nil {
		t.onPresenceChange(model.PresenceChanged{UserID: userID, Status: model.PresenceOnline})
	}
}

// SetStatus updates a user's explicit status (away/busy) without touching
// the online/offline transition machinery.
func (t *Tracker) SetStatus(userID uuid.UUID, status model.PresenceStatus) {
	s := t.shardFor(userID)
	s.mu.Lock()
	st, ok := s.users[userID]
	if !ok {
		st = &userState{}
		s.users[userID] = st
	}
	st.status = status
	st.lastActivity = time.Now()
	s.mu.Unlock()

	if t.onPresenceChange != nil {
		t.onPresenceChange(model.PresenceChanged{UserID: userID, Status: status})
	}
}

// Disconnect starts the offline grace period: after offlineDelay with no
// intervening SetOnline, the user flips to offline (spec.md §4.10's
// debounce, default 30s).
func (t *Tracker) Disconnect(userID uuid.UUID) {
	s := t.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.users[userID]
	if !ok {
		return
	}
	if st.offlineTimer != nil {
		st.offlineTimer.Stop()
	}
	st.offlineTimer = time.AfterFunc(t.offlineDelay, func() {
		t.goOffline(userID)
	})
}

func (t *Tracker) goOffline(userID uuid.UUID) {
	s := t.shardFor(userID)
	s.mu.Lock()
	st, ok := s.users[userID]
	if ok {
		st.status = model.PresenceOffline
		st.offlineTimer = nil
	}
	s.mu.Unlock()

	if ok && t.onPresenceChange != nil {
		t.onPresenceChange(model.PresenceChanged{UserID: userID, Status: model.PresenceOffline})
	}
	_ = t.store.TouchLastActive(context.Background(), userID)
}

func (t *Tracker) Status(userID uuid.UUID) model.PresenceStatus {
	s := t.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.users[userID]; ok {
		return st.status
	}
	return model.PresenceOffline
}

// StartTyping records userID as typing in chatID with an expiry window of
// [typingTTL, typingTTL+1s] (spec.md §4.10 edge case), emitting
// TypingChanged(active=true). A repeated StartTyping before expiry just
// extends the window without re-emitting.
func (t *Tracker) StartTyping(chatID, userID uuid.UUID) {
	key := typingKey{ChatID: chatID, UserID: userID}
	expiresAt := time.Now().Add(t.typingTTL)

	t.typingMu.Lock()
	_, already := t.typing[key]
	t.typing[key] = expiresAt
	t.typingMu.Unlock()

	if !already && t.onTypingChange != nil {
		t.onTypingChange(model.TypingChanged{ChatID: chatID, UserID: userID, Active: true, ExpiresAt: expiresAt})
	}
}

// StopTyping clears an explicit stop (e.g. the user sent the message),
// independent of the sweep.
func (t *Tracker) StopTyping(chatID, userID uuid.UUID) {
	key := typingKey{ChatID: chatID, UserID: userID}
	t.typingMu.Lock()
	_, existed := t.typing[key]
	delete(t.typing, key)
	t.typingMu.Unlock()

	if existed && t.onTypingChange != nil {
		t.onTypingChange(model.TypingChanged{ChatID: chatID, UserID: userID, Active: false})
	}
}

// SweepExpiredTyping is run periodically by the worker pool sweeper; it
// clears every typing indicator whose expiry has passed and emits
// TypingChanged(active=false) for each (spec.md §10 supplemented feature —
// the original spec never names the component that retires a typing
// indicator nobody explicitly stopped).
func (t *Tracker) SweepExpiredTyping() {
	now := time.Now()
	var expired []typingKey

	t.typingMu.Lock()
	for k, exp := range t.typing {
		if now.After(exp) {
			expired = append(expired, k)
			delete(t.typing, k)
		}
	}
	t.typingMu.Unlock()

	for _, k := range expired {
		if t.onTypingChange != nil {
			t.onTypingChange(model.TypingChanged{ChatID: k.ChatID, UserID: k.UserID, Active: false})
		}
	}
	if len(expired) > 0 {
		slog.Debug("typing sweep cleared indicators", "count", len(expired))
	}
}
