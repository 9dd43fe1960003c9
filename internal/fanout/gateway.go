// Package fanout implements the Fan-out & Stream Gateway of spec.md §4.9:
// per-recipient, per-chat strictly-ordered at-least-once delivery over a
// long-lived connection, with backfill on (re)connect and heartbeats to
// detect dead peers. The wire framing follows the teacher's SSE pattern in
// handlers/chat.go (bufio.Writer + "data: ...\n\n" frames over a fiber
// streaming response), generalized from one-shot chat replies to a
// long-lived multi-chat subscription.
package fanout

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/fechatter/messaging-core/internal/apperrors"
	"github.com/fechatter/messaging-core/internal/eventbus"
	"github.com/fechatter/messaging-core/internal/identitygate"
	"github.com/fechatter/messaging-core/internal/model"
	"github.com/fechatter/messaging-core/internal/store"
	"github.com/google/uuid"
)

// Frame is one unit of the wire protocol a Connection emits: an event
// together with the chat/sequence it belongs to, so a client can persist
// its own last-seen cursor and request backfill after a reconnect.
type Frame struct {
	ChatID         uuid.UUID `json:"chat_id"`
	SequenceNumber int64     `json:"sequence_number,omitempty"`
	EventType      string    `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
}

// Signal carries gateway control events distinct from domain frames:
// ResyncRequired means the client's buffer overflowed and it must
// re-handshake with a fresh last_seen map; AccessRevoked means the
// principal lost membership in a chat mid-stream.
type Signal struct {
	Kind   SignalKind
	ChatID uuid.UUID
}

type SignalKind int

const (
	SignalResyncRequired SignalKind = iota
	SignalAccessRevoked
	SignalHeartbeat
)

// Connection is one client's live subscription across potentially many
// chats. Frames and Signals share Out so a single writer goroutine can
// serialize both onto the wire in arrival order.
type Connection struct {
	Principal identitygate.Principal
	Out       chan any // Frame or Signal
	bufferCap int

	mu     sync.Mutex
	closed bool
	cancel context.CancelFunc
}

func (c *Connection) push(v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.Out <- v:
	default:
		// buffer full: close the connection and drop v, never block the
		// bus reader. SignalResyncRequired is queued only if the reader
		// has freed a slot since the failed send; otherwise Out closes
		// with no signal in it.
		c.closed = true
		select {
		case c.Out <- Signal{Kind: SignalResyncRequired}:
		default:
		}
		close(c.Out)
	}
}

func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.cancel != nil {
		c.cancel()
	}
	close(c.Out)
}

type chatBroadcaster struct {
	mu      sync.RWMutex
	conns   map[*Connection]struct{}
	cancel  context.CancelFunc
}

type Gateway struct {
	store *store.Store
	bus   eventbus.Bus

	heartbeatInterval time.Duration
	idleTimeout       time.Duration
	bufferSize        int

	mu    sync.Mutex
	chats map[uuid.UUID]*chatBroadcaster
}

func NewGateway(s *store.Store, bus eventbus.Bus, heartbeatInterval, idleTimeout time.Duration, bufferSize int) *Gateway {
	return &Gateway{
		store: s, bus: bus,
		heartbeatInterval: heartbeatInterval, idleTimeout: idleTimeout, bufferSize: bufferSize,
		chats: make(map[uuid.UUID]*chatBroadcaster),
	}
}

// HandshakeRequest is what a client sends to open or resume a stream: the
// set of chats it wants and, for each, the last sequence it has already
// seen (0 means "send me a bounded backfill from the start").
type HandshakeRequest struct {
	LastSeen map[uuid.UUID]int64
}

// Connect performs the handshake of spec.md §4.9 step 1: verifies active
// membership in every requested chat, replays backfill from each chat's
// last-seen cursor, then subscribes the connection to live events. The
// returned Connection's Out channel is the caller's read side; callers
// must range over it until it closes and then decide whether to
// reconnect (on SignalResyncRequired) or stop (on SignalAccessRevoked for
// every requested chat).
func (g *Gateway) Connect(ctx context.Context, p identitygate.Principal, req HandshakeRequest) (*Connection, error) {
	connCtx, cancel := context.WithCancel(ctx)
	conn := &Connection{
		Principal: p,
		Out:       make(chan any, g.bufferOrDefault()),
		bufferCap: g.bufferOrDefault(),
		cancel:    cancel,
	}

	for chatID, lastSeen := range req.LastSeen {
		if _, err := g.requireActiveMember(connCtx, p, chatID); err != nil {
			conn.push(Signal{Kind: SignalAccessRevoked, ChatID: chatID})
			continue
		}
		if err := g.backfill(connCtx, conn, chatID, lastSeen); err != nil {
			slog.Error("fanout backfill failed", "chat_id", chatID, "error", err)
			continue
		}
		g.attach(connCtx, conn, chatID)
	}

	go g.heartbeatLoop(connCtx, conn)
	return conn, nil
}

func (g *Gateway) bufferOrDefault() int {
	if g.bufferSize <= 0 {
		return 1024
	}
	return g.bufferSize
}

func (g *Gateway) requireActiveMember(ctx context.Context, p identitygate.Principal, chatID uuid.UUID) (*model.ChatMember, error) {
	member, err := g.store.GetMember(ctx, chatID, p.UserID)
	if err != nil {
		return nil, err
	}
	if !member.Active() {
		return nil, apperrors.New(apperrors.Forbidden, "not an active member")
	}
	return member, nil
}

// backfill sends every message after lastSeen, ascending, so the client's
// view never has a gap between what it already had and what is live
// (spec.md §4.9 invariant: strict per-chat per-recipient ordering).
func (g *Gateway) backfill(ctx context.Context, conn *Connection, chatID uuid.UUID, lastSeen int64) error {
	msgs, err := g.store.GetMessages(ctx, chatID, store.Bound{Kind: store.BoundAfter, N: lastSeen, Limit: 200})
	if err != nil {
		return err
	}
	for _, m := range msgs {
		payload, _ := json.Marshal(model.MessageCreated{
			ChatID: chatID, SequenceNumber: m.SequenceNumber, MessageID: m.ID, SenderID: m.SenderID,
		})
		conn.push(Frame{ChatID: chatID, SequenceNumber: m.SequenceNumber, EventType: model.EventMessageCreated, Payload: payload})
	}
	return nil
}

// attach subscribes conn to chatID's live stream, starting a shared
// per-chat reader goroutine the first time any connection joins that
// chat so N connections to the same busy chat cost one Redis consumer,
// not N.
func (g *Gateway) attach(ctx context.Context, conn *Connection, chatID uuid.UUID) {
	g.mu.Lock()
	b, ok := g.chats[chatID]
	if !ok {
		chatCtx, cancel := context.WithCancel(context.Background())
		b = &chatBroadcaster{conns: make(map[*Connection]struct{}), cancel: cancel}
		g.chats[chatID] = b
		go g.readLoop(chatCtx, chatID, b)
	}
	b.mu.Lock()
	b.conns[conn] = struct{}{}
	b.mu.Unlock()
	g.mu.Unlock()

	go func() {
		<-ctx.Done()
		g.detach(chatID, conn)
	}()
}

func (g *Gateway) detach(chatID uuid.UUID, conn *Connection) {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.chats[chatID]
	if !ok {
		return
	}
	b.mu.Lock()
	delete(b.conns, conn)
	empty := len(b.conns) == 0
	b.mu.Unlock()
	if empty {
		b.cancel()
		delete(g.chats, chatID)
	}
}

func (g *Gateway) readLoop(ctx context.Context, chatID uuid.UUID, b *chatBroadcaster) {
	consumerGroup := "fanout"
	deliveries, err := g.bus.Subscribe(ctx, chatID.String(), consumerGroup, "gateway-"+uuid.NewString(), "")
	if err != nil {
		slog.Error("fanout subscribe failed", "chat_id", chatID, "error", err)
		return
	}
	for d := range deliveries {
		var seq struct {
			SequenceNumber int64 `json:"sequence_number"`
		}
		_ = json.Unmarshal(d.Env.Payload, &seq)
		frame := Frame{ChatID: chatID, SequenceNumber: seq.SequenceNumber, EventType: d.Env.EventType, Payload: json.RawMessage(d.Env.Payload)}
		b.mu.RLock()
		for c := range b.conns {
			c.push(frame)
		}
		b.mu.RUnlock()
		_ = g.bus.Ack(ctx, chatID.String(), consumerGroup, d.ID)
	}
}

// heartbeatLoop sends a Signal every heartbeatInterval so the transport
// layer can detect and close dead connections within idleTimeout
// (spec.md §4.9: heartbeat no less often than every 25s, idle timeout
// 45s by default).
func (g *Gateway) heartbeatLoop(ctx context.Context, conn *Connection) {
	interval := g.heartbeatInterval
	if interval <= 0 {
		interval = 25 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.push(Signal{Kind: SignalHeartbeat})
		}
	}
}
