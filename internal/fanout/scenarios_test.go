package fanout

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/fechatter/messaging-core/internal/config"
	"github.com/fechatter/messaging-core/internal/eventbus"
	"github.com/fechatter/messaging-core/internal/identitygate"
	"github.com/fechatter/messaging-core/internal/model"
	"github.com/fechatter/messaging-core/internal/store"
	"github.com/google/uuid"
)

// noopBus satisfies eventbus.Bus without touching Redis: Subscribe's
// channel never emits, so tests built on it exercise backfill in
// isolation from live delivery.
type noopBus struct{}

func (noopBus) Publish(ctx context.Context, env eventbus.Envelope) error { return nil }

func (noopBus) Subscribe(ctx context.Context, chatID, consumerGroup, consumerName, lastID string) (<-chan eventbus.Delivery, error) {
	out := make(chan eventbus.Delivery)
	go func() {
		<-ctx.Done()
		close(out)
	}()
	return out, nil
}

func (noopBus) Ack(ctx context.Context, chatID, consumerGroup, deliveryID string) error { return nil }

func getTestStore(t *testing.T) *store.Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration tests")
	}

	s, err := store.Open(config.DatabaseConfig{URL: dbURL, MaxConnections: 10, MaxIdleConns: 5, ConnMaxLifetime: 300})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return s
}

func seedWorkspaceAndUsers(t *testing.T, s *store.Store, names ...string) (workspaceID uuid.UUID, userIDs []uuid.UUID) {
	t.Helper()
	ctx := context.Background()

	ws, err := s.CreateWorkspace(ctx, "ws-"+uuid.NewString(), uuid.New())
	if err != nil {
		t.Fatalf("failed to seed workspace: %v", err)
	}

	for i, name := range names {
		u, err := s.CreateUser(ctx, store.CreateUserParams{
			WorkspaceID:  ws.ID,
			FullName:     name,
			Email:        fmt.Sprintf("%s-%d-%s@example.test", name, i, uuid.NewString()),
			PasswordHash: "x",
			Username:     fmt.Sprintf("%s_%s", name, uuid.NewString()[:8]),
		})
		if err != nil {
			t.Fatalf("failed to seed user %s: %v", name, err)
		}
		userIDs = append(userIDs, u.ID)
	}
	return ws.ID, userIDs
}

// TestS3ReconnectBackfill is spec.md §8 worked example S3: a client that
// reconnects with last_seen below the chat's current sequence must
// receive every message after that cursor, in ascending order, as
// backfill before anything live.
func TestS3ReconnectBackfill(t *testing.T) {
	s := getTestStore(t)
	ctx := context.Background()

	workspaceID, users := seedWorkspaceAndUsers(t, s, "d", "sender")
	d, sender := users[0], users[1]

	chat, err := s.CreateChat(ctx, store.CreateChatParams{
		WorkspaceID: workspaceID, Type: model.ChatGroup, CreatedBy: sender, Members: []uuid.UUID{d},
	})
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}

	const disconnectAt = 42
	const committedWhileOffline = 47
	for i := 1; i <= committedWhileOffline; i++ {
		if _, _, err := s.InsertMessage(ctx, store.InsertMessageParams{
			ChatID: chat.ID, SenderID: sender, Content: "msg",
		}); err != nil {
			t.Fatalf("InsertMessage %d: %v", i, err)
		}
	}

	gw := NewGateway(s, noopBus{}, 25*time.Second, 45*time.Second, 1024)
	conn, err := gw.Connect(ctx, identitygate.Principal{UserID: d, WorkspaceID: workspaceID}, HandshakeRequest{
		LastSeen: map[uuid.UUID]int64{chat.ID: disconnectAt},
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	var gotSeqs []int64
	for len(gotSeqs) < committedWhileOffline-disconnectAt {
		select {
		case v, ok := <-conn.Out:
			if !ok {
				t.Fatal("connection closed before all backfill frames arrived")
			}
			frame, ok := v.(Frame)
			if !ok {
				continue // heartbeat/signal, ignore for this assertion
			}
			gotSeqs = append(gotSeqs, frame.SequenceNumber)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for backfill, got %d of %d frames", len(gotSeqs), committedWhileOffline-disconnectAt)
		}
	}

	for idx, seq := range gotSeqs {
		want := int64(disconnectAt + 1 + idx)
		if seq != want {
			t.Fatalf("backfill frame %d: got sequence_number %d, want %d (out of order or gap)", idx, seq, want)
		}
	}
}
