package store

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/fechatter/messaging-core/internal/config"
	"github.com/google/uuid"
)

// getTestStore opens a real Postgres-backed Store against
// TEST_DATABASE_URL, applies the schema, and truncates every table before
// the calling test runs. Scenario tests need real transactional and
// locking behavior (serializable isolation, row locks, unique
// constraints), which no mock in this module's dependency set reproduces
// faithfully, so these are integration tests gated the same way as the
// rest of the pack's database-backed suites: skip when the env var isn't
// set, and again under -short.
func getTestStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration tests")
	}

	s, err := Open(config.DatabaseConfig{URL: dbURL, MaxConnections: 10, MaxIdleConns: 5, ConnMaxLifetime: 300})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	for _, table := range []string{
		"outbox", "message_receipts", "message_mentions", "message_edit_history",
		"messages", "chat_sequences", "chat_members", "chats",
		"refresh_credentials", "typing_indicators", "user_presence", "users", "workspaces",
	} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			t.Fatalf("failed to clean table %s: %v", table, err)
		}
	}

	return s
}

// seedWorkspaceAndUsers creates a workspace and one user per name, all in
// that workspace, returning their ids in the same order as names.
func seedWorkspaceAndUsers(t *testing.T, s *Store, names ...string) (workspaceID uuid.UUID, userIDs []uuid.UUID) {
	t.Helper()
	ctx := context.Background()

	ws, err := s.CreateWorkspace(ctx, "ws-"+uuid.NewString(), uuid.New())
	if err != nil {
		t.Fatalf("failed to seed workspace: %v", err)
	}

	for i, name := range names {
		u, err := s.CreateUser(ctx, CreateUserParams{
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
