package receipts

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/fechatter/messaging-core/internal/config"
	"github.com/fechatter/messaging-core/internal/store"
	"github.com/google/uuid"
)

// getTestStore opens a real Postgres-backed Store against
// TEST_DATABASE_URL, the same gate used across this module's scenario
// tests (see internal/store/testdb_test.go) — read/receipt bookkeeping
// depends on real row locks and transactional counters that a mock
// cannot reproduce faithfully.
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
