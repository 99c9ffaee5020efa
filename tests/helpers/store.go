package helpers

import (
	"context"
	"testing"

	"github.com/xiaot623/gogo/agentd/internal/domain"
	store "github.com/xiaot623/gogo/agentd/internal/repository"
)

func NewTestSQLiteStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

// SeedTask creates a workspace rooted at dir, a mock-provider agent and an
// empty task bound to both.
func SeedTask(t *testing.T, s *store.SQLiteStore, dir string) *domain.Task {
	t.Helper()
	ctx := context.Background()

	ws := &domain.Workspace{Name: "test", Directory: dir}
	if err := s.CreateWorkspace(ctx, ws); err != nil {
		t.Fatalf("failed to create workspace: %v", err)
	}
	agent := &domain.Agent{
		Name:  "tester",
		Model: domain.ModelBinding{Provider: domain.ProviderMock, Name: "mock", ContextSize: 32000},
	}
	if err := s.CreateAgent(ctx, agent); err != nil {
		t.Fatalf("failed to create agent: %v", err)
	}
	task := &domain.Task{WorkspaceID: ws.ID, AgentID: agent.ID}
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("failed to create task: %v", err)
	}
	return task
}
