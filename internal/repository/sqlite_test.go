package store

import (
	"context"
	"testing"
	"time"

	"github.com/xiaot623/gogo/agentd/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func seedTask(t *testing.T, ctx context.Context, store *SQLiteStore) *domain.Task {
	t.Helper()
	ws := &domain.Workspace{Name: "demo", Directory: "/tmp/demo", Instruction: "Go project"}
	if err := store.CreateWorkspace(ctx, ws); err != nil {
		t.Fatalf("CreateWorkspace failed: %v", err)
	}
	agent := &domain.Agent{
		Name:        "coder",
		Instruction: "You write Go.",
		Model:       domain.ModelBinding{Provider: domain.ProviderOpenAI, Name: "gpt-4o", ContextSize: 64000},
	}
	if err := store.CreateAgent(ctx, agent); err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}
	task := &domain.Task{WorkspaceID: ws.ID, AgentID: agent.ID, Title: "first"}
	if err := store.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	return task
}

func TestSQLiteStoreTaskRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	task := seedTask(t, ctx, store)

	state, err := store.LoadTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("LoadTask failed: %v", err)
	}
	if state == nil || len(state.Messages) != 0 {
		t.Fatalf("unexpected state: %+v", state)
	}
	if state.Usage.MaxTokens != 64000 {
		t.Fatalf("expected max tokens from agent model, got %d", state.Usage.MaxTokens)
	}
	if state.Binding.Workspace.Name != "demo" || state.Binding.Agent.Name != "coder" {
		t.Fatalf("unexpected binding: %+v", state.Binding)
	}

	tool := domain.NewToolMessage(domain.ToolCall{ID: "call_1", Name: "FileSystem__list_directory", Arguments: `{"path":"."}`})
	tool.SetResult("Directory: .")
	tool.Metadata.UserApproval = domain.ApprovalStatusApproved
	snap := domain.TaskSnapshot{
		Messages: domain.History{
			&domain.UserMessage{ID: "u1", Content: "list files"},
			&domain.AssistantMessage{ID: "a1", ToolCalls: []domain.ToolCall{{ID: "call_1", Name: "FileSystem__list_directory"}}},
			tool,
		},
		Usage:     domain.ContextUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15, MaxTokens: 64000},
		LastRunAt: time.Now(),
	}
	if err := store.SaveTask(ctx, task.ID, snap); err != nil {
		t.Fatalf("SaveTask failed: %v", err)
	}

	got, err := store.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if len(got.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got.Messages))
	}
	gotTool, ok := got.Messages[2].(*domain.ToolMessage)
	if !ok {
		t.Fatalf("expected tool message, got %T", got.Messages[2])
	}
	if gotTool.Result == nil || *gotTool.Result != "Directory: ." {
		t.Fatalf("unexpected tool result: %+v", gotTool)
	}
	if gotTool.Metadata.UserApproval != domain.ApprovalStatusApproved {
		t.Fatalf("unexpected approval: %s", gotTool.Metadata.UserApproval)
	}
	if got.Usage.TotalTokens != 15 || got.LastRunAt == nil {
		t.Fatalf("unexpected usage or last run: %+v", got)
	}
}

func TestSQLiteStoreUpdateTaskTitle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	task := seedTask(t, ctx, store)
	if err := store.UpdateTaskTitle(ctx, task.ID, "Fix the login bug"); err != nil {
		t.Fatalf("UpdateTaskTitle failed: %v", err)
	}
	state, err := store.LoadTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("LoadTask failed: %v", err)
	}
	if state.Title != "Fix the login bug" {
		t.Fatalf("unexpected title: %q", state.Title)
	}
	if err := store.UpdateTaskTitle(ctx, 42, "nope"); err == nil {
		t.Fatalf("expected error renaming a missing task")
	}
}

func TestSQLiteStoreMissingTask(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	state, err := store.LoadTask(ctx, 42)
	if err != nil {
		t.Fatalf("LoadTask failed: %v", err)
	}
	if state != nil {
		t.Fatalf("expected nil state, got %+v", state)
	}
	if err := store.SaveTask(ctx, 42, domain.TaskSnapshot{LastRunAt: time.Now()}); err == nil {
		t.Fatalf("expected error saving a missing task")
	}
}

func TestSQLiteStoreSyncToolsetMergesByKey(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	ts := &domain.ToolsetConfig{
		InternalKey: "github",
		Name:        "GitHub",
		Type:        domain.ToolsetTypeMCPLocal,
		Params:      domain.ServerParams{Command: "github-mcp"},
		IsEnabled:   true,
		Source:      domain.SourceFile,
	}
	if err := store.UpsertToolset(ctx, ts); err != nil {
		t.Fatalf("UpsertToolset failed: %v", err)
	}

	_, err := store.SyncToolset(ctx, ts.ID, []domain.ToolSpec{
		{Name: "list_issues", InternalKey: "list_issues"},
		{Name: "create_issue", InternalKey: "create_issue"},
	})
	if err != nil {
		t.Fatalf("SyncToolset failed: %v", err)
	}
	yes := true
	if ok, err := store.UpdateTool(ctx, "github", "list_issues", nil, &yes); err != nil || !ok {
		t.Fatalf("UpdateTool failed: ok=%v err=%v", ok, err)
	}

	tools, err := store.SyncToolset(ctx, ts.ID, []domain.ToolSpec{
		{Name: "list_issues", InternalKey: "list_issues", Description: "List issues"},
		{Name: "close_issue", InternalKey: "close_issue"},
	})
	if err != nil {
		t.Fatalf("second SyncToolset failed: %v", err)
	}
	if len(tools) != 2 {
		t.Fatalf("expected 2 tools, got %+v", tools)
	}
	byKey := map[string]domain.ToolConfig{}
	for _, tool := range tools {
		byKey[tool.InternalKey] = tool
	}
	if _, ok := byKey["create_issue"]; ok {
		t.Fatalf("removed key was kept")
	}
	if kept := byKey["list_issues"]; !kept.AutoApprove || kept.Description != "List issues" {
		t.Fatalf("existing flags lost: %+v", kept)
	}
	if added := byKey["close_issue"]; !added.IsEnabled || added.AutoApprove {
		t.Fatalf("new key should default to enabled, not auto-approved: %+v", added)
	}

	got, err := store.GetToolsetByKey(ctx, "github")
	if err != nil || got == nil {
		t.Fatalf("GetToolsetByKey failed: %v", err)
	}
	if got.Params.Command != "github-mcp" || got.Source != domain.SourceFile || len(got.Tools) != 2 {
		t.Fatalf("unexpected toolset: %+v", got)
	}
}

func TestSQLiteStoreUpsertKeepsEnablement(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	ts := &domain.ToolsetConfig{InternalKey: "docs", Name: "Docs", Type: domain.ToolsetTypeMCPRemote, IsEnabled: true}
	if err := store.UpsertToolset(ctx, ts); err != nil {
		t.Fatalf("UpsertToolset failed: %v", err)
	}
	if ok, err := store.SetToolsetEnabled(ctx, "docs", false); err != nil || !ok {
		t.Fatalf("SetToolsetEnabled failed: ok=%v err=%v", ok, err)
	}

	again := &domain.ToolsetConfig{InternalKey: "docs", Name: "Docs v2", Type: domain.ToolsetTypeMCPRemote, IsEnabled: true}
	if err := store.UpsertToolset(ctx, again); err != nil {
		t.Fatalf("second UpsertToolset failed: %v", err)
	}
	if again.ID != ts.ID || again.IsEnabled {
		t.Fatalf("upsert should keep id and enablement: %+v", again)
	}

	if err := store.DeleteToolset(ctx, "docs"); err != nil {
		t.Fatalf("DeleteToolset failed: %v", err)
	}
	toolsets, err := store.ListToolsets(ctx)
	if err != nil {
		t.Fatalf("ListToolsets failed: %v", err)
	}
	if len(toolsets) != 0 {
		t.Fatalf("expected no toolsets, got %+v", toolsets)
	}
}
