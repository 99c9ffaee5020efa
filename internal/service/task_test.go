package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/agentd/internal/adapter/llm"
	"github.com/xiaot623/gogo/agentd/internal/config"
	"github.com/xiaot623/gogo/agentd/internal/domain"
	"github.com/xiaot623/gogo/agentd/internal/toolset"
	"github.com/xiaot623/gogo/agentd/policy"
	"github.com/xiaot623/gogo/agentd/tests/helpers"
)

func newTestService(t *testing.T, client *llm.MockClient) (*Service, *domain.Task) {
	t.Helper()
	factory := func(domain.ModelBinding) (llm.Client, error) { return client, nil }
	return newTestServiceWith(t, factory, &config.Config{MaxToolCallsPerTurn: 1, UserLanguage: "en-US"})
}

func newTestServiceWith(t *testing.T, factory llm.Factory, cfg *config.Config) (*Service, *domain.Task) {
	t.Helper()
	ctx := context.Background()
	db := helpers.NewTestSQLiteStore(t)
	task := helpers.SeedTask(t, db, t.TempDir())

	manager := toolset.NewManager(db)
	require.NoError(t, manager.Initialize(ctx))
	engine, err := policy.Load(ctx, "")
	require.NoError(t, err)

	return New(db, manager, nil, factory, engine, cfg), task
}

func drain(t *testing.T, events <-chan domain.Event) []domain.EventName {
	t.Helper()
	var names []domain.EventName
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return names
			}
			if ev.EventName() != domain.EventMessageChunk {
				names = append(names, ev.EventName())
			}
		case <-timeout:
			t.Fatal("run did not finish")
		}
	}
}

func TestContinueTask(t *testing.T) {
	ctx := context.Background()
	svc, task := newTestService(t, llm.NewMockClient(llm.MockResponse{Content: "Hi!"}))

	events, err := svc.ContinueTask(ctx, task.ID, domain.ContinueTaskRequest{Message: &domain.UserInput{Content: "hello"}})
	require.NoError(t, err)
	assert.Equal(t, []domain.EventName{domain.EventMessageStart, domain.EventMessageEnd, domain.EventTaskDone}, drain(t, events))

	saved, err := svc.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, saved.Messages, 2)
	assert.Equal(t, "hello", saved.Messages[0].(*domain.UserMessage).Content)
	assert.False(t, svc.IsRunning(task.ID))
}

func TestContinueTaskErrors(t *testing.T) {
	ctx := context.Background()
	svc, task := newTestService(t, llm.NewMockClient())

	_, err := svc.ContinueTask(ctx, 999, domain.ContinueTaskRequest{})
	assert.ErrorIs(t, err, ErrTaskNotFound)

	_, err = svc.ContinueTask(ctx, task.ID, domain.ContinueTaskRequest{AgentID: 999})
	assert.ErrorIs(t, err, ErrAgentNotFound)

	_, err = svc.ContinueTask(ctx, task.ID, domain.ContinueTaskRequest{Message: &domain.UserInput{Content: "  "}})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.False(t, svc.IsRunning(task.ID), "failed starts release the task")
}

func TestContinueTaskBusyAndStop(t *testing.T) {
	ctx := context.Background()
	hold := make(chan struct{})
	defer close(hold)
	svc, task := newTestService(t, llm.NewMockClient(llm.MockResponse{Content: "thinking...", Hold: hold}))

	events, err := svc.ContinueTask(ctx, task.ID, domain.ContinueTaskRequest{Message: &domain.UserInput{Content: "go"}})
	require.NoError(t, err)
	first := <-events
	assert.Equal(t, domain.EventMessageStart, first.EventName())

	_, err = svc.ContinueTask(ctx, task.ID, domain.ContinueTaskRequest{})
	assert.ErrorIs(t, err, ErrTaskBusy)

	assert.True(t, svc.StopTask(task.ID))
	names := drain(t, events)
	require.NotEmpty(t, names)
	assert.Equal(t, domain.EventTaskInterrupted, names[len(names)-1])
	assert.False(t, svc.StopTask(task.ID))
}

func TestReviewTool(t *testing.T) {
	ctx := context.Background()
	client := llm.NewMockClient(
		llm.MockResponse{ToolCalls: []domain.ToolCall{{ID: "c1", Name: "FileSystem__write_file", Arguments: `{"path":"notes.md","content":"hi"}`}}},
		llm.MockResponse{Content: "Written."},
	)
	svc, task := newTestService(t, client)

	events, err := svc.ContinueTask(ctx, task.ID, domain.ContinueTaskRequest{Message: &domain.UserInput{Content: "write notes"}})
	require.NoError(t, err)
	names := drain(t, events)
	assert.Contains(t, names, domain.EventToolRequirePermission)

	_, err = svc.ReviewTool(ctx, task.ID, domain.ToolReviewRequest{ToolCallID: "c1", Status: domain.ApprovalStatusPending})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = svc.ReviewTool(ctx, task.ID, domain.ToolReviewRequest{ToolCallID: "nope", Status: domain.ApprovalStatusApproved})
	var nf *domain.ToolCallNotFoundError
	assert.True(t, errors.As(err, &nf))

	events, err = svc.ReviewTool(ctx, task.ID, domain.ToolReviewRequest{ToolCallID: "c1", Status: domain.ApprovalStatusApproved})
	require.NoError(t, err)
	assert.Equal(t, []domain.EventName{
		domain.EventMessageReplace, domain.EventToolExecuted,
		domain.EventMessageStart, domain.EventMessageEnd, domain.EventTaskDone,
	}, drain(t, events))

	saved, err := svc.GetTask(ctx, task.ID)
	require.NoError(t, err)
	tm := saved.Messages[2].(*domain.ToolMessage)
	assert.Equal(t, domain.ApprovalStatusApproved, tm.Metadata.UserApproval)
	require.NotNil(t, tm.Result)
	assert.Equal(t, "File written successfully.", *tm.Result)
}

func TestAnswerTool(t *testing.T) {
	ctx := context.Background()
	client := llm.NewMockClient(
		llm.MockResponse{ToolCalls: []domain.ToolCall{{ID: "c1", Name: "UserInteraction__ask_user", Arguments: `{"question":"Which one?"}`}}},
		llm.MockResponse{Content: "Thanks."},
	)
	svc, task := newTestService(t, client)

	events, err := svc.ContinueTask(ctx, task.ID, domain.ContinueTaskRequest{Message: &domain.UserInput{Content: "pick"}})
	require.NoError(t, err)
	assert.Contains(t, drain(t, events), domain.EventToolRequireUserResponse)

	events, err = svc.AnswerTool(ctx, task.ID, domain.ToolAnswerRequest{ToolCallID: "c1", Answer: "the first"})
	require.NoError(t, err)
	assert.Equal(t, []domain.EventName{
		domain.EventMessageReplace, domain.EventMessageStart, domain.EventMessageEnd, domain.EventTaskDone,
	}, drain(t, events))

	_, err = svc.AnswerTool(ctx, task.ID, domain.ToolAnswerRequest{ToolCallID: "c1", Answer: "again"})
	var nf *domain.ToolCallNotFoundError
	assert.True(t, errors.As(err, &nf))
}

func TestCreateTask(t *testing.T) {
	ctx := context.Background()
	svc, seeded := newTestService(t, llm.NewMockClient())

	task, err := svc.CreateTask(ctx, domain.CreateTaskRequest{WorkspaceID: seeded.WorkspaceID, AgentID: seeded.AgentID})
	require.NoError(t, err)
	assert.Equal(t, "New task", task.Title)

	_, err = svc.CreateTask(ctx, domain.CreateTaskRequest{WorkspaceID: 999, AgentID: seeded.AgentID})
	assert.ErrorIs(t, err, ErrWorkspaceNotFound)
	_, err = svc.CreateTask(ctx, domain.CreateTaskRequest{WorkspaceID: seeded.WorkspaceID, AgentID: 999})
	assert.ErrorIs(t, err, ErrAgentNotFound)

	_, err = svc.GetTask(ctx, 999)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestToolsetAdmin(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, llm.NewMockClient())

	assert.Len(t, svc.ListToolsets(), 4)
	require.NoError(t, svc.SetToolsetEnabled(ctx, "OsInteractions", false))
	assert.ErrorIs(t, svc.UpdateTool(ctx, "FileSystem", "write_file", domain.UpdateToolRequest{}), ErrInvalidRequest)

	approve := true
	require.NoError(t, svc.UpdateTool(ctx, "FileSystem", "write_file", domain.UpdateToolRequest{AutoApprove: &approve}))
	assert.ErrorIs(t, svc.SetToolsetEnabled(ctx, "missing", true), toolset.ErrToolsetNotFound)
	require.NoError(t, svc.RefreshToolsets(ctx))

	for _, st := range svc.ListToolsets() {
		if st.InternalKey == "OsInteractions" {
			assert.False(t, st.IsEnabled)
		}
	}
}

func TestShutdownStopsAndPersistsRuns(t *testing.T) {
	ctx := context.Background()
	hold := make(chan struct{})
	defer close(hold)
	svc, task := newTestService(t, llm.NewMockClient(llm.MockResponse{Content: "working on it", Hold: hold}))

	events, err := svc.ContinueTask(ctx, task.ID, domain.ContinueTaskRequest{Message: &domain.UserInput{Content: "refactor"}})
	require.NoError(t, err)
	assert.Equal(t, domain.EventMessageStart, (<-events).EventName())

	stopped := make(chan error, 1)
	go func() {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		stopped <- svc.Shutdown(shutdownCtx)
	}()

	names := drain(t, events)
	require.NotEmpty(t, names)
	assert.Equal(t, domain.EventTaskInterrupted, names[len(names)-1])
	require.NoError(t, <-stopped)
	assert.False(t, svc.IsRunning(task.ID))

	saved, err := svc.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, saved.Messages, 1)
	assert.Equal(t, "refactor", saved.Messages[0].(*domain.UserMessage).Content)
	assert.NotNil(t, saved.LastRunAt)

	_, err = svc.ContinueTask(ctx, task.ID, domain.ContinueTaskRequest{})
	assert.ErrorIs(t, err, ErrServiceClosed)
}

func TestShutdownTimesOut(t *testing.T) {
	ctx := context.Background()
	hold := make(chan struct{})
	defer close(hold)
	svc, task := newTestService(t, llm.NewMockClient(llm.MockResponse{Content: "working", Hold: hold}))

	events, err := svc.ContinueTask(ctx, task.ID, domain.ContinueTaskRequest{Message: &domain.UserInput{Content: "go"}})
	require.NoError(t, err)
	<-events

	// Nobody reads the stream, so the run cannot hand over its last event.
	shutdownCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, svc.Shutdown(shutdownCtx), context.DeadlineExceeded)

	drain(t, events)
	require.NoError(t, svc.Shutdown(ctx))
}

func TestContinueTaskGeneratesTitle(t *testing.T) {
	ctx := context.Background()
	chat := llm.NewMockClient(llm.MockResponse{Content: "Looking."}, llm.MockResponse{Content: "Sure."})
	titles := llm.NewMockClient(llm.MockResponse{Content: "  \"Fix the login bug.\"\nextra words"})
	factory := func(b domain.ModelBinding) (llm.Client, error) {
		if b.Name == "title-model" {
			return titles, nil
		}
		return chat, nil
	}
	cfg := &config.Config{MaxToolCallsPerTurn: 1, UserLanguage: "en-US", TitleGeneration: true, TitleModel: "title-model"}
	svc, task := newTestServiceWith(t, factory, cfg)

	events, err := svc.ContinueTask(ctx, task.ID, domain.ContinueTaskRequest{Message: &domain.UserInput{Content: "login fails with 500"}})
	require.NoError(t, err)
	drain(t, events)
	svc.background.Wait()

	saved, err := svc.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "Fix the login bug", saved.Title)

	reqs := titles.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "title-model", reqs[0].Model.Name)
	assert.Empty(t, reqs[0].Tools)
	require.Len(t, reqs[0].Messages, 2)
	assert.Contains(t, reqs[0].Messages[0].(*domain.SystemMessage).Content, "in en-US")
	assert.Equal(t, "login fails with 500", reqs[0].Messages[1].(*domain.UserMessage).Content)

	// Later messages keep the title.
	events, err = svc.ContinueTask(ctx, task.ID, domain.ContinueTaskRequest{Message: &domain.UserInput{Content: "and the logout?"}})
	require.NoError(t, err)
	drain(t, events)
	svc.background.Wait()
	assert.Len(t, titles.Requests(), 1)
}

func TestTitleFailureIsNotSurfaced(t *testing.T) {
	ctx := context.Background()
	chat := llm.NewMockClient(llm.MockResponse{Content: "Hi!"})
	titles := llm.NewMockClient(llm.MockResponse{Err: errors.New("quota exceeded")})
	factory := func(b domain.ModelBinding) (llm.Client, error) {
		if b.Name == "title-model" {
			return titles, nil
		}
		return chat, nil
	}
	cfg := &config.Config{MaxToolCallsPerTurn: 1, TitleGeneration: true, TitleModel: "title-model"}
	svc, task := newTestServiceWith(t, factory, cfg)

	events, err := svc.ContinueTask(ctx, task.ID, domain.ContinueTaskRequest{Message: &domain.UserInput{Content: "hello"}})
	require.NoError(t, err)
	assert.Equal(t, []domain.EventName{domain.EventMessageStart, domain.EventMessageEnd, domain.EventTaskDone}, drain(t, events))
	svc.background.Wait()

	saved, err := svc.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Empty(t, saved.Title)
}

func TestCleanTitle(t *testing.T) {
	assert.Equal(t, "Fix the login bug", cleanTitle("\"Fix the login bug.\""))
	assert.Equal(t, "修复登录问题", cleanTitle("“修复登录问题。”\n"))
	assert.Empty(t, cleanTitle("   "))
	assert.Len(t, []rune(cleanTitle(strings.Repeat("a", 150))), maxTitleRunes)
}
