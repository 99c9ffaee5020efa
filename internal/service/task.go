package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xiaot623/gogo/agentd/internal/agent"
	"github.com/xiaot623/gogo/agentd/internal/domain"
)

const defaultTaskTitle = "New task"

// CreateWorkspace stores a workspace.
func (s *Service) CreateWorkspace(ctx context.Context, ws *domain.Workspace) error {
	if strings.TrimSpace(ws.Directory) == "" {
		return fmt.Errorf("%w: directory is required", ErrInvalidRequest)
	}
	if ws.Name == "" {
		ws.Name = ws.Directory
	}
	if err := s.store.CreateWorkspace(ctx, ws); err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}
	return nil
}

// CreateAgent stores an agent.
func (s *Service) CreateAgent(ctx context.Context, a *domain.Agent) error {
	if a.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRequest)
	}
	if a.Model.ContextSize <= 0 {
		return fmt.Errorf("%w: model context_size must be positive", ErrInvalidRequest)
	}
	if err := s.store.CreateAgent(ctx, a); err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}
	return nil
}

// CreateTask creates an empty task bound to a workspace and an agent.
func (s *Service) CreateTask(ctx context.Context, req domain.CreateTaskRequest) (*domain.Task, error) {
	ws, err := s.store.GetWorkspace(ctx, req.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get workspace: %w", err)
	}
	if ws == nil {
		return nil, ErrWorkspaceNotFound
	}
	if err := s.ensureAgent(ctx, req.AgentID); err != nil {
		return nil, err
	}

	title := req.Title
	if title == "" {
		title = defaultTaskTitle
	}
	task := &domain.Task{Title: title, WorkspaceID: ws.ID, AgentID: req.AgentID}
	if err := s.store.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	return task, nil
}

// GetTask returns a stored task.
func (s *Service) GetTask(ctx context.Context, id int64) (*domain.Task, error) {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get task %d: %w", id, err)
	}
	if task == nil {
		return nil, ErrTaskNotFound
	}
	return task, nil
}

func (s *Service) ensureAgent(ctx context.Context, id int64) error {
	a, err := s.store.GetAgent(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get agent: %w", err)
	}
	if a == nil {
		return ErrAgentNotFound
	}
	return nil
}

// ContinueTask runs a task, appending the user message first when one is
// given. The first user message of a task also starts a title generation.
func (s *Service) ContinueTask(ctx context.Context, taskID int64, req domain.ContinueTaskRequest) (<-chan domain.Event, error) {
	var (
		first *domain.UserMessage
		model domain.ModelBinding
	)
	events, err := s.start(ctx, taskID, req.AgentID, func(t *agent.Task) ([]domain.Event, error) {
		if req.Message == nil {
			return nil, nil
		}
		if strings.TrimSpace(req.Message.Content) == "" && len(req.Message.Parts) == 0 {
			return nil, fmt.Errorf("%w: message content is required", ErrInvalidRequest)
		}
		isFirst := !hasUserMessage(t.Context().Messages())
		msg := &domain.UserMessage{Content: req.Message.Content, Parts: req.Message.Parts}
		if err := t.AppendMessage(msg); err != nil {
			return nil, err
		}
		if isFirst {
			first = msg
			model = t.Context().Binding.Agent.Model
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	if first != nil {
		s.generateTitle(taskID, model, first)
	}
	return events, nil
}

func hasUserMessage(h domain.History) bool {
	for _, m := range h {
		if _, ok := m.(*domain.UserMessage); ok {
			return true
		}
	}
	return false
}

// AnswerTool answers a suspended ask_user or finish_task call and resumes
// the task.
func (s *Service) AnswerTool(ctx context.Context, taskID int64, req domain.ToolAnswerRequest) (<-chan domain.Event, error) {
	if req.ToolCallID == "" {
		return nil, fmt.Errorf("%w: tool_call_id is required", ErrInvalidRequest)
	}
	return s.start(ctx, taskID, req.AgentID, func(t *agent.Task) ([]domain.Event, error) {
		return t.SetToolCallResult(req.ToolCallID, req.Answer)
	})
}

// ReviewTool records the user's decision on a permission-gated call and
// resumes the task.
func (s *Service) ReviewTool(ctx context.Context, taskID int64, req domain.ToolReviewRequest) (<-chan domain.Event, error) {
	if req.ToolCallID == "" {
		return nil, fmt.Errorf("%w: tool_call_id is required", ErrInvalidRequest)
	}
	if !req.Status.Decided() {
		return nil, fmt.Errorf("%w: status must be approved or denied", ErrInvalidRequest)
	}
	return s.start(ctx, taskID, req.AgentID, func(t *agent.Task) ([]domain.Event, error) {
		return t.ApproveToolCall(ctx, req.ToolCallID, req.Status == domain.ApprovalStatusApproved)
	})
}

// StopTask stops a running task. It reports whether one was running.
func (s *Service) StopTask(taskID int64) bool {
	s.mu.Lock()
	task := s.running[taskID]
	s.mu.Unlock()
	if task == nil {
		return false
	}
	task.Stop()
	return true
}

// IsRunning reports whether a task has a run in progress.
func (s *Service) IsRunning(taskID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[taskID]
	return ok
}

// start loads a task, applies prepare to it and runs it. Events returned by
// prepare are sent ahead of the run's events. Only one run per task may be
// in progress.
func (s *Service) start(ctx context.Context, taskID, agentID int64, prepare func(*agent.Task) ([]domain.Event, error)) (<-chan domain.Event, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrServiceClosed
	}
	if _, busy := s.running[taskID]; busy {
		s.mu.Unlock()
		return nil, ErrTaskBusy
	}
	// Reserve the slot while the task loads.
	s.running[taskID] = nil
	s.runs.Add(1)
	s.mu.Unlock()

	task, pre, err := s.load(ctx, taskID, agentID, prepare)
	if err != nil {
		s.release(taskID, nil)
		return nil, err
	}

	s.mu.Lock()
	s.running[taskID] = task
	closed := s.closed
	s.mu.Unlock()
	// Shutdown began while loading. The run still persists what prepare did.
	if closed {
		task.Stop()
	}

	slog.Info("task run started", "task_id", taskID)
	events := task.Run(ctx)
	out := make(chan domain.Event)
	go func() {
		defer close(out)
		defer s.release(taskID, task)
		for _, ev := range pre {
			if !forward(ctx, out, ev) {
				break
			}
		}
		for ev := range events {
			forward(ctx, out, ev)
		}
		slog.Info("task run finished", "task_id", taskID)
	}()
	return out, nil
}

func (s *Service) load(ctx context.Context, taskID, agentID int64, prepare func(*agent.Task) ([]domain.Event, error)) (*agent.Task, []domain.Event, error) {
	if agentID != 0 {
		if err := s.ensureAgent(ctx, agentID); err != nil {
			return nil, nil, err
		}
		if err := s.store.UpdateTaskAgent(ctx, taskID, agentID); err != nil {
			return nil, nil, fmt.Errorf("failed to rebind task %d: %w", taskID, err)
		}
	}

	state, err := s.store.LoadTask(ctx, taskID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load task %d: %w", taskID, err)
	}
	if state == nil {
		return nil, nil, ErrTaskNotFound
	}

	client, err := s.newClient(state.Binding.Agent.Model)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create model client: %w", err)
	}
	agentCtx, err := agent.NewContext(state, s.toolsets, s.store, s.config.UserLanguage)
	if err != nil {
		return nil, nil, err
	}
	task := agent.NewTask(agentCtx, client,
		agent.WithPolicy(s.policy),
		agent.WithMaxToolCalls(s.config.MaxToolCallsPerTurn),
	)

	pre, err := prepare(task)
	if err != nil {
		return nil, nil, err
	}
	return task, pre, nil
}

func (s *Service) release(taskID int64, task *agent.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.running[taskID]; ok && current == task {
		delete(s.running, taskID)
	}
	s.runs.Done()
}

// forward sends ev unless ctx ends first. The run itself watches the same
// context, so the source channel is still drained to its end.
func forward(ctx context.Context, out chan<- domain.Event, ev domain.Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
