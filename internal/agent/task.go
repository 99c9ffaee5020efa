package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xiaot623/gogo/agentd/internal/adapter/llm"
	"github.com/xiaot623/gogo/agentd/internal/domain"
	"github.com/xiaot623/gogo/agentd/policy"
)

const (
	deniedResult  = "[System Message] User denied this tool call."
	ignoredResult = "[System Message] User ignored this tool call."
)

// DefaultMaxToolCalls is how many tool calls of one model response are kept.
const DefaultMaxToolCalls = 1

// ErrTaskRunning is returned when a task is asked to do something that
// requires it to be idle.
var ErrTaskRunning = errors.New("task is running")

// Policy decides whether a tool call may run without the user.
type Policy interface {
	Decide(ctx context.Context, input policy.Input) domain.PolicyDecision
}

// autoApprovePolicy allows auto-approved tools and asks for the rest.
type autoApprovePolicy struct{}

func (autoApprovePolicy) Decide(_ context.Context, input policy.Input) domain.PolicyDecision {
	if input.AutoApprove {
		return domain.PolicyAllow
	}
	return domain.PolicyRequireApproval
}

// Option configures a Task.
type Option func(*Task)

// WithPolicy sets the approval policy.
func WithPolicy(p Policy) Option {
	return func(t *Task) {
		if p != nil {
			t.policy = p
		}
	}
}

// WithMaxToolCalls sets how many tool calls per model response are kept.
func WithMaxToolCalls(n int) Option {
	return func(t *Task) {
		if n > 0 {
			t.maxToolCalls = n
		}
	}
}

// Task runs the request/response/tool loop of one agent context.
type Task struct {
	agent        *Context
	client       llm.Client
	policy       Policy
	maxToolCalls int
	tracer       trace.Tracer

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewTask creates a task over an agent context and a model client.
func NewTask(agent *Context, client llm.Client, opts ...Option) *Task {
	t := &Task{
		agent:        agent,
		client:       client,
		policy:       autoApprovePolicy{},
		maxToolCalls: DefaultMaxToolCalls,
		tracer:       otel.Tracer("github.com/xiaot623/gogo/agentd/internal/agent"),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Context returns the agent context of the task.
func (t *Task) Context() *Context { return t.agent }

// Running reports whether a run is in progress.
func (t *Task) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Stop interrupts the current run. It is safe to call more than once.
// A stopped task stays stopped.
func (t *Task) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
}

func (t *Task) stopped() bool {
	select {
	case <-t.stopCh:
		return true
	default:
		return false
	}
}

// Run starts the loop and returns its event stream. The stream always ends
// with exactly one DoneEvent or InterruptedEvent, sent after the task has
// been persisted, and is then closed.
func (t *Task) Run(ctx context.Context) <-chan domain.Event {
	events := make(chan domain.Event)

	t.mu.Lock()
	busy := t.running
	t.running = true
	t.mu.Unlock()

	if busy {
		go func() {
			defer close(events)
			if emit(ctx, events, domain.ErrorEvent{Err: ErrTaskRunning}) {
				emit(ctx, events, domain.DoneEvent{})
			}
		}()
		return events
	}

	go t.run(ctx, events)
	return events
}

type turnOutcome int

const (
	turnContinue turnOutcome = iota
	turnDone
	turnInterrupted
)

func (t *Task) run(ctx context.Context, events chan<- domain.Event) {
	defer close(events)

	ctx, span := t.tracer.Start(ctx, "agent.run", trace.WithAttributes(
		attribute.Int64("task.id", t.agent.TaskID),
		attribute.String("model.provider", string(t.agent.Binding.Agent.Model.Provider)),
		attribute.String("model.name", t.agent.Binding.Agent.Model.Name),
	))
	defer span.End()

	var terminal domain.Event = domain.DoneEvent{}
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			slog.Error("task run panicked", "task_id", t.agent.TaskID, "panic", r)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			emit(ctx, events, domain.ErrorEvent{Err: err})
		}
		if err := t.agent.Persist(context.WithoutCancel(ctx)); err != nil {
			slog.Error("failed to persist task", "task_id", t.agent.TaskID, "error", err)
		}
		t.mu.Lock()
		t.running = false
		t.mu.Unlock()
		emit(ctx, events, terminal)
	}()

	for {
		if t.stopped() || ctx.Err() != nil {
			terminal = domain.InterruptedEvent{}
			return
		}
		switch t.turn(ctx, events) {
		case turnDone:
			return
		case turnInterrupted:
			terminal = domain.InterruptedEvent{}
			return
		}
	}
}

type streamResult struct {
	msg *domain.AssistantMessage
	err error
}

// turn performs one model call and dispatches the tool calls it returns.
func (t *Task) turn(ctx context.Context, events chan<- domain.Event) turnOutcome {
	msgID := domain.NewMessageID()
	if !emit(ctx, events, domain.MessageStartEvent{MessageID: msgID}) {
		return turnInterrupted
	}

	req := &llm.Request{
		Model:    t.agent.Binding.Agent.Model,
		Messages: t.agent.requestMessages(),
		Tools:    t.agent.Toolsets.ActiveToolCapabilities(),
	}

	callCtx, span := t.tracer.Start(ctx, "agent.model_call", trace.WithAttributes(
		attribute.Int("request.messages", len(req.Messages)),
		attribute.Int("request.tools", len(req.Tools)),
	))
	defer span.End()
	callCtx, cancel := context.WithCancel(callCtx)
	defer cancel()

	chunks := make(chan domain.Chunk)
	done := make(chan streamResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("model client panicked", "task_id", t.agent.TaskID, "panic", r)
				done <- streamResult{err: fmt.Errorf("model client panic: %v", r)}
			}
		}()
		msg, err := t.client.Stream(callCtx, req, func(c domain.Chunk) error {
			select {
			case chunks <- c:
				return nil
			case <-callCtx.Done():
				return callCtx.Err()
			}
		})
		done <- streamResult{msg: msg, err: err}
	}()

	abort := func() turnOutcome {
		cancel()
		<-done
		return turnInterrupted
	}

	for {
		select {
		case c := <-chunks:
			if c.Type == domain.ChunkUsage && c.Usage != nil {
				t.agent.Usage.Update(*c.Usage)
			}
			if !emit(ctx, events, domain.MessageChunkEvent{Chunk: c}) {
				return abort()
			}
		case <-t.stopCh:
			return abort()
		case <-ctx.Done():
			return abort()
		case r := <-done:
			if r.err != nil {
				if t.stopped() || ctx.Err() != nil {
					return turnInterrupted
				}
				slog.Error("model call failed", "task_id", t.agent.TaskID, "error", r.err)
				span.RecordError(r.err)
				span.SetStatus(codes.Error, r.err.Error())
				emit(ctx, events, domain.ErrorEvent{Err: r.err})
				return turnDone
			}
			return t.finishTurn(ctx, events, msgID, r.msg)
		}
	}
}

func (t *Task) finishTurn(ctx context.Context, events chan<- domain.Event, msgID string, msg *domain.AssistantMessage) turnOutcome {
	msg.ID = msgID
	if len(msg.ToolCalls) > t.maxToolCalls {
		slog.Warn("dropping extra tool calls", "task_id", t.agent.TaskID,
			"received", len(msg.ToolCalls), "kept", t.maxToolCalls)
		msg.ToolCalls = msg.ToolCalls[:t.maxToolCalls]
	}
	if msg.Usage != nil {
		t.agent.Usage.Update(*msg.Usage)
	}

	// The assistant message and its tool messages enter the history together
	// so an interrupted run never persists calls without their messages.
	pending := make([]*domain.ToolMessage, 0, len(msg.ToolCalls))
	batch := make([]domain.Message, 0, len(msg.ToolCalls)+1)
	batch = append(batch, msg)
	for _, call := range msg.ToolCalls {
		tm := domain.NewToolMessage(call)
		pending = append(pending, tm)
		batch = append(batch, tm)
	}
	t.agent.append(batch...)

	if !emit(ctx, events, domain.MessageEndEvent{Message: msg}) {
		return turnInterrupted
	}
	if len(pending) == 0 {
		return turnDone
	}
	for _, tm := range pending {
		if !emit(ctx, events, domain.ToolCallEndEvent{Message: tm}) {
			return turnInterrupted
		}
	}

	for _, tm := range pending {
		ev, suspend := t.dispatch(ctx, tm)
		if !emit(ctx, events, ev) {
			return turnInterrupted
		}
		if suspend {
			return turnDone
		}
	}
	return turnContinue
}

// dispatch routes one tool call through the approval gate. It returns the
// event to emit and whether the run must suspend.
func (t *Task) dispatch(ctx context.Context, tm *domain.ToolMessage) (domain.Event, bool) {
	capability, ok := t.agent.Toolsets.Lookup(tm.Name)
	if !ok {
		t.agent.mu.Lock()
		tm.SetError(fmt.Sprintf("ToolNotFoundError: tool %s is not available", tm.Name))
		t.agent.mu.Unlock()
		return domain.ToolExecutedEvent{ToolCallID: tm.CallID}, false
	}
	if capability.RequiresUserResponse {
		return domain.ToolRequireUserResponseEvent{ToolCallID: tm.CallID, ToolName: capability.ToolName}, true
	}

	decision := t.policy.Decide(ctx, policy.NewInput(capability, tm.Arguments))
	if decision == domain.PolicyRequireApproval && capability.AutoApprove {
		decision = domain.PolicyAllow
	}
	switch decision {
	case domain.PolicyAllow:
		result := t.execute(ctx, tm, capability)
		return domain.ToolExecutedEvent{ToolCallID: tm.CallID, Result: result}, false
	case domain.PolicyBlock:
		t.agent.mu.Lock()
		tm.Metadata.UserApproval = domain.ApprovalStatusDenied
		tm.SetResult(deniedResult)
		t.agent.mu.Unlock()
		return domain.ToolDeniedEvent{ToolCallID: tm.CallID}, false
	default:
		t.agent.mu.Lock()
		tm.Metadata.UserApproval = domain.ApprovalStatusPending
		t.agent.mu.Unlock()
		return domain.ToolRequirePermissionEvent{ToolCallID: tm.CallID}, true
	}
}

// execute runs a tool and records its outcome on tm. It returns the result,
// or nil when the tool failed. Tools are not cancelled mid-flight.
func (t *Task) execute(ctx context.Context, tm *domain.ToolMessage, capability domain.ToolCapability) (result *string) {
	ctx, span := t.tracer.Start(context.WithoutCancel(ctx), "agent.tool_call", trace.WithAttributes(
		attribute.String("tool.name", capability.Name),
		attribute.String("tool.call_id", tm.CallID),
	))
	defer span.End()

	record := func(out string, err error) {
		t.agent.mu.Lock()
		defer t.agent.mu.Unlock()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			tm.SetError(formatToolError(err))
			result = nil
			return
		}
		tm.SetResult(out)
		result = tm.Result
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("tool panicked", "tool", capability.Name, "panic", r)
			record("", &panicError{value: r})
		}
	}()

	out, err := t.agent.Toolsets.Execute(ctx, capability, t.agent.env(), tm.Arguments)
	record(out, err)
	return result
}

type panicError struct{ value any }

func (e *panicError) Error() string { return fmt.Sprint(e.value) }

// formatToolError renders err as "<Kind>: <message>". The kind is the name
// of the first named error type in the chain.
func formatToolError(err error) string {
	var p *panicError
	if errors.As(err, &p) {
		return "Panic: " + p.Error()
	}
	return errorKind(err) + ": " + err.Error()
}

func errorKind(err error) string {
	for e := err; e != nil; e = errors.Unwrap(e) {
		name := reflect.TypeOf(e).String()
		name = strings.TrimLeft(name, "*")
		if i := strings.LastIndex(name, "."); i >= 0 {
			name = name[i+1:]
		}
		switch name {
		case "errorString", "wrapError", "wrapErrors", "joinError":
			continue
		}
		return name
	}
	return "Error"
}

// emit sends ev unless ctx ends first.
func emit(ctx context.Context, events chan<- domain.Event, ev domain.Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
