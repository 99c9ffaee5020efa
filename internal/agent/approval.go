package agent

import (
	"context"
	"fmt"

	"github.com/xiaot623/gogo/agentd/internal/domain"
)

// findTool returns the tool message for a call id. Callers hold agent.mu.
func (c *Context) findTool(callID string) *domain.ToolMessage {
	for i := len(c.messages) - 1; i >= 0; i-- {
		if tm, ok := c.messages[i].(*domain.ToolMessage); ok && tm.CallID == callID {
			return tm
		}
	}
	return nil
}

// ApproveToolCall records the user's decision on a call waiting for
// permission. An approved call is executed immediately. Deciding a call
// twice, or a call that never asked for permission, is a no-op.
func (t *Task) ApproveToolCall(ctx context.Context, callID string, approved bool) ([]domain.Event, error) {
	t.agent.mu.Lock()
	tm := t.agent.findTool(callID)
	if tm == nil {
		t.agent.mu.Unlock()
		return nil, &domain.ToolCallNotFoundError{ID: callID}
	}
	if tm.Metadata.UserApproval != domain.ApprovalStatusPending || tm.Finished() {
		t.agent.mu.Unlock()
		return nil, nil
	}
	if !approved {
		tm.Metadata.UserApproval = domain.ApprovalStatusDenied
		tm.SetResult(deniedResult)
		t.agent.mu.Unlock()
		return []domain.Event{
			domain.MessageReplaceEvent{Message: tm},
			domain.ToolDeniedEvent{ToolCallID: tm.CallID},
		}, nil
	}
	tm.Metadata.UserApproval = domain.ApprovalStatusApproved
	t.agent.mu.Unlock()

	var result *string
	if capability, ok := t.agent.Toolsets.Lookup(tm.Name); ok {
		result = t.execute(ctx, tm, capability)
	} else {
		t.agent.mu.Lock()
		tm.SetError(fmt.Sprintf("ToolNotFoundError: tool %s is not available", tm.Name))
		t.agent.mu.Unlock()
	}
	return []domain.Event{
		domain.MessageReplaceEvent{Message: tm},
		domain.ToolExecutedEvent{ToolCallID: tm.CallID, Result: result},
	}, nil
}

// SetToolCallResult answers a call that is waiting for the user, such as
// ask_user or finish_task. Calls waiting for permission go through
// ApproveToolCall instead.
func (t *Task) SetToolCallResult(callID, result string) ([]domain.Event, error) {
	t.agent.mu.Lock()
	defer t.agent.mu.Unlock()
	tm := t.agent.findTool(callID)
	if tm == nil || tm.Finished() || tm.Metadata.UserApproval == domain.ApprovalStatusPending {
		return nil, &domain.ToolCallNotFoundError{ID: callID}
	}
	tm.SetResult(result)
	return []domain.Event{domain.MessageReplaceEvent{Message: tm}}, nil
}

// AppendMessage adds a user turn. Unanswered tool calls at the end of the
// history are marked as ignored first so that every call has an outcome.
func (t *Task) AppendMessage(msg *domain.UserMessage) error {
	if t.Running() {
		return ErrTaskRunning
	}
	if msg.ID == "" {
		msg.ID = domain.NewMessageID()
	}

	t.agent.mu.Lock()
	defer t.agent.mu.Unlock()
	for i := len(t.agent.messages) - 1; i >= 0; i-- {
		tm, ok := t.agent.messages[i].(*domain.ToolMessage)
		if !ok {
			break
		}
		if !tm.Finished() {
			tm.SetResult(ignoredResult)
		}
	}
	t.agent.messages = append(t.agent.messages, msg)
	return nil
}
