package domain

// UserInput is a user turn submitted by a client.
type UserInput struct {
	Content string        `json:"content"`
	Parts   []ContentPart `json:"parts,omitempty"`
}

// CreateTaskRequest creates a task bound to a workspace and an agent.
type CreateTaskRequest struct {
	WorkspaceID int64  `json:"workspace_id"`
	AgentID     int64  `json:"agent_id"`
	Title       string `json:"title,omitempty"`
}

// ContinueTaskRequest runs a task, optionally with a new user turn.
// A non-zero AgentID rebinds the task before the run.
type ContinueTaskRequest struct {
	AgentID int64      `json:"agent_id,omitempty"`
	Message *UserInput `json:"message,omitempty"`
}

// ToolAnswerRequest answers a suspended ask_user or finish_task call.
type ToolAnswerRequest struct {
	AgentID    int64  `json:"agent_id,omitempty"`
	ToolCallID string `json:"tool_call_id"`
	Answer     string `json:"answer"`
}

// ToolReviewRequest approves or denies a permission-gated call.
type ToolReviewRequest struct {
	AgentID    int64          `json:"agent_id,omitempty"`
	ToolCallID string         `json:"tool_call_id"`
	Status     ApprovalStatus `json:"status"` // approved or denied
}

// UpdateToolsetRequest toggles a toolset.
type UpdateToolsetRequest struct {
	IsEnabled *bool `json:"is_enabled,omitempty"`
}

// UpdateToolRequest changes the flags of one tool.
type UpdateToolRequest struct {
	IsEnabled   *bool `json:"is_enabled,omitempty"`
	AutoApprove *bool `json:"auto_approve,omitempty"`
}

// StopTaskResponse reports whether a running task was stopped.
type StopTaskResponse struct {
	Stopped bool `json:"stopped"`
}

// WebSocket command types.
const (
	CommandContinue   = "continue"
	CommandToolAnswer = "tool_answer"
	CommandToolReview = "tool_review"
	CommandStop       = "stop"
)

// Command is a client frame on the WebSocket transport.
type Command struct {
	Type       string         `json:"type"`
	AgentID    int64          `json:"agent_id,omitempty"`
	Message    *UserInput     `json:"message,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Answer     string         `json:"answer,omitempty"`
	Status     ApprovalStatus `json:"status,omitempty"`
}

// EventFrame is a server frame on the WebSocket transport.
type EventFrame struct {
	Event EventName `json:"event"`
	Data  any       `json:"data"`
}
