package domain

import "time"

// ReservedOutputTokens is kept free for the model's next response.
const ReservedOutputTokens = 4096

// ContextUsage tracks consumed and available tokens of a task.
type ContextUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
	MaxTokens    int `json:"max_tokens"`
}

// RemainingTokens returns the budget left after the reserved output and a
// ten percent safety margin. It may be negative.
func (u ContextUsage) RemainingTokens() int {
	safetyMargin := int(float64(u.MaxTokens) * 0.1)
	return u.MaxTokens - u.TotalTokens - ReservedOutputTokens - safetyMargin
}

// SetUsage replaces the counters with the values of a usage report.
func (u *ContextUsage) SetUsage(usage Usage) {
	u.InputTokens = usage.InputTokens
	u.OutputTokens = usage.OutputTokens
	u.TotalTokens = usage.TotalTokens
}

// Workspace is the directory an agent works in.
type Workspace struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Directory   string    `json:"directory"`
	Instruction string    `json:"instruction"`
	CreatedAt   time.Time `json:"created_at"`
}

// ModelBinding selects the provider and model used by an agent.
type ModelBinding struct {
	Provider    ProviderType `json:"provider"`
	BaseURL     string       `json:"base_url,omitempty"`
	APIKey      string       `json:"-"`
	Name        string       `json:"name"`
	ContextSize int          `json:"context_size"`
}

// Agent is a persona with its own instruction and model.
type Agent struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	Instruction string       `json:"instruction"`
	Model       ModelBinding `json:"model"`
	CreatedAt   time.Time    `json:"created_at"`
}

// AgentBinding is everything a task needs besides its history.
type AgentBinding struct {
	Workspace Workspace `json:"workspace"`
	Agent     Agent     `json:"agent"`
}

// Task is one persisted conversation thread.
type Task struct {
	ID          int64        `json:"id"`
	Title       string       `json:"title"`
	WorkspaceID int64        `json:"workspace_id"`
	AgentID     int64        `json:"agent_id"`
	Messages    History      `json:"messages"`
	Usage       ContextUsage `json:"usage"`
	LastRunAt   *time.Time   `json:"last_run_at,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// TaskState is what the orchestrator loads for one run.
type TaskState struct {
	TaskID   int64
	Title    string
	Messages History
	Usage    ContextUsage
	Binding  AgentBinding
}

// TaskSnapshot is what the orchestrator saves at the end of a run.
type TaskSnapshot struct {
	Messages  History
	Usage     ContextUsage
	LastRunAt time.Time
}
