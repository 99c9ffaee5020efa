package domain

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Message is one entry of a task's conversation history.
// Implementations are *SystemMessage, *UserMessage, *AssistantMessage and *ToolMessage.
type Message interface {
	MessageID() string
	MessageRole() Role
	isMessage()
}

// NewMessageID returns a fresh message identifier.
func NewMessageID() string {
	return uuid.NewString()
}

// SystemMessage carries static instruction text.
type SystemMessage struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// ContentPart is a structured piece of user content.
type ContentPart struct {
	Type      string `json:"type"` // text, image_url
	Text      string `json:"text,omitempty"`
	URL       string `json:"url,omitempty"`
	MediaType string `json:"media_type,omitempty"`
}

// UserMessage carries user-authored content.
type UserMessage struct {
	ID      string        `json:"id"`
	Content string        `json:"content"`
	Parts   []ContentPart `json:"parts,omitempty"`
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Usage holds the token counters reported by a model response.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// AssistantMessage carries model output.
type AssistantMessage struct {
	ID               string     `json:"id"`
	Content          string     `json:"content"`
	ReasoningContent string     `json:"reasoning_content,omitempty"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`
	Usage            *Usage     `json:"usage,omitempty"`
}

// ToolMetadata is the per-call bag attached to a tool message.
type ToolMetadata struct {
	UserApproval ApprovalStatus `json:"user_approval,omitempty"`
}

// ToolMessage records one tool invocation and its outcome.
// A finished message has exactly one of Result and Error set.
type ToolMessage struct {
	ID        string       `json:"id"`
	CallID    string       `json:"call_id"`
	Name      string       `json:"name"`
	Arguments string       `json:"arguments"`
	Result    *string      `json:"result,omitempty"`
	Error     *string      `json:"error,omitempty"`
	Metadata  ToolMetadata `json:"metadata"`
}

// NewToolMessage creates the pending tool message for a tool call.
func NewToolMessage(call ToolCall) *ToolMessage {
	return &ToolMessage{
		ID:        call.ID,
		CallID:    call.ID,
		Name:      call.Name,
		Arguments: call.Arguments,
	}
}

// Finished reports whether the call has a result or an error.
func (m *ToolMessage) Finished() bool {
	return m.Result != nil || m.Error != nil
}

// SetResult records a successful outcome.
func (m *ToolMessage) SetResult(result string) {
	m.Result = &result
	m.Error = nil
}

// SetError records a failed outcome.
func (m *ToolMessage) SetError(msg string) {
	m.Error = &msg
	m.Result = nil
}

func (m *SystemMessage) MessageID() string    { return m.ID }
func (m *UserMessage) MessageID() string      { return m.ID }
func (m *AssistantMessage) MessageID() string { return m.ID }
func (m *ToolMessage) MessageID() string      { return m.ID }

func (m *SystemMessage) MessageRole() Role    { return RoleSystem }
func (m *UserMessage) MessageRole() Role      { return RoleUser }
func (m *AssistantMessage) MessageRole() Role { return RoleAssistant }
func (m *ToolMessage) MessageRole() Role      { return RoleTool }

func (*SystemMessage) isMessage()    {}
func (*UserMessage) isMessage()      {}
func (*AssistantMessage) isMessage() {}
func (*ToolMessage) isMessage()      {}

// History is an ordered message list that round-trips through JSON
// with a role discriminator.
type History []Message

type messageEnvelope struct {
	Role Role            `json:"role"`
	Data json.RawMessage `json:"data"`
}

// MarshalJSON encodes each message together with its role.
func (h History) MarshalJSON() ([]byte, error) {
	out := make([]messageEnvelope, 0, len(h))
	for _, m := range h {
		data, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s message: %w", m.MessageRole(), err)
		}
		out = append(out, messageEnvelope{Role: m.MessageRole(), Data: data})
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes messages written by MarshalJSON.
func (h *History) UnmarshalJSON(data []byte) error {
	var envelopes []messageEnvelope
	if err := json.Unmarshal(data, &envelopes); err != nil {
		return err
	}
	messages := make(History, 0, len(envelopes))
	for i, env := range envelopes {
		var m Message
		switch env.Role {
		case RoleSystem:
			m = &SystemMessage{}
		case RoleUser:
			m = &UserMessage{}
		case RoleAssistant:
			m = &AssistantMessage{}
		case RoleTool:
			m = &ToolMessage{}
		default:
			return fmt.Errorf("message %d: unknown role %q", i, env.Role)
		}
		if err := json.Unmarshal(env.Data, m); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
		messages = append(messages, m)
	}
	*h = messages
	return nil
}
