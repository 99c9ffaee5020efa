package domain

import (
	"encoding/json"
	"fmt"
)

// ChunkType discriminates streamed model chunks.
type ChunkType string

const (
	ChunkText     ChunkType = "text"
	ChunkUsage    ChunkType = "usage"
	ChunkToolCall ChunkType = "tool_call"
)

// ToolCallDelta is an incremental piece of a tool call.
type ToolCallDelta struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// Chunk is one streamed piece of a model response.
type Chunk struct {
	Type     ChunkType      `json:"type"`
	Content  string         `json:"content,omitempty"`
	Usage    *Usage         `json:"usage,omitempty"`
	ToolCall *ToolCallDelta `json:"tool_call,omitempty"`
}

// EventName is the wire name of an agent event.
type EventName string

const (
	EventMessageStart            EventName = "MESSAGE_START"
	EventMessageChunk            EventName = "MESSAGE_CHUNK"
	EventMessageEnd              EventName = "MESSAGE_END"
	EventMessageReplace          EventName = "MESSAGE_REPLACE"
	EventToolCallEnd             EventName = "TOOL_CALL_END"
	EventToolExecuted            EventName = "TOOL_EXECUTED"
	EventToolDenied              EventName = "TOOL_DENIED"
	EventToolRequirePermission   EventName = "TOOL_REQUIRE_PERMISSION"
	EventToolRequireUserResponse EventName = "TOOL_REQUIRE_USER_RESPONSE"
	EventError                   EventName = "ERROR"
	EventTaskDone                EventName = "TASK_DONE"
	EventTaskInterrupted         EventName = "TASK_INTERRUPTED"
)

// Event is one element of the orchestrator's output stream.
type Event interface {
	EventName() EventName
}

// MessageStartEvent opens a streamed assistant message.
type MessageStartEvent struct {
	MessageID string `json:"message_id"`
}

// MessageChunkEvent forwards one streamed chunk.
type MessageChunkEvent struct {
	Chunk
}

// MessageEndEvent closes a streamed assistant message.
type MessageEndEvent struct {
	Message *AssistantMessage `json:"message"`
}

// MessageReplaceEvent replaces a message the client already holds.
type MessageReplaceEvent struct {
	Message Message `json:"-"`
}

// MarshalJSON includes the role so clients can decode the message.
func (e MessageReplaceEvent) MarshalJSON() ([]byte, error) {
	if e.Message == nil {
		return []byte(`{"message":null}`), nil
	}
	return json.Marshal(struct {
		Role    Role    `json:"role"`
		Message Message `json:"message"`
	}{e.Message.MessageRole(), e.Message})
}

// ToolCallEndEvent reports the tool message appended for a tool call.
type ToolCallEndEvent struct {
	Message *ToolMessage `json:"message"`
}

// ToolExecutedEvent reports an executed tool call. Result is nil on error.
type ToolExecutedEvent struct {
	ToolCallID string  `json:"tool_call_id"`
	Result     *string `json:"result"`
}

// ToolDeniedEvent reports a denied tool call.
type ToolDeniedEvent struct {
	ToolCallID string `json:"tool_call_id"`
}

// ToolRequirePermissionEvent suspends the run until the user decides.
type ToolRequirePermissionEvent struct {
	ToolCallID string `json:"tool_call_id"`
}

// ToolRequireUserResponseEvent suspends the run until the user answers.
type ToolRequireUserResponseEvent struct {
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
}

// ErrorEvent surfaces a model failure.
type ErrorEvent struct {
	Err error `json:"-"`
}

// MarshalJSON renders the error text.
func (e ErrorEvent) MarshalJSON() ([]byte, error) {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return json.Marshal(map[string]string{"message": msg})
}

// DoneEvent ends a run normally.
type DoneEvent struct{}

// InterruptedEvent ends a run that was stopped.
type InterruptedEvent struct{}

func (MessageStartEvent) EventName() EventName            { return EventMessageStart }
func (MessageChunkEvent) EventName() EventName            { return EventMessageChunk }
func (MessageEndEvent) EventName() EventName              { return EventMessageEnd }
func (MessageReplaceEvent) EventName() EventName          { return EventMessageReplace }
func (ToolCallEndEvent) EventName() EventName             { return EventToolCallEnd }
func (ToolExecutedEvent) EventName() EventName            { return EventToolExecuted }
func (ToolDeniedEvent) EventName() EventName              { return EventToolDenied }
func (ToolRequirePermissionEvent) EventName() EventName   { return EventToolRequirePermission }
func (ToolRequireUserResponseEvent) EventName() EventName { return EventToolRequireUserResponse }
func (ErrorEvent) EventName() EventName                   { return EventError }
func (DoneEvent) EventName() EventName                    { return EventTaskDone }
func (InterruptedEvent) EventName() EventName             { return EventTaskInterrupted }

// IsTerminal reports whether ev ends a run.
func IsTerminal(ev Event) bool {
	switch ev.(type) {
	case DoneEvent, InterruptedEvent:
		return true
	}
	return false
}

// EncodeEvent returns the wire name and JSON payload of an event.
func EncodeEvent(ev Event) (EventName, []byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal %s event: %w", ev.EventName(), err)
	}
	return ev.EventName(), data, nil
}
