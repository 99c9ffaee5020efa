// Package domain defines the core domain models for the agent runtime.
package domain

// Role discriminates the Message variants.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ApprovalStatus represents the user decision attached to a tool message.
// The zero value means the call never entered the approval gate.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusDenied   ApprovalStatus = "denied"
)

// Decided reports whether the status is terminal.
func (s ApprovalStatus) Decided() bool {
	return s == ApprovalStatusApproved || s == ApprovalStatusDenied
}

// ToolsetStatus represents the connection status of an external toolset.
type ToolsetStatus string

const (
	ToolsetStatusConnecting   ToolsetStatus = "connecting"
	ToolsetStatusConnected    ToolsetStatus = "connected"
	ToolsetStatusDisconnected ToolsetStatus = "disconnected"
	ToolsetStatusError        ToolsetStatus = "error"
)

// ToolsetType represents where a toolset comes from.
type ToolsetType string

const (
	ToolsetTypeBuiltin   ToolsetType = "builtin"
	ToolsetTypeMCPLocal  ToolsetType = "mcp_local"
	ToolsetTypeMCPRemote ToolsetType = "mcp_remote"
)

// External reports whether the toolset is served by an external process.
func (t ToolsetType) External() bool {
	return t == ToolsetTypeMCPLocal || t == ToolsetTypeMCPRemote
}

// ProviderType selects the model client implementation.
type ProviderType string

const (
	ProviderOpenAI    ProviderType = "openai"
	ProviderAnthropic ProviderType = "anthropic"
	ProviderMock      ProviderType = "mock"
)

// PolicyDecision is the outcome of the approval policy for one tool call.
type PolicyDecision string

const (
	PolicyAllow           PolicyDecision = "allow"
	PolicyRequireApproval PolicyDecision = "require_approval"
	PolicyBlock           PolicyDecision = "block"
)
