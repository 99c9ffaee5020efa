// Package agent drives one task: its context, the tool-call approval gate
// and the request/response/tool loop.
package agent

import (
	"context"
	_ "embed"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/xiaot623/gogo/agentd/internal/domain"
	"github.com/xiaot623/gogo/agentd/internal/tools"
)

//go:embed instruction.tmpl
var instructionText string

var instructionTemplate = template.Must(template.New("instruction").Parse(instructionText))

// DefaultUserLanguage is used when no language is configured.
const DefaultUserLanguage = "en-US"

type instructionData struct {
	Platform             string
	UserLanguage         string
	WorkspaceName        string
	WorkspaceDirectory   string
	WorkspaceInstruction string
	AgentInstruction     string
}

// RenderInstruction renders the system instruction for a binding.
func RenderInstruction(binding domain.AgentBinding, language string) (string, error) {
	if language == "" {
		language = DefaultUserLanguage
	}
	var b strings.Builder
	err := instructionTemplate.Execute(&b, instructionData{
		Platform:             runtime.GOOS,
		UserLanguage:         language,
		WorkspaceName:        binding.Workspace.Name,
		WorkspaceDirectory:   binding.Workspace.Directory,
		WorkspaceInstruction: strings.TrimSpace(binding.Workspace.Instruction),
		AgentInstruction:     strings.TrimSpace(binding.Agent.Instruction),
	})
	if err != nil {
		return "", fmt.Errorf("failed to render instruction: %w", err)
	}
	return b.String(), nil
}

// ToolProvider is the view of the toolset manager a task needs.
type ToolProvider interface {
	ActiveToolCapabilities() []domain.ToolCapability
	Lookup(name string) (domain.ToolCapability, bool)
	Execute(ctx context.Context, capability domain.ToolCapability, env tools.Env, arguments string) (string, error)
}

// Persister saves a task at the end of a run.
type Persister interface {
	SaveTask(ctx context.Context, taskID int64, snap domain.TaskSnapshot) error
}

// Context is everything one task works with: instruction, binding,
// toolsets, history and usage.
type Context struct {
	TaskID      int64
	Binding     domain.AgentBinding
	Instruction string
	Toolsets    ToolProvider
	Usage       *UsageTracker

	persister Persister
	now       func() time.Time

	mu       sync.Mutex
	messages domain.History
}

// NewContext builds the context of a loaded task.
func NewContext(state *domain.TaskState, toolsets ToolProvider, persister Persister, language string) (*Context, error) {
	instruction, err := RenderInstruction(state.Binding, language)
	if err != nil {
		return nil, err
	}
	messages := make(domain.History, 0, len(state.Messages))
	for _, m := range state.Messages {
		// The instruction is rendered fresh for every run.
		if m.MessageRole() == domain.RoleSystem {
			continue
		}
		messages = append(messages, m)
	}
	return &Context{
		TaskID:      state.TaskID,
		Binding:     state.Binding,
		Instruction: instruction,
		Toolsets:    toolsets,
		Usage:       NewUsageTracker(state.Usage),
		persister:   persister,
		now:         time.Now,
		messages:    messages,
	}, nil
}

// Messages returns a copy of the history.
func (c *Context) Messages() domain.History {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append(domain.History(nil), c.messages...)
}

// requestMessages is the history sent to the model, headed by the
// system instruction.
func (c *Context) requestMessages() domain.History {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(domain.History, 0, len(c.messages)+1)
	out = append(out, &domain.SystemMessage{ID: "system", Content: c.Instruction})
	return append(out, c.messages...)
}

func (c *Context) append(msgs ...domain.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msgs...)
}

// env is the environment built-in tools run in.
func (c *Context) env() tools.Env {
	return tools.Env{
		Workdir:         c.Binding.Workspace.Directory,
		RemainingTokens: c.Usage.Remaining,
	}
}

// Persist saves history and usage.
func (c *Context) Persist(ctx context.Context) error {
	snap := domain.TaskSnapshot{
		Messages:  c.Messages(),
		Usage:     c.Usage.Snapshot(),
		LastRunAt: c.now(),
	}
	if err := c.persister.SaveTask(ctx, c.TaskID, snap); err != nil {
		return fmt.Errorf("failed to persist task %d: %w", c.TaskID, err)
	}
	return nil
}
