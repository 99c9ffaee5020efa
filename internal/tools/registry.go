// Package tools provides the built-in toolsets available to every task.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/xiaot623/gogo/agentd/internal/domain"
)

// Env is the per-task environment a built-in tool runs in.
type Env struct {
	// Workdir is the workspace directory relative paths resolve against.
	Workdir string
	// RemainingTokens reports the task's remaining context budget.
	RemainingTokens func() int
}

func (e Env) remaining() int {
	if e.RemainingTokens == nil {
		return maxOutputChars
	}
	return e.RemainingTokens()
}

// ExecutorFunc defines a built-in tool executor.
type ExecutorFunc func(ctx context.Context, env Env, args json.RawMessage) (string, error)

// Tool is one built-in tool.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	// AutoApprove is the default for a freshly stored tool.
	AutoApprove bool
	// RequiresUserResponse tools are answered by the user and have no executor.
	RequiresUserResponse bool
	Execute              ExecutorFunc
}

// Toolset is a named group of built-in tools.
type Toolset struct {
	Name  string
	Tools []Tool
}

// Specs returns the tool specs used to sync persisted configuration.
func (ts *Toolset) Specs() []domain.ToolSpec {
	specs := make([]domain.ToolSpec, 0, len(ts.Tools))
	for _, t := range ts.Tools {
		specs = append(specs, domain.ToolSpec{
			Name:               t.Name,
			InternalKey:        t.Name,
			Description:        t.Description,
			Parameters:         t.Parameters,
			DefaultAutoApprove: t.AutoApprove,
		})
	}
	return specs
}

// Tool returns the tool with the given name.
func (ts *Toolset) Tool(name string) (*Tool, bool) {
	for i := range ts.Tools {
		if ts.Tools[i].Name == name {
			return &ts.Tools[i], true
		}
	}
	return nil, false
}

// Registry stores built-in toolsets keyed by name.
type Registry struct {
	mu       sync.RWMutex
	toolsets map[string]*Toolset
	order    []string
}

// DefaultRegistry is the shared registry populated by this package.
var DefaultRegistry = NewRegistry()

// NewRegistry creates an empty toolset registry.
func NewRegistry() *Registry {
	return &Registry{
		toolsets: make(map[string]*Toolset),
	}
}

// Register adds a toolset.
func (r *Registry) Register(ts *Toolset) error {
	if ts == nil || ts.Name == "" {
		return fmt.Errorf("toolset name is required")
	}
	for _, t := range ts.Tools {
		if t.Name == "" {
			return fmt.Errorf("toolset %s: tool name is required", ts.Name)
		}
		if t.Execute == nil && !t.RequiresUserResponse {
			return fmt.Errorf("toolset %s: executor is required for %s", ts.Name, t.Name)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.toolsets[ts.Name]; exists {
		return fmt.Errorf("toolset already registered: %s", ts.Name)
	}
	r.toolsets[ts.Name] = ts
	r.order = append(r.order, ts.Name)
	return nil
}

// Toolsets returns the registered toolsets in registration order.
func (r *Registry) Toolsets() []*Toolset {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Toolset, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.toolsets[name])
	}
	return out
}

// Get returns a toolset by name.
func (r *Registry) Get(name string) (*Toolset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ts, ok := r.toolsets[name]
	return ts, ok
}

// Execute runs a built-in tool.
func (r *Registry) Execute(ctx context.Context, toolset, tool string, env Env, args json.RawMessage) (string, error) {
	ts, ok := r.Get(toolset)
	if !ok {
		return "", fmt.Errorf("no toolset registered for %s", toolset)
	}
	t, ok := ts.Tool(tool)
	if !ok || t.Execute == nil {
		return "", fmt.Errorf("no executor registered for %s.%s", toolset, tool)
	}
	return t.Execute(ctx, env, args)
}

// Register adds a toolset to the default registry.
func Register(ts *Toolset) error {
	return DefaultRegistry.Register(ts)
}

// MustRegister adds a toolset to the default registry or panics.
func MustRegister(ts *Toolset) {
	if err := Register(ts); err != nil {
		panic(err)
	}
}

func decodeArgs(args json.RawMessage, v any) error {
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	return json.Unmarshal(args, v)
}
