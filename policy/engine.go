package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/open-policy-agent/opa/rego"

	"github.com/xiaot623/gogo/agentd/internal/domain"
)

// Input is the document a tool call is evaluated against.
type Input struct {
	ToolName    string         `json:"tool_name"`
	Toolset     string         `json:"toolset"`
	Tool        string         `json:"tool"`
	AutoApprove bool           `json:"auto_approve"`
	Args        map[string]any `json:"args"`
}

// NewInput builds the policy input for a capability and its raw arguments.
// Arguments that are not a JSON object are passed as {"raw": ...}.
func NewInput(capability domain.ToolCapability, arguments string) Input {
	args := map[string]any{}
	if arguments != "" {
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			args = map[string]any{"raw": arguments}
		}
	}
	return Input{
		ToolName:    capability.Name,
		Toolset:     capability.Toolset,
		Tool:        capability.ToolName,
		AutoApprove: capability.AutoApprove,
		Args:        args,
	}
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.tool_policy.decision"),
		rego.Module("tool_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Load reads the policy from path, or uses DefaultPolicy when path is empty.
func Load(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return NewEngine(ctx, DefaultPolicy)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy %s: %w", path, err)
	}
	return NewEngine(ctx, string(content))
}

// Evaluate runs the policy and returns the raw decision.
func (e *Engine) Evaluate(ctx context.Context, input Input) (domain.PolicyDecision, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return "", fmt.Errorf("policy produced no decision")
	}

	s, ok := results[0].Expressions[0].Value.(string)
	if !ok {
		return "", fmt.Errorf("unexpected decision type %T", results[0].Expressions[0].Value)
	}
	switch d := domain.PolicyDecision(s); d {
	case domain.PolicyAllow, domain.PolicyRequireApproval, domain.PolicyBlock:
		return d, nil
	default:
		return "", fmt.Errorf("unknown decision %q", s)
	}
}

// Decide is Evaluate failing closed: any evaluation problem asks the user.
func (e *Engine) Decide(ctx context.Context, input Input) domain.PolicyDecision {
	d, err := e.Evaluate(ctx, input)
	if err != nil {
		slog.Warn("policy evaluation failed, requiring approval", "tool", input.ToolName, "error", err)
		return domain.PolicyRequireApproval
	}
	return d
}

// DefaultPolicy honors the per-tool auto-approve flag.
const DefaultPolicy = `
package tool_policy

default decision = "require_approval"

decision = "allow" {
	input.auto_approve == true
}
`
