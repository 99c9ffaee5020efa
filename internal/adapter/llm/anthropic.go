package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/xiaot623/gogo/agentd/internal/domain"
)

// AnthropicClient streams responses from the Anthropic Messages API.
type AnthropicClient struct {
	client anthropicsdk.Client
}

var _ Client = (*AnthropicClient)(nil)

// NewAnthropicClient creates a client for the given binding.
func NewAnthropicClient(binding domain.ModelBinding, httpClient *http.Client) (*AnthropicClient, error) {
	if strings.TrimSpace(binding.APIKey) == "" {
		return nil, errors.New("anthropic: api key required")
	}
	opts := []option.RequestOption{option.WithAPIKey(binding.APIKey)}
	if binding.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(binding.BaseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &AnthropicClient{client: anthropicsdk.NewClient(opts...)}, nil
}

// Stream implements Client.
func (c *AnthropicClient) Stream(ctx context.Context, req *Request, callback StreamCallback) (*domain.AssistantMessage, error) {
	system, messages := anthropicMessages(req.Messages)
	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(req.Model.Name),
		MaxTokens: int64(domain.ReservedOutputTokens),
		Messages:  messages,
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(req.Tools) > 0 {
		tools, err := anthropicTools(req.Tools)
		if err != nil {
			return nil, err
		}
		params.Tools = tools
	}

	stream := c.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	var final anthropicsdk.Message
	toolIndex := 0
	for stream.Next() {
		event := stream.Current()
		if err := final.Accumulate(event); err != nil {
			return nil, fmt.Errorf("accumulate stream: %w", err)
		}

		switch ev := event.AsAny().(type) {
		case anthropicsdk.ContentBlockDeltaEvent:
			if text := ev.Delta.AsTextDelta().Text; text != "" {
				if err := callback(domain.Chunk{Type: domain.ChunkText, Content: text}); err != nil {
					return nil, err
				}
			}
		case anthropicsdk.ContentBlockStopEvent:
			if n := len(final.Content); n > 0 && final.Content[n-1].Type == "tool_use" {
				block := final.Content[n-1]
				err := callback(domain.Chunk{Type: domain.ChunkToolCall, ToolCall: &domain.ToolCallDelta{
					Index:     toolIndex,
					ID:        block.ID,
					Name:      block.Name,
					Arguments: string(block.Input),
				}})
				if err != nil {
					return nil, err
				}
				toolIndex++
			}
		case anthropicsdk.MessageDeltaEvent:
			usage := &domain.Usage{
				InputTokens:  int(ev.Usage.InputTokens),
				OutputTokens: int(ev.Usage.OutputTokens),
			}
			if usage.InputTokens == 0 {
				usage.InputTokens = int(final.Usage.InputTokens)
			}
			usage.TotalTokens = usage.InputTokens + usage.OutputTokens
			if err := callback(domain.Chunk{Type: domain.ChunkUsage, Usage: usage}); err != nil {
				return nil, err
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}

	msg := &domain.AssistantMessage{}
	var text []string
	for _, block := range final.Content {
		switch block.Type {
		case "tool_use":
			args := string(block.Input)
			if args == "" {
				args = "{}"
			}
			msg.ToolCalls = append(msg.ToolCalls, domain.ToolCall{ID: block.ID, Name: block.Name, Arguments: args})
		case "thinking":
			msg.ReasoningContent += block.Thinking
		default:
			if block.Text != "" {
				text = append(text, block.Text)
			}
		}
	}
	msg.Content = strings.Join(text, "")
	in, out := int(final.Usage.InputTokens), int(final.Usage.OutputTokens)
	msg.Usage = &domain.Usage{InputTokens: in, OutputTokens: out, TotalTokens: in + out}
	return msg, nil
}

// anthropicMessages splits out the system prompt and merges consecutive
// same-role turns, since tool results travel as user content.
func anthropicMessages(history domain.History) ([]anthropicsdk.TextBlockParam, []anthropicsdk.MessageParam) {
	var system []anthropicsdk.TextBlockParam
	var out []anthropicsdk.MessageParam

	push := func(role anthropicsdk.MessageParamRole, blocks ...anthropicsdk.ContentBlockParamUnion) {
		if len(blocks) == 0 {
			return
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, blocks...)
			return
		}
		out = append(out, anthropicsdk.MessageParam{Role: role, Content: blocks})
	}

	for _, m := range history {
		switch msg := m.(type) {
		case *domain.SystemMessage:
			if strings.TrimSpace(msg.Content) != "" {
				system = append(system, anthropicsdk.TextBlockParam{Text: msg.Content})
			}
		case *domain.UserMessage:
			text := userText(msg)
			if text == "" {
				text = "."
			}
			push(anthropicsdk.MessageParamRoleUser, anthropicsdk.NewTextBlock(text))
		case *domain.AssistantMessage:
			blocks := make([]anthropicsdk.ContentBlockParamUnion, 0, 1+len(msg.ToolCalls))
			if msg.Content != "" {
				blocks = append(blocks, anthropicsdk.NewTextBlock(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				var input any = map[string]any{}
				if call.Arguments != "" {
					if err := json.Unmarshal([]byte(call.Arguments), &input); err != nil {
						input = map[string]any{"raw": call.Arguments}
					}
				}
				blocks = append(blocks, anthropicsdk.NewToolUseBlock(call.ID, input, call.Name))
			}
			if len(blocks) == 0 {
				blocks = append(blocks, anthropicsdk.NewTextBlock("."))
			}
			push(anthropicsdk.MessageParamRoleAssistant, blocks...)
		case *domain.ToolMessage:
			text, isErr := toolOutput(msg)
			push(anthropicsdk.MessageParamRoleUser, anthropicsdk.NewToolResultBlock(msg.CallID, text, isErr))
		}
	}
	return system, out
}

func anthropicTools(caps []domain.ToolCapability) ([]anthropicsdk.ToolUnionParam, error) {
	out := make([]anthropicsdk.ToolUnionParam, 0, len(caps))
	for _, c := range caps {
		schema := anthropicsdk.ToolInputSchemaParam{Type: "object"}
		if len(c.Parameters) > 0 {
			data, err := json.Marshal(c.Parameters)
			if err != nil {
				return nil, fmt.Errorf("tool %s schema: %w", c.Name, err)
			}
			if err := json.Unmarshal(data, &schema); err != nil {
				return nil, fmt.Errorf("tool %s schema: %w", c.Name, err)
			}
			if schema.Type == "" {
				schema.Type = "object"
			}
		}
		tool := anthropicsdk.ToolParam{Name: c.Name, InputSchema: schema}
		if c.Description != "" {
			tool.Description = anthropicsdk.String(c.Description)
		}
		out = append(out, anthropicsdk.ToolUnionParam{OfTool: &tool})
	}
	return out, nil
}
