package llm

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/xiaot623/gogo/agentd/internal/domain"
)

// OpenAIClient streams chat completions from any OpenAI-compatible endpoint.
type OpenAIClient struct {
	client openai.Client
}

var _ Client = (*OpenAIClient)(nil)

// NewOpenAIClient creates a client for the given binding.
func NewOpenAIClient(binding domain.ModelBinding, httpClient *http.Client) (*OpenAIClient, error) {
	if strings.TrimSpace(binding.APIKey) == "" {
		return nil, errors.New("openai: api key required")
	}
	opts := []option.RequestOption{option.WithAPIKey(binding.APIKey)}
	if binding.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(binding.BaseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &OpenAIClient{client: openai.NewClient(opts...)}, nil
}

type toolCallAccumulator struct {
	id        string
	name      string
	arguments strings.Builder
}

// Stream implements Client.
func (c *OpenAIClient) Stream(ctx context.Context, req *Request, callback StreamCallback) (*domain.AssistantMessage, error) {
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model.Name),
		Messages: openAIMessages(req.Messages),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if tools := openAITools(req.Tools); len(tools) > 0 {
		params.Tools = tools
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var (
		content strings.Builder
		calls   = make(map[int]*toolCallAccumulator)
		usage   *domain.Usage
	)
	for stream.Next() {
		chunk := stream.Current()
		if chunk.Usage.TotalTokens > 0 {
			usage = &domain.Usage{
				InputTokens:  int(chunk.Usage.PromptTokens),
				OutputTokens: int(chunk.Usage.CompletionTokens),
				TotalTokens:  int(chunk.Usage.TotalTokens),
			}
			if err := callback(domain.Chunk{Type: domain.ChunkUsage, Usage: usage}); err != nil {
				return nil, err
			}
		}
		for _, choice := range chunk.Choices {
			delta := choice.Delta
			if delta.Content != "" {
				content.WriteString(delta.Content)
				if err := callback(domain.Chunk{Type: domain.ChunkText, Content: delta.Content}); err != nil {
					return nil, err
				}
			}
			for _, tc := range delta.ToolCalls {
				idx := int(tc.Index)
				acc, ok := calls[idx]
				if !ok {
					acc = &toolCallAccumulator{}
					calls[idx] = acc
				}
				if tc.ID != "" {
					acc.id = tc.ID
				}
				if tc.Function.Name != "" {
					acc.name = tc.Function.Name
				}
				acc.arguments.WriteString(tc.Function.Arguments)
				err := callback(domain.Chunk{Type: domain.ChunkToolCall, ToolCall: &domain.ToolCallDelta{
					Index:     idx,
					ID:        tc.ID,
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				}})
				if err != nil {
					return nil, err
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}

	indices := make([]int, 0, len(calls))
	for idx := range calls {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	msg := &domain.AssistantMessage{Content: content.String(), Usage: usage}
	for _, idx := range indices {
		acc := calls[idx]
		if acc.id == "" || acc.name == "" {
			continue
		}
		msg.ToolCalls = append(msg.ToolCalls, domain.ToolCall{ID: acc.id, Name: acc.name, Arguments: acc.arguments.String()})
	}
	return msg, nil
}

func openAIMessages(history domain.History) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(history))
	for _, m := range history {
		switch msg := m.(type) {
		case *domain.SystemMessage:
			out = append(out, openai.SystemMessage(msg.Content))
		case *domain.UserMessage:
			out = append(out, openai.UserMessage(userText(msg)))
		case *domain.AssistantMessage:
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if msg.Content != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(msg.Content)}
			}
			for _, call := range msg.ToolCalls {
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: call.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      call.Name,
						Arguments: call.Arguments,
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case *domain.ToolMessage:
			text, _ := toolOutput(msg)
			out = append(out, openai.ToolMessage(text, msg.CallID))
		}
	}
	return out
}

func openAITools(caps []domain.ToolCapability) []openai.ChatCompletionToolParam {
	tools := make([]openai.ChatCompletionToolParam, 0, len(caps))
	for _, c := range caps {
		params := shared.FunctionParameters{"type": "object"}
		for k, v := range c.Parameters {
			params[k] = v
		}
		tool := openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:       c.Name,
				Parameters: params,
			},
		}
		if c.Description != "" {
			tool.Function.Description = openai.Opt(c.Description)
		}
		tools = append(tools, tool)
	}
	return tools
}

// userText flattens text parts into the message content.
func userText(m *domain.UserMessage) string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	parts := make([]string, 0, len(m.Parts)+1)
	if m.Content != "" {
		parts = append(parts, m.Content)
	}
	for _, p := range m.Parts {
		if p.Type == "text" && p.Text != "" {
			parts = append(parts, p.Text)
		}
	}
	return strings.Join(parts, "\n")
}
