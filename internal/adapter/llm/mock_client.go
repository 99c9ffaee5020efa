package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/gogo/agentd/internal/domain"
)

// MockResponse scripts one model call of a MockClient.
type MockResponse struct {
	Content   string
	ToolCalls []domain.ToolCall
	Usage     *domain.Usage
	// EarlyUsage, when set, is streamed right after the content and before
	// Hold, the way providers report usage mid-stream.
	EarlyUsage *domain.Usage
	// Err fails the call after the content has been streamed.
	Err error
	// Hold, when set, blocks the call after streaming content until it is
	// closed or the context ends.
	Hold <-chan struct{}
	// ChunkDelay is slept between text chunks.
	ChunkDelay time.Duration
}

// MockClient replays scripted responses. Once the script is exhausted it
// echoes the last user message without calling tools.
type MockClient struct {
	mu        sync.Mutex
	responses []MockResponse
	requests  []*Request
}

var _ Client = (*MockClient)(nil)

// NewMockClient creates a mock client replaying responses in order.
func NewMockClient(responses ...MockResponse) *MockClient {
	return &MockClient{responses: responses}
}

// Requests returns the requests received so far.
func (m *MockClient) Requests() []*Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Request(nil), m.requests...)
}

func (m *MockClient) next(req *Request) MockResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if len(m.responses) == 0 {
		return MockResponse{Content: generateMockResponse(req)}
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	return resp
}

// Stream implements Client.
func (m *MockClient) Stream(ctx context.Context, req *Request, callback StreamCallback) (*domain.AssistantMessage, error) {
	resp := m.next(req)

	for _, chunk := range splitIntoChunks(resp.Content, 10) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := callback(domain.Chunk{Type: domain.ChunkText, Content: chunk}); err != nil {
			return nil, err
		}
		if resp.ChunkDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(resp.ChunkDelay):
			}
		}
	}

	if resp.EarlyUsage != nil {
		if err := callback(domain.Chunk{Type: domain.ChunkUsage, Usage: resp.EarlyUsage}); err != nil {
			return nil, err
		}
	}

	if resp.Hold != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-resp.Hold:
		}
	}
	if resp.Err != nil {
		return nil, resp.Err
	}

	calls := make([]domain.ToolCall, len(resp.ToolCalls))
	for i, call := range resp.ToolCalls {
		if call.ID == "" {
			call.ID = "call_" + uuid.NewString()
		}
		calls[i] = call
		err := callback(domain.Chunk{Type: domain.ChunkToolCall, ToolCall: &domain.ToolCallDelta{
			Index: i, ID: call.ID, Name: call.Name, Arguments: call.Arguments,
		}})
		if err != nil {
			return nil, err
		}
	}

	usage := resp.Usage
	if usage == nil {
		in := estimateTokens(req)
		out := len(resp.Content) / 4
		usage = &domain.Usage{InputTokens: in, OutputTokens: out, TotalTokens: in + out}
	}
	if err := callback(domain.Chunk{Type: domain.ChunkUsage, Usage: usage}); err != nil {
		return nil, err
	}

	msg := &domain.AssistantMessage{Content: resp.Content, Usage: usage}
	if len(calls) > 0 {
		msg.ToolCalls = calls
	}
	return msg, nil
}

func generateMockResponse(req *Request) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if u, ok := req.Messages[i].(*domain.UserMessage); ok {
			return fmt.Sprintf("[MOCK] Received your message: %q. This is a mock response.", truncate(u.Content, 100))
		}
	}
	return "[MOCK] This is a mock response from the model client."
}

// estimateTokens provides a rough token count estimate.
func estimateTokens(req *Request) int {
	total := 0
	for _, m := range req.Messages {
		switch msg := m.(type) {
		case *domain.SystemMessage:
			total += len(msg.Content) / 4
		case *domain.UserMessage:
			total += len(msg.Content) / 4
		case *domain.AssistantMessage:
			total += len(msg.Content) / 4
		case *domain.ToolMessage:
			text, _ := toolOutput(msg)
			total += len(text) / 4
		}
	}
	return total
}

func splitIntoChunks(s string, chunkSize int) []string {
	if s == "" {
		return nil
	}
	runes := []rune(s)
	var chunks []string
	for i := 0; i < len(runes); i += chunkSize {
		end := min(i+chunkSize, len(runes))
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
