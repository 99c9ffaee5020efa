// Package llm provides streaming model clients behind one interface.
package llm

import (
	"context"

	"github.com/xiaot623/gogo/agentd/internal/domain"
)

// Request is one model call: the full history (starting with the system
// message) and the tools the model may call.
type Request struct {
	Model    domain.ModelBinding
	Messages domain.History
	Tools    []domain.ToolCapability
}

// StreamCallback is called for each chunk received. Returning an error
// aborts the stream.
type StreamCallback func(chunk domain.Chunk) error

// Client defines the model client capability.
type Client interface {
	// Stream sends the request and reports chunks through callback as they
	// arrive. It returns the complete assistant message. The returned
	// message has no ID; the caller assigns one.
	Stream(ctx context.Context, req *Request, callback StreamCallback) (*domain.AssistantMessage, error)
}

// toolOutput is the text a model sees for a tool message.
func toolOutput(m *domain.ToolMessage) (string, bool) {
	switch {
	case m.Error != nil:
		return *m.Error, true
	case m.Result != nil:
		return *m.Result, false
	default:
		return "", false
	}
}
