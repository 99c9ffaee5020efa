package llm

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/xiaot623/gogo/agentd/internal/domain"
)

// ModeMock forces the scripted mock client regardless of the binding.
const ModeMock = "MOCK"

// Factory builds a model client for an agent's binding.
type Factory func(binding domain.ModelBinding) (Client, error)

// NewFactory returns a Factory honoring the process mode. In MOCK mode every
// binding gets a fresh MockClient.
func NewFactory(mode string, timeout time.Duration) Factory {
	httpClient := &http.Client{Timeout: timeout}
	if mode == ModeMock {
		slog.Info("mock mode detected, using mock model client")
	}
	return func(binding domain.ModelBinding) (Client, error) {
		if mode == ModeMock {
			return NewMockClient(), nil
		}
		return NewClient(binding, httpClient)
	}
}

// NewClient creates a client for the binding's provider.
func NewClient(binding domain.ModelBinding, httpClient *http.Client) (Client, error) {
	switch binding.Provider {
	case domain.ProviderOpenAI, "":
		return NewOpenAIClient(binding, httpClient)
	case domain.ProviderAnthropic:
		return NewAnthropicClient(binding, httpClient)
	case domain.ProviderMock:
		return NewMockClient(), nil
	default:
		return nil, fmt.Errorf("unsupported provider %q", binding.Provider)
	}
}
