package agent

import (
	"sync"

	"github.com/xiaot623/gogo/agentd/internal/domain"
)

// UsageTracker guards a task's context usage. Tools read the remaining
// budget from other goroutines while the run updates it.
type UsageTracker struct {
	mu    sync.Mutex
	usage domain.ContextUsage
}

func NewUsageTracker(usage domain.ContextUsage) *UsageTracker {
	return &UsageTracker{usage: usage}
}

// Update records a usage report from the model.
func (u *UsageTracker) Update(usage domain.Usage) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.usage.SetUsage(usage)
}

func (u *UsageTracker) Snapshot() domain.ContextUsage {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.usage
}

// Remaining returns the token budget left for tool output.
func (u *UsageTracker) Remaining() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.usage.RemainingTokens()
}
