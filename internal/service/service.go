// Package service coordinates task runs and toolset administration for the
// transports.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/xiaot623/gogo/agentd/internal/adapter/llm"
	"github.com/xiaot623/gogo/agentd/internal/agent"
	"github.com/xiaot623/gogo/agentd/internal/config"
	store "github.com/xiaot623/gogo/agentd/internal/repository"
	"github.com/xiaot623/gogo/agentd/internal/toolset"
)

var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrTaskBusy          = errors.New("task is already running")
	ErrAgentNotFound     = errors.New("agent not found")
	ErrWorkspaceNotFound = errors.New("workspace not found")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrServiceClosed     = errors.New("service is shutting down")
)

// Service runs tasks. At most one run per task is in progress.
type Service struct {
	store     store.Store
	toolsets  *toolset.Manager
	source    *toolset.FileSource
	newClient llm.Factory
	policy    agent.Policy
	config    *config.Config

	mu      sync.Mutex
	running map[int64]*agent.Task
	closed  bool

	// runs counts reserved task slots, background counts title generations.
	// Both are only incremented under mu while the service is open.
	runs       sync.WaitGroup
	background sync.WaitGroup
	bgCtx      context.Context
	cancelBg   context.CancelFunc
}

// New creates the service. source may be nil when no toolsets file is used.
func New(store store.Store, toolsets *toolset.Manager, source *toolset.FileSource, newClient llm.Factory, policyEngine agent.Policy, cfg *config.Config) *Service {
	bgCtx, cancel := context.WithCancel(context.Background())
	return &Service{
		store:     store,
		toolsets:  toolsets,
		source:    source,
		newClient: newClient,
		policy:    policyEngine,
		config:    cfg,
		running:   make(map[int64]*agent.Task),
		bgCtx:     bgCtx,
		cancelBg:  cancel,
	}
}

// Shutdown stops every running task and waits until each run has been
// persisted and released, or until ctx ends. New runs are refused from the
// first call on.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	tasks := make([]*agent.Task, 0, len(s.running))
	for _, t := range s.running {
		if t != nil {
			tasks = append(tasks, t)
		}
	}
	s.mu.Unlock()

	slog.Info("stopping running tasks", "count", len(tasks))
	s.cancelBg()
	for _, t := range tasks {
		t.Stop()
	}

	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		s.background.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to stop running tasks: %w", ctx.Err())
	}
}
