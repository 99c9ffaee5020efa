package service

import (
	"context"
	"fmt"

	"github.com/xiaot623/gogo/agentd/internal/domain"
)

// ListToolsets returns every toolset with its connection status.
func (s *Service) ListToolsets() []domain.ToolsetState {
	return s.toolsets.Statuses()
}

// SetToolsetEnabled toggles a toolset.
func (s *Service) SetToolsetEnabled(ctx context.Context, key string, enabled bool) error {
	return s.toolsets.SetToolsetEnabled(ctx, key, enabled)
}

// UpdateTool changes the flags of one tool. Nil flags are left unchanged.
func (s *Service) UpdateTool(ctx context.Context, key, toolKey string, req domain.UpdateToolRequest) error {
	if req.IsEnabled == nil && req.AutoApprove == nil {
		return fmt.Errorf("%w: nothing to update", ErrInvalidRequest)
	}
	return s.toolsets.UpdateTool(ctx, key, toolKey, req.IsEnabled, req.AutoApprove)
}

// RefreshToolsets re-reads the toolsets file, if any, and refreshes the
// toolset manager.
func (s *Service) RefreshToolsets(ctx context.Context) error {
	if s.source != nil {
		if err := s.source.Reload(ctx); err != nil {
			return fmt.Errorf("failed to refresh toolsets: %w", err)
		}
		return nil
	}
	if err := s.toolsets.RefreshMetadata(ctx); err != nil {
		return fmt.Errorf("failed to refresh toolsets: %w", err)
	}
	return nil
}
