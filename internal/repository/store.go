// Package store defines the storage interface and its SQLite implementation.
package store

import (
	"context"

	"github.com/xiaot623/gogo/agentd/internal/domain"
)

// Store defines the interface for data persistence.
type Store interface {
	// Workspace and agent operations
	CreateWorkspace(ctx context.Context, ws *domain.Workspace) error
	GetWorkspace(ctx context.Context, id int64) (*domain.Workspace, error)
	CreateAgent(ctx context.Context, agent *domain.Agent) error
	GetAgent(ctx context.Context, id int64) (*domain.Agent, error)

	// Task operations
	CreateTask(ctx context.Context, task *domain.Task) error
	GetTask(ctx context.Context, id int64) (*domain.Task, error)
	UpdateTaskAgent(ctx context.Context, taskID, agentID int64) error
	UpdateTaskTitle(ctx context.Context, taskID int64, title string) error
	LoadTask(ctx context.Context, taskID int64) (*domain.TaskState, error)
	SaveTask(ctx context.Context, taskID int64, snap domain.TaskSnapshot) error

	// Toolset operations
	ListToolsets(ctx context.Context) ([]domain.ToolsetConfig, error)
	GetToolsetByKey(ctx context.Context, key string) (*domain.ToolsetConfig, error)
	UpsertToolset(ctx context.Context, ts *domain.ToolsetConfig) error
	DeleteToolset(ctx context.Context, key string) error
	SetToolsetEnabled(ctx context.Context, key string, enabled bool) (bool, error)
	UpdateTool(ctx context.Context, toolsetKey, toolKey string, isEnabled, autoApprove *bool) (bool, error)
	SyncToolset(ctx context.Context, toolsetID int64, specs []domain.ToolSpec) ([]domain.ToolConfig, error)

	// Lifecycle
	Close() error
}

var _ Store = (*SQLiteStore)(nil)
