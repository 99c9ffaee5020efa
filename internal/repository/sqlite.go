package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/xiaot623/gogo/agentd/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS workspaces (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			directory TEXT NOT NULL,
			instruction TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS agents (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			instruction TEXT NOT NULL DEFAULT '',
			provider TEXT NOT NULL,
			base_url TEXT NOT NULL DEFAULT '',
			api_key TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL,
			context_size INTEGER NOT NULL DEFAULT 128000,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			workspace_id INTEGER NOT NULL,
			agent_id INTEGER NOT NULL,
			messages TEXT NOT NULL DEFAULT '[]',
			usage TEXT NOT NULL DEFAULT '{}',
			last_run_at INTEGER,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (workspace_id) REFERENCES workspaces(id),
			FOREIGN KEY (agent_id) REFERENCES agents(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_workspace ON tasks(workspace_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS toolsets (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			internal_key TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			params TEXT NOT NULL DEFAULT '{}',
			is_enabled INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS tools (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			toolset_id INTEGER NOT NULL,
			internal_key TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			is_enabled INTEGER NOT NULL DEFAULT 1,
			auto_approve INTEGER NOT NULL DEFAULT 0,
			UNIQUE (toolset_id, internal_key),
			FOREIGN KEY (toolset_id) REFERENCES toolsets(id) ON DELETE CASCADE
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	// Add new columns for existing DBs (SQLite has limited ALTER TABLE support).
	if err := s.ensureColumn("tasks", "title", "ALTER TABLE tasks ADD COLUMN title TEXT NOT NULL DEFAULT ''"); err != nil {
		return err
	}
	if err := s.ensureColumn("toolsets", "source", "ALTER TABLE toolsets ADD COLUMN source TEXT NOT NULL DEFAULT 'api'"); err != nil {
		return err
	}
	return nil
}

func (s *SQLiteStore) ensureColumn(tableName, columnName, ddl string) error {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dfltValue sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		if name == columnName {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	_, err = s.db.Exec(ddl)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateWorkspace creates a new workspace and sets its ID.
func (s *SQLiteStore) CreateWorkspace(ctx context.Context, ws *domain.Workspace) error {
	if ws.CreatedAt.IsZero() {
		ws.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO workspaces (name, directory, instruction, created_at) VALUES (?, ?, ?, ?)`,
		ws.Name, ws.Directory, ws.Instruction, ws.CreatedAt)
	if err != nil {
		return err
	}
	ws.ID, err = res.LastInsertId()
	return err
}

// GetWorkspace retrieves a workspace by ID.
func (s *SQLiteStore) GetWorkspace(ctx context.Context, id int64) (*domain.Workspace, error) {
	var ws domain.Workspace
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, directory, instruction, created_at FROM workspaces WHERE id = ?`, id).
		Scan(&ws.ID, &ws.Name, &ws.Directory, &ws.Instruction, &ws.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ws, nil
}

// CreateAgent creates a new agent and sets its ID.
func (s *SQLiteStore) CreateAgent(ctx context.Context, agent *domain.Agent) error {
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO agents (name, instruction, provider, base_url, api_key, model, context_size, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		agent.Name, agent.Instruction, agent.Model.Provider, agent.Model.BaseURL, agent.Model.APIKey,
		agent.Model.Name, agent.Model.ContextSize, agent.CreatedAt)
	if err != nil {
		return err
	}
	agent.ID, err = res.LastInsertId()
	return err
}

// GetAgent retrieves an agent by ID.
func (s *SQLiteStore) GetAgent(ctx context.Context, id int64) (*domain.Agent, error) {
	var agent domain.Agent
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, instruction, provider, base_url, api_key, model, context_size, created_at
		 FROM agents WHERE id = ?`, id).
		Scan(&agent.ID, &agent.Name, &agent.Instruction, &agent.Model.Provider, &agent.Model.BaseURL,
			&agent.Model.APIKey, &agent.Model.Name, &agent.Model.ContextSize, &agent.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &agent, nil
}

// CreateTask creates a new task and sets its ID.
func (s *SQLiteStore) CreateTask(ctx context.Context, task *domain.Task) error {
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	if task.Messages == nil {
		task.Messages = domain.History{}
	}
	messages, err := json.Marshal(task.Messages)
	if err != nil {
		return fmt.Errorf("failed to marshal messages: %w", err)
	}
	usage, err := json.Marshal(task.Usage)
	if err != nil {
		return fmt.Errorf("failed to marshal usage: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (workspace_id, agent_id, title, messages, usage, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		task.WorkspaceID, task.AgentID, task.Title, string(messages), string(usage), task.CreatedAt)
	if err != nil {
		return err
	}
	task.ID, err = res.LastInsertId()
	return err
}

// GetTask retrieves a task by ID.
func (s *SQLiteStore) GetTask(ctx context.Context, id int64) (*domain.Task, error) {
	var task domain.Task
	var messages, usage string
	var lastRunAt sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, workspace_id, agent_id, messages, usage, last_run_at, created_at FROM tasks WHERE id = ?`, id).
		Scan(&task.ID, &task.Title, &task.WorkspaceID, &task.AgentID, &messages, &usage, &lastRunAt, &task.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(messages), &task.Messages); err != nil {
		return nil, fmt.Errorf("failed to decode messages of task %d: %w", id, err)
	}
	if err := json.Unmarshal([]byte(usage), &task.Usage); err != nil {
		return nil, fmt.Errorf("failed to decode usage of task %d: %w", id, err)
	}
	if lastRunAt.Valid {
		t := time.Unix(lastRunAt.Int64, 0)
		task.LastRunAt = &t
	}
	return &task, nil
}

// UpdateTaskAgent rebinds a task to another agent.
func (s *SQLiteStore) UpdateTaskAgent(ctx context.Context, taskID, agentID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET agent_id = ? WHERE id = ?`, agentID, taskID)
	return err
}

// UpdateTaskTitle renames a task.
func (s *SQLiteStore) UpdateTaskTitle(ctx context.Context, taskID int64, title string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET title = ? WHERE id = ?`, title, taskID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %d not found", taskID)
	}
	return nil
}

// LoadTask returns the history, usage and agent binding of a task.
func (s *SQLiteStore) LoadTask(ctx context.Context, taskID int64) (*domain.TaskState, error) {
	task, err := s.GetTask(ctx, taskID)
	if err != nil || task == nil {
		return nil, err
	}
	ws, err := s.GetWorkspace(ctx, task.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get workspace: %w", err)
	}
	if ws == nil {
		return nil, fmt.Errorf("workspace %d not found", task.WorkspaceID)
	}
	agent, err := s.GetAgent(ctx, task.AgentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	if agent == nil {
		return nil, fmt.Errorf("agent %d not found", task.AgentID)
	}

	usage := task.Usage
	usage.MaxTokens = agent.Model.ContextSize
	return &domain.TaskState{
		TaskID:   task.ID,
		Title:    task.Title,
		Messages: task.Messages,
		Usage:    usage,
		Binding:  domain.AgentBinding{Workspace: *ws, Agent: *agent},
	}, nil
}

// SaveTask writes the history and usage of a task.
func (s *SQLiteStore) SaveTask(ctx context.Context, taskID int64, snap domain.TaskSnapshot) error {
	messages, err := json.Marshal(snap.Messages)
	if err != nil {
		return fmt.Errorf("failed to marshal messages: %w", err)
	}
	usage, err := json.Marshal(snap.Usage)
	if err != nil {
		return fmt.Errorf("failed to marshal usage: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET messages = ?, usage = ?, last_run_at = ? WHERE id = ?`,
		string(messages), string(usage), snap.LastRunAt.Unix(), taskID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %d not found", taskID)
	}
	return nil
}
