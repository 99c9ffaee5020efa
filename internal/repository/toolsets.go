package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/xiaot623/gogo/agentd/internal/domain"
)

const toolsetColumns = `id, internal_key, name, type, params, is_enabled, source`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToolset(row rowScanner) (*domain.ToolsetConfig, error) {
	var ts domain.ToolsetConfig
	var params string
	if err := row.Scan(&ts.ID, &ts.InternalKey, &ts.Name, &ts.Type, &params, &ts.IsEnabled, &ts.Source); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(params), &ts.Params); err != nil {
		return nil, fmt.Errorf("failed to decode params of toolset %s: %w", ts.InternalKey, err)
	}
	return &ts, nil
}

// ListToolsets returns every toolset with its tools.
func (s *SQLiteStore) ListToolsets(ctx context.Context) ([]domain.ToolsetConfig, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+toolsetColumns+` FROM toolsets ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	var toolsets []domain.ToolsetConfig
	for rows.Next() {
		ts, err := scanToolset(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		toolsets = append(toolsets, *ts)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range toolsets {
		tools, err := s.listTools(ctx, toolsets[i].ID)
		if err != nil {
			return nil, err
		}
		toolsets[i].Tools = tools
	}
	return toolsets, nil
}

// GetToolsetByKey retrieves a toolset with its tools by internal key.
func (s *SQLiteStore) GetToolsetByKey(ctx context.Context, key string) (*domain.ToolsetConfig, error) {
	ts, err := scanToolset(s.db.QueryRowContext(ctx,
		`SELECT `+toolsetColumns+` FROM toolsets WHERE internal_key = ?`, key))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if ts.Tools, err = s.listTools(ctx, ts.ID); err != nil {
		return nil, err
	}
	return ts, nil
}

func (s *SQLiteStore) listTools(ctx context.Context, toolsetID int64) ([]domain.ToolConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, toolset_id, internal_key, name, description, is_enabled, auto_approve
		 FROM tools WHERE toolset_id = ? ORDER BY id ASC`, toolsetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tools []domain.ToolConfig
	for rows.Next() {
		var t domain.ToolConfig
		if err := rows.Scan(&t.ID, &t.ToolsetID, &t.InternalKey, &t.Name, &t.Description, &t.IsEnabled, &t.AutoApprove); err != nil {
			return nil, err
		}
		tools = append(tools, t)
	}
	return tools, rows.Err()
}

// UpsertToolset inserts a toolset or updates name, type, params and source
// of the existing one with the same internal key. Enablement is only set on insert.
func (s *SQLiteStore) UpsertToolset(ctx context.Context, ts *domain.ToolsetConfig) error {
	params, err := json.Marshal(ts.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}
	source := ts.Source
	if source == "" {
		source = domain.SourceAPI
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO toolsets (internal_key, name, type, params, is_enabled, source) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(internal_key) DO UPDATE SET name = excluded.name, type = excluded.type,
		 params = excluded.params, source = excluded.source`,
		ts.InternalKey, ts.Name, ts.Type, string(params), ts.IsEnabled, source)
	if err != nil {
		return err
	}
	return s.db.QueryRowContext(ctx, `SELECT id, is_enabled FROM toolsets WHERE internal_key = ?`, ts.InternalKey).
		Scan(&ts.ID, &ts.IsEnabled)
}

// DeleteToolset removes a toolset and its tools.
func (s *SQLiteStore) DeleteToolset(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM toolsets WHERE internal_key = ?`, key)
	return err
}

// SetToolsetEnabled toggles a toolset. It returns false if the key is unknown.
func (s *SQLiteStore) SetToolsetEnabled(ctx context.Context, key string, enabled bool) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE toolsets SET is_enabled = ? WHERE internal_key = ?`, enabled, key)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// UpdateTool changes the flags of one tool. Nil flags are left untouched.
// It returns false if the tool is unknown.
func (s *SQLiteStore) UpdateTool(ctx context.Context, toolsetKey, toolKey string, isEnabled, autoApprove *bool) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tools SET
			is_enabled = COALESCE(?, is_enabled),
			auto_approve = COALESCE(?, auto_approve)
		 WHERE internal_key = ? AND toolset_id = (SELECT id FROM toolsets WHERE internal_key = ?)`,
		nullBool(isEnabled), nullBool(autoApprove), toolKey, toolsetKey)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SyncToolset merges the advertised tools of a toolset into its stored tools.
// New keys are inserted enabled, removed keys are deleted and existing keys
// keep their flags.
func (s *SQLiteStore) SyncToolset(ctx context.Context, toolsetID int64, specs []domain.ToolSpec) ([]domain.ToolConfig, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	existing := make(map[string]bool)
	rows, err := tx.QueryContext(ctx, `SELECT internal_key FROM tools WHERE toolset_id = ?`, toolsetID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			rows.Close()
			return nil, err
		}
		existing[key] = true
	}
	rows.Close()

	advertised := make(map[string]bool, len(specs))
	for _, spec := range specs {
		advertised[spec.InternalKey] = true
		if existing[spec.InternalKey] {
			if _, err := tx.ExecContext(ctx,
				`UPDATE tools SET name = ?, description = ? WHERE toolset_id = ? AND internal_key = ?`,
				spec.Name, spec.Description, toolsetID, spec.InternalKey); err != nil {
				return nil, fmt.Errorf("failed to update tool %s: %w", spec.InternalKey, err)
			}
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tools (toolset_id, internal_key, name, description, is_enabled, auto_approve) VALUES (?, ?, ?, ?, 1, ?)`,
			toolsetID, spec.InternalKey, spec.Name, spec.Description, spec.DefaultAutoApprove); err != nil {
			return nil, fmt.Errorf("failed to insert tool %s: %w", spec.InternalKey, err)
		}
	}
	for key := range existing {
		if advertised[key] {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM tools WHERE toolset_id = ? AND internal_key = ?`, toolsetID, key); err != nil {
			return nil, fmt.Errorf("failed to delete tool %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return s.listTools(ctx, toolsetID)
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}
