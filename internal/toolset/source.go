package toolset

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/xiaot623/gogo/agentd/internal/domain"
)

// FileEntry is one external toolset declared in the toolsets file.
type FileEntry struct {
	Key     string              `yaml:"key"`
	Name    string              `yaml:"name"`
	Type    domain.ToolsetType  `yaml:"type"`
	Enabled *bool               `yaml:"enabled"`
	Params  domain.ServerParams `yaml:"params"`
}

// File is the toolsets file document.
type File struct {
	Toolsets []FileEntry `yaml:"toolsets"`
}

// ParseFile decodes and validates a toolsets document.
func ParseFile(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid toolsets file: %w", err)
	}
	seen := make(map[string]bool, len(f.Toolsets))
	for i, e := range f.Toolsets {
		if e.Key == "" {
			return nil, fmt.Errorf("toolset %d: key is required", i)
		}
		if seen[e.Key] {
			return nil, fmt.Errorf("toolset %s: duplicate key", e.Key)
		}
		seen[e.Key] = true
		switch e.Type {
		case domain.ToolsetTypeMCPLocal:
			if e.Params.Command == "" {
				return nil, fmt.Errorf("toolset %s: params.command is required", e.Key)
			}
		case domain.ToolsetTypeMCPRemote:
			if e.Params.URL == "" {
				return nil, fmt.Errorf("toolset %s: params.url is required", e.Key)
			}
		default:
			return nil, fmt.Errorf("toolset %s: unsupported type %q", e.Key, e.Type)
		}
	}
	return &f, nil
}

// FileSource keeps the configuration store in line with a toolsets file.
type FileSource struct {
	path    string
	store   ConfigStore
	manager *Manager

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	cron    *cron.Cron
}

// NewFileSource creates a source for path. An empty path disables it.
func NewFileSource(path string, store ConfigStore, manager *Manager) *FileSource {
	return &FileSource{path: path, store: store, manager: manager}
}

// Sync upserts the file's toolsets and deletes file-declared toolsets that
// are no longer present. A missing file declares nothing.
func (s *FileSource) Sync(ctx context.Context) error {
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read toolsets file: %w", err)
	}
	f := &File{}
	if len(data) > 0 {
		if f, err = ParseFile(data); err != nil {
			return err
		}
	}

	declared := make(map[string]bool, len(f.Toolsets))
	for _, e := range f.Toolsets {
		declared[e.Key] = true
		name := e.Name
		if name == "" {
			name = e.Key
		}
		enabled := true
		if e.Enabled != nil {
			enabled = *e.Enabled
		}
		cfg := &domain.ToolsetConfig{
			InternalKey: e.Key,
			Name:        name,
			Type:        e.Type,
			Params:      e.Params,
			IsEnabled:   enabled,
			Source:      domain.SourceFile,
		}
		if err := s.store.UpsertToolset(ctx, cfg); err != nil {
			return fmt.Errorf("failed to store toolset %s: %w", e.Key, err)
		}
	}

	existing, err := s.store.ListToolsets(ctx)
	if err != nil {
		return fmt.Errorf("failed to load toolsets: %w", err)
	}
	for _, cfg := range existing {
		if cfg.Source == domain.SourceFile && !declared[cfg.InternalKey] {
			if err := s.store.DeleteToolset(ctx, cfg.InternalKey); err != nil {
				return fmt.Errorf("failed to delete toolset %s: %w", cfg.InternalKey, err)
			}
		}
	}
	return nil
}

// Reload syncs the file and refreshes the manager.
func (s *FileSource) Reload(ctx context.Context) error {
	if err := s.Sync(ctx); err != nil {
		return err
	}
	return s.manager.RefreshMetadata(ctx)
}

// Watch reloads on every change to the toolsets file until ctx ends. The
// parent directory is watched so that editors replacing the file are seen.
func (s *FileSource) Watch(ctx context.Context) error {
	if s.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		_ = watcher.Close()
		return err
	}
	s.mu.Lock()
	s.watcher = watcher
	s.mu.Unlock()

	target := filepath.Clean(s.path)
	go func() {
		defer watcher.Close()
		// Coalesce bursts of writes into one reload.
		var timer *time.Timer
		reload := make(chan struct{}, 1)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(200*time.Millisecond, func() {
					select {
					case reload <- struct{}{}:
					default:
					}
				})
			case <-reload:
				if err := s.Reload(ctx); err != nil {
					slog.Warn("toolsets file reload failed", "path", s.path, "error", err)
					continue
				}
				slog.Info("toolsets file reloaded", "path", s.path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("toolsets watcher error", "error", err)
			}
		}
	}()
	return nil
}

// Schedule refreshes the manager on a cron spec such as "@every 5m". An
// empty spec disables it.
func (s *FileSource) Schedule(ctx context.Context, spec string) error {
	if spec == "" {
		return nil
	}
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		if err := s.Reload(ctx); err != nil {
			slog.Warn("scheduled toolset refresh failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", spec, err)
	}
	c.Start()
	s.mu.Lock()
	s.cron = c
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.Stop()
	}()
	return nil
}

// Close stops the watcher and the schedule.
func (s *FileSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
	}
	if s.watcher != nil {
		err := s.watcher.Close()
		s.watcher = nil
		return err
	}
	return nil
}
