// Package toolset owns every tool capability available to tasks: the
// built-in registry plus external tool servers.
package toolset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"regexp"
	"sync"
	"time"

	"github.com/xiaot623/gogo/agentd/internal/adapter/mcp"
	"github.com/xiaot623/gogo/agentd/internal/domain"
	"github.com/xiaot623/gogo/agentd/internal/tools"
)

// NameSeparator joins a toolset key and a tool name in model-facing names.
const NameSeparator = "__"

// ConfigStore is the persisted toolset configuration the manager reads.
type ConfigStore interface {
	ListToolsets(ctx context.Context) ([]domain.ToolsetConfig, error)
	UpsertToolset(ctx context.Context, ts *domain.ToolsetConfig) error
	DeleteToolset(ctx context.Context, key string) error
	SetToolsetEnabled(ctx context.Context, key string, enabled bool) (bool, error)
	UpdateTool(ctx context.Context, toolsetKey, toolKey string, isEnabled, autoApprove *bool) (bool, error)
	SyncToolset(ctx context.Context, toolsetID int64, specs []domain.ToolSpec) ([]domain.ToolConfig, error)
}

// ExternalClient is one connection to an external tool server.
type ExternalClient interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Status() (domain.ToolsetStatus, error)
	Tools() []domain.ToolSpec
	ListTools(ctx context.Context) ([]domain.ToolSpec, error)
	CallTool(ctx context.Context, name string, args json.RawMessage) (string, error)
}

// ClientFactory builds the client for an external toolset.
type ClientFactory func(cfg domain.ToolsetConfig) ExternalClient

// DefaultClientFactory builds MCP clients.
func DefaultClientFactory(cfg domain.ToolsetConfig) ExternalClient {
	return mcp.NewClient(cfg.InternalKey, cfg.Type, cfg.Params)
}

// ErrToolsetNotFound is returned by admin operations on unknown keys.
var ErrToolsetNotFound = errors.New("toolset not found")

// Option configures a Manager.
type Option func(*Manager)

// WithClientFactory overrides how external clients are built.
func WithClientFactory(f ClientFactory) Option {
	return func(m *Manager) { m.newClient = f }
}

// WithConnectTimeout bounds each external connection attempt.
func WithConnectTimeout(d time.Duration) Option {
	return func(m *Manager) { m.connectTimeout = d }
}

// WithRegistry replaces the built-in registry.
func WithRegistry(r *tools.Registry) Option {
	return func(m *Manager) { m.registry = r }
}

// Manager coordinates built-in and external toolsets.
type Manager struct {
	store          ConfigStore
	registry       *tools.Registry
	newClient      ClientFactory
	connectTimeout time.Duration

	mu      sync.RWMutex
	configs []domain.ToolsetConfig
	clients map[string]ExternalClient
}

// NewManager creates a manager. Call Initialize before use.
func NewManager(store ConfigStore, opts ...Option) *Manager {
	m := &Manager{
		store:          store,
		registry:       tools.DefaultRegistry,
		newClient:      DefaultClientFactory,
		connectTimeout: 30 * time.Second,
		clients:        make(map[string]ExternalClient),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initialize persists the built-in toolsets, loads all configuration and
// builds one client per external toolset. No server is contacted.
func (m *Manager) Initialize(ctx context.Context) error {
	for _, ts := range m.registry.Toolsets() {
		cfg := &domain.ToolsetConfig{
			InternalKey: ts.Name,
			Name:        ts.Name,
			Type:        domain.ToolsetTypeBuiltin,
			IsEnabled:   true,
			Source:      domain.SourceBuiltin,
		}
		if err := m.store.UpsertToolset(ctx, cfg); err != nil {
			return fmt.Errorf("failed to store toolset %s: %w", ts.Name, err)
		}
		if _, err := m.store.SyncToolset(ctx, cfg.ID, ts.Specs()); err != nil {
			return fmt.Errorf("failed to sync toolset %s: %w", ts.Name, err)
		}
	}

	configs, err := m.store.ListToolsets(ctx)
	if err != nil {
		return fmt.Errorf("failed to load toolsets: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs = configs
	for _, cfg := range configs {
		if cfg.Type.External() {
			if _, ok := m.clients[cfg.InternalKey]; !ok {
				m.clients[cfg.InternalKey] = m.newClient(cfg)
			}
		}
	}
	return nil
}

// ConnectAll connects every external client concurrently and waits for all
// attempts to settle. Failures stay on the failing client.
func (m *Manager) ConnectAll(ctx context.Context) {
	m.mu.RLock()
	targets := make(map[string]ExternalClient, len(m.clients))
	for key, c := range m.clients {
		targets[key] = c
	}
	m.mu.RUnlock()
	m.connect(ctx, targets)
}

func (m *Manager) connect(ctx context.Context, targets map[string]ExternalClient) {
	var wg sync.WaitGroup
	for key, c := range targets {
		wg.Add(1)
		go func(key string, c ExternalClient) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, m.connectTimeout)
			defer cancel()
			if err := c.Connect(cctx); err != nil {
				slog.Warn("toolset connection failed", "toolset", key, "error", err)
				return
			}
			m.syncTools(ctx, key, c.Tools())
		}(key, c)
	}
	wg.Wait()
}

// syncTools merges discovered tools into persisted configuration.
func (m *Manager) syncTools(ctx context.Context, key string, specs []domain.ToolSpec) {
	m.mu.RLock()
	var id int64
	for _, cfg := range m.configs {
		if cfg.InternalKey == key {
			id = cfg.ID
		}
	}
	m.mu.RUnlock()
	if id == 0 {
		return
	}

	stored, err := m.store.SyncToolset(ctx, id, specs)
	if err != nil {
		slog.Warn("failed to sync toolset tools", "toolset", key, "error", err)
		return
	}
	m.mu.Lock()
	for i := range m.configs {
		if m.configs[i].InternalKey == key {
			m.configs[i].Tools = stored
		}
	}
	m.mu.Unlock()
	slog.Info("toolset connected", "toolset", key, "tools", len(stored))
}

// DisconnectAll tears down every external client concurrently. Errors are
// logged and swallowed.
func (m *Manager) DisconnectAll(ctx context.Context) {
	m.mu.RLock()
	targets := make(map[string]ExternalClient, len(m.clients))
	for key, c := range m.clients {
		targets[key] = c
	}
	m.mu.RUnlock()
	disconnect(ctx, targets)
}

func disconnect(ctx context.Context, targets map[string]ExternalClient) {
	var wg sync.WaitGroup
	for key, c := range targets {
		wg.Add(1)
		go func(key string, c ExternalClient) {
			defer wg.Done()
			if err := c.Disconnect(ctx); err != nil {
				slog.Warn("toolset disconnect failed", "toolset", key, "error", err)
			}
		}(key, c)
	}
	wg.Wait()
}

// RefreshMetadata re-reads persisted configuration. Connected clients get
// their tool lists merged without reconnecting, new external toolsets are
// connected, changed ones reconnected and removed ones disconnected.
func (m *Manager) RefreshMetadata(ctx context.Context) error {
	configs, err := m.store.ListToolsets(ctx)
	if err != nil {
		return fmt.Errorf("failed to load toolsets: %w", err)
	}

	m.mu.Lock()
	previous := make(map[string]domain.ToolsetConfig, len(m.configs))
	for _, cfg := range m.configs {
		previous[cfg.InternalKey] = cfg
	}
	m.configs = configs

	added := make(map[string]ExternalClient)
	removed := make(map[string]ExternalClient)
	connected := make(map[string]ExternalClient)
	seen := make(map[string]bool)
	for _, cfg := range configs {
		if !cfg.Type.External() {
			continue
		}
		seen[cfg.InternalKey] = true
		c, ok := m.clients[cfg.InternalKey]
		prev, hadPrev := previous[cfg.InternalKey]
		if ok && hadPrev && (prev.Type != cfg.Type || !reflect.DeepEqual(prev.Params, cfg.Params)) {
			removed[cfg.InternalKey+"#old"] = c
			ok = false
		}
		if !ok {
			c = m.newClient(cfg)
			m.clients[cfg.InternalKey] = c
			added[cfg.InternalKey] = c
			continue
		}
		if status, _ := c.Status(); status == domain.ToolsetStatusConnected {
			connected[cfg.InternalKey] = c
		}
	}
	for key, c := range m.clients {
		if !seen[key] {
			removed[key] = c
			delete(m.clients, key)
		}
	}
	m.mu.Unlock()

	disconnect(ctx, removed)

	var wg sync.WaitGroup
	for key, c := range connected {
		wg.Add(1)
		go func(key string, c ExternalClient) {
			defer wg.Done()
			specs, err := c.ListTools(ctx)
			if err != nil {
				slog.Warn("failed to list toolset tools", "toolset", key, "error", err)
				specs = c.Tools()
			}
			m.syncTools(ctx, key, specs)
		}(key, c)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.connect(ctx, added)
	}()
	wg.Wait()
	return nil
}

// reload re-reads configuration without touching connections.
func (m *Manager) reload(ctx context.Context) error {
	configs, err := m.store.ListToolsets(ctx)
	if err != nil {
		return fmt.Errorf("failed to load toolsets: %w", err)
	}
	m.mu.Lock()
	m.configs = configs
	m.mu.Unlock()
	return nil
}

// ActiveToolCapabilities returns the enabled tools of enabled toolsets.
// External tools are only listed while their server is connected.
func (m *Manager) ActiveToolCapabilities() []domain.ToolCapability {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var caps []domain.ToolCapability
	for i := range m.configs {
		cfg := &m.configs[i]
		if !cfg.IsEnabled {
			continue
		}
		prefix := sanitize(cfg.InternalKey) + NameSeparator

		if cfg.Type == domain.ToolsetTypeBuiltin {
			ts, ok := m.registry.Get(cfg.InternalKey)
			if !ok {
				continue
			}
			for _, t := range ts.Tools {
				tc, ok := cfg.Tool(t.Name)
				if !ok || !tc.IsEnabled {
					continue
				}
				caps = append(caps, domain.ToolCapability{
					Name:                 prefix + t.Name,
					Description:          t.Description,
					Parameters:           t.Parameters,
					AutoApprove:          tc.AutoApprove,
					IsEnabled:            true,
					InternalKey:          tc.InternalKey,
					Toolset:              cfg.InternalKey,
					ToolName:             t.Name,
					RequiresUserResponse: t.RequiresUserResponse,
				})
			}
			continue
		}

		c, ok := m.clients[cfg.InternalKey]
		if !ok {
			continue
		}
		if status, _ := c.Status(); status != domain.ToolsetStatusConnected {
			continue
		}
		for _, spec := range c.Tools() {
			tc, ok := cfg.Tool(spec.InternalKey)
			if !ok || !tc.IsEnabled {
				continue
			}
			caps = append(caps, domain.ToolCapability{
				Name:        prefix + sanitize(spec.Name),
				Description: spec.Description,
				Parameters:  spec.Parameters,
				AutoApprove: tc.AutoApprove,
				IsEnabled:   true,
				InternalKey: tc.InternalKey,
				Toolset:     cfg.InternalKey,
				ToolName:    spec.Name,
			})
		}
	}
	return caps
}

// Lookup finds an active capability by its model-facing name.
func (m *Manager) Lookup(name string) (domain.ToolCapability, bool) {
	for _, c := range m.ActiveToolCapabilities() {
		if c.Name == name {
			return c, true
		}
	}
	return domain.ToolCapability{}, false
}

// Execute runs a capability with raw JSON arguments.
func (m *Manager) Execute(ctx context.Context, capability domain.ToolCapability, env tools.Env, arguments string) (string, error) {
	if _, ok := m.registry.Get(capability.Toolset); ok {
		return m.registry.Execute(ctx, capability.Toolset, capability.ToolName, env, json.RawMessage(arguments))
	}
	m.mu.RLock()
	c, ok := m.clients[capability.Toolset]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrToolsetNotFound, capability.Toolset)
	}
	return c.CallTool(ctx, capability.ToolName, json.RawMessage(arguments))
}

// Statuses reports every toolset with its connection status.
func (m *Manager) Statuses() []domain.ToolsetState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make([]domain.ToolsetState, 0, len(m.configs))
	for _, cfg := range m.configs {
		state := domain.ToolsetState{ToolsetConfig: cfg, Status: domain.ToolsetStatusConnected}
		if c, ok := m.clients[cfg.InternalKey]; ok {
			status, cause := c.Status()
			state.Status = status
			if cause != nil {
				state.Error = cause.Error()
			}
		}
		states = append(states, state)
	}
	return states
}

// SetToolsetEnabled toggles a toolset. It takes effect on the next turn.
func (m *Manager) SetToolsetEnabled(ctx context.Context, key string, enabled bool) error {
	ok, err := m.store.SetToolsetEnabled(ctx, key, enabled)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrToolsetNotFound, key)
	}
	return m.reload(ctx)
}

// UpdateTool changes a tool's enablement or auto-approve flag.
func (m *Manager) UpdateTool(ctx context.Context, key, toolKey string, isEnabled, autoApprove *bool) error {
	ok, err := m.store.UpdateTool(ctx, key, toolKey, isEnabled, autoApprove)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrToolsetNotFound, key, toolKey)
	}
	return m.reload(ctx)
}

var invalidNameChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// sanitize makes a name acceptable as a model function name.
func sanitize(name string) string {
	return invalidNameChars.ReplaceAllString(name, "_")
}
