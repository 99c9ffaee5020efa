// Package mcp connects to external tool servers speaking the Model Context
// Protocol.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/xiaot623/gogo/agentd/internal/domain"
)

const (
	clientName    = "agentd"
	clientVersion = "1.0.0"

	TransportStreamable = "streamable"
	TransportSSE        = "sse"
)

// TransportFactory builds the transport used to reach a server.
type TransportFactory func(ctx context.Context, typ domain.ToolsetType, params domain.ServerParams) (mcpsdk.Transport, error)

// Option configures a Client.
type Option func(*Client)

// WithTransportFactory overrides how transports are built.
func WithTransportFactory(f TransportFactory) Option {
	return func(c *Client) {
		c.newTransport = f
	}
}

// ToolError is returned when the server reports a failed tool call.
type ToolError struct {
	Tool    string
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s failed: %s", e.Tool, e.Message)
}

// ErrNotConnected is returned by operations that need an open session.
var ErrNotConnected = errors.New("toolset is not connected")

// Client wraps one external tool server.
type Client struct {
	name         string
	typ          domain.ToolsetType
	params       domain.ServerParams
	newTransport TransportFactory

	mu      sync.RWMutex
	status  domain.ToolsetStatus
	cause   error
	session *mcpsdk.ClientSession
	tools   []domain.ToolSpec
}

// NewClient creates a client in the Connecting state. No connection is
// attempted until Connect is called.
func NewClient(name string, typ domain.ToolsetType, params domain.ServerParams, opts ...Option) *Client {
	c := &Client{
		name:         name,
		typ:          typ,
		params:       params,
		newTransport: DefaultTransport,
		status:       domain.ToolsetStatusConnecting,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string { return c.name }

// Params returns the server parameters the client was built with.
func (c *Client) Params() domain.ServerParams { return c.params }

// Status reports the connection status and, for the Error status, its cause.
func (c *Client) Status() (domain.ToolsetStatus, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status, c.cause
}

// Tools returns the tools listed by the last successful listing.
func (c *Client) Tools() []domain.ToolSpec {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]domain.ToolSpec(nil), c.tools...)
}

// Connect opens the session and performs an initial tool listing. A failure
// is stored as the Error status and also returned.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.status, c.cause = domain.ToolsetStatusConnecting, nil
	c.mu.Unlock()

	err := c.connect(ctx)
	if err != nil {
		c.mu.Lock()
		c.status, c.cause = domain.ToolsetStatusError, err
		c.mu.Unlock()
	}
	return err
}

func (c *Client) connect(ctx context.Context) error {
	transport, err := c.newTransport(ctx, c.typ, c.params)
	if err != nil {
		return fmt.Errorf("build transport: %w", err)
	}
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: clientName, Version: clientVersion}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w", c.name, err)
	}
	tools, err := listTools(ctx, session)
	if err != nil {
		_ = session.Close()
		return fmt.Errorf("list tools of %s: %w", c.name, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		_ = c.session.Close()
	}
	c.session = session
	c.tools = tools
	c.status = domain.ToolsetStatusConnected
	return nil
}

// ListTools re-reads the server's advertised tools.
func (c *Client) ListTools(ctx context.Context) ([]domain.ToolSpec, error) {
	c.mu.RLock()
	session := c.session
	c.mu.RUnlock()
	if session == nil {
		return nil, ErrNotConnected
	}
	tools, err := listTools(ctx, session)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.tools = tools
	c.mu.Unlock()
	return tools, nil
}

func listTools(ctx context.Context, session *mcpsdk.ClientSession) ([]domain.ToolSpec, error) {
	var specs []domain.ToolSpec
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			return nil, err
		}
		if tool == nil {
			continue
		}
		specs = append(specs, domain.ToolSpec{
			Name:        tool.Name,
			InternalKey: tool.Name,
			Description: tool.Description,
			Parameters:  schemaMap(tool.InputSchema),
		})
	}
	return specs, nil
}

func schemaMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return map[string]any{"type": "object"}
	}
	return m
}

// CallTool invokes a tool and returns its text content.
func (c *Client) CallTool(ctx context.Context, name string, args json.RawMessage) (string, error) {
	c.mu.RLock()
	session := c.session
	c.mu.RUnlock()
	if session == nil {
		return "", ErrNotConnected
	}

	arguments := map[string]any{}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &arguments); err != nil {
			return "", fmt.Errorf("invalid arguments for %s: %w", name, err)
		}
	}
	res, err := session.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: arguments})
	if err != nil {
		return "", err
	}
	text := contentText(res)
	if res.IsError {
		return "", &ToolError{Tool: name, Message: text}
	}
	return text, nil
}

func contentText(res *mcpsdk.CallToolResult) string {
	if res == nil {
		return ""
	}
	parts := make([]string, 0, len(res.Content))
	for _, content := range res.Content {
		switch v := content.(type) {
		case *mcpsdk.TextContent:
			parts = append(parts, v.Text)
		default:
			raw, err := json.Marshal(v)
			if err == nil {
				parts = append(parts, string(raw))
			}
		}
	}
	return strings.Join(parts, "\n")
}

// Disconnect closes the session. It is safe to call on a client that never
// connected.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	session := c.session
	c.session = nil
	c.status, c.cause = domain.ToolsetStatusDisconnected, nil
	c.mu.Unlock()
	if session == nil {
		return nil
	}
	return session.Close()
}

// DefaultTransport launches local servers as subprocesses over stdio and
// reaches remote servers over streamable HTTP or SSE.
func DefaultTransport(ctx context.Context, typ domain.ToolsetType, params domain.ServerParams) (mcpsdk.Transport, error) {
	switch typ {
	case domain.ToolsetTypeMCPLocal:
		if strings.TrimSpace(params.Command) == "" {
			return nil, errors.New("command is required for a local server")
		}
		// The process outlives the connect context.
		cmd := exec.Command(params.Command, params.Args...) // #nosec G204
		cmd.Dir = params.Dir
		cmd.Env = os.Environ()
		for k, v := range params.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		return &mcpsdk.CommandTransport{Command: cmd}, nil
	case domain.ToolsetTypeMCPRemote:
		if strings.TrimSpace(params.URL) == "" {
			return nil, errors.New("url is required for a remote server")
		}
		httpClient := &http.Client{Transport: &headerTransport{headers: params.Headers, base: http.DefaultTransport}}
		if strings.EqualFold(params.Transport, TransportSSE) {
			return &mcpsdk.SSEClientTransport{Endpoint: params.URL, HTTPClient: httpClient}, nil
		}
		return &mcpsdk.StreamableClientTransport{Endpoint: params.URL, HTTPClient: httpClient}, nil
	default:
		return nil, fmt.Errorf("unsupported toolset type %q", typ)
	}
}

type headerTransport struct {
	headers map[string]string
	base    http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if len(t.headers) == 0 {
		return t.base.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	return t.base.RoundTrip(req)
}
