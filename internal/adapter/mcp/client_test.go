package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/agentd/internal/domain"
)

func newEchoServer() *mcpsdk.Server {
	server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "echo-server", Version: "test"}, nil)
	server.AddTool(&mcpsdk.Tool{
		Name:        "echo",
		Description: "echo text",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"text": map[string]any{"type": "string"}},
		},
	}, func(_ context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		var args map[string]any
		if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
			return nil, err
		}
		text, _ := args["text"].(string)
		if text == "" {
			return &mcpsdk.CallToolResult{IsError: true, Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "text is empty"}}}, nil
		}
		return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}}}, nil
	})
	return server
}

// inMemoryFactory serves every connect from a fresh in-memory echo server.
func inMemoryFactory(t *testing.T) TransportFactory {
	t.Helper()
	return func(ctx context.Context, _ domain.ToolsetType, _ domain.ServerParams) (mcpsdk.Transport, error) {
		clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()
		serverCtx, cancel := context.WithCancel(context.Background())
		session, err := newEchoServer().Connect(serverCtx, serverTransport, nil)
		if err != nil {
			cancel()
			return nil, err
		}
		t.Cleanup(func() {
			_ = session.Close()
			cancel()
		})
		return clientTransport, nil
	}
}

func TestClientLifecycle(t *testing.T) {
	ctx := context.Background()
	c := NewClient("Echo", domain.ToolsetTypeMCPLocal, domain.ServerParams{Command: "echo-server"}, WithTransportFactory(inMemoryFactory(t)))

	status, cause := c.Status()
	assert.Equal(t, domain.ToolsetStatusConnecting, status)
	assert.NoError(t, cause)

	require.NoError(t, c.Connect(ctx))
	status, _ = c.Status()
	assert.Equal(t, domain.ToolsetStatusConnected, status)

	tools := c.Tools()
	require.Len(t, tools, 1)
	assert.Equal(t, "echo", tools[0].InternalKey)
	assert.Equal(t, "object", tools[0].Parameters["type"])

	listed, err := c.ListTools(ctx)
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	out, err := c.CallTool(ctx, "echo", json.RawMessage(`{"text":"ping"}`))
	require.NoError(t, err)
	assert.Equal(t, "ping", out)

	_, err = c.CallTool(ctx, "echo", json.RawMessage(`{}`))
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "text is empty", toolErr.Message)

	require.NoError(t, c.Disconnect(ctx))
	status, _ = c.Status()
	assert.Equal(t, domain.ToolsetStatusDisconnected, status)

	_, err = c.CallTool(ctx, "echo", nil)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestClientConnectFailureStoresCause(t *testing.T) {
	boom := errors.New("boom")
	c := NewClient("Broken", domain.ToolsetTypeMCPRemote, domain.ServerParams{URL: "http://127.0.0.1:1"},
		WithTransportFactory(func(context.Context, domain.ToolsetType, domain.ServerParams) (mcpsdk.Transport, error) {
			return nil, boom
		}))

	err := c.Connect(context.Background())
	require.ErrorIs(t, err, boom)

	status, cause := c.Status()
	assert.Equal(t, domain.ToolsetStatusError, status)
	assert.ErrorIs(t, cause, boom)

	// Disconnecting a client that never connected is a no-op.
	assert.NoError(t, c.Disconnect(context.Background()))
}

func TestDefaultTransport(t *testing.T) {
	ctx := context.Background()

	tr, err := DefaultTransport(ctx, domain.ToolsetTypeMCPLocal, domain.ServerParams{Command: "server", Env: map[string]string{"A": "1"}})
	require.NoError(t, err)
	cmd, ok := tr.(*mcpsdk.CommandTransport)
	require.True(t, ok)
	assert.Contains(t, cmd.Command.Env, "A=1")

	tr, err = DefaultTransport(ctx, domain.ToolsetTypeMCPRemote, domain.ServerParams{URL: "http://localhost:9000/mcp"})
	require.NoError(t, err)
	assert.IsType(t, &mcpsdk.StreamableClientTransport{}, tr)

	tr, err = DefaultTransport(ctx, domain.ToolsetTypeMCPRemote, domain.ServerParams{URL: "http://localhost:9000/sse", Transport: "sse"})
	require.NoError(t, err)
	assert.IsType(t, &mcpsdk.SSEClientTransport{}, tr)

	_, err = DefaultTransport(ctx, domain.ToolsetTypeMCPLocal, domain.ServerParams{})
	assert.Error(t, err)
	_, err = DefaultTransport(ctx, domain.ToolsetTypeBuiltin, domain.ServerParams{})
	assert.Error(t, err)
}
