package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/agentd/internal/adapter/llm"
	"github.com/xiaot623/gogo/agentd/internal/config"
	"github.com/xiaot623/gogo/agentd/internal/domain"
	"github.com/xiaot623/gogo/agentd/internal/service"
	"github.com/xiaot623/gogo/agentd/internal/toolset"
	"github.com/xiaot623/gogo/agentd/policy"
	"github.com/xiaot623/gogo/agentd/tests/helpers"
)

type frame struct {
	Event domain.EventName `json:"event"`
	Data  json.RawMessage  `json:"data"`
}

func newTestServer(t *testing.T, client *llm.MockClient) (string, *domain.Task) {
	t.Helper()
	return newTestServerWith(t, client, DefaultConfig())
}

func newTestServerWith(t *testing.T, client *llm.MockClient, cfg Config) (string, *domain.Task) {
	t.Helper()
	ctx := context.Background()
	db := helpers.NewTestSQLiteStore(t)
	task := helpers.SeedTask(t, db, t.TempDir())
	manager := toolset.NewManager(db)
	require.NoError(t, manager.Initialize(ctx))
	engine, err := policy.Load(ctx, "")
	require.NoError(t, err)
	factory := func(domain.ModelBinding) (llm.Client, error) { return client, nil }
	svc := service.New(db, manager, nil, factory, engine, &config.Config{MaxToolCallsPerTurn: 1})

	e := echo.New()
	e.GET("/v1/tasks/:task_id/ws", NewServer(svc, cfg).HandleTask)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), task
}

func dial(t *testing.T, base string, taskID int64) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(base+"/v1/tasks/"+strconv.FormatInt(taskID, 10)+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, stop domain.EventName) []frame {
	t.Helper()
	var frames []frame
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var f frame
		require.NoError(t, conn.ReadJSON(&f))
		frames = append(frames, f)
		if f.Event == stop {
			return frames
		}
	}
}

func TestContinueOverWebSocket(t *testing.T) {
	client := llm.NewMockClient(
		llm.MockResponse{ToolCalls: []domain.ToolCall{{ID: "c1", Name: "UserInteraction__ask_user", Arguments: `{"question":"Which?"}`}}},
		llm.MockResponse{Content: "Got it."},
	)
	base, task := newTestServer(t, client)
	conn := dial(t, base, task.ID)
	watcher := dial(t, base, task.ID)

	require.NoError(t, conn.WriteJSON(domain.Command{Type: domain.CommandContinue, Message: &domain.UserInput{Content: "hello"}}))
	frames := readUntil(t, conn, domain.EventTaskDone)
	assert.Equal(t, domain.EventMessageStart, frames[0].Event)
	assert.Equal(t, domain.EventToolRequireUserResponse, frames[len(frames)-2].Event)
	assert.JSONEq(t, `{"tool_call_id":"c1","tool_name":"ask_user"}`, string(frames[len(frames)-2].Data))

	// Other clients of the task see the same events.
	watched := readUntil(t, watcher, domain.EventTaskDone)
	assert.Len(t, watched, len(frames))

	require.NoError(t, conn.WriteJSON(domain.Command{Type: domain.CommandToolAnswer, ToolCallID: "c1", Answer: "the first"}))
	frames = readUntil(t, conn, domain.EventTaskDone)
	assert.Equal(t, domain.EventMessageReplace, frames[0].Event)
}

func TestLongReviewedToolKeepsConnection(t *testing.T) {
	client := llm.NewMockClient(
		llm.MockResponse{ToolCalls: []domain.ToolCall{{ID: "c1", Name: "OsInteractions__shell", Arguments: `{"command":"sleep","args":["1"]}`}}},
		llm.MockResponse{Content: "Slept."},
	)
	cfg := Config{
		PingInterval:   100 * time.Millisecond,
		ReadTimeout:    300 * time.Millisecond,
		WriteTimeout:   time.Second,
		MaxMessageSize: 1 << 20,
	}
	base, task := newTestServerWith(t, client, cfg)
	conn := dial(t, base, task.ID)

	require.NoError(t, conn.WriteJSON(domain.Command{Type: domain.CommandContinue, Message: &domain.UserInput{Content: "nap"}}))
	frames := readUntil(t, conn, domain.EventTaskDone)
	assert.Equal(t, domain.EventToolRequirePermission, frames[len(frames)-2].Event)

	// The tool outlives ReadTimeout. The client answers pings while it waits.
	require.NoError(t, conn.WriteJSON(domain.Command{Type: domain.CommandToolReview, ToolCallID: "c1", Status: domain.ApprovalStatusApproved}))
	frames = readUntil(t, conn, domain.EventTaskDone)
	var got []domain.EventName
	for _, f := range frames {
		got = append(got, f.Event)
	}
	assert.Equal(t, domain.EventMessageReplace, got[0])
	assert.Equal(t, domain.EventToolExecuted, got[1])
	assert.Contains(t, string(frames[1].Data), "Current directory")
	assert.NotContains(t, got, domain.EventTaskInterrupted)
}

func TestWebSocketErrors(t *testing.T) {
	base, task := newTestServer(t, llm.NewMockClient())
	conn := dial(t, base, task.ID)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{oops")))
	frames := readUntil(t, conn, domain.EventError)
	assert.Contains(t, string(frames[0].Data), "invalid JSON command")

	require.NoError(t, conn.WriteJSON(domain.Command{Type: "dance"}))
	frames = readUntil(t, conn, domain.EventError)
	assert.Contains(t, string(frames[0].Data), "unknown command type")

	require.NoError(t, conn.WriteJSON(domain.Command{Type: domain.CommandStop}))
	frames = readUntil(t, conn, domain.EventError)
	assert.Contains(t, string(frames[0].Data), "not running")

	require.NoError(t, conn.WriteJSON(domain.Command{Type: domain.CommandToolReview, ToolCallID: "x", Status: domain.ApprovalStatusApproved}))
	frames = readUntil(t, conn, domain.EventError)
	assert.Contains(t, string(frames[0].Data), "not found")
}

func TestWebSocketUnknownTask(t *testing.T) {
	base, _ := newTestServer(t, llm.NewMockClient())
	_, resp, err := websocket.DefaultDialer.Dial(base+"/v1/tasks/999/ws", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHubUnregisterIsIdempotent(t *testing.T) {
	h := NewHub()
	conn := newConnection(1, nil)
	h.Register(conn)
	assert.Equal(t, 1, h.ConnectionCount())
	h.Unregister(conn)
	h.Unregister(conn)
	assert.Equal(t, 0, h.ConnectionCount())
	assert.Error(t, h.SendTo(conn, []byte("x")))
	assert.Error(t, conn.ctx.Err())
}
