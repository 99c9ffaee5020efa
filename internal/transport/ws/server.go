package ws

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/agentd/internal/domain"
	"github.com/xiaot623/gogo/agentd/internal/service"
)

// Config tunes connection keepalive.
type Config struct {
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64
}

// DefaultConfig returns the keepalive settings used by agentd.
func DefaultConfig() Config {
	return Config{
		PingInterval:   30 * time.Second,
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 1 << 20,
	}
}

// Server handles WebSocket connections.
type Server struct {
	service  *service.Service
	hub      *Hub
	cfg      Config
	upgrader websocket.Upgrader
}

// NewServer creates a new WebSocket server.
func NewServer(svc *service.Service, cfg Config) *Server {
	return &Server{
		service: svc,
		hub:     NewHub(),
		cfg:     cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Local desktop clients connect from arbitrary origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Hub returns the connection hub.
func (s *Server) Hub() *Hub { return s.hub }

// HandleTask upgrades a request for GET /v1/tasks/:task_id/ws.
func (s *Server) HandleTask(c echo.Context) error {
	taskID, err := strconv.ParseInt(c.Param("task_id"), 10, 64)
	if err != nil || taskID <= 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid task_id"})
	}
	if _, err := s.service.GetTask(c.Request().Context(), taskID); err != nil {
		if errors.Is(err, service.ErrTaskNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	// Registered before the handshake completes so no event is missed
	// between the upgrade and the first read.
	conn := newConnection(taskID, nil)
	s.hub.Register(conn)
	wsConn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.hub.Unregister(conn)
		slog.Warn("failed to upgrade websocket", "error", err)
		return nil
	}
	conn.Conn = wsConn
	wsConn.SetReadLimit(s.cfg.MaxMessageSize)

	go s.writePump(conn)
	go s.readPump(conn)
	return nil
}

// commandQueueSize bounds the commands of one connection waiting to be
// handled.
const commandQueueSize = 16

// readPump reads commands until the client goes away. Commands are handled
// in order on their own goroutine, so a tool approved by a review may run
// longer than ReadTimeout while pongs keep being read.
func (s *Server) readPump(conn *Connection) {
	commands := make(chan []byte, commandQueueSize)
	go func() {
		for data := range commands {
			s.handleCommand(conn, data)
		}
	}()
	defer func() {
		close(commands)
		s.hub.Unregister(conn)
		conn.Conn.Close()
	}()

	conn.Conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.Conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("websocket read failed", "conn_id", conn.ID, "error", err)
			}
			return
		}
		select {
		case commands <- message:
		default:
			s.sendError(conn, "too many pending commands")
		}
	}
}

// writePump writes queued frames and pings.
func (s *Server) writePump(conn *Connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.send:
			conn.Conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				conn.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				slog.Warn("websocket write failed", "conn_id", conn.ID, "error", err)
				return
			}
		case <-ticker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleCommand dispatches one client command.
func (s *Server) handleCommand(conn *Connection, data []byte) {
	var cmd domain.Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		s.sendError(conn, "invalid JSON command")
		return
	}

	var (
		events <-chan domain.Event
		err    error
	)
	switch cmd.Type {
	case domain.CommandContinue:
		events, err = s.service.ContinueTask(conn.ctx, conn.TaskID, domain.ContinueTaskRequest{
			AgentID: cmd.AgentID,
			Message: cmd.Message,
		})
	case domain.CommandToolAnswer:
		events, err = s.service.AnswerTool(conn.ctx, conn.TaskID, domain.ToolAnswerRequest{
			AgentID:    cmd.AgentID,
			ToolCallID: cmd.ToolCallID,
			Answer:     cmd.Answer,
		})
	case domain.CommandToolReview:
		events, err = s.service.ReviewTool(conn.ctx, conn.TaskID, domain.ToolReviewRequest{
			AgentID:    cmd.AgentID,
			ToolCallID: cmd.ToolCallID,
			Status:     cmd.Status,
		})
	case domain.CommandStop:
		if !s.service.StopTask(conn.TaskID) {
			s.sendError(conn, "task is not running")
		}
		return
	default:
		s.sendError(conn, "unknown command type: "+cmd.Type)
		return
	}
	if err != nil {
		s.sendError(conn, err.Error())
		return
	}
	go s.fanout(conn.TaskID, events)
}

// fanout broadcasts a run's events to every client of the task.
func (s *Server) fanout(taskID int64, events <-chan domain.Event) {
	for ev := range events {
		name, payload, err := domain.EncodeEvent(ev)
		if err != nil {
			slog.Error("failed to encode event", "error", err)
			continue
		}
		data, err := json.Marshal(domain.EventFrame{Event: name, Data: json.RawMessage(payload)})
		if err != nil {
			slog.Error("failed to encode frame", "error", err)
			continue
		}
		s.hub.Broadcast(taskID, data)
	}
}

func (s *Server) sendError(conn *Connection, msg string) {
	data, _ := json.Marshal(domain.EventFrame{
		Event: domain.EventError,
		Data:  map[string]string{"message": msg},
	})
	if err := s.hub.SendTo(conn, data); err != nil {
		slog.Debug("dropping error frame", "conn_id", conn.ID, "error", err)
	}
}
