// Package ws streams task events to WebSocket clients and accepts their
// commands.
package ws

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrBufferFull is returned when a connection cannot keep up.
var ErrBufferFull = errors.New("connection send buffer full")

// Connection is one WebSocket client watching a task.
type Connection struct {
	ID     string
	TaskID int64
	Conn   *websocket.Conn
	send   chan []byte

	// ctx ends when the client goes away; runs started by the client use it.
	ctx    context.Context
	cancel context.CancelFunc
}

func newConnection(taskID int64, conn *websocket.Conn) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		ID:     uuid.New().String(),
		TaskID: taskID,
		Conn:   conn,
		send:   make(chan []byte, 256),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Hub tracks connections per task.
type Hub struct {
	mu    sync.RWMutex
	tasks map[int64]map[string]*Connection
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{tasks: make(map[int64]map[string]*Connection)}
}

// Register adds a connection.
func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.tasks[conn.TaskID] == nil {
		h.tasks[conn.TaskID] = make(map[string]*Connection)
	}
	h.tasks[conn.TaskID][conn.ID] = conn
	slog.Debug("websocket connection registered", "conn_id", conn.ID, "task_id", conn.TaskID)
}

// Unregister removes a connection and closes its send channel. It is safe
// to call more than once.
func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.tasks[conn.TaskID]
	if !ok {
		return
	}
	if _, ok := conns[conn.ID]; !ok {
		return
	}
	delete(conns, conn.ID)
	if len(conns) == 0 {
		delete(h.tasks, conn.TaskID)
	}
	close(conn.send)
	conn.cancel()
	slog.Debug("websocket connection unregistered", "conn_id", conn.ID, "task_id", conn.TaskID)
}

// Broadcast sends data to every connection of a task. Connections whose
// buffer is full are dropped.
func (h *Hub) Broadcast(taskID int64, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, conn := range h.tasks[taskID] {
		select {
		case conn.send <- data:
		default:
			slog.Warn("websocket buffer full, closing", "conn_id", id)
			go h.Unregister(conn)
		}
	}
}

// SendTo sends data to one connection if it is still registered.
func (h *Hub) SendTo(conn *Connection, data []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.tasks[conn.TaskID][conn.ID]; !ok {
		return websocket.ErrCloseSent
	}
	select {
	case conn.send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// ConnectionCount returns the number of open connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, conns := range h.tasks {
		n += len(conns)
	}
	return n
}
