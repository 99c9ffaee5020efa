package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/agentd/internal/domain"
)

// CreateTask creates a task.
// POST /v1/tasks
func (h *Handler) CreateTask(c echo.Context) error {
	var req domain.CreateTaskRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	if req.WorkspaceID == 0 || req.AgentID == 0 {
		return errorJSON(c, http.StatusBadRequest, "workspace_id and agent_id are required")
	}

	task, err := h.service.CreateTask(c.Request().Context(), req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, task)
}

// GetTask returns a task with its history.
// GET /v1/tasks/:task_id
func (h *Handler) GetTask(c echo.Context) error {
	id, err := taskID(c)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	task, err := h.service.GetTask(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"task":    task,
		"running": h.service.IsRunning(id),
	})
}

// ContinueTask runs a task and streams its events.
// POST /v1/tasks/:task_id/continue
func (h *Handler) ContinueTask(c echo.Context) error {
	id, err := taskID(c)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	var req domain.ContinueTaskRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}

	events, err := h.service.ContinueTask(c.Request().Context(), id, req)
	if err != nil {
		return writeError(c, err)
	}
	return streamEvents(c, events)
}

// AnswerTool answers an ask_user or finish_task call and streams the
// resumed run.
// POST /v1/tasks/:task_id/tool_answer
func (h *Handler) AnswerTool(c echo.Context) error {
	id, err := taskID(c)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	var req domain.ToolAnswerRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}

	events, err := h.service.AnswerTool(c.Request().Context(), id, req)
	if err != nil {
		return writeError(c, err)
	}
	return streamEvents(c, events)
}

// ReviewTool approves or denies a tool call and streams the resumed run.
// POST /v1/tasks/:task_id/tool_reviews
func (h *Handler) ReviewTool(c echo.Context) error {
	id, err := taskID(c)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	var req domain.ToolReviewRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}

	events, err := h.service.ReviewTool(c.Request().Context(), id, req)
	if err != nil {
		return writeError(c, err)
	}
	return streamEvents(c, events)
}

// StopTask stops a running task.
// POST /v1/tasks/:task_id/stop
func (h *Handler) StopTask(c echo.Context) error {
	id, err := taskID(c)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, domain.StopTaskResponse{Stopped: h.service.StopTask(id)})
}
