// Package v1 provides the /v1 HTTP handlers of agentd.
package v1

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/agentd/internal/domain"
	"github.com/xiaot623/gogo/agentd/internal/service"
	"github.com/xiaot623/gogo/agentd/internal/toolset"
)

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
}

// NewHandler creates a new handler.
func NewHandler(service *service.Service) *Handler {
	return &Handler{
		service: service,
	}
}

// RegisterRoutes registers the /v1 routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Tasks
	e.POST("/v1/tasks", h.CreateTask)
	e.GET("/v1/tasks/:task_id", h.GetTask)
	e.POST("/v1/tasks/:task_id/continue", h.ContinueTask)
	e.POST("/v1/tasks/:task_id/tool_answer", h.AnswerTool)
	e.POST("/v1/tasks/:task_id/tool_reviews", h.ReviewTool)
	e.POST("/v1/tasks/:task_id/stop", h.StopTask)

	// Toolsets
	e.GET("/v1/toolsets", h.ListToolsets)
	e.POST("/v1/toolsets/refresh", h.RefreshToolsets)
	e.PATCH("/v1/toolsets/:key", h.UpdateToolset)
	e.PATCH("/v1/toolsets/:key/tools/:tool_key", h.UpdateTool)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}

func taskID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("task_id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid task_id")
	}
	return id, nil
}

func errorJSON(c echo.Context, code int, msg string) error {
	return c.JSON(code, map[string]string{"error": msg})
}

// writeError maps service errors to status codes.
func writeError(c echo.Context, err error) error {
	var notFound *domain.ToolCallNotFoundError
	switch {
	case errors.As(err, &notFound),
		errors.Is(err, service.ErrTaskNotFound),
		errors.Is(err, service.ErrAgentNotFound),
		errors.Is(err, service.ErrWorkspaceNotFound),
		errors.Is(err, toolset.ErrToolsetNotFound):
		return errorJSON(c, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrInvalidRequest):
		return errorJSON(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrTaskBusy):
		return errorJSON(c, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrServiceClosed):
		return errorJSON(c, http.StatusServiceUnavailable, err.Error())
	default:
		c.Logger().Errorf("request failed: %v", err)
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}
}
