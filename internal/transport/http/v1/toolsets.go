package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/agentd/internal/domain"
)

// ListToolsets lists toolsets with their status.
// GET /v1/toolsets
func (h *Handler) ListToolsets(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"toolsets": h.service.ListToolsets(),
	})
}

// UpdateToolset toggles a toolset.
// PATCH /v1/toolsets/:key
func (h *Handler) UpdateToolset(c echo.Context) error {
	var req domain.UpdateToolsetRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	if req.IsEnabled == nil {
		return errorJSON(c, http.StatusBadRequest, "is_enabled is required")
	}
	if err := h.service.SetToolsetEnabled(c.Request().Context(), c.Param("key"), *req.IsEnabled); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// UpdateTool changes the flags of one tool.
// PATCH /v1/toolsets/:key/tools/:tool_key
func (h *Handler) UpdateTool(c echo.Context) error {
	var req domain.UpdateToolRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	if err := h.service.UpdateTool(c.Request().Context(), c.Param("key"), c.Param("tool_key"), req); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// RefreshToolsets reloads toolset configuration and tool lists.
// POST /v1/toolsets/refresh
func (h *Handler) RefreshToolsets(c echo.Context) error {
	if err := h.service.RefreshToolsets(c.Request().Context()); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"toolsets": h.service.ListToolsets(),
	})
}
