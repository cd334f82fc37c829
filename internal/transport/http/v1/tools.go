package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/turngate/internal/service"
	"github.com/xiaot623/gogo/turngate/internal/tools"
)

// ListTools returns the tool catalog.
// GET /v1/tools
func (h *Handler) ListTools(c echo.Context) error {
	catalog := h.service.Catalog()
	return c.JSON(http.StatusOK, map[string]any{
		"version": catalog.Version(),
		"tools":   catalog.Tools(),
	})
}

// DispatchTool validates and dispatches one invocation.
// POST /v1/tools/:tool_name/dispatch
func (h *Handler) DispatchTool(c echo.Context) error {
	toolName := c.Param("tool_name")

	var req service.DispatchToolRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	res, err := h.service.DispatchTool(c.Request().Context(), toolName, req)
	if err != nil {
		return fail(c, err)
	}

	status := http.StatusOK
	if res.Status == tools.StatusPendingConfirmation {
		status = http.StatusAccepted
	}
	return c.JSON(status, res)
}

// GetToolCall returns an outbox record.
// GET /v1/tool_calls/:tool_call_id
func (h *Handler) GetToolCall(c echo.Context) error {
	call, err := h.service.GetToolCall(c.Request().Context(), c.Param("tool_call_id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, call)
}
