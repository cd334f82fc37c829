// Package v1 provides the versioned HTTP handlers.
package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/turngate/internal/adapter/llm"
	"github.com/xiaot623/gogo/turngate/internal/domain"
	"github.com/xiaot623/gogo/turngate/internal/service"
)

// Version is reported by the health check.
const Version = "0.1.0"

// ModelLister lists the models the oracle endpoint serves.
type ModelLister interface {
	Models(ctx context.Context) ([]llm.Model, error)
}

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
	models  ModelLister
}

// NewHandler creates a new handler.
func NewHandler(service *service.Service, models ModelLister) *Handler {
	return &Handler{
		service: service,
		models:  models,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Turns
	e.POST("/v1/turns", h.RunTurn)
	e.POST("/v1/turns/batch", h.RunTurns)
	e.GET("/v1/turns/:turn_id", h.GetTurn)
	e.GET("/v1/turns/:turn_id/events", h.GetTurnEvents)
	e.GET("/v1/conversations/:conversation_id/messages", h.GetConversationMessages)

	// Single stages
	e.POST("/v1/stages/turn-decision", h.DecideTurn)
	e.POST("/v1/stages/recognize", h.Recognize)
	e.POST("/v1/stages/security-gate", h.Classify)
	e.POST("/v1/stages/access-resolution", h.ResolveAccess)

	// Tools
	e.GET("/v1/tools", h.ListTools)
	e.POST("/v1/tools/:tool_name/dispatch", h.DispatchTool)
	e.GET("/v1/tool_calls/:tool_call_id", h.GetToolCall)

	e.GET("/v1/models", h.ListModels)
	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": Version,
	})
}

// ListModels lists the oracle models.
// GET /v1/models
func (h *Handler) ListModels(c echo.Context) error {
	if h.models == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "no oracle configured"})
	}
	models, err := h.models.Models(c.Request().Context())
	if err != nil {
		return fail(c, err)
	}
	if models == nil {
		models = []llm.Model{}
	}
	return c.JSON(http.StatusOK, llm.ModelsResponse{Object: "list", Data: models})
}

// errorStatus maps a service error to an HTTP status.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrEmptyDialogue),
		errors.Is(err, domain.ErrInvalidMessage),
		errors.Is(err, domain.ErrInvalidArguments):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnknownTool), errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrToolBlocked):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrSchemaValidation),
		errors.Is(err, domain.ErrPartitionViolation),
		errors.Is(err, domain.ErrResolutionViolation),
		errors.Is(err, domain.ErrFragmentMismatch):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrPolicyUnavailable), errors.Is(err, domain.ErrOracleUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled):
		return 499
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func fail(c echo.Context, err error) error {
	return c.JSON(errorStatus(err), map[string]string{
		"error": err.Error(),
		"code":  domain.ErrorCode(err),
	})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": msg})
}
