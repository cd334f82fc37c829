package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/turngate/internal/domain"
	"github.com/xiaot623/gogo/turngate/internal/stage"
)

// TurnDecisionRequest is a dialogue plus the optional user profile.
type TurnDecisionRequest struct {
	domain.DialogueRequest
	Profile map[string]any `json:"profile,omitempty"`
}

// GateRequest carries recognized intents to partition.
type GateRequest struct {
	stage.Options
	Queries []domain.RecognizedIntent `json:"queries"`
}

// AccessRequest carries the intents that need an access check. When
// available_users is omitted the requester's access links are used.
type AccessRequest struct {
	stage.Options
	RequesterID      string                    `json:"requester_id"`
	NeedsAccessCheck []domain.RecognizedIntent `json:"needs_access_check"`
	AvailableUsers   domain.AvailableUsers     `json:"available_users,omitempty"`
}

// DecideTurn runs the turn decision stage.
// POST /v1/stages/turn-decision
func (h *Handler) DecideTurn(c echo.Context) error {
	var req TurnDecisionRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	d, err := h.service.Decide(c.Request().Context(), stage.TurnInput{Request: req.DialogueRequest, Profile: req.Profile})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, d)
}

// Recognize runs the query recognizer.
// POST /v1/stages/recognize
func (h *Handler) Recognize(c echo.Context) error {
	var req domain.DialogueRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	intents, err := h.service.Recognize(c.Request().Context(), req)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"queries": intents})
}

// Classify runs the security gate.
// POST /v1/stages/security-gate
func (h *Handler) Classify(c echo.Context) error {
	var req GateRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	buckets, err := h.service.Classify(c.Request().Context(), stage.GateInput{Intents: req.Queries, Options: req.Options})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, buckets)
}

// ResolveAccess runs the access resolver.
// POST /v1/stages/access-resolution
func (h *Handler) ResolveAccess(c echo.Context) error {
	var req AccessRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.RequesterID == "" && req.AvailableUsers == nil {
		return badRequest(c, "requester_id or available_users is required")
	}
	res, err := h.service.ResolveAccess(c.Request().Context(), req.RequesterID, req.NeedsAccessCheck, req.AvailableUsers, req.Options)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}
