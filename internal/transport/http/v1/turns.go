package v1

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/turngate/internal/service"
)

// MaxBatchTurns bounds one batch request.
const MaxBatchTurns = 64

// RunTurn runs one turn.
// POST /v1/turns
func (h *Handler) RunTurn(c echo.Context) error {
	var req service.TurnRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	res, err := h.service.RunTurn(c.Request().Context(), req)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// BatchRequest carries independent turns.
type BatchRequest struct {
	Turns []service.TurnRequest `json:"turns"`
}

// BatchResponse keeps the request order.
type BatchResponse struct {
	Items []service.BatchItem `json:"items"`
}

// RunTurns runs several independent turns concurrently.
// POST /v1/turns/batch
func (h *Handler) RunTurns(c echo.Context) error {
	var req BatchRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if len(req.Turns) == 0 {
		return badRequest(c, "turns is required")
	}
	if len(req.Turns) > MaxBatchTurns {
		return badRequest(c, "too many turns in one batch")
	}
	items := h.service.RunTurns(c.Request().Context(), req.Turns)
	return c.JSON(http.StatusOK, BatchResponse{Items: items})
}

// GetTurn returns a stored turn summary.
// GET /v1/turns/:turn_id
func (h *Handler) GetTurn(c echo.Context) error {
	turn, err := h.service.GetTurn(c.Request().Context(), c.Param("turn_id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, turn)
}

// GetTurnEvents returns the audit events of a turn.
// GET /v1/turns/:turn_id/events?after_ts=&types=a,b&limit=
func (h *Handler) GetTurnEvents(c echo.Context) error {
	turnID := c.Param("turn_id")

	var afterTs int64
	if v := c.QueryParam("after_ts"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return badRequest(c, "invalid after_ts")
		}
		afterTs = n
	}

	var types []string
	if v := c.QueryParam("types"); v != "" {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, t)
			}
		}
	}

	limit, err := queryLimit(c, 0)
	if err != nil {
		return badRequest(c, "invalid limit")
	}

	events, err := h.service.GetTurnEvents(c.Request().Context(), turnID, afterTs, types, limit)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"turn_id": turnID,
		"events":  events,
	})
}

// GetConversationMessages returns the stored history of a conversation.
// GET /v1/conversations/:conversation_id/messages?limit=
func (h *Handler) GetConversationMessages(c echo.Context) error {
	conversationID := c.Param("conversation_id")
	limit, err := queryLimit(c, 50)
	if err != nil {
		return badRequest(c, "invalid limit")
	}
	messages, err := h.service.GetMessages(c.Request().Context(), conversationID, limit)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"conversation_id": conversationID,
		"messages":        messages,
	})
}

func queryLimit(c echo.Context, def int) (int, error) {
	v := c.QueryParam("limit")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, strconv.ErrSyntax
	}
	return n, nil
}
