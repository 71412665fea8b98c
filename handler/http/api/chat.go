package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

type ChatRequest struct {
	SessionID string `json:"session_id"`
	Query     string `json:"query" binding:"required"`
}

// Chat godoc
// @Summary Answer a query within a session
// @Tags chat
// @Accept json
// @Param request body ChatRequest true "Query and optional session id"
// @Produce json
// @Success 200 {object} orchestrator.Reply
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /chat [post]
func (h *Handler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return
	}

	ctx := c.Request.Context()
	if h.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.queryTimeout)
		defer cancel()
	}

	reply, err := h.orchestrator.Respond(ctx, req.SessionID, req.Query)
	if err != nil {
		sendError(c, http.StatusInternalServerError, err)
		return
	}

	sendJSON(c, http.StatusOK, reply)
}

// ListSessionTurns godoc
// @Summary List the turns of a session in chronological order
// @Tags chat
// @Param id path string true "Session ID"
// @Param limit query int false "Most recent N turns, 0 for all"
// @Produce json
// @Success 200 {array} sessionctrl.Turn
// @Failure 500 {object} ErrorResponse
// @Router /sessions/{id}/turns [get]
func (h *Handler) ListSessionTurns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

	turns, err := h.sessions.ListTurns(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		sendError(c, http.StatusInternalServerError, err)
		return
	}

	sendJSON(c, http.StatusOK, turns)
}
