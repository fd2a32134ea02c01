package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"carwash-backend/internal/session"
)

// StartSession handles POST /api/bays/:bay_id/session.
func (h *Handler) StartSession(c *gin.Context) {
	bayID, ok := idParam(c, "bay_id")
	if !ok {
		return
	}
	s, err := h.engine.Start(c.Request.Context(), bayID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

// GetSession handles GET /api/bays/:bay_id/session.
func (h *Handler) GetSession(c *gin.Context) {
	bayID, ok := idParam(c, "bay_id")
	if !ok {
		return
	}
	s, found := h.engine.Snapshot(bayID)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active session"})
		return
	}
	c.JSON(http.StatusOK, s)
}

// FinishSession handles DELETE /api/bays/:bay_id/session.
func (h *Handler) FinishSession(c *gin.Context) {
	bayID, ok := idParam(c, "bay_id")
	if !ok {
		return
	}
	h.dispatch(c, bayID, session.SessionFinishedByUser{Meta: session.Meta{IdempotencyKey: c.GetHeader(IdempotencyHeader)}, BayID: bayID})
}

type selectServiceRequest struct {
	ServiceID int64 `json:"service_id" binding:"required"`
}

// SelectService handles POST /api/bays/:bay_id/service and .../resume.
func (h *Handler) SelectService(c *gin.Context) {
	bayID, ok := idParam(c, "bay_id")
	if !ok {
		return
	}
	var req selectServiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	id := req.ServiceID
	h.dispatch(c, bayID, session.ServiceSelected{Meta: session.Meta{IdempotencyKey: c.GetHeader(IdempotencyHeader)}, BayID: bayID, ServiceID: &id})
}

// PauseSession handles POST /api/bays/:bay_id/pause.
func (h *Handler) PauseSession(c *gin.Context) {
	bayID, ok := idParam(c, "bay_id")
	if !ok {
		return
	}
	h.dispatch(c, bayID, session.ServiceSelected{Meta: session.Meta{IdempotencyKey: c.GetHeader(IdempotencyHeader)}, BayID: bayID})
}

// ListSessions handles GET /api/sessions.
func (h *Handler) ListSessions(c *gin.Context) {
	sessions := h.engine.Sessions()
	if sessions == nil {
		sessions = []session.State{}
	}
	c.JSON(http.StatusOK, sessions)
}

// StreamBay handles GET /ws/bays/:bay_id. The current state, if any, is sent
// first.
func (h *Handler) StreamBay(c *gin.Context) {
	bayID, ok := idParam(c, "bay_id")
	if !ok {
		return
	}
	if h.stream == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "live updates are disabled"})
		return
	}
	if _, err := h.store.GetBay(c.Request.Context(), bayID); err != nil {
		h.fail(c, err)
		return
	}

	var initial *session.State
	if s, found := h.engine.Snapshot(bayID); found {
		initial = &s
	}
	if err := h.stream.Serve(c.Writer, c.Request, bayID, initial); err != nil {
		h.log.Warn("websocket upgrade failed", zap.Int64("bay_id", bayID), zap.Error(err))
	}
}
