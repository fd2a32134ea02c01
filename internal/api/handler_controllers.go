package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"carwash-backend/internal/apperr"
	"carwash-backend/internal/hardware"
	"carwash-backend/internal/model"
)

type heartbeatRequest struct {
	Status string `json:"status"`
	Frame  string `json:"frame"`
}

// CommandResponse is one command delivered to a polling controller.
type CommandResponse struct {
	ID            int64     `json:"id"`
	Type          string    `json:"type"`
	Action        string    `json:"action"`
	BayID         int64     `json:"bay_id"`
	ServiceName   string    `json:"service_name,omitempty"`
	CommandFormat string    `json:"command_format"`
	Frame         string    `json:"frame"`
	PaymentAmount float64   `json:"payment_amount,omitempty"`
	PaymentType   string    `json:"payment_type,omitempty"`
	Priority      int       `json:"priority"`
	CreatedAt     time.Time `json:"created_at"`
}

// HeartbeatResponse answers a controller poll.
type HeartbeatResponse struct {
	Status       string            `json:"status"`
	ControllerID string            `json:"controller_id"`
	Commands     []CommandResponse `json:"commands"`
	ServerTime   time.Time         `json:"server_time"`
}

// Heartbeat handles POST /api/controllers/:controller_id/heartbeat. It records
// liveness and returns at most one command. A reported frame is validated and
// kept with the status.
func (h *Handler) Heartbeat(c *gin.Context) {
	controllerID := strings.TrimSpace(c.Param("controller_id"))

	var req heartbeatRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
	}
	status := req.Status
	if req.Frame != "" {
		d, err := hardware.FromFrame(req.Frame)
		if err != nil {
			h.fail(c, apperr.Validation("%v", err))
			return
		}
		status = strings.TrimSpace(status + " " + d.Frame())
	}

	cmd, err := h.commands.Next(c.Request.Context(), controllerID, status)
	if err != nil {
		h.fail(c, err)
		return
	}

	resp := HeartbeatResponse{
		Status:       "ok",
		ControllerID: controllerID,
		Commands:     []CommandResponse{},
		ServerTime:   time.Now().UTC(),
	}
	if cmd != nil {
		resp.Commands = append(resp.Commands, h.commandResponse(cmd))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) commandResponse(cmd *model.ControllerCommand) CommandResponse {
	out := CommandResponse{
		ID:        cmd.ID,
		Type:      cmd.Type,
		Priority:  cmd.Priority,
		CreatedAt: cmd.CreatedAt,
	}
	payload, err := hardware.DecodePayload(cmd.Payload)
	if err != nil {
		h.log.Warn("undecodable command payload", zap.Int64("command_id", cmd.ID), zap.Error(err))
		return out
	}
	out.Action = payload.Action
	out.BayID = payload.BayID
	out.ServiceName = payload.ServiceName
	out.CommandFormat = payload.CommandFormat
	out.Frame = payload.Frame
	out.PaymentAmount = payload.PaymentAmount
	out.PaymentType = payload.PaymentType
	return out
}

type commandResultRequest struct {
	Result string `json:"result"`
	Error  string `json:"error"`
}

func (h *Handler) bindResult(c *gin.Context) (commandResultRequest, bool) {
	var req commandResultRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return req, false
		}
	}
	return req, true
}

// CommandExecuted handles POST /api/commands/:id/executed.
func (h *Handler) CommandExecuted(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	req, ok := h.bindResult(c)
	if !ok {
		return
	}
	if err := h.commands.Ack(c.Request.Context(), id, req.Result); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// CommandFailed handles POST /api/commands/:id/failed.
func (h *Handler) CommandFailed(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	req, ok := h.bindResult(c)
	if !ok {
		return
	}
	if err := h.commands.Fail(c.Request.Context(), id, req.Error); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListControllers handles GET /api/controllers.
func (h *Handler) ListControllers(c *gin.Context) {
	health, err := h.commands.Health(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, health)
}
