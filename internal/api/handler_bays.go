package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"carwash-backend/internal/model"
	"carwash-backend/internal/session"
)

// BayResponse represents the API response for a single bay.
type BayResponse struct {
	ID               int64           `json:"id"`
	Name             string          `json:"name"`
	Status           model.BayStatus `json:"status"`
	IsActive         bool            `json:"is_active"`
	ControllerID     *string         `json:"controller_id"`
	ControllerOnline bool            `json:"controller_online"`
	Session          *session.State  `json:"session"`
}

// ListBays handles GET /api/bays: every bay with its controller liveness and
// live session, if any.
func (h *Handler) ListBays(c *gin.Context) {
	ctx := c.Request.Context()
	bays, err := h.store.ListBays(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	health, err := h.commands.Health(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	online := make(map[string]bool, len(health))
	for _, ch := range health {
		online[ch.ControllerID] = ch.Online
	}

	out := make([]BayResponse, 0, len(bays))
	for _, b := range bays {
		resp := BayResponse{
			ID:           b.ID,
			Name:         b.Name,
			Status:       b.Status,
			IsActive:     b.IsActive,
			ControllerID: b.ControllerID,
		}
		if b.ControllerID != nil {
			resp.ControllerOnline = online[*b.ControllerID]
		}
		if s, ok := h.engine.Snapshot(b.ID); ok {
			resp.Session = &s
		}
		out = append(out, resp)
	}
	c.JSON(http.StatusOK, out)
}

// ServiceResponse is a wash program as shown to customers.
type ServiceResponse struct {
	ID             int64   `json:"id"`
	Name           string  `json:"name"`
	PricePerMinute float64 `json:"price_per_minute"`
}

// ListServices handles GET /api/services.
func (h *Handler) ListServices(c *gin.Context) {
	services, err := h.catalog.ActiveServices(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]ServiceResponse, 0, len(services))
	for _, s := range services {
		out = append(out, ServiceResponse{ID: s.ID, Name: s.Name, PricePerMinute: s.PricePerMinute})
	}
	c.JSON(http.StatusOK, out)
}
