package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"carwash-backend/internal/apperr"
	"carwash-backend/internal/session"
)

// IdempotencyHeader may carry the event key instead of the body.
const IdempotencyHeader = "Idempotency-Key"

type eventRequest struct {
	Type           string  `json:"type" binding:"required"`
	BayID          int64   `json:"bay_id" binding:"required"`
	Amount         float64 `json:"amount"`
	Provider       string  `json:"provider"`
	UID            string  `json:"uid"`
	ServiceID      *int64  `json:"service_id"`
	IdempotencyKey string  `json:"idempotency_key"`
}

// Event type names accepted by PostEvent.
const (
	TypeCashInserted    = "cash_inserted"
	TypeOnlinePayment   = "online_payment_confirmed"
	TypeCardScanned     = "card_scanned"
	TypeServiceSelected = "service_selected"
	TypeSessionFinished = "session_finished_by_user"
)

func (r eventRequest) toEvent() (session.Event, error) {
	meta := session.Meta{IdempotencyKey: r.IdempotencyKey}
	switch r.Type {
	case TypeCashInserted:
		return session.CashInserted{Meta: meta, BayID: r.BayID, Amount: r.Amount}, nil
	case TypeOnlinePayment:
		return session.OnlinePaymentConfirmed{Meta: meta, BayID: r.BayID, Amount: r.Amount, Provider: r.Provider}, nil
	case TypeCardScanned:
		return session.CardScanned{Meta: meta, BayID: r.BayID, UID: r.UID}, nil
	case TypeServiceSelected:
		return session.ServiceSelected{Meta: meta, BayID: r.BayID, ServiceID: r.ServiceID}, nil
	case TypeSessionFinished:
		return session.SessionFinishedByUser{Meta: meta, BayID: r.BayID}, nil
	default:
		return nil, apperr.Validation("unknown event type %q", r.Type)
	}
}

// PostEvent handles POST /api/events, the generic entry point for bay events.
func (h *Handler) PostEvent(c *gin.Context) {
	var req eventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader(IdempotencyHeader)
	}
	ev, err := req.toEvent()
	if err != nil {
		h.fail(c, err)
		return
	}
	h.dispatch(c, req.BayID, ev)
}

type cashRequest struct {
	Amount         float64 `json:"amount" binding:"required"`
	IdempotencyKey string  `json:"idempotency_key"`
}

// PostCash handles POST /api/bays/:bay_id/cash from the bill acceptor.
func (h *Handler) PostCash(c *gin.Context) {
	bayID, ok := idParam(c, "bay_id")
	if !ok {
		return
	}
	var req cashRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	key := req.IdempotencyKey
	if key == "" {
		key = c.GetHeader(IdempotencyHeader)
	}
	h.dispatch(c, bayID, session.CashInserted{Meta: session.Meta{IdempotencyKey: key}, BayID: bayID, Amount: req.Amount})
}

type cardRequest struct {
	UID string `json:"uid" binding:"required"`
}

// PostCard handles POST /api/bays/:bay_id/card from the RFID reader.
func (h *Handler) PostCard(c *gin.Context) {
	bayID, ok := idParam(c, "bay_id")
	if !ok {
		return
	}
	var req cardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	h.dispatch(c, bayID, session.CardScanned{Meta: session.Meta{IdempotencyKey: c.GetHeader(IdempotencyHeader)}, BayID: bayID, UID: req.UID})
}

type onlinePaymentRequest struct {
	BayID         int64   `json:"bay_id" binding:"required"`
	Amount        float64 `json:"amount" binding:"required"`
	Provider      string  `json:"provider" binding:"required"`
	TransactionID string  `json:"transaction_id" binding:"required"`
}

// PostOnlinePayment handles POST /api/payments/online, the provider callback.
// The provider transaction id makes redelivered callbacks harmless.
func (h *Handler) PostOnlinePayment(c *gin.Context) {
	var req onlinePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	key := strings.ToLower(req.Provider) + ":" + req.TransactionID
	h.dispatch(c, req.BayID, session.OnlinePaymentConfirmed{
		Meta:     session.Meta{IdempotencyKey: key},
		BayID:    req.BayID,
		Amount:   req.Amount,
		Provider: req.Provider,
	})
}

// dispatch applies ev and answers with the bay's resulting state.
func (h *Handler) dispatch(c *gin.Context, bayID int64, ev session.Event) {
	err := h.engine.Handle(c.Request.Context(), ev)
	status := http.StatusOK
	if err != nil {
		if !errors.Is(err, session.ErrNotPersisted) {
			h.fail(c, err)
			return
		}
		status = http.StatusAccepted
	}
	h.writeState(c, status, bayID)
}

func (h *Handler) writeState(c *gin.Context, status int, bayID int64) {
	if s, ok := h.engine.Snapshot(bayID); ok {
		c.JSON(status, s)
		return
	}
	c.JSON(status, gin.H{"type": "session_state", "bay_id": bayID, "finished": true})
}
