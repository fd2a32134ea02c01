package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"carwash-backend/internal/loyalty"
)

// CardResponse is the public view of a card.
type CardResponse struct {
	UID        string  `json:"uid"`
	HolderName string  `json:"holder_name,omitempty"`
	Balance    float64 `json:"balance"`
	IsActive   bool    `json:"is_active"`
}

// RegisterCard handles POST /api/cards.
func (h *Handler) RegisterCard(c *gin.Context) {
	var req loyalty.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	card, err := h.cards.Register(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, CardResponse{UID: card.UID, HolderName: card.HolderName, Balance: card.Balance, IsActive: card.IsActive})
}

// GetCard handles GET /api/cards/:uid.
func (h *Handler) GetCard(c *gin.Context) {
	card, err := h.cards.Card(c.Request.Context(), c.Param("uid"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, CardResponse{UID: card.UID, HolderName: card.HolderName, Balance: card.Balance, IsActive: card.IsActive})
}

type topUpRequest struct {
	Amount float64 `json:"amount" binding:"required"`
}

// TopUpCard handles POST /api/cards/:uid/topup.
func (h *Handler) TopUpCard(c *gin.Context) {
	var req topUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	res, err := h.cards.TopUp(c.Request.Context(), c.Param("uid"), req.Amount)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"uid":     res.Card.UID,
		"amount":  res.Amount,
		"bonus":   res.Bonus,
		"balance": res.Balance,
	})
}
