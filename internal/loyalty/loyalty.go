// Package loyalty manages prepaid cards: registration and top-ups with tiered bonuses.
package loyalty

import (
	"context"
	"math"
	"strings"

	"go.uber.org/zap"

	"carwash-backend/internal/apperr"
	"carwash-backend/internal/model"
)

// Store is the card persistence used by the loyalty service.
type Store interface {
	GetCardByUID(ctx context.Context, uid string) (*model.Card, error)
	CreateCard(ctx context.Context, card *model.Card) error
	TopUpCard(ctx context.Context, uid string, amount, bonus, maxBalance float64) (*model.Card, error)
}

// Bonuses computes the bonus granted on a top-up.
type Bonuses interface {
	BonusFor(ctx context.Context, amount float64) float64
}

// Service registers and tops up cards.
type Service struct {
	store      Store
	bonuses    Bonuses
	maxBalance float64
	log        *zap.Logger
}

// NewService creates a loyalty Service. A non-positive maxBalance disables the cap.
func NewService(s Store, b Bonuses, maxBalance float64, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: s, bonuses: b, maxBalance: maxBalance, log: log}
}

// TopUpResult describes an applied top-up.
type TopUpResult struct {
	Card    *model.Card `json:"card"`
	Amount  float64     `json:"amount"`
	Bonus   float64     `json:"bonus"`
	Balance float64     `json:"balance"`
}

// RegisterRequest holds the fields of a new card.
type RegisterRequest struct {
	UID            string  `json:"uid"`
	HolderName     string  `json:"holder_name"`
	PhoneNumber    string  `json:"phone_number"`
	InitialBalance float64 `json:"initial_balance"`
}

// Register creates an active card. Duplicate uids are a conflict.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*model.Card, error) {
	uid := strings.TrimSpace(req.UID)
	if uid == "" {
		return nil, apperr.Validation("card uid is required")
	}
	if req.InitialBalance < 0 || math.IsNaN(req.InitialBalance) || math.IsInf(req.InitialBalance, 0) {
		return nil, apperr.Validation("initial balance must not be negative")
	}
	if s.maxBalance > 0 && req.InitialBalance > s.maxBalance {
		return nil, apperr.Validation("initial balance exceeds %.2f", s.maxBalance)
	}

	card := &model.Card{
		UID:         uid,
		HolderName:  strings.TrimSpace(req.HolderName),
		PhoneNumber: strings.TrimSpace(req.PhoneNumber),
		Balance:     req.InitialBalance,
		IsActive:    true,
	}
	if err := s.store.CreateCard(ctx, card); err != nil {
		return nil, err
	}
	s.log.Info("card registered", zap.String("card_uid", uid), zap.Float64("amount", card.Balance))
	return card, nil
}

// TopUp credits amount and the matching tier bonus to the card.
func (s *Service) TopUp(ctx context.Context, uid string, amount float64) (TopUpResult, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return TopUpResult{}, apperr.Validation("card uid is required")
	}
	if !(amount > 0) || math.IsInf(amount, 0) {
		return TopUpResult{}, apperr.Validation("amount must be positive, got %v", amount)
	}

	bonus := 0.0
	if s.bonuses != nil {
		bonus = s.bonuses.BonusFor(ctx, amount)
	}
	card, err := s.store.TopUpCard(ctx, uid, amount, bonus, s.maxBalance)
	if err != nil {
		return TopUpResult{}, err
	}

	s.log.Info("card topped up",
		zap.String("card_uid", uid),
		zap.Float64("amount", amount),
		zap.Float64("bonus", bonus),
		zap.Float64("balance", card.Balance))
	return TopUpResult{Card: card, Amount: amount, Bonus: bonus, Balance: card.Balance}, nil
}

// Card returns the card with the given uid.
func (s *Service) Card(ctx context.Context, uid string) (*model.Card, error) {
	return s.store.GetCardByUID(ctx, strings.TrimSpace(uid))
}
