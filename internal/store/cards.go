package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"carwash-backend/internal/apperr"
	"carwash-backend/internal/model"
)

// GetCardByUID loads a card by its RFID uid.
func (s *gormStore) GetCardByUID(ctx context.Context, uid string) (*model.Card, error) {
	var card model.Card
	err := s.withRetry(ctx, "get card", func(db *gorm.DB) error {
		return db.Where("uid = ?", uid).First(&card).Error
	})
	if err != nil {
		return nil, notFound(err, "card", uid)
	}
	return &card, nil
}

// CreateCard registers a new card. A positive opening balance is recorded as
// a top-up transaction in the same transaction.
func (s *gormStore) CreateCard(ctx context.Context, card *model.Card) error {
	return s.withRetry(ctx, "create card", func(db *gorm.DB) error {
		return db.Transaction(func(tx *gorm.DB) error {
			var count int64
			if err := tx.Model(&model.Card{}).Where("uid = ?", card.UID).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return apperr.Conflict("card %s already registered", card.UID)
			}
			if err := tx.Create(card).Error; err != nil {
				return fmt.Errorf("failed to create card %s: %w", card.UID, err)
			}
			if card.Balance <= 0 {
				return nil
			}
			return tx.Create(&model.Transaction{
				CardID:      &card.ID,
				Type:        model.TxCardTopUp,
				Amount:      card.Balance,
				Description: "opening balance",
			}).Error
		})
	})
}

// TopUpCard credits amount plus bonus to the card. The new balance may not
// exceed maxBalance when maxBalance is positive.
func (s *gormStore) TopUpCard(ctx context.Context, uid string, amount, bonus, maxBalance float64) (*model.Card, error) {
	var card model.Card
	err := s.withRetry(ctx, "top up card", func(db *gorm.DB) error {
		return db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("uid = ?", uid).First(&card).Error; err != nil {
				return notFound(err, "card", uid)
			}
			if !card.IsActive {
				return apperr.Conflict("card %s is blocked", uid)
			}

			next := card.Balance + amount + bonus
			if maxBalance > 0 && next > maxBalance {
				return apperr.Conflict("card %s balance would exceed %.2f", uid, maxBalance)
			}
			if err := tx.Model(&card).Update("balance", next).Error; err != nil {
				return fmt.Errorf("failed to update card %s balance: %w", uid, err)
			}
			card.Balance = next

			txs := []model.Transaction{{
				CardID:      &card.ID,
				Type:        model.TxCardTopUp,
				Amount:      amount,
				Description: "card top-up",
			}}
			if bonus > 0 {
				txs = append(txs, model.Transaction{
					CardID:      &card.ID,
					Type:        model.TxBonus,
					Amount:      bonus,
					Description: "top-up bonus",
				})
			}
			return tx.Create(&txs).Error
		})
	})
	if err != nil {
		return nil, err
	}
	return &card, nil
}
