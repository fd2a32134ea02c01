package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"carwash-backend/internal/model"
)

// PutSubscription creates or replaces a push subscription and its bay set.
func (s *gormStore) PutSubscription(ctx context.Context, sub *model.PushSubscription, bayIDs []int64) error {
	return s.withRetry(ctx, "put subscription", func(db *gorm.DB) error {
		return db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Omit("Bays").Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "endpoint"}},
				DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth"}),
			}).Create(sub).Error; err != nil {
				return err
			}

			if len(bayIDs) == 0 {
				return tx.Model(sub).Association("Bays").Clear()
			}
			var bays []*model.Bay
			if err := tx.Find(&bays, bayIDs).Error; err != nil {
				return err
			}
			return tx.Model(sub).Association("Bays").Replace(bays)
		})
	})
}

// GetSubscription loads a subscription with its bays.
func (s *gormStore) GetSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	err := s.withRetry(ctx, "get subscription", func(db *gorm.DB) error {
		return db.Preload("Bays").First(&sub, "endpoint = ?", endpoint).Error
	})
	if err != nil {
		return nil, notFound(err, "subscription", endpoint)
	}
	return &sub, nil
}

// DeleteSubscription removes a subscription and its bay mappings.
func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	return s.withRetry(ctx, "delete subscription", func(db *gorm.DB) error {
		return db.Transaction(func(tx *gorm.DB) error {
			sub := model.PushSubscription{Endpoint: endpoint}
			if err := tx.Model(&sub).Association("Bays").Clear(); err != nil {
				return err
			}
			return tx.Delete(&sub).Error
		})
	})
}

// SubscriptionsForBay returns the subscriptions interested in a bay.
func (s *gormStore) SubscriptionsForBay(ctx context.Context, bayID int64) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	err := s.withRetry(ctx, "subscriptions for bay", func(db *gorm.DB) error {
		return db.Joins("JOIN subscription_bay_mapping ON subscription_bay_mapping.push_subscription_endpoint = push_subscriptions.endpoint").
			Where("subscription_bay_mapping.bay_id = ?", bayID).
			Find(&subs).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load subscriptions for bay %d: %w", bayID, err)
	}
	return subs, nil
}
