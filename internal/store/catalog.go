package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"carwash-backend/internal/apperr"
	"carwash-backend/internal/model"
)

// GetBay loads a bay by id.
func (s *gormStore) GetBay(ctx context.Context, id int64) (*model.Bay, error) {
	var bay model.Bay
	err := s.withRetry(ctx, "get bay", func(db *gorm.DB) error {
		return db.First(&bay, id).Error
	})
	if err != nil {
		return nil, notFound(err, "bay", id)
	}
	return &bay, nil
}

// ListBays returns all bays ordered by id.
func (s *gormStore) ListBays(ctx context.Context) ([]model.Bay, error) {
	var bays []model.Bay
	err := s.withRetry(ctx, "list bays", func(db *gorm.DB) error {
		return db.Order("id").Find(&bays).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list bays: %w", err)
	}
	return bays, nil
}

// SetBayStatus updates the operational status of a bay.
func (s *gormStore) SetBayStatus(ctx context.Context, id int64, status model.BayStatus) error {
	var affected int64
	err := s.withRetry(ctx, "set bay status", func(db *gorm.DB) error {
		res := db.Model(&model.Bay{}).Where("id = ?", id).Update("status", status)
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return fmt.Errorf("failed to update bay %d status: %w", id, err)
	}
	if affected == 0 {
		return apperr.NotFound("bay", id)
	}
	return nil
}

// GetService loads a wash program by id regardless of its active flag.
func (s *gormStore) GetService(ctx context.Context, id int64) (*model.Service, error) {
	var svc model.Service
	err := s.withRetry(ctx, "get service", func(db *gorm.DB) error {
		return db.First(&svc, id).Error
	})
	if err != nil {
		return nil, notFound(err, "service", id)
	}
	return &svc, nil
}

// ListServices returns wash programs ordered by id.
func (s *gormStore) ListServices(ctx context.Context, activeOnly bool) ([]model.Service, error) {
	var services []model.Service
	err := s.withRetry(ctx, "list services", func(db *gorm.DB) error {
		q := db.Order("id")
		if activeOnly {
			q = q.Where("is_active = ?", true)
		}
		return q.Find(&services).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}
	return services, nil
}

// ListActiveBonusTiers returns active bonus tiers ordered by their lower bound.
func (s *gormStore) ListActiveBonusTiers(ctx context.Context) ([]model.BonusTier, error) {
	var tiers []model.BonusTier
	err := s.withRetry(ctx, "list bonus tiers", func(db *gorm.DB) error {
		return db.Where("is_active = ?", true).Order("min_amount ASC, id ASC").Find(&tiers).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list bonus tiers: %w", err)
	}
	return tiers, nil
}

// ListActiveTimeDiscounts returns active time-of-day discounts ordered by id.
func (s *gormStore) ListActiveTimeDiscounts(ctx context.Context) ([]model.TimeDiscount, error) {
	var discounts []model.TimeDiscount
	err := s.withRetry(ctx, "list time discounts", func(db *gorm.DB) error {
		return db.Where("is_active = ?", true).Order("id").Find(&discounts).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list time discounts: %w", err)
	}
	return discounts, nil
}
