// Package catalog caches read-mostly catalog data: wash programs, bonus
// tiers and time discounts.
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"carwash-backend/internal/model"
)

const (
	keyTiers     = "tiers"
	keyDiscounts = "discounts"
	keyServices  = "services"
)

// Store is the subset of store.Store the catalog reads from.
type Store interface {
	GetService(ctx context.Context, id int64) (*model.Service, error)
	ListServices(ctx context.Context, activeOnly bool) ([]model.Service, error)
	ListActiveBonusTiers(ctx context.Context) ([]model.BonusTier, error)
	ListActiveTimeDiscounts(ctx context.Context) ([]model.TimeDiscount, error)
}

// Catalog is a read-through TTL cache over Store. Errors are never cached.
type Catalog struct {
	store Store
	cache *cache.Cache
}

// New creates a Catalog whose entries live for ttl.
func New(s Store, ttl time.Duration) *Catalog {
	return &Catalog{
		store: s,
		cache: cache.New(ttl, 2*ttl),
	}
}

// Service returns a wash program by id, active or not.
func (c *Catalog) Service(ctx context.Context, id int64) (model.Service, error) {
	key := fmt.Sprintf("service:%d", id)
	if v, ok := c.cache.Get(key); ok {
		return v.(model.Service), nil
	}
	svc, err := c.store.GetService(ctx, id)
	if err != nil {
		return model.Service{}, err
	}
	c.cache.SetDefault(key, *svc)
	return *svc, nil
}

// ActiveServices lists active wash programs.
func (c *Catalog) ActiveServices(ctx context.Context) ([]model.Service, error) {
	if v, ok := c.cache.Get(keyServices); ok {
		return v.([]model.Service), nil
	}
	services, err := c.store.ListServices(ctx, true)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(keyServices, services)
	return services, nil
}

// ActiveBonusTiers lists active bonus tiers.
func (c *Catalog) ActiveBonusTiers(ctx context.Context) ([]model.BonusTier, error) {
	if v, ok := c.cache.Get(keyTiers); ok {
		return v.([]model.BonusTier), nil
	}
	tiers, err := c.store.ListActiveBonusTiers(ctx)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(keyTiers, tiers)
	return tiers, nil
}

// ActiveTimeDiscounts lists active time discounts.
func (c *Catalog) ActiveTimeDiscounts(ctx context.Context) ([]model.TimeDiscount, error) {
	if v, ok := c.cache.Get(keyDiscounts); ok {
		return v.([]model.TimeDiscount), nil
	}
	discounts, err := c.store.ListActiveTimeDiscounts(ctx)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(keyDiscounts, discounts)
	return discounts, nil
}
