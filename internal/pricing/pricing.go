// Package pricing computes effective metering prices and top-up bonuses.
//
// Lookups that fail degrade to "no discount" and "no bonus" so pricing can
// never block the metering loop.
package pricing

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"carwash-backend/internal/model"
	"carwash-backend/internal/parse"
)

// Source supplies the active discount and bonus configuration.
type Source interface {
	ActiveBonusTiers(ctx context.Context) ([]model.BonusTier, error)
	ActiveTimeDiscounts(ctx context.Context) ([]model.TimeDiscount, error)
}

// Evaluator applies time discounts and bonus tiers.
type Evaluator struct {
	src Source
	loc *time.Location
	log *zap.Logger
}

// NewEvaluator creates an Evaluator. Wall-clock windows are evaluated in loc.
func NewEvaluator(src Source, loc *time.Location, log *zap.Logger) *Evaluator {
	if loc == nil {
		loc = time.Local
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Evaluator{src: src, loc: loc, log: log}
}

// EffectivePrice returns the per-second price after any time discount. Only
// card-funded spend is discounted.
func (e *Evaluator) EffectivePrice(ctx context.Context, perSecond float64, cardFunded bool, now time.Time) float64 {
	if perSecond <= 0 {
		return 0
	}
	if !cardFunded {
		return perSecond
	}

	discounts, err := e.src.ActiveTimeDiscounts(ctx)
	if err != nil {
		e.log.Warn("time discounts unavailable, charging full price", zap.Error(err))
		return perSecond
	}
	local := now.In(e.loc)
	return ApplyDiscount(perSecond, discounts, local.Hour()*60+local.Minute())
}

// BonusFor returns the bonus granted on a card top-up of amount.
func (e *Evaluator) BonusFor(ctx context.Context, amount float64) float64 {
	if amount <= 0 {
		return 0
	}
	tiers, err := e.src.ActiveBonusTiers(ctx)
	if err != nil {
		e.log.Warn("bonus tiers unavailable, granting no bonus", zap.Error(err))
		return 0
	}
	return Bonus(amount, tiers)
}

// ApplyDiscount subtracts the first active discount whose window contains
// minuteOfDay. The result is never negative.
func ApplyDiscount(perSecond float64, discounts []model.TimeDiscount, minuteOfDay int) float64 {
	for _, d := range discounts {
		if !d.IsActive {
			continue
		}
		start, err := parse.ParseClock(d.StartTime)
		if err != nil {
			continue
		}
		end, err := parse.ParseClock(d.EndTime)
		if err != nil {
			continue
		}
		if !InWindow(minuteOfDay, start, end) {
			continue
		}
		price := perSecond - perSecond*d.DiscountPercent/100
		if price < 0 {
			return 0
		}
		return price
	}
	return perSecond
}

// InWindow reports whether minute lies in [start, end], wrapping past
// midnight when start > end.
func InWindow(minute, start, end int) bool {
	if start <= end {
		return start <= minute && minute <= end
	}
	return minute >= start || minute <= end
}

// Bonus returns amount*percent/100 for the first active tier, in ascending
// MinAmount order, with MinAmount <= amount <= MaxAmount.
func Bonus(amount float64, tiers []model.BonusTier) float64 {
	sorted := make([]model.BonusTier, 0, len(tiers))
	for _, t := range tiers {
		if t.IsActive {
			sorted = append(sorted, t)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].MinAmount < sorted[j].MinAmount })

	for _, t := range sorted {
		if t.MinAmount <= amount && amount <= t.MaxAmount {
			bonus := amount * t.BonusPercent / 100
			if bonus < 0 {
				return 0
			}
			return bonus
		}
	}
	return 0
}
