package model

// BonusTier grants a percentage bonus on card top-ups within [MinAmount, MaxAmount].
type BonusTier struct {
	ID           int64   `gorm:"primaryKey"`
	Name         string  `gorm:"size:128"`
	MinAmount    float64 `gorm:"not null"`
	MaxAmount    float64 `gorm:"not null"`
	BonusPercent float64 `gorm:"not null"`
	IsActive     bool    `gorm:"not null"`
}

// TimeDiscount reduces card-funded metering prices during a time-of-day window.
// StartTime and EndTime use "HH:MM"; the window may wrap past midnight.
type TimeDiscount struct {
	ID              int64   `gorm:"primaryKey"`
	Name            string  `gorm:"size:128"`
	StartTime       string  `gorm:"size:5;not null"`
	EndTime         string  `gorm:"size:5;not null"`
	DiscountPercent float64 `gorm:"not null"`
	IsActive        bool    `gorm:"not null"`
}
