package model

import "time"

// Service is a wash program with its price and hardware actuation parameters.
type Service struct {
	ID             int64   `gorm:"primaryKey"`
	Name           string  `gorm:"size:128;not null"`
	PricePerMinute float64 `gorm:"not null"`
	IsActive       bool    `gorm:"not null"`
	CommandStr     string  `gorm:"size:64"`
	RelayBits      string  `gorm:"size:8;not null"`
	Pump1Power     int     `gorm:"not null"`
	Pump2Power     int     `gorm:"not null"`
	Pump3Power     int     `gorm:"not null"`
	Pump4Power     int     `gorm:"not null"`
	MotorFrequency float64 `gorm:"not null"`
	MotorFlag      string  `gorm:"size:1;not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PricePerSecond converts the per-minute price.
func (s Service) PricePerSecond() float64 {
	if s.PricePerMinute <= 0 {
		return 0
	}
	return s.PricePerMinute / 60.0
}
