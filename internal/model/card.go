package model

import "time"

// Card is a prepaid RFID card.
type Card struct {
	ID          int64     `gorm:"primaryKey"`
	UID         string    `gorm:"uniqueIndex;size:64;not null"`
	HolderName  string    `gorm:"size:128"`
	PhoneNumber string    `gorm:"size:32"`
	Balance     float64   `gorm:"not null"`
	IsActive    bool      `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}
