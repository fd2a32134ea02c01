package model

import "time"

// BayStatus is the operational status of a wash bay.
type BayStatus string

const (
	BayFree        BayStatus = "free"
	BayBusy        BayStatus = "busy"
	BayMaintenance BayStatus = "maintenance"
	BayError       BayStatus = "error"
)

// Bay represents a physical wash stall. Its relays and pumps are driven by
// the linked controller.
type Bay struct {
	ID           int64     `gorm:"primaryKey"`
	Name         string    `gorm:"size:128;not null"`
	IsActive     bool      `gorm:"not null"`
	Status       BayStatus `gorm:"size:16;not null"`
	ControllerID *string   `gorm:"size:64;index"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

// Controller is a remote hardware driver that polls for commands.
type Controller struct {
	ID           int64      `gorm:"primaryKey"`
	ControllerID string     `gorm:"uniqueIndex;size:64;not null"`
	Name         string     `gorm:"size:128;not null"`
	IsActive     bool       `gorm:"not null"`
	LastSeen     *time.Time `gorm:"index"`
	LastStatus   string     `gorm:"type:text"`
	CreatedAt    time.Time  `gorm:"not null"`
	UpdatedAt    time.Time  `gorm:"not null"`
}
