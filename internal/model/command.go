package model

import "time"

// CommandStatus is the delivery status of a controller command.
type CommandStatus string

const (
	CommandPending  CommandStatus = "pending"
	CommandExecuted CommandStatus = "executed"
	CommandFailed   CommandStatus = "failed"
)

// ControllerCommand is an outbound hardware command waiting for a controller poll.
type ControllerCommand struct {
	ID           int64         `gorm:"primaryKey"`
	ControllerID string        `gorm:"size:64;index:idx_command_controller_status;not null"`
	Type         string        `gorm:"size:32;not null"`
	Payload      string        `gorm:"type:text;not null"`
	Priority     int           `gorm:"not null"`
	Status       CommandStatus `gorm:"size:16;index:idx_command_controller_status;not null"`
	Result       string        `gorm:"size:256"`
	CreatedAt    time.Time     `gorm:"not null"`
	ExecutedAt   *time.Time
}
