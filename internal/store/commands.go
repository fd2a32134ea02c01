package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"carwash-backend/internal/model"
)

// CreateCommand appends a command to the controller's queue.
func (s *gormStore) CreateCommand(ctx context.Context, cmd *model.ControllerCommand) error {
	return s.withRetry(ctx, "create command", func(db *gorm.DB) error {
		return db.Create(cmd).Error
	})
}

// GetCommand loads a command by id.
func (s *gormStore) GetCommand(ctx context.Context, id int64) (*model.ControllerCommand, error) {
	var cmd model.ControllerCommand
	err := s.withRetry(ctx, "get command", func(db *gorm.DB) error {
		return db.First(&cmd, id).Error
	})
	if err != nil {
		return nil, notFound(err, "command", id)
	}
	return &cmd, nil
}

// PendingCommands returns up to limit pending commands, highest priority first
// and oldest first within a priority.
func (s *gormStore) PendingCommands(ctx context.Context, controllerID string, limit int) ([]model.ControllerCommand, error) {
	var cmds []model.ControllerCommand
	err := s.withRetry(ctx, "pending commands", func(db *gorm.DB) error {
		return db.Where("controller_id = ? AND status = ?", controllerID, model.CommandPending).
			Order("priority DESC, created_at ASC, id ASC").
			Limit(limit).
			Find(&cmds).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load pending commands for %s: %w", controllerID, err)
	}
	return cmds, nil
}

// FinishPendingCommands marks every pending command of the controller as
// executed and returns how many were superseded.
func (s *gormStore) FinishPendingCommands(ctx context.Context, controllerID string, at time.Time) (int64, error) {
	var affected int64
	err := s.withRetry(ctx, "finish pending commands", func(db *gorm.DB) error {
		res := db.Model(&model.ControllerCommand{}).
			Where("controller_id = ? AND status = ?", controllerID, model.CommandPending).
			Updates(map[string]any{
				"status":      model.CommandExecuted,
				"result":      "superseded",
				"executed_at": at,
			})
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to supersede commands for %s: %w", controllerID, err)
	}
	return affected, nil
}

// CompleteCommand moves a pending command to status. It reports false when
// the command was no longer pending.
func (s *gormStore) CompleteCommand(ctx context.Context, id int64, status model.CommandStatus, result string, at time.Time) (bool, error) {
	var affected int64
	err := s.withRetry(ctx, "complete command", func(db *gorm.DB) error {
		res := db.Model(&model.ControllerCommand{}).
			Where("id = ? AND status = ?", id, model.CommandPending).
			Updates(map[string]any{
				"status":      status,
				"result":      result,
				"executed_at": at,
			})
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return false, fmt.Errorf("failed to complete command %d: %w", id, err)
	}
	return affected > 0, nil
}

// TouchController records a heartbeat, registering unknown controllers.
func (s *gormStore) TouchController(ctx context.Context, controllerID, status string, at time.Time) error {
	ctrl := model.Controller{
		ControllerID: controllerID,
		Name:         controllerID,
		IsActive:     true,
		LastSeen:     &at,
		LastStatus:   status,
	}
	return s.withRetry(ctx, "touch controller", func(db *gorm.DB) error {
		return db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "controller_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_seen", "last_status", "updated_at"}),
		}).Create(&ctrl).Error
	})
}

// ListControllers returns all known controllers.
func (s *gormStore) ListControllers(ctx context.Context) ([]model.Controller, error) {
	var ctrls []model.Controller
	err := s.withRetry(ctx, "list controllers", func(db *gorm.DB) error {
		return db.Order("controller_id").Find(&ctrls).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list controllers: %w", err)
	}
	return ctrls, nil
}
