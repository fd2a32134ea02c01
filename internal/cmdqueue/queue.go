// Package cmdqueue is the per-controller queue of outbound hardware commands.
//
// Operations for one controller are serialized; different controllers never
// contend. Enqueue and Ack are not retried here beyond the store's own
// transient retry.
package cmdqueue

import (
	"context"
	"time"

	"go.uber.org/zap"

	"carwash-backend/internal/apperr"
	"carwash-backend/internal/hardware"
	"carwash-backend/internal/model"
)

// Store is the persistence the queue needs.
type Store interface {
	CreateCommand(ctx context.Context, cmd *model.ControllerCommand) error
	GetCommand(ctx context.Context, id int64) (*model.ControllerCommand, error)
	PendingCommands(ctx context.Context, controllerID string, limit int) ([]model.ControllerCommand, error)
	FinishPendingCommands(ctx context.Context, controllerID string, at time.Time) (int64, error)
	CompleteCommand(ctx context.Context, id int64, status model.CommandStatus, result string, at time.Time) (bool, error)
	TouchController(ctx context.Context, controllerID, status string, at time.Time) error
	ListControllers(ctx context.Context) ([]model.Controller, error)
}

// Config tunes the queue.
type Config struct {
	PollLimit    int
	OnlineWindow time.Duration
	Now          func() time.Time
}

// Queue implements enqueue, poll, ack and heartbeat for controllers.
type Queue struct {
	store  Store
	locks  *keyedMutex
	limit  int
	window time.Duration
	now    func() time.Time
	log    *zap.Logger
}

// New creates a Queue.
func New(s Store, cfg Config, log *zap.Logger) *Queue {
	if cfg.PollLimit <= 0 {
		cfg.PollLimit = 10
	}
	if cfg.OnlineWindow <= 0 {
		cfg.OnlineWindow = 60 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Queue{
		store:  s,
		locks:  newKeyedMutex(),
		limit:  cfg.PollLimit,
		window: cfg.OnlineWindow,
		now:    cfg.Now,
		log:    log,
	}
}

// Enqueue appends a pending command for the controller.
func (q *Queue) Enqueue(ctx context.Context, controllerID, cmdType, payload string, priority int) (*model.ControllerCommand, error) {
	if err := validate(controllerID, cmdType); err != nil {
		return nil, err
	}
	unlock := q.locks.Lock(controllerID)
	defer unlock()
	return q.enqueueLocked(ctx, controllerID, cmdType, payload, priority)
}

// Replace supersedes every pending command of the controller and enqueues
// the new one, so the next poll reflects only the latest intent.
func (q *Queue) Replace(ctx context.Context, controllerID, cmdType, payload string, priority int) (*model.ControllerCommand, error) {
	if err := validate(controllerID, cmdType); err != nil {
		return nil, err
	}
	unlock := q.locks.Lock(controllerID)
	defer unlock()

	if _, err := q.finishPendingLocked(ctx, controllerID); err != nil {
		return nil, err
	}
	return q.enqueueLocked(ctx, controllerID, cmdType, payload, priority)
}

// FinishPending force-marks all pending commands of the controller as executed.
func (q *Queue) FinishPending(ctx context.Context, controllerID string) (int64, error) {
	unlock := q.locks.Lock(controllerID)
	defer unlock()
	return q.finishPendingLocked(ctx, controllerID)
}

func validate(controllerID, cmdType string) error {
	if controllerID == "" {
		return apperr.Validation("controller id is required")
	}
	if cmdType == "" {
		return apperr.Validation("command type is required")
	}
	return nil
}

func (q *Queue) enqueueLocked(ctx context.Context, controllerID, cmdType, payload string, priority int) (*model.ControllerCommand, error) {
	cmd := &model.ControllerCommand{
		ControllerID: controllerID,
		Type:         cmdType,
		Payload:      payload,
		Priority:     priority,
		Status:       model.CommandPending,
		CreatedAt:    q.now(),
	}
	if err := q.store.CreateCommand(ctx, cmd); err != nil {
		return nil, err
	}
	q.log.Info("command enqueued",
		zap.String("controller_id", controllerID),
		zap.Int64("command_id", cmd.ID),
		zap.String("type", cmdType),
		zap.Int("priority", priority))
	return cmd, nil
}

func (q *Queue) finishPendingLocked(ctx context.Context, controllerID string) (int64, error) {
	n, err := q.store.FinishPendingCommands(ctx, controllerID, q.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		q.log.Debug("pending commands superseded", zap.String("controller_id", controllerID), zap.Int64("count", n))
	}
	return n, nil
}

// Poll returns pending commands, highest priority first then oldest first.
func (q *Queue) Poll(ctx context.Context, controllerID string) ([]model.ControllerCommand, error) {
	unlock := q.locks.Lock(controllerID)
	defer unlock()
	return q.store.PendingCommands(ctx, controllerID, q.limit)
}

// Next records a heartbeat and returns the single command to deliver, if any.
func (q *Queue) Next(ctx context.Context, controllerID, status string) (*model.ControllerCommand, error) {
	if controllerID == "" {
		return nil, apperr.Validation("controller id is required")
	}
	unlock := q.locks.Lock(controllerID)
	defer unlock()

	if err := q.store.TouchController(ctx, controllerID, status, q.now()); err != nil {
		return nil, err
	}
	pending, err := q.store.PendingCommands(ctx, controllerID, q.limit)
	if err != nil {
		return nil, err
	}
	return Select(pending), nil
}

// Select picks the one command deliverable per poll cycle: the most recent
// pause if any is pending, otherwise the most recent command.
func Select(pending []model.ControllerCommand) *model.ControllerCommand {
	var pause, latest *model.ControllerCommand
	for i := range pending {
		cmd := &pending[i]
		if cmd.Type == hardware.CommandPauseService && newer(cmd, pause) {
			pause = cmd
		}
		if newer(cmd, latest) {
			latest = cmd
		}
	}
	if pause != nil {
		return pause
	}
	return latest
}

func newer(a, b *model.ControllerCommand) bool {
	if b == nil {
		return true
	}
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID > b.ID
	}
	return a.CreatedAt.After(b.CreatedAt)
}

// Ack marks a command executed. Acking a command that is no longer pending
// is a no-op.
func (q *Queue) Ack(ctx context.Context, id int64, result string) error {
	if result == "" {
		result = "success"
	}
	return q.complete(ctx, id, model.CommandExecuted, result)
}

// Fail marks a command failed with the controller's error message.
func (q *Queue) Fail(ctx context.Context, id int64, message string) error {
	if message == "" {
		message = "error"
	}
	return q.complete(ctx, id, model.CommandFailed, message)
}

func (q *Queue) complete(ctx context.Context, id int64, status model.CommandStatus, result string) error {
	cmd, err := q.store.GetCommand(ctx, id)
	if err != nil {
		return err
	}

	unlock := q.locks.Lock(cmd.ControllerID)
	defer unlock()

	changed, err := q.store.CompleteCommand(ctx, id, status, result, q.now())
	if err != nil {
		return err
	}
	if !changed {
		q.log.Debug("ack for non-pending command ignored", zap.Int64("command_id", id), zap.String("status", string(status)))
		return nil
	}
	q.log.Info("command completed",
		zap.String("controller_id", cmd.ControllerID),
		zap.Int64("command_id", id),
		zap.String("status", string(status)),
		zap.String("result", result))
	return nil
}

// Touch records a heartbeat without polling.
func (q *Queue) Touch(ctx context.Context, controllerID, status string) error {
	if controllerID == "" {
		return apperr.Validation("controller id is required")
	}
	unlock := q.locks.Lock(controllerID)
	defer unlock()
	return q.store.TouchController(ctx, controllerID, status, q.now())
}

// ControllerHealth is the liveness view of one controller.
type ControllerHealth struct {
	ControllerID string     `json:"controller_id"`
	Name         string     `json:"name"`
	Online       bool       `json:"online"`
	LastSeen     *time.Time `json:"last_seen"`
	LastStatus   string     `json:"last_status,omitempty"`
}

// Online reports whether a controller last seen at lastSeen is alive now.
func (q *Queue) Online(lastSeen *time.Time) bool {
	return lastSeen != nil && q.now().Sub(*lastSeen) < q.window
}

// Health lists every known controller with its online flag.
func (q *Queue) Health(ctx context.Context) ([]ControllerHealth, error) {
	ctrls, err := q.store.ListControllers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ControllerHealth, 0, len(ctrls))
	for _, c := range ctrls {
		out = append(out, ControllerHealth{
			ControllerID: c.ControllerID,
			Name:         c.Name,
			Online:       q.Online(c.LastSeen),
			LastSeen:     c.LastSeen,
			LastStatus:   c.LastStatus,
		})
	}
	return out, nil
}
