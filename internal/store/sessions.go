package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"carwash-backend/internal/apperr"
	"carwash-backend/internal/model"
)

// CreateSession inserts a new active session and marks its bay busy.
func (s *gormStore) CreateSession(ctx context.Context, sess *model.Session) error {
	return s.withRetry(ctx, "create session", func(db *gorm.DB) error {
		return db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(sess).Error; err != nil {
				return fmt.Errorf("failed to create session for bay %d: %w", sess.BayID, err)
			}
			return tx.Model(&model.Bay{}).
				Where("id = ? AND status = ?", sess.BayID, model.BayFree).
				Update("status", model.BayBusy).Error
		})
	})
}

// GetSession loads a session by id.
func (s *gormStore) GetSession(ctx context.Context, id int64) (*model.Session, error) {
	var sess model.Session
	err := s.withRetry(ctx, "get session", func(db *gorm.DB) error {
		return db.First(&sess, id).Error
	})
	if err != nil {
		return nil, notFound(err, "session", id)
	}
	return &sess, nil
}

// ListActiveSessions returns every session that has not been settled.
func (s *gormStore) ListActiveSessions(ctx context.Context) ([]model.Session, error) {
	var sessions []model.Session
	err := s.withRetry(ctx, "list active sessions", func(db *gorm.DB) error {
		return db.Where("status = ?", model.SessionActive).Order("id").Find(&sessions).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}
	return sessions, nil
}

func progressColumns(sess *model.Session) map[string]any {
	return map[string]any{
		"card_id":              sess.CardID,
		"total_balance":        sess.TotalBalance,
		"cash_balance":         sess.CashBalance,
		"online_balance":       sess.OnlineBalance,
		"card_balance":         sess.CardBalance,
		"cash_credited":        sess.CashCredited,
		"online_credited":      sess.OnlineCredited,
		"card_initial_balance": sess.CardInitialBalance,
		"active_service_id":    sess.ActiveServiceID,
		"paused":               sess.Paused,
	}
}

// SaveSessionProgress persists the balances of an active session. Settled
// sessions are left untouched.
func (s *gormStore) SaveSessionProgress(ctx context.Context, sess *model.Session) error {
	return s.withRetry(ctx, "save session progress", func(db *gorm.DB) error {
		return db.Model(&model.Session{}).
			Where("id = ? AND status = ?", sess.ID, model.SessionActive).
			Updates(progressColumns(sess)).Error
	})
}

// TransferCardToSession moves the whole card balance into the session and
// returns the amount moved. The card ends at zero.
func (s *gormStore) TransferCardToSession(ctx context.Context, cardID, sessionID int64) (float64, error) {
	var amount float64
	err := s.withRetry(ctx, "transfer card balance", func(db *gorm.DB) error {
		amount = 0
		return db.Transaction(func(tx *gorm.DB) error {
			var card model.Card
			if err := tx.First(&card, cardID).Error; err != nil {
				return notFound(err, "card", cardID)
			}
			if !card.IsActive {
				return apperr.Conflict("card %s is blocked", card.UID)
			}
			if card.Balance <= 0 {
				return nil
			}

			res := tx.Model(&model.Card{}).
				Where("id = ? AND balance = ?", cardID, card.Balance).
				Update("balance", 0)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return apperr.Conflict("card %s balance changed concurrently", card.UID)
			}

			res = tx.Model(&model.Session{}).
				Where("id = ? AND status = ?", sessionID, model.SessionActive).
				Updates(map[string]any{
					"card_id":              cardID,
					"card_initial_balance": gorm.Expr("card_initial_balance + ?", card.Balance),
					"card_balance":         gorm.Expr("card_balance + ?", card.Balance),
					"total_balance":        gorm.Expr("total_balance + ?", card.Balance),
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return apperr.Conflict("session %d is not active", sessionID)
			}
			amount = card.Balance
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	return amount, nil
}

// SettleSession finalizes an active session in one transaction: it stores the
// final balances, refunds the card, appends txs and frees the bay. It reports
// false without writing anything when the session was already settled.
func (s *gormStore) SettleSession(ctx context.Context, sess *model.Session, refund float64, txs []model.Transaction) (bool, error) {
	var applied bool
	err := s.withRetry(ctx, "settle session", func(db *gorm.DB) error {
		applied = false
		return db.Transaction(func(tx *gorm.DB) error {
			cols := progressColumns(sess)
			cols["status"] = model.SessionFinished
			cols["finish_reason"] = sess.FinishReason
			cols["needs_review"] = sess.NeedsReview
			cols["finished_at"] = sess.FinishedAt

			res := tx.Model(&model.Session{}).
				Where("id = ? AND status = ?", sess.ID, model.SessionActive).
				Updates(cols)
			if res.Error != nil {
				return fmt.Errorf("failed to finish session %d: %w", sess.ID, res.Error)
			}
			if res.RowsAffected == 0 {
				return nil
			}

			if refund > 0 && sess.CardID != nil {
				if err := tx.Model(&model.Card{}).Where("id = ?", *sess.CardID).
					Update("balance", gorm.Expr("balance + ?", refund)).Error; err != nil {
					return fmt.Errorf("failed to refund card %d: %w", *sess.CardID, err)
				}
			}

			if len(txs) > 0 {
				if err := tx.Create(&txs).Error; err != nil {
					return fmt.Errorf("failed to record transactions for session %d: %w", sess.ID, err)
				}
			}

			// A newer session may already hold the bay.
			if err := tx.Model(&model.Bay{}).
				Where("id = ? AND status = ?", sess.BayID, model.BayBusy).
				Where("NOT EXISTS (SELECT 1 FROM sessions WHERE sessions.bay_id = bays.id AND sessions.status = ? AND sessions.id <> ?)", model.SessionActive, sess.ID).
				Update("status", model.BayFree).Error; err != nil {
				return fmt.Errorf("failed to free bay %d: %w", sess.BayID, err)
			}
			applied = true
			return nil
		})
	})
	return applied, err
}

// ListTransactions returns the transactions recorded for a session.
func (s *gormStore) ListTransactions(ctx context.Context, sessionID int64) ([]model.Transaction, error) {
	var txs []model.Transaction
	err := s.withRetry(ctx, "list transactions", func(db *gorm.DB) error {
		return db.Where("session_id = ?", sessionID).Order("id").Find(&txs).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txs, nil
}
