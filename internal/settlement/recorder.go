// Package settlement turns a finished session's money split into durable
// transactions and a card refund.
package settlement

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"carwash-backend/internal/ledger"
	"carwash-backend/internal/model"
)

// Store persists a settlement atomically and idempotently.
type Store interface {
	SettleSession(ctx context.Context, s *model.Session, refund float64, txs []model.Transaction) (bool, error)
}

// Outcome describes what a Record call wrote.
type Outcome struct {
	Applied      bool
	Refund       float64
	Transactions []model.Transaction
}

// Recorder writes settlements.
type Recorder struct {
	store Store
	log   *zap.Logger
}

// NewRecorder creates a Recorder.
func NewRecorder(s Store, log *zap.Logger) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{store: s, log: log}
}

// Build lists the transactions for split; zero amounts are skipped.
func Build(sess *model.Session, split ledger.Settlement, at time.Time) []model.Transaction {
	sessionID := sess.ID
	var txs []model.Transaction
	add := func(typ model.TransactionType, amount float64, cardID *int64, desc string) {
		if amount <= 0 {
			return
		}
		txs = append(txs, model.Transaction{
			SessionID:   &sessionID,
			CardID:      cardID,
			Type:        typ,
			Amount:      amount,
			Description: desc,
			CreatedAt:   at,
		})
	}

	add(model.TxCash, split.Cash, nil, fmt.Sprintf("cash for session %d", sessionID))
	add(model.TxOnline, split.Online, nil, fmt.Sprintf("online payment for session %d", sessionID))
	add(model.TxCardWash, split.CardSpent, sess.CardID, fmt.Sprintf("card wash, refunded %.2f", split.CardRefund))
	return txs
}

// Record persists the finished session with its transactions and refund.
// A session that was already settled is reported with Applied false.
func (r *Recorder) Record(ctx context.Context, sess *model.Session, split ledger.Settlement) (Outcome, error) {
	at := time.Now()
	if sess.FinishedAt != nil {
		at = *sess.FinishedAt
	}
	txs := Build(sess, split, at)

	refund := split.CardRefund
	if sess.CardID == nil {
		refund = 0
	}

	applied, err := r.store.SettleSession(ctx, sess, refund, txs)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to settle session %d: %w", sess.ID, err)
	}
	if !applied {
		r.log.Info("session already settled", zap.Int64("session_id", sess.ID))
		return Outcome{}, nil
	}

	r.log.Info("session settled",
		zap.Int64("session_id", sess.ID),
		zap.Int64("bay_id", sess.BayID),
		zap.Float64("cash", split.Cash),
		zap.Float64("online", split.Online),
		zap.Float64("card_spent", split.CardSpent),
		zap.Float64("card_refund", refund),
		zap.Int("transactions", len(txs)))
	return Outcome{Applied: true, Refund: refund, Transactions: txs}, nil
}
