package store

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"carwash-backend/internal/apperr"
	"carwash-backend/internal/model"
)

// Store defines the interface for all database operations.
type Store interface {
	GetBay(ctx context.Context, id int64) (*model.Bay, error)
	ListBays(ctx context.Context) ([]model.Bay, error)
	SetBayStatus(ctx context.Context, id int64, status model.BayStatus) error
	GetService(ctx context.Context, id int64) (*model.Service, error)
	ListServices(ctx context.Context, activeOnly bool) ([]model.Service, error)
	ListActiveBonusTiers(ctx context.Context) ([]model.BonusTier, error)
	ListActiveTimeDiscounts(ctx context.Context) ([]model.TimeDiscount, error)

	GetCardByUID(ctx context.Context, uid string) (*model.Card, error)
	CreateCard(ctx context.Context, card *model.Card) error
	TopUpCard(ctx context.Context, uid string, amount, bonus, maxBalance float64) (*model.Card, error)

	CreateSession(ctx context.Context, s *model.Session) error
	GetSession(ctx context.Context, id int64) (*model.Session, error)
	ListActiveSessions(ctx context.Context) ([]model.Session, error)
	SaveSessionProgress(ctx context.Context, s *model.Session) error
	TransferCardToSession(ctx context.Context, cardID, sessionID int64) (float64, error)
	SettleSession(ctx context.Context, s *model.Session, refund float64, txs []model.Transaction) (bool, error)
	ListTransactions(ctx context.Context, sessionID int64) ([]model.Transaction, error)

	CreateCommand(ctx context.Context, cmd *model.ControllerCommand) error
	GetCommand(ctx context.Context, id int64) (*model.ControllerCommand, error)
	PendingCommands(ctx context.Context, controllerID string, limit int) ([]model.ControllerCommand, error)
	FinishPendingCommands(ctx context.Context, controllerID string, at time.Time) (int64, error)
	CompleteCommand(ctx context.Context, id int64, status model.CommandStatus, result string, at time.Time) (bool, error)
	TouchController(ctx context.Context, controllerID, status string, at time.Time) error
	ListControllers(ctx context.Context) ([]model.Controller, error)

	PutSubscription(ctx context.Context, sub *model.PushSubscription, bayIDs []int64) error
	GetSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
	SubscriptionsForBay(ctx context.Context, bayID int64) ([]model.PushSubscription, error)
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db          *gorm.DB
	log         *zap.Logger
	maxAttempts int
	retryDelay  time.Duration
}

// Option configures a gormStore.
type Option func(*gormStore)

// WithLogger sets the logger used to report retried operations.
func WithLogger(l *zap.Logger) Option {
	return func(s *gormStore) {
		if l != nil {
			s.log = l
		}
	}
}

// WithRetry overrides the number of attempts and the base backoff delay used
// for transient storage errors.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(s *gormStore) {
		if attempts > 0 {
			s.maxAttempts = attempts
		}
		s.retryDelay = delay
	}
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB, opts ...Option) Store {
	s := &gormStore{
		db:          db,
		log:         zap.NewNop(),
		maxAttempts: 3,
		retryDelay:  100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// notFound maps gorm.ErrRecordNotFound to apperr.NotFound and passes other errors through.
func notFound(err error, what string, id any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(what, id)
	}
	return err
}
