package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"carwash-backend/internal/model"
	"carwash-backend/internal/session"
)

const sendTimeout = 15 * time.Second

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// Store is the subscription persistence used by the workers.
type Store interface {
	GetBay(ctx context.Context, id int64) (*model.Bay, error)
	SubscriptionsForBay(ctx context.Context, bayID int64) ([]model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
}

// Message is the push payload delivered to browsers.
type Message struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	BayID int64  `json:"bay_id"`
}

// WorkerPool manages a pool of workers that tell subscribers a bay is free.
type WorkerPool struct {
	size    int
	jobs    chan int64
	store   Store
	webpush *webpush.Options
	sender  NotificationSender
	log     *zap.Logger
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, s Store, webpushOptions *webpush.Options, log *zap.Logger) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &WorkerPool{
		size:    size,
		jobs:    make(chan int64, size*16),
		store:   s,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
		log:     log,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	wp.log.Debug("notification worker started", zap.Int("worker", id))
	for {
		select {
		case bayID := <-wp.jobs:
			wp.sendNotificationsForBay(ctx, bayID)
		case <-ctx.Done():
			wp.log.Debug("notification worker shutting down", zap.Int("worker", id))
			return
		}
	}
}

// Dispatch queues a bay-free notification. A full queue drops the job.
func (wp *WorkerPool) Dispatch(bayID int64) bool {
	select {
	case wp.jobs <- bayID:
		return true
	default:
		wp.log.Warn("notification queue full, dropping", zap.Int64("bay_id", bayID))
		return false
	}
}

// Publish implements session.Observer. Finished sessions free the bay unless
// a new session took it over.
func (wp *WorkerPool) Publish(s session.State) {
	if s.Finished && s.Reason != model.FinishReplaced {
		wp.Dispatch(s.BayID)
	}
}

func (wp *WorkerPool) sendNotificationsForBay(ctx context.Context, bayID int64) {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	subscriptions, err := wp.store.SubscriptionsForBay(ctx, bayID)
	if err != nil {
		wp.log.Error("failed to fetch subscriptions", zap.Int64("bay_id", bayID), zap.Error(err))
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	label := fmt.Sprintf("%d", bayID)
	if bay, err := wp.store.GetBay(ctx, bayID); err != nil {
		wp.log.Warn("failed to fetch bay", zap.Int64("bay_id", bayID), zap.Error(err))
	} else if bay.Name != "" {
		label = bay.Name
	}

	payload, err := json.Marshal(Message{
		Title: "Bay available",
		Body:  fmt.Sprintf("%s is free!", label),
		BayID: bayID,
	})
	if err != nil {
		wp.log.Error("failed to encode notification", zap.Error(err))
		return
	}

	wp.log.Info("sending bay-free notifications", zap.Int64("bay_id", bayID), zap.Int("count", len(subscriptions)))
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, payload)
	}
}

func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		wp.log.Warn("failed to send notification", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
		wp.log.Info("subscription expired, deleting", zap.String("endpoint", sub.Endpoint))
		if err := wp.store.DeleteSubscription(ctx, sub.Endpoint); err != nil {
			wp.log.Warn("failed to delete expired subscription", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		}
	}
}
