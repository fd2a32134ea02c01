package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"carwash-backend/config"
	"carwash-backend/internal/api"
	"carwash-backend/internal/catalog"
	"carwash-backend/internal/cmdqueue"
	"carwash-backend/internal/db"
	"carwash-backend/internal/logger"
	"carwash-backend/internal/loyalty"
	"carwash-backend/internal/mqtt"
	"carwash-backend/internal/notification"
	"carwash-backend/internal/pricing"
	"carwash-backend/internal/realtime"
	"carwash-backend/internal/session"
	"carwash-backend/internal/settlement"
	"carwash-backend/internal/store"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration from %s: %v\n", configPath, err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, "carwashd")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	log.Info("configuration loaded", zap.String("path", configPath))

	loc, err := time.LoadLocation(cfg.Session.Timezone)
	if err != nil {
		log.Fatal("invalid session timezone", zap.String("timezone", cfg.Session.Timezone), zap.Error(err))
	}

	gormDB, err := db.Init(&cfg.Database, log)
	if err != nil {
		log.Fatal("failed to initialize database", zap.Error(err))
	}
	log.Info("database initialized", zap.String("driver", cfg.Database.Driver))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB, store.WithLogger(log))
	services := catalog.New(appStore, cfg.Catalog.TTL)
	pricer := pricing.NewEvaluator(services, loc, log)
	queue := cmdqueue.New(appStore, cmdqueue.Config{
		PollLimit:    cfg.Controller.PollLimit,
		OnlineWindow: cfg.Controller.OnlineWindow,
	}, log)
	cards := loyalty.NewService(appStore, pricer, cfg.Loyalty.MaxCardBalance, log)
	hub := realtime.NewHub(log)

	observers := []session.Observer{hub}

	var publisher mqtt.Publisher
	var bridge *mqtt.Bridge
	if cfg.MQTT.Enabled {
		rp, err := mqtt.NewRealPublisher(cfg.MQTT)
		if err != nil {
			log.Error("mqtt disabled, broker unreachable", zap.String("broker", cfg.MQTT.Broker), zap.Error(err))
		} else {
			publisher = rp
			bridge = mqtt.NewBridge(publisher, 0, log)
			observers = append(observers, bridge)
			go bridge.Run(ctx)
			if err := publisher.PublishSystem(mqtt.SystemEvent{Timestamp: time.Now(), Event: "STARTUP"}); err != nil {
				log.Warn("failed to publish startup event", zap.Error(err))
			}
			log.Info("mqtt publisher connected", zap.String("broker", cfg.MQTT.Broker))
		}
	}

	var webpushOptions *webpush.Options
	if cfg.Push.Enabled() {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		pool := notification.NewWorkerPool(cfg.WorkerPool.Size, appStore, webpushOptions, log)
		pool.Start(ctx)
		observers = append(observers, pool)
		log.Info("push notifications enabled", zap.Int("workers", cfg.WorkerPool.Size))
	} else {
		log.Warn("VAPID keys not configured, push notifications disabled")
	}

	manager := session.New(session.Deps{
		Store:      appStore,
		Catalog:    services,
		Pricer:     pricer,
		Dispatcher: queue,
		Settler:    settlement.NewRecorder(appStore, log),
		Observers:  observers,
		Log:        log,
	}, session.Config{
		TickInterval:    cfg.Session.TickInterval,
		Inactivity:      cfg.Session.Inactivity,
		IdempotencyTTL:  cfg.Session.IdempotencyTTL,
		SettlementRetry: cfg.Session.SettlementRetry,
	})
	if _, err := manager.Restore(ctx); err != nil {
		log.Error("failed to restore active sessions", zap.Error(err))
	}
	go manager.Run(ctx)

	handler := api.NewHandler(api.Deps{
		Store:    appStore,
		Engine:   manager,
		Commands: queue,
		Cards:    cards,
		Catalog:  services,
		Stream:   hub,
		WebPush:  webpushOptions,
		Log:      log,
	})
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewRouter(handler, cfg.Server, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server ListenAndServe", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	sig := <-stop
	log.Info("shutdown signal received, stopping services", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server Shutdown", zap.Error(err))
	}
	manager.Close(shutdownCtx)
	hub.Close()
	cancel()

	if bridge != nil {
		select {
		case <-bridge.Done():
		case <-shutdownCtx.Done():
		}
		if err := publisher.PublishSystem(mqtt.SystemEvent{Timestamp: time.Now(), Event: "SHUTDOWN", Reason: sig.String()}); err != nil {
			log.Warn("failed to publish shutdown event", zap.Error(err))
		}
		publisher.Close()
	}

	log.Info("server gracefully stopped", zap.Int("unsettled_sessions", manager.Unsettled()))
}
