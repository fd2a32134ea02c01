package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"carwash-backend/config"
	"carwash-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(h *Handler, cfg config.ServerConfig, log *zap.Logger) *gin.Engine {
	if log == nil {
		log = zap.NewNop()
	}
	r := gin.New()
	r.Use(gin.Recovery(), mw.RequestID(), mw.Logger(log))

	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	caching := mw.Cache(cache.New(ttl, 2*ttl), ttl)

	// Controllers poll every second and are not rate limited.
	hw := r.Group("/api")
	{
		hw.POST("/controllers/:controller_id/heartbeat", h.Heartbeat)
		hw.POST("/commands/:id/executed", h.CommandExecuted)
		hw.POST("/commands/:id/failed", h.CommandFailed)
		hw.POST("/events", h.PostEvent)
		hw.POST("/bays/:bay_id/cash", h.PostCash)
		hw.POST("/bays/:bay_id/card", h.PostCard)
	}

	api := r.Group("/api")
	if cfg.RateLimitPerSec > 0 {
		api.Use(mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst))
	}
	{
		api.GET("/services", caching, h.ListServices)
		api.GET("/bays", h.ListBays)
		api.GET("/controllers", h.ListControllers)
		api.GET("/sessions", h.ListSessions)

		api.POST("/bays/:bay_id/session", h.StartSession)
		api.GET("/bays/:bay_id/session", h.GetSession)
		api.DELETE("/bays/:bay_id/session", h.FinishSession)
		api.POST("/bays/:bay_id/service", h.SelectService)
		api.POST("/bays/:bay_id/resume", h.SelectService)
		api.POST("/bays/:bay_id/pause", h.PauseSession)

		api.POST("/payments/online", h.PostOnlinePayment)

		api.POST("/cards", h.RegisterCard)
		api.GET("/cards/:uid", h.GetCard)
		api.POST("/cards/:uid/topup", h.TopUpCard)

		api.GET("/subscriptions", h.GetSubscription)
		api.PUT("/subscriptions", h.PutSubscription)
		api.DELETE("/subscriptions", h.DeleteSubscription)
		api.GET("/vapid_public_key", h.GetVAPIDPublicKey)
	}

	r.GET("/ws/bays/:bay_id", h.StreamBay)
	return r
}
