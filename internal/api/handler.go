package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"carwash-backend/internal/apperr"
	"carwash-backend/internal/cmdqueue"
	"carwash-backend/internal/loyalty"
	"carwash-backend/internal/model"
	"carwash-backend/internal/session"
	"carwash-backend/internal/store"
)

// Engine is the session state machine.
type Engine interface {
	Handle(ctx context.Context, ev session.Event) error
	Start(ctx context.Context, bayID int64) (session.State, error)
	Snapshot(bayID int64) (session.State, bool)
	Sessions() []session.State
}

// Commands is the controller command queue.
type Commands interface {
	Next(ctx context.Context, controllerID, status string) (*model.ControllerCommand, error)
	Ack(ctx context.Context, id int64, result string) error
	Fail(ctx context.Context, id int64, message string) error
	Health(ctx context.Context) ([]cmdqueue.ControllerHealth, error)
}

// Cards registers and tops up loyalty cards.
type Cards interface {
	Register(ctx context.Context, req loyalty.RegisterRequest) (*model.Card, error)
	TopUp(ctx context.Context, uid string, amount float64) (loyalty.TopUpResult, error)
	Card(ctx context.Context, uid string) (*model.Card, error)
}

// Catalog lists the sellable wash programs.
type Catalog interface {
	ActiveServices(ctx context.Context) ([]model.Service, error)
}

// Streamer upgrades a request to a live feed of one bay.
type Streamer interface {
	Serve(w http.ResponseWriter, r *http.Request, bayID int64, initial *session.State) error
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store    store.Store
	engine   Engine
	commands Commands
	cards    Cards
	catalog  Catalog
	stream   Streamer
	webpush  *webpush.Options
	log      *zap.Logger
}

// Deps are the collaborators of a Handler. Stream and WebPush are optional.
type Deps struct {
	Store    store.Store
	Engine   Engine
	Commands Commands
	Cards    Cards
	Catalog  Catalog
	Stream   Streamer
	WebPush  *webpush.Options
	Log      *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(d Deps) *Handler {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &Handler{
		store:    d.Store,
		engine:   d.Engine,
		commands: d.Commands,
		cards:    d.Cards,
		catalog:  d.Catalog,
		stream:   d.Stream,
		webpush:  d.WebPush,
		log:      d.Log,
	}
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrTransientStorage):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func idParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}
