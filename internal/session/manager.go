// Package session owns the per-bay wash sessions: funding, program
// selection, the metering loop, and the hand-off to settlement.
//
// Every bay has its own lock. Event handlers and metering ticks for a bay
// take that lock, so they never interleave; different bays never contend.
package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"carwash-backend/internal/apperr"
	"carwash-backend/internal/hardware"
	"carwash-backend/internal/ledger"
	"carwash-backend/internal/model"
	"carwash-backend/internal/settlement"
)

const opTimeout = 10 * time.Second

// ErrNotPersisted marks an event whose money was applied in memory but could
// not be written. Its idempotency key stays registered.
var ErrNotPersisted = errors.New("session state applied but not persisted")

// Store is the persistence the engine needs.
type Store interface {
	GetBay(ctx context.Context, id int64) (*model.Bay, error)
	GetCardByUID(ctx context.Context, uid string) (*model.Card, error)
	CreateSession(ctx context.Context, s *model.Session) error
	SaveSessionProgress(ctx context.Context, s *model.Session) error
	TransferCardToSession(ctx context.Context, cardID, sessionID int64) (float64, error)
	ListActiveSessions(ctx context.Context) ([]model.Session, error)
}

// Catalog resolves wash programs.
type Catalog interface {
	Service(ctx context.Context, id int64) (model.Service, error)
}

// Pricer returns the effective per-second price.
type Pricer interface {
	EffectivePrice(ctx context.Context, perSecond float64, cardFunded bool, now time.Time) float64
}

// Dispatcher queues hardware directives for a controller. Replace supersedes
// pending commands; Enqueue adds alongside them.
type Dispatcher interface {
	Replace(ctx context.Context, controllerID, cmdType, payload string, priority int) (*model.ControllerCommand, error)
	Enqueue(ctx context.Context, controllerID, cmdType, payload string, priority int) (*model.ControllerCommand, error)
}

// Settler records finished sessions.
type Settler interface {
	Record(ctx context.Context, sess *model.Session, split ledger.Settlement) (settlement.Outcome, error)
}

// Config tunes the engine.
type Config struct {
	TickInterval    time.Duration
	Inactivity      time.Duration
	IdempotencyTTL  time.Duration
	SettlementRetry time.Duration
}

// Deps are the collaborators of a Manager. Dispatcher and Observers are optional.
type Deps struct {
	Store      Store
	Catalog    Catalog
	Pricer     Pricer
	Dispatcher Dispatcher
	Settler    Settler
	Scheduler  Scheduler
	Observers  []Observer
	Now        func() time.Time
	Log        *zap.Logger
}

type bay struct {
	mu   sync.Mutex
	id   int64
	sess *active
}

type active struct {
	row      *model.Session
	rec      model.Bay
	ledger   ledger.Ledger
	service  *model.Service
	price    float64
	idle     time.Duration
	stop     func()
	finished bool
}

type unsettled struct {
	row   *model.Session
	split ledger.Settlement
}

// Manager is the session state machine for all bays.
type Manager struct {
	store     Store
	catalog   Catalog
	pricer    Pricer
	dispatch  Dispatcher
	settler   Settler
	sched     Scheduler
	observers []Observer
	now       func() time.Time
	log       *zap.Logger

	tick       time.Duration
	inactivity time.Duration
	retryEvery time.Duration
	seen       *cache.Cache

	mu   sync.Mutex
	bays map[int64]*bay

	umu     sync.Mutex
	pending map[int64]unsettled
}

// New creates a Manager.
func New(deps Deps, cfg Config) *Manager {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.Inactivity <= 0 {
		cfg.Inactivity = 600 * time.Second
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 10 * time.Minute
	}
	if cfg.SettlementRetry <= 0 {
		cfg.SettlementRetry = 30 * time.Second
	}
	if deps.Scheduler == nil {
		deps.Scheduler = TickerScheduler{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}

	return &Manager{
		store:      deps.Store,
		catalog:    deps.Catalog,
		pricer:     deps.Pricer,
		dispatch:   deps.Dispatcher,
		settler:    deps.Settler,
		sched:      deps.Scheduler,
		observers:  deps.Observers,
		now:        deps.Now,
		log:        deps.Log,
		tick:       cfg.TickInterval,
		inactivity: cfg.Inactivity,
		retryEvery: cfg.SettlementRetry,
		seen:       cache.New(cfg.IdempotencyTTL, cfg.IdempotencyTTL),
		bays:       make(map[int64]*bay),
		pending:    make(map[int64]unsettled),
	}
}

func (m *Manager) slot(id int64) *bay {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bays[id]
	if !ok {
		b = &bay{id: id}
		m.bays[id] = b
	}
	return b
}

type dedupState int

const (
	inFlight dedupState = iota
	applied
)

// Handle applies one inbound event. A repeated idempotency key for the same
// bay and event kind is acknowledged without effect; one that arrives while
// the first delivery is still being applied is a conflict.
func (m *Manager) Handle(ctx context.Context, ev Event) error {
	key := ev.idempotencyKey()
	if key == "" {
		return m.apply(ctx, ev)
	}

	scoped := fmt.Sprintf("%d/%T/%s", ev.bay(), ev, key)
	if err := m.seen.Add(scoped, inFlight, cache.DefaultExpiration); err != nil {
		if v, ok := m.seen.Get(scoped); ok && v == inFlight {
			return apperr.Conflict("event %s is still being applied", key)
		}
		m.log.Info("duplicate event ignored", zap.String("idempotency_key", key), zap.String("event", fmt.Sprintf("%T", ev)))
		return nil
	}

	err := m.apply(ctx, ev)
	if err != nil && !errors.Is(err, ErrNotPersisted) {
		m.seen.Delete(scoped)
		return err
	}
	m.seen.Set(scoped, applied, cache.DefaultExpiration)
	return err
}

func (m *Manager) apply(ctx context.Context, ev Event) error {
	switch e := ev.(type) {
	case CashInserted:
		return m.Fund(ctx, e.BayID, ledger.Cash, e.Amount)
	case OnlinePaymentConfirmed:
		return m.fund(ctx, e.BayID, ledger.Online, e.Amount, e.Provider)
	case CardScanned:
		return m.ScanCard(ctx, e.BayID, e.UID)
	case ServiceSelected:
		return m.SelectService(ctx, e.BayID, e.ServiceID)
	case SessionFinishedByUser:
		return m.Finish(ctx, e.BayID)
	default:
		return apperr.Validation("unsupported event %T", ev)
	}
}

// Start opens a new session on the bay, finishing any previous one first.
func (m *Manager) Start(ctx context.Context, bayID int64) (State, error) {
	rec, err := m.store.GetBay(ctx, bayID)
	if err != nil {
		return State{}, err
	}

	b := m.slot(bayID)
	b.mu.Lock()
	defer b.mu.Unlock()

	a, err := m.startLocked(ctx, b, rec)
	if err != nil {
		return State{}, err
	}
	return m.view(b, a, EventStarted), nil
}

func (m *Manager) startLocked(ctx context.Context, b *bay, rec *model.Bay) (*active, error) {
	if !rec.IsActive {
		return nil, apperr.Conflict("bay %d is inactive", rec.ID)
	}
	if rec.Status == model.BayMaintenance || rec.Status == model.BayError {
		return nil, apperr.Conflict("bay %d is in %s", rec.ID, rec.Status)
	}
	if b.sess != nil {
		m.finishLocked(ctx, b, model.FinishReplaced, false)
	}

	row := &model.Session{
		BayID:     rec.ID,
		Status:    model.SessionActive,
		Paused:    true,
		StartedAt: m.now(),
	}
	if err := m.store.CreateSession(ctx, row); err != nil {
		return nil, err
	}

	a := &active{row: row, rec: *rec, idle: m.inactivity}
	m.schedule(b, a)

	m.log.Info("session started", zap.Int64("bay_id", rec.ID), zap.Int64("session_id", row.ID))
	m.publish(b, a, EventStarted)
	return a, nil
}

func (m *Manager) schedule(b *bay, a *active) {
	b.sess = a
	a.stop = m.sched.Every(m.tick, func() { m.onTick(b, a) })
}

// Fund credits a cash or online payment, opening a session when none exists.
func (m *Manager) Fund(ctx context.Context, bayID int64, src ledger.Source, amount float64) error {
	return m.fund(ctx, bayID, src, amount, "")
}

func (m *Manager) fund(ctx context.Context, bayID int64, src ledger.Source, amount float64, provider string) error {
	if src != ledger.Cash && src != ledger.Online {
		return apperr.Validation("unsupported funding source %q", src)
	}
	if !(amount > 0) || math.IsInf(amount, 0) {
		return apperr.Validation("amount must be positive, got %v", amount)
	}
	rec, err := m.store.GetBay(ctx, bayID)
	if err != nil {
		return err
	}

	b := m.slot(bayID)
	b.mu.Lock()
	defer b.mu.Unlock()

	a := b.sess
	if a == nil {
		if a, err = m.startLocked(ctx, b, rec); err != nil {
			return err
		}
	}
	if err := a.ledger.Credit(src, amount); err != nil {
		return err
	}
	a.idle = m.inactivity

	m.log.Info("session funded",
		zap.Int64("bay_id", bayID),
		zap.Int64("session_id", a.row.ID),
		zap.String("source", string(src)),
		zap.Float64("amount", amount))

	event := EventCashInserted
	if src == ledger.Online {
		event = EventOnlinePayment
		m.noticeLocked(ctx, rec, hardware.PaymentNotice(bayID, amount, provider))
	}
	persistErr := m.persistLocked(ctx, a)
	m.publish(b, a, event)
	return persistErr
}

// ScanCard moves the whole balance of the card into the bay's session.
func (m *Manager) ScanCard(ctx context.Context, bayID int64, uid string) error {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return apperr.Validation("card uid is required")
	}
	card, err := m.store.GetCardByUID(ctx, uid)
	if err != nil {
		return err
	}
	if !card.IsActive {
		return apperr.Conflict("card %s is blocked", uid)
	}
	rec, err := m.store.GetBay(ctx, bayID)
	if err != nil {
		return err
	}

	b := m.slot(bayID)
	b.mu.Lock()
	defer b.mu.Unlock()

	a := b.sess
	if a != nil && a.row.CardID != nil && *a.row.CardID != card.ID {
		return apperr.Conflict("session on bay %d is already linked to another card", bayID)
	}
	if card.Balance <= 0 {
		m.log.Info("card scanned with empty balance", zap.Int64("bay_id", bayID), zap.String("card_uid", uid))
		return nil
	}
	if a == nil {
		if a, err = m.startLocked(ctx, b, rec); err != nil {
			return err
		}
	}

	amount, err := m.store.TransferCardToSession(ctx, card.ID, a.row.ID)
	if err != nil {
		return err
	}
	if amount <= 0 {
		return nil
	}
	if err := a.ledger.CreditFromCard(amount); err != nil {
		return err
	}
	cardID := card.ID
	a.row.CardID = &cardID
	a.idle = m.inactivity
	a.ledger.Apply(a.row)

	m.log.Info("card balance moved to session",
		zap.Int64("bay_id", bayID),
		zap.Int64("session_id", a.row.ID),
		zap.String("card_uid", uid),
		zap.Float64("amount", amount))
	m.publish(b, a, EventCardScanned)
	return nil
}

// SelectService starts a wash program, or pauses when serviceID is nil.
func (m *Manager) SelectService(ctx context.Context, bayID int64, serviceID *int64) error {
	rec, err := m.store.GetBay(ctx, bayID)
	if err != nil {
		return err
	}
	if serviceID == nil {
		return m.pause(ctx, rec)
	}

	svc, err := m.catalog.Service(ctx, *serviceID)
	if err != nil {
		return err
	}
	if !svc.IsActive {
		m.stopInactive(ctx, rec, svc.ID)
		return apperr.Validation("service %d is not available", svc.ID)
	}
	if rec.ControllerID == nil || *rec.ControllerID == "" {
		return apperr.Conflict("bay %d has no controller", bayID)
	}

	b := m.slot(bayID)
	b.mu.Lock()
	defer b.mu.Unlock()

	a := b.sess
	if a == nil || a.ledger.Total() <= 0 {
		return apperr.Conflict("bay %d has no funds to start a service", bayID)
	}

	payload := hardware.NewPayload(hardware.CommandStartService, bayID, hardware.FromService(svc))
	payload.ServiceID = &svc.ID
	payload.ServiceName = svc.Name
	if err := m.sendLocked(ctx, rec, hardware.CommandStartService, hardware.PriorityNormal, payload); err != nil {
		return err
	}

	id := svc.ID
	a.row.ActiveServiceID = &id
	a.row.Paused = false
	a.service = &svc
	a.price = m.priceLocked(ctx, a)
	a.idle = m.inactivity

	m.log.Info("service selected",
		zap.Int64("bay_id", bayID),
		zap.Int64("session_id", a.row.ID),
		zap.Int64("service_id", svc.ID),
		zap.Float64("price_per_second", a.price))
	persistErr := m.persistLocked(ctx, a)
	m.publish(b, a, EventServiceSelected)
	return persistErr
}

func (m *Manager) pause(ctx context.Context, rec *model.Bay) error {
	b := m.slot(rec.ID)
	b.mu.Lock()
	defer b.mu.Unlock()

	a := b.sess
	if a == nil {
		return apperr.Conflict("no active session on bay %d", rec.ID)
	}
	payload := hardware.NewPayload(hardware.CommandPauseService, rec.ID, hardware.Pause())
	if err := m.sendLocked(ctx, rec, hardware.CommandPauseService, hardware.PriorityHigh, payload); err != nil {
		return err
	}

	a.row.ActiveServiceID = nil
	a.row.Paused = true
	a.service = nil
	a.price = 0
	a.idle = m.inactivity

	m.log.Info("session paused", zap.Int64("bay_id", rec.ID), zap.Int64("session_id", a.row.ID))
	persistErr := m.persistLocked(ctx, a)
	m.publish(b, a, EventPaused)
	return persistErr
}

// stopInactive switches every relay off when a withdrawn program is selected
// on a bay with a running session. The session stays open, paused.
func (m *Manager) stopInactive(ctx context.Context, rec *model.Bay, serviceID int64) {
	b := m.slot(rec.ID)
	b.mu.Lock()
	defer b.mu.Unlock()

	a := b.sess
	if a == nil {
		return
	}
	payload := hardware.NewPayload(hardware.CommandStopAll, rec.ID, hardware.Stop())
	if err := m.sendLocked(ctx, rec, hardware.CommandStopAll, hardware.PriorityHigh, payload); err != nil {
		m.log.Warn("could not queue stop for inactive service", zap.Int64("bay_id", rec.ID), zap.Error(err))
	}

	a.row.ActiveServiceID = nil
	a.row.Paused = true
	a.service = nil
	a.price = 0

	m.log.Warn("inactive service selected, bay stopped", zap.Int64("bay_id", rec.ID), zap.Int64("service_id", serviceID))
	if err := m.persistLocked(ctx, a); err != nil {
		m.log.Warn("stopped session not persisted", zap.Int64("session_id", a.row.ID), zap.Error(err))
	}
	m.publish(b, a, EventPaused)
}

// noticeLocked queues an informational command next to whatever the
// controller has pending. Failures are logged only.
func (m *Manager) noticeLocked(ctx context.Context, rec *model.Bay, payload hardware.Payload) {
	if m.dispatch == nil || rec.ControllerID == nil || *rec.ControllerID == "" {
		return
	}
	raw, err := payload.Encode()
	if err != nil {
		m.log.Warn("could not encode notice", zap.Int64("bay_id", rec.ID), zap.Error(err))
		return
	}
	if _, err := m.dispatch.Enqueue(ctx, *rec.ControllerID, payload.Action, raw, hardware.PriorityHigh); err != nil {
		m.log.Warn("could not queue notice", zap.Int64("bay_id", rec.ID), zap.String("action", payload.Action), zap.Error(err))
	}
}

// sendLocked replaces whatever the bay's controller has pending with a new
// directive. Bays without a controller are skipped.
func (m *Manager) sendLocked(ctx context.Context, rec *model.Bay, cmdType string, priority int, payload hardware.Payload) error {
	if m.dispatch == nil || rec.ControllerID == nil || *rec.ControllerID == "" {
		return nil
	}
	raw, err := payload.Encode()
	if err != nil {
		return err
	}
	cmd, err := m.dispatch.Replace(ctx, *rec.ControllerID, cmdType, raw, priority)
	if err != nil {
		return fmt.Errorf("failed to queue %s for bay %d: %w", cmdType, rec.ID, err)
	}
	m.log.Debug("directive queued",
		zap.Int64("bay_id", rec.ID),
		zap.String("controller_id", *rec.ControllerID),
		zap.Int64("command_id", cmd.ID),
		zap.String("frame", payload.Frame))
	return nil
}

// Finish ends the bay's session. Finishing a bay without a session is a no-op.
func (m *Manager) Finish(ctx context.Context, bayID int64) error {
	if _, err := m.store.GetBay(ctx, bayID); err != nil {
		return err
	}
	b := m.slot(bayID)
	b.mu.Lock()
	defer b.mu.Unlock()

	m.finishLocked(ctx, b, model.FinishByUser, false)
	return nil
}

// finishLocked settles the bay's session exactly once. The session is
// finished in memory even when settlement cannot be persisted; those are
// retried by Run.
func (m *Manager) finishLocked(ctx context.Context, b *bay, reason model.FinishReason, needsReview bool) {
	a := b.sess
	if a == nil || a.finished {
		return
	}
	a.finished = true
	a.stop()
	b.sess = nil

	now := m.now()
	a.ledger.Apply(a.row)
	a.row.Status = model.SessionFinished
	a.row.FinishReason = reason
	a.row.FinishedAt = &now
	a.row.NeedsReview = needsReview
	a.row.ActiveServiceID = nil

	split := a.ledger.Settle()
	log := m.log.With(zap.Int64("bay_id", b.id), zap.Int64("session_id", a.row.ID), zap.String("reason", string(reason)))
	if needsReview {
		log.Error("session force-finished for manual review")
	}

	if _, err := m.settler.Record(ctx, a.row, split); err != nil {
		log.Error("settlement not persisted, reconciliation required", zap.Error(err))
		m.umu.Lock()
		m.pending[a.row.ID] = unsettled{row: a.row, split: split}
		m.umu.Unlock()
	} else {
		log.Info("session finished",
			zap.Float64("cash", split.Cash),
			zap.Float64("online", split.Online),
			zap.Float64("card_spent", split.CardSpent),
			zap.Float64("card_refund", split.CardRefund))
	}

	payload := hardware.NewPayload(hardware.CommandPauseService, b.id, hardware.Pause())
	if err := m.sendLocked(ctx, &a.rec, hardware.CommandPauseService, hardware.PriorityHigh, payload); err != nil {
		log.Warn("could not queue pause after finish", zap.Error(err))
	}

	m.publish(b, a, EventFinished)
}

func (m *Manager) onTick(b *bay, a *active) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sess != a || a.finished {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if a.row.Paused || a.row.ActiveServiceID == nil || a.ledger.Total() <= 0 {
		a.idle -= m.tick
	} else {
		a.price = m.priceLocked(ctx, a)
		if a.price > 0 {
			a.ledger.Debit(a.price * m.tick.Seconds())
			a.idle = m.inactivity
			m.log.Debug("metered",
				zap.Int64("bay_id", b.id),
				zap.Float64("price", a.price),
				zap.Float64("total", a.ledger.Total()))
		}
	}

	if err := a.ledger.Check(); err != nil {
		m.log.Error("ledger invariant violated", zap.Int64("bay_id", b.id), zap.Int64("session_id", a.row.ID), zap.Error(err))
		m.finishLocked(ctx, b, model.FinishInvariant, true)
		return
	}

	switch {
	case a.ledger.Funded() && a.ledger.Total() <= 0:
		m.finishLocked(ctx, b, model.FinishExhausted, false)
	case a.idle <= 0:
		m.finishLocked(ctx, b, model.FinishTimeout, false)
	default:
		if err := m.persistLocked(ctx, a); err != nil {
			m.log.Warn("tick progress not persisted, retrying next tick", zap.Int64("session_id", a.row.ID), zap.Error(err))
		}
		m.publish(b, a, EventTick)
	}
}

// priceLocked refreshes the active service from the catalog and returns the
// effective per-second price.
func (m *Manager) priceLocked(ctx context.Context, a *active) float64 {
	if a.row.ActiveServiceID == nil {
		return 0
	}
	if svc, err := m.catalog.Service(ctx, *a.row.ActiveServiceID); err == nil {
		a.service = &svc
	} else if a.service == nil {
		m.log.Warn("active service unavailable", zap.Int64("service_id", *a.row.ActiveServiceID), zap.Error(err))
		return 0
	}
	return m.pricer.EffectivePrice(ctx, a.service.PricePerSecond(), a.ledger.CardFundedOnly(), m.now())
}

func (m *Manager) persistLocked(ctx context.Context, a *active) error {
	a.ledger.Apply(a.row)
	if err := m.store.SaveSessionProgress(ctx, a.row); err != nil {
		m.log.Error("session progress not persisted, reconciliation required",
			zap.Int64("session_id", a.row.ID),
			zap.Float64("total", a.row.TotalBalance),
			zap.Error(err))
		return fmt.Errorf("%w: %w", ErrNotPersisted, err)
	}
	return nil
}

func (m *Manager) view(b *bay, a *active, event string) State {
	s := State{
		Type:               "session_state",
		Event:              event,
		BayID:              b.id,
		SessionID:          a.row.ID,
		TotalBalance:       a.ledger.Total(),
		CashBalance:        a.ledger.Cash,
		OnlineBalance:      a.ledger.Online,
		CardBalance:        a.ledger.Card,
		CardInitialBalance: a.ledger.CardCredited,
		Paused:             a.row.Paused,
		Finished:           a.finished,
		Reason:             a.row.FinishReason,
		At:                 m.now(),
	}
	if a.row.ActiveServiceID != nil {
		id := *a.row.ActiveServiceID
		s.ActiveServiceID = &id
		if a.price > 0 {
			s.RemainingSeconds = int(math.Floor(s.TotalBalance/a.price + 1e-9))
		}
	}
	return s
}

func (m *Manager) publish(b *bay, a *active, event string) {
	s := m.view(b, a, event)
	for _, o := range m.observers {
		o.Publish(s)
	}
}

// Snapshot returns the current state of the bay's session, if any.
func (m *Manager) Snapshot(bayID int64) (State, bool) {
	m.mu.Lock()
	b, ok := m.bays[bayID]
	m.mu.Unlock()
	if !ok {
		return State{}, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sess == nil {
		return State{}, false
	}
	return m.view(b, b.sess, EventSnapshot), true
}

// Sessions returns the states of all open sessions ordered by bay.
func (m *Manager) Sessions() []State {
	m.mu.Lock()
	ids := make([]int64, 0, len(m.bays))
	for id := range m.bays {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []State
	for _, id := range ids {
		if s, ok := m.Snapshot(id); ok {
			out = append(out, s)
		}
	}
	return out
}

// Restore reloads active sessions from storage after a restart. Restored
// sessions come back paused so no money is spent before the user acts.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	rows, err := m.store.ListActiveSessions(ctx)
	if err != nil {
		return 0, err
	}

	restored := 0
	for i := range rows {
		row := rows[i]
		rec, err := m.store.GetBay(ctx, row.BayID)
		if err != nil {
			m.log.Error("cannot restore session, bay missing", zap.Int64("session_id", row.ID), zap.Error(err))
			continue
		}

		b := m.slot(row.BayID)
		b.mu.Lock()
		if b.sess != nil {
			b.mu.Unlock()
			continue
		}
		row.Paused = true
		row.ActiveServiceID = nil
		a := &active{row: &row, rec: *rec, ledger: ledger.FromSession(&row), idle: m.inactivity}
		m.schedule(b, a)
		if err := m.persistLocked(ctx, a); err != nil {
			m.log.Warn("restored session not persisted", zap.Int64("session_id", row.ID), zap.Error(err))
		}
		m.publish(b, a, EventRestored)
		b.mu.Unlock()
		restored++
	}
	if restored > 0 {
		m.log.Info("sessions restored", zap.Int("count", restored))
	}
	return restored, nil
}

// Unsettled reports how many finished sessions still wait for persistence.
func (m *Manager) Unsettled() int {
	m.umu.Lock()
	defer m.umu.Unlock()
	return len(m.pending)
}

// RetrySettlements tries to persist every queued settlement once.
func (m *Manager) RetrySettlements(ctx context.Context) {
	m.umu.Lock()
	queued := make([]unsettled, 0, len(m.pending))
	for _, u := range m.pending {
		queued = append(queued, u)
	}
	m.umu.Unlock()

	for _, u := range queued {
		if _, err := m.settler.Record(ctx, u.row, u.split); err != nil {
			m.log.Warn("settlement retry failed", zap.Int64("session_id", u.row.ID), zap.Error(err))
			continue
		}
		m.umu.Lock()
		delete(m.pending, u.row.ID)
		m.umu.Unlock()
		m.log.Info("settlement recovered", zap.Int64("session_id", u.row.ID))
	}
}

// Run retries failed settlements until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.retryEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RetrySettlements(ctx)
		}
	}
}

// Close stops every metering loop and persists progress. Sessions stay
// active in storage and are picked up again by Restore.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	bays := make([]*bay, 0, len(m.bays))
	for _, b := range m.bays {
		bays = append(bays, b)
	}
	m.mu.Unlock()

	for _, b := range bays {
		b.mu.Lock()
		if a := b.sess; a != nil {
			a.stop()
			if err := m.persistLocked(ctx, a); err != nil {
				m.log.Error("session not persisted on shutdown", zap.Int64("session_id", a.row.ID), zap.Error(err))
			}
			b.sess = nil
		}
		b.mu.Unlock()
	}
	m.RetrySettlements(ctx)
}
