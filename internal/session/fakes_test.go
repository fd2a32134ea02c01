package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"carwash-backend/internal/apperr"
	"carwash-backend/internal/model"
	"carwash-backend/internal/pricing"
	"carwash-backend/internal/settlement"
)

var errBusy = errors.New("database is locked")

type fakeStore struct {
	mu          sync.Mutex
	bays        map[int64]*model.Bay
	cards       map[string]*model.Card
	sessions    map[int64]*model.Session
	txs         []model.Transaction
	nextID      int64
	failSave    bool
	failSettles int
	onGetBay    func()
	settled     int
}

func newFakeStore() *fakeStore {
	ctrl := "ctrl-1"
	return &fakeStore{
		bays: map[int64]*model.Bay{
			1: {ID: 1, Name: "Bay 1", IsActive: true, Status: model.BayFree, ControllerID: &ctrl},
			2: {ID: 2, Name: "Bay 2", IsActive: true, Status: model.BayMaintenance},
			3: {ID: 3, Name: "Bay 3", IsActive: true, Status: model.BayFree, ControllerID: &ctrl},
		},
		cards:    make(map[string]*model.Card),
		sessions: make(map[int64]*model.Session),
	}
}

func (f *fakeStore) addCard(id int64, uid string, balance float64, active bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cards[uid] = &model.Card{ID: id, UID: uid, Balance: balance, IsActive: active}
}

func (f *fakeStore) card(uid string) model.Card {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.cards[uid]
}

func (f *fakeStore) transactions() []model.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Transaction(nil), f.txs...)
}

func (f *fakeStore) session(id int64) model.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.sessions[id]
}

func (f *fakeStore) setGetBayHook(fn func()) {
	f.mu.Lock()
	f.onGetBay = fn
	f.mu.Unlock()
}

func (f *fakeStore) settlements() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settled
}

func (f *fakeStore) GetBay(_ context.Context, id int64) (*model.Bay, error) {
	f.mu.Lock()
	hook := f.onGetBay
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bays[id]
	if !ok {
		return nil, apperr.NotFound("bay", id)
	}
	cp := *b
	return &cp, nil
}

func (f *fakeStore) GetCardByUID(_ context.Context, uid string) (*model.Card, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cards[uid]
	if !ok {
		return nil, apperr.NotFound("card", uid)
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) CreateSession(_ context.Context, s *model.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	s.ID = f.nextID
	cp := *s
	f.sessions[s.ID] = &cp
	return nil
}

func (f *fakeStore) SaveSessionProgress(_ context.Context, s *model.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSave {
		return errBusy
	}
	if row, ok := f.sessions[s.ID]; ok && row.Status == model.SessionActive {
		cp := *s
		f.sessions[s.ID] = &cp
	}
	return nil
}

func (f *fakeStore) TransferCardToSession(_ context.Context, cardID, sessionID int64) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.cards {
		if c.ID != cardID {
			continue
		}
		amount := c.Balance
		c.Balance = 0
		row := f.sessions[sessionID]
		row.CardID = &cardID
		row.CardInitialBalance += amount
		row.CardBalance += amount
		row.TotalBalance += amount
		return amount, nil
	}
	return 0, apperr.NotFound("card", cardID)
}

func (f *fakeStore) ListActiveSessions(context.Context) ([]model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Session
	for _, s := range f.sessions {
		if s.Status == model.SessionActive {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeStore) SettleSession(_ context.Context, s *model.Session, refund float64, txs []model.Transaction) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSettles > 0 {
		f.failSettles--
		return false, errBusy
	}
	row, ok := f.sessions[s.ID]
	if !ok || row.Status != model.SessionActive {
		return false, nil
	}
	cp := *s
	f.sessions[s.ID] = &cp
	if refund > 0 && s.CardID != nil {
		for _, c := range f.cards {
			if c.ID == *s.CardID {
				c.Balance += refund
			}
		}
	}
	f.txs = append(f.txs, txs...)
	f.settled++
	return true, nil
}

type fakeCatalog map[int64]model.Service

func (c fakeCatalog) Service(_ context.Context, id int64) (model.Service, error) {
	svc, ok := c[id]
	if !ok {
		return model.Service{}, apperr.NotFound("service", id)
	}
	return svc, nil
}

type sentCommand struct {
	controllerID string
	cmdType      string
	payload      string
	priority     int
	replace      bool
}

type fakeDispatcher struct {
	mu   sync.Mutex
	sent []sentCommand
}

func (d *fakeDispatcher) Replace(_ context.Context, controllerID, cmdType, payload string, priority int) (*model.ControllerCommand, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, sentCommand{controllerID, cmdType, payload, priority, true})
	return &model.ControllerCommand{ID: int64(len(d.sent)), ControllerID: controllerID, Type: cmdType}, nil
}

func (d *fakeDispatcher) Enqueue(_ context.Context, controllerID, cmdType, payload string, priority int) (*model.ControllerCommand, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, sentCommand{controllerID, cmdType, payload, priority, false})
	return &model.ControllerCommand{ID: int64(len(d.sent)), ControllerID: controllerID, Type: cmdType}, nil
}

func (d *fakeDispatcher) last() sentCommand {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sent[len(d.sent)-1]
}

func (d *fakeDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

type staticDiscounts []model.TimeDiscount

func (staticDiscounts) ActiveBonusTiers(context.Context) ([]model.BonusTier, error) { return nil, nil }

func (d staticDiscounts) ActiveTimeDiscounts(context.Context) ([]model.TimeDiscount, error) {
	return d, nil
}

type recorder struct {
	mu     sync.Mutex
	states []State
}

func (r *recorder) Publish(s State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *recorder) last() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.states[len(r.states)-1]
}

func (r *recorder) all() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

type harness struct {
	store    *fakeStore
	sched    *ManualScheduler
	dispatch *fakeDispatcher
	observed *recorder
	mgr      *Manager
}

const (
	serviceFoam     int64 = 1
	serviceInactive int64 = 2
)

func newHarness(t *testing.T, discounts ...model.TimeDiscount) *harness {
	t.Helper()
	return buildHarness(NewManualScheduler(), time.Second, discounts...)
}

// newTickerHarness meters on real tickers every millisecond.
func newTickerHarness(t *testing.T) *harness {
	t.Helper()
	return buildHarness(TickerScheduler{}, time.Millisecond)
}

func buildHarness(sched Scheduler, tick time.Duration, discounts ...model.TimeDiscount) *harness {
	h := &harness{
		store:    newFakeStore(),
		dispatch: &fakeDispatcher{},
		observed: &recorder{},
	}
	if ms, ok := sched.(*ManualScheduler); ok {
		h.sched = ms
	}
	catalog := fakeCatalog{
		serviceFoam:     {ID: serviceFoam, Name: "Foam", PricePerMinute: 6000, IsActive: true, RelayBits: "00010110", Pump1Power: 99, MotorFrequency: 27.5, MotorFlag: "F"},
		serviceInactive: {ID: serviceInactive, Name: "Wax", PricePerMinute: 3000, IsActive: false},
	}
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	h.mgr = New(Deps{
		Store:      h.store,
		Catalog:    catalog,
		Pricer:     pricing.NewEvaluator(staticDiscounts(discounts), time.UTC, nil),
		Dispatcher: h.dispatch,
		Settler:    settlement.NewRecorder(h.store, nil),
		Scheduler:  sched,
		Observers:  []Observer{h.observed},
		Now:        func() time.Time { return clock },
	}, Config{TickInterval: tick, Inactivity: 600 * tick})
	return h
}

func (h *harness) state(t *testing.T, bayID int64) State {
	t.Helper()
	s, ok := h.mgr.Snapshot(bayID)
	if !ok {
		t.Fatalf("bay %d has no session", bayID)
	}
	return s
}
