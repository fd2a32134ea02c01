package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carwash-backend/internal/apperr"
	"carwash-backend/internal/hardware"
	"carwash-backend/internal/ledger"
	"carwash-backend/internal/model"
)

func ptr(v int64) *int64 { return &v }

func TestScanCard_MovesWholeBalance(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.store.addCard(7, "CARD-A", 10000, true)

	require.NoError(t, h.mgr.ScanCard(ctx, 1, "CARD-A"))

	s := h.state(t, 1)
	assert.Equal(t, 10000.0, s.TotalBalance)
	assert.Equal(t, 10000.0, s.CardBalance)
	assert.Zero(t, h.store.card("CARD-A").Balance)
	assert.Equal(t, EventCardScanned, h.observed.last().Event)
}

func TestScanCard_Rejections(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.store.addCard(1, "BLOCKED", 500, false)
	h.store.addCard(2, "EMPTY", 0, true)
	h.store.addCard(3, "FIRST", 100, true)
	h.store.addCard(4, "SECOND", 100, true)

	assert.ErrorIs(t, h.mgr.ScanCard(ctx, 1, "NOPE"), apperr.ErrNotFound)
	assert.ErrorIs(t, h.mgr.ScanCard(ctx, 1, "BLOCKED"), apperr.ErrConflict)
	assert.ErrorIs(t, h.mgr.ScanCard(ctx, 1, " "), apperr.ErrValidation)

	require.NoError(t, h.mgr.ScanCard(ctx, 1, "EMPTY"))
	_, ok := h.mgr.Snapshot(1)
	assert.False(t, ok, "empty card must not open a session")

	require.NoError(t, h.mgr.ScanCard(ctx, 1, "FIRST"))
	assert.ErrorIs(t, h.mgr.ScanCard(ctx, 1, "SECOND"), apperr.ErrConflict)
	assert.Equal(t, 100.0, h.store.card("SECOND").Balance)
	assert.Equal(t, 100.0, h.state(t, 1).TotalBalance)
}

func TestMetering_DebitsOncePerTick(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	require.NoError(t, h.mgr.Fund(ctx, 1, ledger.Cash, 10000))
	require.NoError(t, h.mgr.SelectService(ctx, 1, ptr(serviceFoam)))

	prev := h.state(t, 1).TotalBalance
	for i := 0; i < 10; i++ {
		h.sched.Fire()
		s := h.state(t, 1)
		assert.LessOrEqual(t, s.TotalBalance, prev)
		assert.InDelta(t, s.CashBalance+s.OnlineBalance+s.CardBalance, s.TotalBalance, 1e-9)
		prev = s.TotalBalance
	}

	s := h.state(t, 1)
	assert.InDelta(t, 9000, s.TotalBalance, 1e-6)
	assert.Equal(t, 90, s.RemainingSeconds)
	assert.False(t, s.Paused)
}

func TestMetering_TimeDiscountOnlyForCardFunds(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, model.TimeDiscount{StartTime: "00:00", EndTime: "23:59", DiscountPercent: 50, IsActive: true})
	h.store.addCard(1, "CARD", 1000, true)

	require.NoError(t, h.mgr.Fund(ctx, 1, ledger.Cash, 200))
	require.NoError(t, h.mgr.ScanCard(ctx, 1, "CARD"))
	require.NoError(t, h.mgr.SelectService(ctx, 1, ptr(serviceFoam)))

	// Two full-price ticks drain the cash, then card funds are discounted.
	h.sched.FireN(2)
	s := h.state(t, 1)
	assert.Zero(t, s.CashBalance)
	assert.InDelta(t, 1000, s.CardBalance, 1e-9)

	h.sched.FireN(4)
	assert.InDelta(t, 800, h.state(t, 1).CardBalance, 1e-9)
}

func TestInactivity_TimesOutUnfundedSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.mgr.Start(ctx, 1)
	require.NoError(t, err)

	h.sched.FireN(599)
	_, ok := h.mgr.Snapshot(1)
	require.True(t, ok)

	h.sched.Fire()
	_, ok = h.mgr.Snapshot(1)
	assert.False(t, ok)
	assert.Zero(t, h.sched.Len())

	final := h.observed.last()
	assert.True(t, final.Finished)
	assert.Equal(t, model.FinishTimeout, final.Reason)
	assert.Empty(t, h.store.transactions())
	assert.Equal(t, model.SessionFinished, h.store.session(final.SessionID).Status)
}

func TestExhaustion_FinishesAndPauses(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	require.NoError(t, h.mgr.Fund(ctx, 1, ledger.Cash, 150))
	require.NoError(t, h.mgr.SelectService(ctx, 1, ptr(serviceFoam)))

	h.sched.FireN(2)
	_, ok := h.mgr.Snapshot(1)
	assert.False(t, ok)

	final := h.observed.last()
	assert.Equal(t, model.FinishExhausted, final.Reason)
	assert.Zero(t, final.TotalBalance)

	cmd := h.dispatch.last()
	assert.Equal(t, hardware.CommandPauseService, cmd.cmdType)
	assert.Equal(t, hardware.PriorityHigh, cmd.priority)

	txs := h.store.transactions()
	require.Len(t, txs, 1)
	assert.Equal(t, model.TxCash, txs[0].Type)
	assert.Equal(t, 150.0, txs[0].Amount)
}

func TestStart_ReplacesExistingSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	require.NoError(t, h.mgr.Fund(ctx, 1, ledger.Cash, 100))
	first := h.state(t, 1).SessionID

	s, err := h.mgr.Start(ctx, 1)
	require.NoError(t, err)
	assert.NotEqual(t, first, s.SessionID)
	assert.Zero(t, s.TotalBalance)

	old := h.store.session(first)
	assert.Equal(t, model.SessionFinished, old.Status)
	assert.Equal(t, model.FinishReplaced, old.FinishReason)
	require.Len(t, h.store.transactions(), 1)
	assert.Equal(t, 1, h.sched.Len())
}

func TestStart_RejectsMaintenanceBay(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.mgr.Start(ctx, 2)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.ErrorIs(t, h.mgr.Fund(ctx, 2, ledger.Cash, 10), apperr.ErrConflict)

	_, err = h.mgr.Start(ctx, 99)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestFinish_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.store.addCard(3, "CARD", 500, true)

	require.NoError(t, h.mgr.ScanCard(ctx, 1, "CARD"))
	require.NoError(t, h.mgr.Finish(ctx, 1))
	require.NoError(t, h.mgr.Finish(ctx, 1))

	// No ticks ran, so the whole card balance comes back.
	assert.Equal(t, 500.0, h.store.card("CARD").Balance)
	assert.Empty(t, h.store.transactions())

	// A tick left over from the finished session does nothing.
	h.sched.Fire()
	assert.Equal(t, 500.0, h.store.card("CARD").Balance)
}

func TestMixedFunding_DrawsCashBeforeCard(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.store.addCard(5, "MIX", 500, true)

	require.NoError(t, h.mgr.Fund(ctx, 1, ledger.Cash, 300))
	require.NoError(t, h.mgr.ScanCard(ctx, 1, "MIX"))
	require.NoError(t, h.mgr.SelectService(ctx, 1, ptr(serviceFoam)))

	h.sched.FireN(3)
	s := h.state(t, 1)
	assert.Zero(t, s.CashBalance)
	assert.InDelta(t, 500, s.CardBalance, 1e-9)

	h.sched.FireN(2)
	require.NoError(t, h.mgr.Finish(ctx, 1))

	assert.InDelta(t, 300, h.store.card("MIX").Balance, 1e-9)
	byType := map[model.TransactionType]float64{}
	for _, tx := range h.store.transactions() {
		byType[tx.Type] += tx.Amount
	}
	assert.Equal(t, 300.0, byType[model.TxCash])
	assert.InDelta(t, 200, byType[model.TxCardWash], 1e-9)
}

func TestSelectService_Validation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	assert.ErrorIs(t, h.mgr.SelectService(ctx, 1, ptr(99)), apperr.ErrNotFound)
	assert.ErrorIs(t, h.mgr.SelectService(ctx, 1, ptr(serviceInactive)), apperr.ErrValidation)
	_, ok := h.mgr.Snapshot(1)
	assert.False(t, ok)
	assert.Zero(t, h.dispatch.count())

	assert.ErrorIs(t, h.mgr.SelectService(ctx, 1, nil), apperr.ErrConflict)
}

func TestSelectService_PauseSupersedesStart(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	require.NoError(t, h.mgr.Fund(ctx, 1, ledger.Cash, 1000))
	require.NoError(t, h.mgr.SelectService(ctx, 1, ptr(serviceFoam)))

	start := h.dispatch.last()
	assert.Equal(t, hardware.CommandStartService, start.cmdType)
	payload, err := hardware.DecodePayload(start.payload)
	require.NoError(t, err)
	assert.Equal(t, "<00010110,99,00,00,00,27.5,F>", payload.Frame)

	require.NoError(t, h.mgr.SelectService(ctx, 1, nil))
	pause := h.dispatch.last()
	assert.Equal(t, hardware.CommandPauseService, pause.cmdType)
	assert.Equal(t, "ctrl-1", pause.controllerID)

	s := h.state(t, 1)
	assert.True(t, s.Paused)
	assert.Nil(t, s.ActiveServiceID)

	// Paused sessions are not charged.
	h.sched.FireN(5)
	assert.Equal(t, 1000.0, h.state(t, 1).TotalBalance)
}

func TestHandle_DeduplicatesByIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	ev := CashInserted{Meta: Meta{IdempotencyKey: "pay-1"}, BayID: 1, Amount: 100}
	require.NoError(t, h.mgr.Handle(ctx, ev))
	require.NoError(t, h.mgr.Handle(ctx, ev))
	assert.Equal(t, 100.0, h.state(t, 1).TotalBalance)

	// A rejected event does not burn its key.
	bad := OnlinePaymentConfirmed{Meta: Meta{IdempotencyKey: "pay-2"}, BayID: 1, Amount: -1}
	assert.ErrorIs(t, h.mgr.Handle(ctx, bad), apperr.ErrValidation)
	good := OnlinePaymentConfirmed{Meta: Meta{IdempotencyKey: "pay-2"}, BayID: 1, Amount: 50, Provider: "click"}
	require.NoError(t, h.mgr.Handle(ctx, good))
	assert.Equal(t, 50.0, h.state(t, 1).OnlineBalance)

	// Events without a key are applied every time.
	require.NoError(t, h.mgr.Handle(ctx, CashInserted{BayID: 1, Amount: 10}))
	require.NoError(t, h.mgr.Handle(ctx, CashInserted{BayID: 1, Amount: 10}))
	assert.Equal(t, 120.0, h.state(t, 1).CashBalance)

	require.NoError(t, h.mgr.Handle(ctx, SessionFinishedByUser{BayID: 1}))
	_, ok := h.mgr.Snapshot(1)
	assert.False(t, ok)
}

func TestPersistenceFailure_IsNotFatal(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	require.NoError(t, h.mgr.Fund(ctx, 1, ledger.Cash, 1000))
	require.NoError(t, h.mgr.SelectService(ctx, 1, ptr(serviceFoam)))

	h.store.mu.Lock()
	h.store.failSave = true
	h.store.mu.Unlock()

	h.sched.FireN(3)
	assert.InDelta(t, 700, h.state(t, 1).TotalBalance, 1e-9)

	// The credit is kept in memory and its key stays registered.
	ev := CashInserted{Meta: Meta{IdempotencyKey: "late"}, BayID: 1, Amount: 100}
	err := h.mgr.Handle(ctx, ev)
	require.Error(t, err)
	assert.InDelta(t, 800, h.state(t, 1).TotalBalance, 1e-9)
	require.NoError(t, h.mgr.Handle(ctx, ev))
	assert.InDelta(t, 800, h.state(t, 1).TotalBalance, 1e-9)

	h.store.mu.Lock()
	h.store.failSave = false
	h.store.mu.Unlock()
	h.sched.Fire()
	assert.InDelta(t, 700, h.store.session(h.state(t, 1).SessionID).TotalBalance, 1e-9)
}

func TestSettlementFailure_IsRetried(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	require.NoError(t, h.mgr.Fund(ctx, 1, ledger.Cash, 100))
	h.store.mu.Lock()
	h.store.failSettles = 1
	h.store.mu.Unlock()

	require.NoError(t, h.mgr.Finish(ctx, 1))
	_, ok := h.mgr.Snapshot(1)
	assert.False(t, ok)
	assert.Equal(t, 1, h.mgr.Unsettled())
	assert.Empty(t, h.store.transactions())

	h.mgr.RetrySettlements(ctx)
	assert.Zero(t, h.mgr.Unsettled())
	assert.Len(t, h.store.transactions(), 1)
}

func TestRestore_ResumesPaused(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.store.sessions[10] = &model.Session{
		ID: 10, BayID: 1, Status: model.SessionActive,
		CashBalance: 250, TotalBalance: 250, CashCredited: 250,
		ActiveServiceID: ptr(serviceFoam),
	}

	n, err := h.mgr.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	s := h.state(t, 1)
	assert.Equal(t, int64(10), s.SessionID)
	assert.True(t, s.Paused)
	assert.Equal(t, 250.0, s.TotalBalance)

	h.sched.Fire()
	assert.Equal(t, 250.0, h.state(t, 1).TotalBalance)
}

func TestInvariantViolation_ForcesReview(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.store.sessions[11] = &model.Session{
		ID: 11, BayID: 1, Status: model.SessionActive,
		CashBalance: -5, TotalBalance: -5, CashCredited: 10,
	}

	_, err := h.mgr.Restore(ctx)
	require.NoError(t, err)
	h.sched.Fire()

	_, ok := h.mgr.Snapshot(1)
	assert.False(t, ok)
	row := h.store.session(11)
	assert.Equal(t, model.FinishInvariant, row.FinishReason)
	assert.True(t, row.NeedsReview)
}

func TestSelectService_RequiresFunds(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	assert.ErrorIs(t, h.mgr.SelectService(ctx, 1, ptr(serviceFoam)), apperr.ErrConflict)
	_, ok := h.mgr.Snapshot(1)
	assert.False(t, ok)

	_, err := h.mgr.Start(ctx, 1)
	require.NoError(t, err)
	assert.ErrorIs(t, h.mgr.SelectService(ctx, 1, ptr(serviceFoam)), apperr.ErrConflict)
	assert.Zero(t, h.dispatch.count())

	h.sched.FireN(300)
	s := h.state(t, 1)
	assert.True(t, s.Paused)
	assert.Nil(t, s.ActiveServiceID)
}

func TestSelectService_InactiveServiceStopsBay(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	require.NoError(t, h.mgr.Fund(ctx, 1, ledger.Cash, 1000))
	require.NoError(t, h.mgr.SelectService(ctx, 1, ptr(serviceFoam)))
	assert.ErrorIs(t, h.mgr.SelectService(ctx, 1, ptr(serviceInactive)), apperr.ErrValidation)

	stop := h.dispatch.last()
	assert.Equal(t, hardware.CommandStopAll, stop.cmdType)
	assert.Equal(t, hardware.PriorityHigh, stop.priority)
	payload, err := hardware.DecodePayload(stop.payload)
	require.NoError(t, err)
	assert.Equal(t, "<00000000,00,00,00,00,0.0,S>", payload.Frame)

	s := h.state(t, 1)
	assert.True(t, s.Paused)
	assert.Nil(t, s.ActiveServiceID)
	h.sched.FireN(3)
	assert.Equal(t, 1000.0, h.state(t, 1).TotalBalance)
}

func TestOnlinePayment_NotifiesController(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	require.NoError(t, h.mgr.Fund(ctx, 1, ledger.Cash, 1000))
	require.NoError(t, h.mgr.SelectService(ctx, 1, ptr(serviceFoam)))
	require.NoError(t, h.mgr.Handle(ctx, OnlinePaymentConfirmed{BayID: 1, Amount: 20000, Provider: "Payme"}))

	notice := h.dispatch.last()
	assert.Equal(t, hardware.CommandPaymentReceived, notice.cmdType)
	assert.Equal(t, hardware.PriorityHigh, notice.priority)
	assert.False(t, notice.replace)
	payload, err := hardware.DecodePayload(notice.payload)
	require.NoError(t, err)
	assert.Equal(t, 20000.0, payload.PaymentAmount)
	assert.Equal(t, "payme", payload.PaymentType)

	// Cash does not notify.
	n := h.dispatch.count()
	require.NoError(t, h.mgr.Fund(ctx, 1, ledger.Cash, 10))
	assert.Equal(t, n, h.dispatch.count())
}

func TestHandle_KeysAreScopedByBayAndKind(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	require.NoError(t, h.mgr.Handle(ctx, CashInserted{Meta: Meta{IdempotencyKey: "k"}, BayID: 1, Amount: 100}))
	require.NoError(t, h.mgr.Handle(ctx, OnlinePaymentConfirmed{Meta: Meta{IdempotencyKey: "k"}, BayID: 1, Amount: 40}))
	require.NoError(t, h.mgr.Handle(ctx, CashInserted{Meta: Meta{IdempotencyKey: "k"}, BayID: 3, Amount: 70}))

	assert.Equal(t, 140.0, h.state(t, 1).TotalBalance)
	assert.Equal(t, 70.0, h.state(t, 3).TotalBalance)
}

func TestHandle_DuplicateWhileInFlightConflicts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.store.setGetBayHook(func() {
		once.Do(func() {
			close(entered)
			<-release
		})
	})

	ev := CashInserted{Meta: Meta{IdempotencyKey: "bill-9"}, BayID: 1, Amount: 100}
	done := make(chan error, 1)
	go func() { done <- h.mgr.Handle(ctx, ev) }()

	<-entered
	assert.ErrorIs(t, h.mgr.Handle(ctx, ev), apperr.ErrConflict)
	close(release)
	require.NoError(t, <-done)

	require.NoError(t, h.mgr.Handle(ctx, ev))
	assert.Equal(t, 100.0, h.state(t, 1).TotalBalance)
}

func TestFinish_FractionalCardRoundTrip(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.store.addCard(7, "FRAC", 38.3295, true)

	require.NoError(t, h.mgr.ScanCard(ctx, 1, "FRAC"))
	require.NoError(t, h.mgr.Finish(ctx, 1))

	assert.Equal(t, 38.3295, h.store.card("FRAC").Balance)
	assert.Empty(t, h.store.transactions())
}

func TestConcurrentEvents_SingleWriterPerBay(t *testing.T) {
	ctx := context.Background()
	h := newTickerHarness(t)

	require.NoError(t, h.mgr.Fund(ctx, 1, ledger.Cash, 1000))
	require.NoError(t, h.mgr.SelectService(ctx, 1, ptr(serviceFoam)))

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				assert.NoError(t, h.mgr.Fund(ctx, 1, ledger.Cash, 1))
				if (w+i)%2 == 0 {
					assert.NoError(t, h.mgr.SelectService(ctx, 1, ptr(serviceFoam)))
				} else {
					assert.NoError(t, h.mgr.SelectService(ctx, 1, nil))
				}
				h.mgr.Snapshot(1)
			}
		}(w)
	}
	wg.Wait()
	time.Sleep(5 * time.Millisecond)

	var finishers sync.WaitGroup
	for i := 0; i < 4; i++ {
		finishers.Add(1)
		go func() {
			defer finishers.Done()
			assert.NoError(t, h.mgr.Finish(ctx, 1))
		}()
	}
	finishers.Wait()
	time.Sleep(5 * time.Millisecond)

	_, ok := h.mgr.Snapshot(1)
	assert.False(t, ok)
	assert.Equal(t, 1, h.store.settlements())

	var cash float64
	for _, tx := range h.store.transactions() {
		if tx.Type == model.TxCash {
			cash += tx.Amount
		}
	}
	assert.InDelta(t, 1200, cash, 1e-9)

	finished := 0
	for _, st := range h.observed.all() {
		assert.GreaterOrEqual(t, st.TotalBalance, 0.0)
		assert.InDelta(t, st.CashBalance+st.OnlineBalance+st.CardBalance, st.TotalBalance, 1e-9)
		if st.Finished {
			finished++
		}
	}
	assert.Equal(t, 1, finished)
}
