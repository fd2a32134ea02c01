package session

import (
	"time"

	"carwash-backend/internal/model"
)

// Broadcast event names.
const (
	EventStarted         = "session_started"
	EventCashInserted    = "cash_inserted"
	EventOnlinePayment   = "online_payment"
	EventCardScanned     = "card_scanned"
	EventServiceSelected = "service_selected"
	EventPaused          = "paused"
	EventRestored        = "restored"
	EventTick            = "tick"
	EventSnapshot        = "snapshot"
	EventFinished        = "session_finished"
)

// State is the public view of a bay's session.
type State struct {
	Type               string             `json:"type"`
	Event              string             `json:"event"`
	BayID              int64              `json:"bay_id"`
	SessionID          int64              `json:"session_id"`
	TotalBalance       float64            `json:"total_balance"`
	CashBalance        float64            `json:"cash_balance"`
	OnlineBalance      float64            `json:"online_balance"`
	CardBalance        float64            `json:"card_balance"`
	CardInitialBalance float64            `json:"card_initial_balance"`
	ActiveServiceID    *int64             `json:"active_service_id"`
	Paused             bool               `json:"is_paused"`
	RemainingSeconds   int                `json:"remaining_time"`
	Finished           bool               `json:"finished"`
	Reason             model.FinishReason `json:"finish_reason,omitempty"`
	At                 time.Time          `json:"timestamp"`
}

// Observer receives every state change. Publish is called with the bay locked
// and must not block.
type Observer interface {
	Publish(State)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(State)

// Publish implements Observer.
func (f ObserverFunc) Publish(s State) { f(s) }
