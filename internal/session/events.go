package session

// Event is one of the inbound events the engine reacts to:
// CashInserted, OnlinePaymentConfirmed, CardScanned, ServiceSelected and
// SessionFinishedByUser.
type Event interface {
	idempotencyKey() string
	bay() int64
}

// Meta carries transport metadata shared by all events. Events with the same
// non-empty IdempotencyKey are applied once within the dedup window.
type Meta struct {
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

func (m Meta) idempotencyKey() string { return m.IdempotencyKey }

// CashInserted is a bill or coin accepted at the bay.
type CashInserted struct {
	Meta
	BayID  int64   `json:"bay_id"`
	Amount float64 `json:"amount"`
}

// OnlinePaymentConfirmed is a provider-confirmed payment for a bay.
type OnlinePaymentConfirmed struct {
	Meta
	BayID    int64   `json:"bay_id"`
	Amount   float64 `json:"amount"`
	Provider string  `json:"provider"`
}

// CardScanned is an RFID card presented at a bay reader.
type CardScanned struct {
	Meta
	BayID int64  `json:"bay_id"`
	UID   string `json:"uid"`
}

// ServiceSelected is a program button press. A nil ServiceID pauses.
type ServiceSelected struct {
	Meta
	BayID     int64  `json:"bay_id"`
	ServiceID *int64 `json:"service_id"`
}

// SessionFinishedByUser is an explicit stop.
type SessionFinishedByUser struct {
	Meta
	BayID int64 `json:"bay_id"`
}

func (e CashInserted) bay() int64           { return e.BayID }
func (e OnlinePaymentConfirmed) bay() int64 { return e.BayID }
func (e CardScanned) bay() int64            { return e.BayID }
func (e ServiceSelected) bay() int64        { return e.BayID }
func (e SessionFinishedByUser) bay() int64  { return e.BayID }
