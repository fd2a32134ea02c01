package model

import "time"

// SessionStatus is the persisted lifecycle status of a wash session.
type SessionStatus string

const (
	SessionActive   SessionStatus = "active"
	SessionFinished SessionStatus = "finished"
)

// FinishReason records why a session ended.
type FinishReason string

const (
	FinishByUser    FinishReason = "user"
	FinishExhausted FinishReason = "exhausted"
	FinishTimeout   FinishReason = "timeout"
	FinishReplaced  FinishReason = "replaced"
	FinishInvariant FinishReason = "invariant"
)

// Session is the metered occupancy of one bay.
//
// CashBalance, OnlineBalance and CardBalance are the remaining sub-balances and
// TotalBalance is their sum. The *Credited fields and CardInitialBalance keep
// what was funded from each source over the whole session.
type Session struct {
	ID                 int64         `gorm:"primaryKey"`
	BayID              int64         `gorm:"index;not null"`
	CardID             *int64        `gorm:"index"`
	Status             SessionStatus `gorm:"size:16;index;not null"`
	TotalBalance       float64       `gorm:"not null"`
	CashBalance        float64       `gorm:"not null"`
	OnlineBalance      float64       `gorm:"not null"`
	CardBalance        float64       `gorm:"not null"`
	CashCredited       float64       `gorm:"not null"`
	OnlineCredited     float64       `gorm:"not null"`
	CardInitialBalance float64       `gorm:"not null"`
	ActiveServiceID    *int64
	Paused             bool         `gorm:"not null"`
	FinishReason       FinishReason `gorm:"size:16"`
	NeedsReview        bool         `gorm:"not null"`
	StartedAt          time.Time    `gorm:"not null"`
	FinishedAt         *time.Time
}
