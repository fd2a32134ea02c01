package model

import "time"

// TransactionType classifies a money movement.
type TransactionType string

const (
	TxCash      TransactionType = "cash"
	TxOnline    TransactionType = "online"
	TxCardTopUp TransactionType = "card_top_up"
	TxCardWash  TransactionType = "card_wash"
	TxBonus     TransactionType = "bonus"
)

// Transaction is an append-only record of money movement.
type Transaction struct {
	ID          int64           `gorm:"primaryKey"`
	SessionID   *int64          `gorm:"index"`
	CardID      *int64          `gorm:"index"`
	Type        TransactionType `gorm:"size:16;not null"`
	Amount      float64         `gorm:"not null"`
	Description string          `gorm:"size:256"`
	CreatedAt   time.Time       `gorm:"index;not null"`
}
