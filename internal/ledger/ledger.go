// Package ledger tracks the cash, online and card sub-balances of one session.
//
// A Ledger is not safe for concurrent use; the owning session serializes access.
// Metering draws funds down in the order cash, online, card so that card funds
// are spent last and the card remainder is what gets refunded.
package ledger

import (
	"math"

	"carwash-backend/internal/apperr"
	"carwash-backend/internal/model"
)

// Source names a funding pool.
type Source string

const (
	Cash   Source = "cash"
	Online Source = "online"
	Card   Source = "card"
)

const epsilon = 1e-9

// Ledger holds remaining sub-balances and the amounts credited per source.
type Ledger struct {
	Cash   float64
	Online float64
	Card   float64

	CashCredited   float64
	OnlineCredited float64
	CardCredited   float64
}

// FromSession rebuilds a ledger from persisted session balances.
func FromSession(s *model.Session) Ledger {
	return Ledger{
		Cash:           s.CashBalance,
		Online:         s.OnlineBalance,
		Card:           s.CardBalance,
		CashCredited:   s.CashCredited,
		OnlineCredited: s.OnlineCredited,
		CardCredited:   s.CardInitialBalance,
	}
}

// Apply copies the ledger balances onto s.
func (l Ledger) Apply(s *model.Session) {
	s.CashBalance = l.Cash
	s.OnlineBalance = l.Online
	s.CardBalance = l.Card
	s.TotalBalance = l.Total()
	s.CashCredited = l.CashCredited
	s.OnlineCredited = l.OnlineCredited
	s.CardInitialBalance = l.CardCredited
}

// Total is the spendable sum of the sub-balances.
func (l Ledger) Total() float64 {
	return l.Cash + l.Online + l.Card
}

func validAmount(amount float64) bool {
	return amount > 0 && !math.IsInf(amount, 0) && !math.IsNaN(amount)
}

// Credit adds a cash or online payment.
func (l *Ledger) Credit(src Source, amount float64) error {
	if !validAmount(amount) {
		return apperr.Validation("amount must be positive, got %v", amount)
	}
	switch src {
	case Cash:
		l.Cash += amount
		l.CashCredited += amount
	case Online:
		l.Online += amount
		l.OnlineCredited += amount
	default:
		return apperr.Validation("cannot credit source %q directly", src)
	}
	return nil
}

// CreditFromCard adds funds moved off a card. The caller has already zeroed
// the card balance in storage.
func (l *Ledger) CreditFromCard(amount float64) error {
	if !validAmount(amount) {
		return apperr.Validation("card amount must be positive, got %v", amount)
	}
	l.Card += amount
	l.CardCredited += amount
	return nil
}

// Debit removes amount from the pools in draw-down order. It reports true
// when the ledger is empty afterwards; any shortfall is clamped away.
func (l *Ledger) Debit(amount float64) (exhausted bool) {
	if amount > 0 {
		rest := amount
		for _, pool := range []*float64{&l.Cash, &l.Online, &l.Card} {
			take := math.Min(*pool, rest)
			if take > 0 {
				*pool -= take
				rest -= take
			}
			if *pool < epsilon {
				*pool = 0
			}
		}
	}
	return l.Total() <= 0
}

// CardFundedOnly reports whether the next debit can only come from card funds.
func (l Ledger) CardFundedOnly() bool {
	return l.Cash <= 0 && l.Online <= 0 && l.Card > 0
}

// Funded reports whether any money was ever credited.
func (l Ledger) Funded() bool {
	return l.CashCredited+l.OnlineCredited+l.CardCredited > 0
}

// Check verifies that no pool is negative or non-finite.
func (l Ledger) Check() error {
	for _, v := range []struct {
		name  string
		value float64
	}{
		{"cash", l.Cash}, {"online", l.Online}, {"card", l.Card},
		{"cash credited", l.CashCredited}, {"online credited", l.OnlineCredited}, {"card credited", l.CardCredited},
	} {
		if math.IsNaN(v.value) || math.IsInf(v.value, 0) || v.value < 0 {
			return apperr.Invariant("%s balance is %v", v.name, v.value)
		}
	}
	if l.Card > l.CardCredited+epsilon {
		return apperr.Invariant("card balance %v exceeds card funding %v", l.Card, l.CardCredited)
	}
	return nil
}

// Settlement is the final money split of a session.
type Settlement struct {
	Cash       float64
	Online     float64
	CardSpent  float64
	CardRefund float64
}

// Settle computes the final split. The card refund is the remaining card pool
// and never exceeds what the card contributed.
func (l Ledger) Settle() Settlement {
	refund := math.Min(math.Max(l.Card, 0), l.CardCredited)
	return Settlement{
		Cash:       l.CashCredited,
		Online:     l.OnlineCredited,
		CardSpent:  l.CardCredited - refund,
		CardRefund: refund,
	}
}
