package model

import (
	"time"

	"main/internal/model/enum"

	"github.com/shopspring/decimal"
)

// Trade is a single binary-options position. It is created open and
// settles to exactly one terminal status; ClosedAt is set iff the
// status is terminal.
type Trade struct {
	ID         string
	UserID     string
	AccountID  string
	Direction  enum.Direction
	Instrument string
	Amount     decimal.Decimal
	EntryPrice float64
	ExitPrice  float64
	PayoutRate decimal.Decimal
	Status     enum.TradeStatus
	OpenedAt   time.Time
	ExpiresAt  time.Time
	ClosedAt   time.Time
}

// Expired reports whether the trade is due for settlement.
func (t Trade) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// Result resolves the terminal status for the given exit price.
// Equality is a tie for both directions; win and loss need a strict
// inequality.
func (t Trade) Result(exit float64) enum.TradeStatus {
	if exit == t.EntryPrice {
		return enum.TradeStatusTie
	}
	up := exit > t.EntryPrice
	if (t.Direction == enum.DirectionCall) == up {
		return enum.TradeStatusWin
	}
	return enum.TradeStatusLoss
}

// Payout is the amount credited back to the account for the given
// terminal status: stake plus profit on a win, the stake on a tie,
// nothing on a loss.
func (t Trade) Payout(status enum.TradeStatus) decimal.Decimal {
	switch status {
	case enum.TradeStatusWin:
		return t.Amount.Add(t.Amount.Mul(t.PayoutRate))
	case enum.TradeStatusTie:
		return t.Amount
	default:
		return decimal.Zero
	}
}
