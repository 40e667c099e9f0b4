// Package store defines the storage ports of the platform core and an
// in-memory implementation of each. Durable implementations live in the
// pgstore and redisstore subpackages.
package store

import (
	"context"
	"time"

	"main/internal/model"
	"main/internal/model/enum"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
)

var (
	ErrNotFound            = errors.New("store: not found")
	ErrInsufficientBalance = errors.New("store: insufficient balance")
	ErrTradeNotOpen        = errors.New("store: trade is not open")
)

// CurrentPriceStore keeps the latest tick per instrument.
type CurrentPriceStore interface {
	SetPrice(ctx context.Context, instrumentID string, tick model.PriceTick) error
	Price(ctx context.Context, instrumentID string) (model.PriceTick, error)
}

// ActiveCandleStore keeps the mutable candle snapshot per
// (instrument, timeframe). It is a fast, volatile store.
type ActiveCandleStore interface {
	SetActive(ctx context.Context, instrumentID string, candle model.Candle) error
	Active(ctx context.Context, instrumentID string, tf model.Timeframe) (model.Candle, error)
	// ActiveAll snapshots the active candle of every timeframe, used to
	// resynchronize a newly attached consumer.
	ActiveAll(ctx context.Context, instrumentID string) ([]model.Candle, error)
}

// CandleSeriesStore appends closed candles to the durable ordered
// series keyed by (instrument, timeframe, slot start).
type CandleSeriesStore interface {
	// Append is idempotent: writing a candle whose key already exists is
	// "already applied", not an error.
	Append(ctx context.Context, instrumentID string, candle model.Candle) error
	// Latest returns up to limit most recent candles in ascending order.
	Latest(ctx context.Context, instrumentID string, tf model.Timeframe, limit int) ([]model.Candle, error)
	// Before returns up to limit candles strictly older than the given
	// slot start, ascending.
	Before(ctx context.Context, instrumentID string, tf model.Timeframe, before time.Time, limit int) ([]model.Candle, error)
}

// TradeStore persists trades and performs the atomic settlement write.
type TradeStore interface {
	Create(ctx context.Context, trade model.Trade) error
	Trade(ctx context.Context, id string) (model.Trade, error)
	FindOpenExpired(ctx context.Context, now time.Time) ([]model.Trade, error)
	// CloseAndCredit settles a trade and credits its account as one
	// atomic unit. It fails with ErrTradeNotOpen when the trade already
	// settled, so a second settlement pass cannot double-credit.
	CloseAndCredit(ctx context.Context, tradeID string, exitPrice float64, status enum.TradeStatus, closedAt time.Time, accountID string, credit decimal.Decimal) (model.Trade, error)
}

// AccountStore mutates balances through atomic delta operations only.
type AccountStore interface {
	Account(ctx context.Context, id string) (model.Account, error)
	// Debit subtracts amount, rejecting the operation with
	// ErrInsufficientBalance before any mutation when it would go
	// negative.
	Debit(ctx context.Context, id string, amount decimal.Decimal) (model.Account, error)
	// Credit adds amount unconditionally; the platform's own credit
	// cannot underflow.
	Credit(ctx context.Context, id string, amount decimal.Decimal) (model.Account, error)
}
