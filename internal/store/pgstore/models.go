package pgstore

import (
	"time"

	"main/internal/model"
	"main/internal/model/enum"

	"github.com/shopspring/decimal"
)

type candleRow struct {
	InstrumentID string  `gorm:"primaryKey;column:instrument_id"`
	Timeframe    string  `gorm:"primaryKey;column:timeframe"`
	AtMs         int64   `gorm:"primaryKey;column:at_ms"`
	Open         float64 `gorm:"column:open"`
	High         float64 `gorm:"column:high"`
	Low          float64 `gorm:"column:low"`
	Close        float64 `gorm:"column:close"`
}

func (candleRow) TableName() string { return "candles" }

func candleToRow(instrumentID string, c model.Candle) candleRow {
	return candleRow{
		InstrumentID: instrumentID,
		Timeframe:    string(c.Timeframe),
		AtMs:         c.At.UnixMilli(),
		Open:         c.Open,
		High:         c.High,
		Low:          c.Low,
		Close:        c.Close,
	}
}

func (r candleRow) toModel() model.Candle {
	return model.Candle{
		Open:      r.Open,
		High:      r.High,
		Low:       r.Low,
		Close:     r.Close,
		At:        time.UnixMilli(r.AtMs).UTC(),
		Timeframe: model.Timeframe(r.Timeframe),
	}
}

type tradeRow struct {
	ID         string  `gorm:"primaryKey;column:id"`
	UserID     string  `gorm:"column:user_id;index"`
	AccountID  string  `gorm:"column:account_id;index"`
	Direction  string  `gorm:"column:direction"`
	Instrument string  `gorm:"column:instrument"`
	Amount     string  `gorm:"column:amount"`
	EntryPrice float64 `gorm:"column:entry_price"`
	ExitPrice  float64 `gorm:"column:exit_price"`
	PayoutRate string  `gorm:"column:payout_rate"`
	Status     string  `gorm:"column:status;index:idx_trades_status_expires"`
	OpenedAtMs int64   `gorm:"column:opened_at_ms"`
	ExpiresMs  int64   `gorm:"column:expires_at_ms;index:idx_trades_status_expires"`
	ClosedMs   int64   `gorm:"column:closed_at_ms"`
}

func (tradeRow) TableName() string { return "trades" }

func tradeToRow(t model.Trade) tradeRow {
	row := tradeRow{
		ID:         t.ID,
		UserID:     t.UserID,
		AccountID:  t.AccountID,
		Direction:  t.Direction.String(),
		Instrument: t.Instrument,
		Amount:     t.Amount.String(),
		EntryPrice: t.EntryPrice,
		ExitPrice:  t.ExitPrice,
		PayoutRate: t.PayoutRate.String(),
		Status:     t.Status.String(),
		OpenedAtMs: t.OpenedAt.UnixMilli(),
		ExpiresMs:  t.ExpiresAt.UnixMilli(),
	}
	if !t.ClosedAt.IsZero() {
		row.ClosedMs = t.ClosedAt.UnixMilli()
	}
	return row
}

func (r tradeRow) toModel() (model.Trade, error) {
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return model.Trade{}, err
	}
	payoutRate, err := decimal.NewFromString(r.PayoutRate)
	if err != nil {
		return model.Trade{}, err
	}
	direction, _ := enum.ParseDirection(r.Direction)
	trade := model.Trade{
		ID:         r.ID,
		UserID:     r.UserID,
		AccountID:  r.AccountID,
		Direction:  direction,
		Instrument: r.Instrument,
		Amount:     amount,
		EntryPrice: r.EntryPrice,
		ExitPrice:  r.ExitPrice,
		PayoutRate: payoutRate,
		Status:     parseStatus(r.Status),
		OpenedAt:   time.UnixMilli(r.OpenedAtMs).UTC(),
		ExpiresAt:  time.UnixMilli(r.ExpiresMs).UTC(),
	}
	if r.ClosedMs > 0 {
		trade.ClosedAt = time.UnixMilli(r.ClosedMs).UTC()
	}
	return trade, nil
}

func parseStatus(s string) enum.TradeStatus {
	switch s {
	case "OPEN":
		return enum.TradeStatusOpen
	case "WIN":
		return enum.TradeStatusWin
	case "LOSS":
		return enum.TradeStatusLoss
	case "TIE":
		return enum.TradeStatusTie
	default:
		return enum.TradeStatusUnknown
	}
}

type accountRow struct {
	ID       string `gorm:"primaryKey;column:id"`
	UserID   string `gorm:"column:user_id;index"`
	Balance  string `gorm:"column:balance"`
	Currency string `gorm:"column:currency"`
}

func (accountRow) TableName() string { return "accounts" }

func (r accountRow) toModel() (model.Account, error) {
	balance, err := decimal.NewFromString(r.Balance)
	if err != nil {
		return model.Account{}, err
	}
	return model.Account{
		ID:       r.ID,
		UserID:   r.UserID,
		Balance:  balance,
		Currency: r.Currency,
	}, nil
}
