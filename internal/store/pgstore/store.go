// Package pgstore backs the durable ports with PostgreSQL through
// gorm. Settlement and balance mutations run inside transactions; the
// candle series relies on the composite primary key for idempotent
// appends.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/store"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// isNotFound matches gorm's record-not-found even when gorm wraps it.
func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// AutoMigrate creates the candle, trade and account tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&candleRow{}, &tradeRow{}, &accountRow{})
}

// Series implements store.CandleSeriesStore.
type Series struct {
	db *gorm.DB
}

func NewSeries(db *gorm.DB) *Series {
	return &Series{db: db}
}

func (s *Series) Append(ctx context.Context, instrumentID string, candle model.Candle) error {
	row := candleToRow(instrumentID, candle)
	// a duplicate (instrument, timeframe, slot) write is already applied
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("append candle: %w", err)
	}
	return nil
}

func (s *Series) Latest(ctx context.Context, instrumentID string, tf model.Timeframe, limit int) ([]model.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []candleRow
	err := s.db.WithContext(ctx).
		Where("instrument_id = ? AND timeframe = ?", instrumentID, string(tf)).
		Order("at_ms DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query latest candles: %w", err)
	}
	return rowsToCandlesAscending(rows), nil
}

func (s *Series) Before(ctx context.Context, instrumentID string, tf model.Timeframe, before time.Time, limit int) ([]model.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []candleRow
	err := s.db.WithContext(ctx).
		Where("instrument_id = ? AND timeframe = ? AND at_ms < ?", instrumentID, string(tf), before.UnixMilli()).
		Order("at_ms DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query candles before: %w", err)
	}
	return rowsToCandlesAscending(rows), nil
}

func rowsToCandlesAscending(rows []candleRow) []model.Candle {
	out := make([]model.Candle, len(rows))
	for i, row := range rows {
		out[len(rows)-1-i] = row.toModel()
	}
	return out
}

// Accounts implements store.AccountStore.
type Accounts struct {
	db *gorm.DB
}

func NewAccounts(db *gorm.DB) *Accounts {
	return &Accounts{db: db}
}

// Put inserts or replaces an account. Intended for provisioning.
func (s *Accounts) Put(ctx context.Context, account model.Account) error {
	row := accountRow{
		ID:       account.ID,
		UserID:   account.UserID,
		Balance:  account.Balance.String(),
		Currency: account.Currency,
	}
	return s.db.WithContext(ctx).Save(&row).Error
}

func (s *Accounts) Account(ctx context.Context, id string) (model.Account, error) {
	var row accountRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if isNotFound(err) {
		return model.Account{}, store.ErrNotFound
	}
	if err != nil {
		return model.Account{}, fmt.Errorf("load account: %w", err)
	}
	return row.toModel()
}

func (s *Accounts) Debit(ctx context.Context, id string, amount decimal.Decimal) (model.Account, error) {
	return s.adjust(ctx, s.db, id, amount.Neg())
}

func (s *Accounts) Credit(ctx context.Context, id string, amount decimal.Decimal) (model.Account, error) {
	return s.adjust(ctx, s.db, id, amount)
}

// adjust applies one balance delta as a single read-modify-write with a
// row lock, rejecting underflow before commit.
func (s *Accounts) adjust(ctx context.Context, db *gorm.DB, id string, delta decimal.Decimal) (model.Account, error) {
	var account model.Account
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updated, err := adjustInTx(tx, id, delta)
		if err != nil {
			return err
		}
		account = updated
		return nil
	})
	if err != nil {
		return model.Account{}, err
	}
	return account, nil
}

func adjustInTx(tx *gorm.DB, id string, delta decimal.Decimal) (model.Account, error) {
	var row accountRow
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, "id = ?", id).Error
	if isNotFound(err) {
		return model.Account{}, store.ErrNotFound
	}
	if err != nil {
		return model.Account{}, fmt.Errorf("lock account: %w", err)
	}
	balance, err := decimal.NewFromString(row.Balance)
	if err != nil {
		return model.Account{}, fmt.Errorf("parse balance: %w", err)
	}
	next := balance.Add(delta)
	if next.IsNegative() {
		return model.Account{}, store.ErrInsufficientBalance
	}
	row.Balance = next.String()
	if err := tx.Save(&row).Error; err != nil {
		return model.Account{}, fmt.Errorf("store balance: %w", err)
	}
	return row.toModel()
}

// Trades implements store.TradeStore.
type Trades struct {
	db *gorm.DB
}

func NewTrades(db *gorm.DB) *Trades {
	return &Trades{db: db}
}

func (s *Trades) Create(ctx context.Context, trade model.Trade) error {
	row := tradeToRow(trade)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("create trade: %w", err)
	}
	return nil
}

func (s *Trades) Trade(ctx context.Context, id string) (model.Trade, error) {
	var row tradeRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if isNotFound(err) {
		return model.Trade{}, store.ErrNotFound
	}
	if err != nil {
		return model.Trade{}, fmt.Errorf("load trade: %w", err)
	}
	return row.toModel()
}

func (s *Trades) FindOpenExpired(ctx context.Context, now time.Time) ([]model.Trade, error) {
	var rows []tradeRow
	err := s.db.WithContext(ctx).
		Where("status = ? AND expires_at_ms <= ?", enum.TradeStatusOpen.String(), now.UnixMilli()).
		Order("expires_at_ms ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query expired trades: %w", err)
	}
	out := make([]model.Trade, 0, len(rows))
	for _, row := range rows {
		trade, err := row.toModel()
		if err != nil {
			return nil, fmt.Errorf("decode trade row: %w", err)
		}
		out = append(out, trade)
	}
	return out, nil
}

// CloseAndCredit settles the trade and credits the account in one
// transaction, so a closed-but-uncredited state cannot be observed.
func (s *Trades) CloseAndCredit(ctx context.Context, tradeID string, exitPrice float64, status enum.TradeStatus, closedAt time.Time, accountID string, credit decimal.Decimal) (model.Trade, error) {
	var trade model.Trade
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row tradeRow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, "id = ?", tradeID).Error
		if isNotFound(err) {
			return store.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock trade: %w", err)
		}
		if row.Status != enum.TradeStatusOpen.String() {
			return store.ErrTradeNotOpen
		}

		row.Status = status.String()
		row.ExitPrice = exitPrice
		row.ClosedMs = closedAt.UnixMilli()
		if err := tx.Save(&row).Error; err != nil {
			return fmt.Errorf("store settled trade: %w", err)
		}

		if credit.IsPositive() {
			if _, err := adjustInTx(tx, accountID, credit); err != nil {
				return err
			}
		}

		trade, err = row.toModel()
		return err
	})
	if err != nil {
		return model.Trade{}, err
	}
	return trade, nil
}
