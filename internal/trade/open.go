// Package trade opens binary-options positions and settles expired
// ones.
package trade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/notify"
	"main/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"
)

const (
	minExpirationSeconds  = 5
	maxExpirationSeconds  = 300
	expirationStepSeconds = 5
)

// Quoter supplies the live price of an instrument. The engine manager
// satisfies it.
type Quoter interface {
	CurrentPrice(ctx context.Context, instrumentID string) (model.PriceTick, error)
}

// OpenRequest carries one open call.
type OpenRequest struct {
	UserID            string
	AccountID         string
	Direction         string
	Instrument        string
	Amount            decimal.Decimal
	ExpirationSeconds int
}

// OpenService validates open requests and creates trades against a
// live quote.
type OpenService struct {
	quoter     Quoter
	trades     store.TradeStore
	accounts   store.AccountStore
	registry   *notify.Registry
	payoutRate decimal.Decimal
	now        func() time.Time
	newID      func() string
}

// OpenOption tweaks service construction.
type OpenOption func(*OpenService)

// WithOpenClock replaces the wall clock. Intended for tests.
func WithOpenClock(now func() time.Time) OpenOption {
	return func(s *OpenService) { s.now = now }
}

// WithIDSource replaces trade ID generation. Intended for tests.
func WithIDSource(newID func() string) OpenOption {
	return func(s *OpenService) { s.newID = newID }
}

// NewOpenService creates the open service. The registry may be nil
// when no notification transport is attached.
func NewOpenService(quoter Quoter, trades store.TradeStore, accounts store.AccountStore, registry *notify.Registry, payoutRate decimal.Decimal, opts ...OpenOption) *OpenService {
	s := &OpenService{
		quoter:     quoter,
		trades:     trades,
		accounts:   accounts,
		registry:   registry,
		payoutRate: payoutRate,
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open validates the request, debits the stake and creates the OPEN
// trade. Validation failures reject before any mutation; a failed
// create after a successful debit is compensated with a credit so the
// balance never loses a stake without its trade.
func (s *OpenService) Open(ctx context.Context, req OpenRequest) (model.Trade, error) {
	if !req.Amount.IsPositive() {
		return model.Trade{}, ErrInvalidAmount
	}
	direction, ok := enum.ParseDirection(req.Direction)
	if !ok {
		return model.Trade{}, ErrInvalidDirection
	}
	if req.ExpirationSeconds < minExpirationSeconds ||
		req.ExpirationSeconds > maxExpirationSeconds ||
		req.ExpirationSeconds%expirationStepSeconds != 0 {
		return model.Trade{}, ErrInvalidExpiration
	}

	account, err := s.accounts.Account(ctx, req.AccountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.Trade{}, ErrAccountNotFound
		}
		return model.Trade{}, fmt.Errorf("load account: %w", err)
	}
	if account.UserID != req.UserID {
		return model.Trade{}, ErrNotAccountOwner
	}
	if account.Balance.LessThan(req.Amount) {
		return model.Trade{}, ErrInsufficientBalance
	}

	quote, err := s.quoter.CurrentPrice(ctx, req.Instrument)
	if err != nil {
		return model.Trade{}, ErrQuoteUnavailable
	}

	now := s.now()
	trade := model.Trade{
		ID:         s.newID(),
		UserID:     req.UserID,
		AccountID:  req.AccountID,
		Direction:  direction,
		Instrument: req.Instrument,
		Amount:     req.Amount,
		EntryPrice: quote.Price,
		PayoutRate: s.payoutRate,
		Status:     enum.TradeStatusOpen,
		OpenedAt:   now,
		ExpiresAt:  now.Add(time.Duration(req.ExpirationSeconds) * time.Second),
	}

	account, err = s.accounts.Debit(ctx, req.AccountID, req.Amount)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientBalance) {
			// the earlier check raced another debit
			return model.Trade{}, ErrInsufficientBalance
		}
		return model.Trade{}, fmt.Errorf("debit stake: %w", err)
	}
	if err := s.trades.Create(ctx, trade); err != nil {
		if _, creditErr := s.accounts.Credit(ctx, req.AccountID, req.Amount); creditErr != nil {
			logs.Errorf("refund stake for failed trade create, account %s: %v", req.AccountID, creditErr)
		}
		return model.Trade{}, fmt.Errorf("create trade: %w", err)
	}

	logs.Infof("opened trade %s %s %s stake %s expires %s",
		trade.ID, trade.Instrument, trade.Direction, trade.Amount, trade.ExpiresAt.Format(time.RFC3339))
	s.notifyOpened(trade, account.Balance)
	return trade, nil
}

// notifyOpened is best-effort; delivery failure never affects the
// trade.
func (s *OpenService) notifyOpened(trade model.Trade, balance decimal.Decimal) {
	if s.registry == nil {
		return
	}
	s.registry.Notify(trade.UserID, notify.Notification{
		Kind:       notify.KindTradeOpened,
		Instrument: trade.Instrument,
		Payload:    trade,
		At:         trade.OpenedAt,
	})
	s.registry.Notify(trade.UserID, notify.Notification{
		Kind:    notify.KindBalance,
		Payload: balance,
		At:      trade.OpenedAt,
	})
}
