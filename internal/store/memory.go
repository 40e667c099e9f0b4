package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"main/internal/model"
	"main/internal/model/enum"

	"github.com/shopspring/decimal"
)

// MemoryPrices is the in-memory CurrentPriceStore.
type MemoryPrices struct {
	mu    sync.RWMutex
	ticks map[string]model.PriceTick
}

func NewMemoryPrices() *MemoryPrices {
	return &MemoryPrices{ticks: make(map[string]model.PriceTick)}
}

func (s *MemoryPrices) SetPrice(_ context.Context, instrumentID string, tick model.PriceTick) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks[instrumentID] = tick
	return nil
}

func (s *MemoryPrices) Price(_ context.Context, instrumentID string) (model.PriceTick, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tick, ok := s.ticks[instrumentID]
	if !ok {
		return model.PriceTick{}, ErrNotFound
	}
	return tick, nil
}

// MemoryActiveCandles is the in-memory ActiveCandleStore.
type MemoryActiveCandles struct {
	mu      sync.RWMutex
	candles map[string]map[model.Timeframe]model.Candle
}

func NewMemoryActiveCandles() *MemoryActiveCandles {
	return &MemoryActiveCandles{candles: make(map[string]map[model.Timeframe]model.Candle)}
}

func (s *MemoryActiveCandles) SetActive(_ context.Context, instrumentID string, candle model.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byTf, ok := s.candles[instrumentID]
	if !ok {
		byTf = make(map[model.Timeframe]model.Candle)
		s.candles[instrumentID] = byTf
	}
	byTf[candle.Timeframe] = candle
	return nil
}

func (s *MemoryActiveCandles) Active(_ context.Context, instrumentID string, tf model.Timeframe) (model.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	candle, ok := s.candles[instrumentID][tf]
	if !ok {
		return model.Candle{}, ErrNotFound
	}
	return candle, nil
}

func (s *MemoryActiveCandles) ActiveAll(_ context.Context, instrumentID string) ([]model.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byTf := s.candles[instrumentID]
	out := make([]model.Candle, 0, len(byTf))
	for _, candle := range byTf {
		out = append(out, candle)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timeframe.Millis() < out[j].Timeframe.Millis()
	})
	return out, nil
}

type seriesKey struct {
	instrument string
	timeframe  model.Timeframe
}

// MemorySeries is the in-memory CandleSeriesStore.
type MemorySeries struct {
	mu     sync.RWMutex
	series map[seriesKey][]model.Candle
}

func NewMemorySeries() *MemorySeries {
	return &MemorySeries{series: make(map[seriesKey][]model.Candle)}
}

func (s *MemorySeries) Append(_ context.Context, instrumentID string, candle model.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := seriesKey{instrument: instrumentID, timeframe: candle.Timeframe}
	list := s.series[key]
	for _, existing := range list {
		if existing.At.Equal(candle.At) {
			// duplicate key: already applied
			return nil
		}
	}
	list = append(list, candle)
	sort.Slice(list, func(i, j int) bool { return list[i].At.Before(list[j].At) })
	s.series[key] = list
	return nil
}

func (s *MemorySeries) Latest(_ context.Context, instrumentID string, tf model.Timeframe, limit int) ([]model.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.series[seriesKey{instrument: instrumentID, timeframe: tf}]
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}
	out := make([]model.Candle, limit)
	copy(out, list[len(list)-limit:])
	return out, nil
}

func (s *MemorySeries) Before(_ context.Context, instrumentID string, tf model.Timeframe, before time.Time, limit int) ([]model.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.series[seriesKey{instrument: instrumentID, timeframe: tf}]
	idx := sort.Search(len(list), func(i int) bool { return !list[i].At.Before(before) })
	list = list[:idx]
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}
	out := make([]model.Candle, limit)
	copy(out, list[len(list)-limit:])
	return out, nil
}

// MemoryAccounts is the in-memory AccountStore.
type MemoryAccounts struct {
	mu       sync.Mutex
	accounts map[string]model.Account
}

func NewMemoryAccounts() *MemoryAccounts {
	return &MemoryAccounts{accounts: make(map[string]model.Account)}
}

// Put seeds an account. Intended for startup and tests.
func (s *MemoryAccounts) Put(account model.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[account.ID] = account
}

func (s *MemoryAccounts) Account(_ context.Context, id string) (model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[id]
	if !ok {
		return model.Account{}, ErrNotFound
	}
	return account, nil
}

func (s *MemoryAccounts) Debit(_ context.Context, id string, amount decimal.Decimal) (model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.debitLocked(id, amount)
}

func (s *MemoryAccounts) Credit(_ context.Context, id string, amount decimal.Decimal) (model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creditLocked(id, amount)
}

func (s *MemoryAccounts) debitLocked(id string, amount decimal.Decimal) (model.Account, error) {
	account, ok := s.accounts[id]
	if !ok {
		return model.Account{}, ErrNotFound
	}
	next := account.Balance.Sub(amount)
	if next.IsNegative() {
		return model.Account{}, ErrInsufficientBalance
	}
	account.Balance = next
	s.accounts[id] = account
	return account, nil
}

func (s *MemoryAccounts) creditLocked(id string, amount decimal.Decimal) (model.Account, error) {
	account, ok := s.accounts[id]
	if !ok {
		return model.Account{}, ErrNotFound
	}
	account.Balance = account.Balance.Add(amount)
	s.accounts[id] = account
	return account, nil
}

// MemoryTrades is the in-memory TradeStore. CloseAndCredit holds both
// the trade lock and the account lock so the status change and the
// credit are never observed independently.
type MemoryTrades struct {
	mu       sync.Mutex
	trades   map[string]model.Trade
	accounts *MemoryAccounts
}

func NewMemoryTrades(accounts *MemoryAccounts) *MemoryTrades {
	return &MemoryTrades{
		trades:   make(map[string]model.Trade),
		accounts: accounts,
	}
}

func (s *MemoryTrades) Create(_ context.Context, trade model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades[trade.ID] = trade
	return nil
}

func (s *MemoryTrades) Trade(_ context.Context, id string) (model.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	trade, ok := s.trades[id]
	if !ok {
		return model.Trade{}, ErrNotFound
	}
	return trade, nil
}

func (s *MemoryTrades) FindOpenExpired(_ context.Context, now time.Time) ([]model.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Trade
	for _, trade := range s.trades {
		if trade.Status == enum.TradeStatusOpen && trade.Expired(now) {
			out = append(out, trade)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

func (s *MemoryTrades) CloseAndCredit(_ context.Context, tradeID string, exitPrice float64, status enum.TradeStatus, closedAt time.Time, accountID string, credit decimal.Decimal) (model.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	trade, ok := s.trades[tradeID]
	if !ok {
		return model.Trade{}, ErrNotFound
	}
	if trade.Status != enum.TradeStatusOpen {
		return model.Trade{}, ErrTradeNotOpen
	}

	s.accounts.mu.Lock()
	defer s.accounts.mu.Unlock()
	if credit.IsPositive() {
		if _, err := s.accounts.creditLocked(accountID, credit); err != nil {
			return model.Trade{}, err
		}
	}

	trade.Status = status
	trade.ExitPrice = exitPrice
	trade.ClosedAt = closedAt
	s.trades[tradeID] = trade
	return trade, nil
}
