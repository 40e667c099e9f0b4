package trade

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/notify"
	"main/internal/obs"
	"main/internal/store"

	"github.com/yanun0323/logs"
)

const defaultSettleInterval = time.Second

// Settler polls for expired open trades and settles each against a
// fresh quote of its own instrument.
type Settler struct {
	quoter   Quoter
	trades   store.TradeStore
	accounts store.AccountStore
	registry *notify.Registry
	metrics  *obs.Metrics
	interval time.Duration
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// SettlerOption tweaks settler construction.
type SettlerOption func(*Settler)

// WithSettleInterval replaces the poll cadence.
func WithSettleInterval(interval time.Duration) SettlerOption {
	return func(s *Settler) { s.interval = interval }
}

// WithSettleClock replaces the wall clock. Intended for tests.
func WithSettleClock(now func() time.Time) SettlerOption {
	return func(s *Settler) { s.now = now }
}

// WithSettleMetrics wires counter reporting.
func WithSettleMetrics(m *obs.Metrics) SettlerOption {
	return func(s *Settler) { s.metrics = m }
}

// NewSettler creates the settlement poller. The registry may be nil.
func NewSettler(quoter Quoter, trades store.TradeStore, accounts store.AccountStore, registry *notify.Registry, opts ...SettlerOption) *Settler {
	s := &Settler{
		quoter:   quoter,
		trades:   trades,
		accounts: accounts,
		registry: registry,
		interval: defaultSettleInterval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the poll loop. It is a no-op when already running.
func (s *Settler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		logs.Warnf("settler already running")
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(runCtx, s.done)
}

// Stop cancels the poll loop and waits for it to exit.
func (s *Settler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Settler) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Cycle(ctx)
		}
	}
}

// Cycle settles every expired open trade once. A failure on one trade
// is logged and isolated; the rest of the batch still settles.
func (s *Settler) Cycle(ctx context.Context) {
	now := s.now()
	expired, err := s.trades.FindOpenExpired(ctx, now)
	if err != nil {
		logs.Errorf("find expired trades: %v", err)
		return
	}
	for _, t := range expired {
		if err := s.settleOne(ctx, t, now); err != nil {
			logs.Errorf("settle trade %s: %v", t.ID, err)
		}
	}
}

func (s *Settler) settleOne(ctx context.Context, t model.Trade, now time.Time) error {
	quote, err := s.quoter.CurrentPrice(ctx, t.Instrument)
	if err != nil {
		// no quote, no mutation; the trade stays open for the next cycle
		s.metrics.IncSettlementSkip()
		logs.Warnf("skip trade %s: no quote for %s", t.ID, t.Instrument)
		return nil
	}

	status := t.Result(quote.Price)
	credit := t.Payout(status)
	settled, err := s.trades.CloseAndCredit(ctx, t.ID, quote.Price, status, now, t.AccountID, credit)
	if err != nil {
		if errors.Is(err, store.ErrTradeNotOpen) {
			// another pass settled it first
			return nil
		}
		return fmt.Errorf("close and credit: %w", err)
	}

	switch status {
	case enum.TradeStatusWin:
		s.metrics.IncSettlementWin()
	case enum.TradeStatusLoss:
		s.metrics.IncSettlementLoss()
	case enum.TradeStatusTie:
		s.metrics.IncSettlementTie()
	}
	logs.Infof("settled trade %s %s exit %v credit %s", settled.ID, status, quote.Price, credit)
	s.notifySettled(ctx, settled)
	return nil
}

// notifySettled is best-effort; delivery failure never rolls back
// settlement.
func (s *Settler) notifySettled(ctx context.Context, t model.Trade) {
	if s.registry == nil {
		return
	}
	s.registry.Notify(t.UserID, notify.Notification{
		Kind:       notify.KindTradeSettled,
		Instrument: t.Instrument,
		Payload:    t,
		At:         t.ClosedAt,
	})
	if s.accounts != nil {
		if account, err := s.accounts.Account(ctx, t.AccountID); err == nil {
			s.registry.Notify(t.UserID, notify.Notification{
				Kind:    notify.KindBalance,
				Payload: account.Balance,
				At:      t.ClosedAt,
			})
		}
	}
}
