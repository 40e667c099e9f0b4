package trade

import (
	"context"
	"testing"
	"time"

	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/obs"
	"main/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSettleFixture(t *testing.T, quote fixedQuoter, now time.Time) (*Settler, *store.MemoryAccounts, *store.MemoryTrades, *obs.Metrics) {
	t.Helper()
	accounts := store.NewMemoryAccounts()
	accounts.Put(model.Account{ID: "acc-1", UserID: "user-1", Balance: decimal.NewFromInt(900), Currency: "USD"})
	trades := store.NewMemoryTrades(accounts)
	metrics := obs.NewMetrics()
	settler := NewSettler(quote, trades, accounts, nil,
		WithSettleClock(func() time.Time { return now }),
		WithSettleMetrics(metrics),
	)
	return settler, accounts, trades, metrics
}

func openTrade(t *testing.T, trades *store.MemoryTrades, direction enum.Direction, entry float64, expiresAt time.Time) model.Trade {
	t.Helper()
	tr := model.Trade{
		ID:         "trade-1",
		UserID:     "user-1",
		AccountID:  "acc-1",
		Direction:  direction,
		Instrument: "btcusd",
		Amount:     decimal.NewFromInt(100),
		EntryPrice: entry,
		PayoutRate: decimal.NewFromFloat(0.8),
		Status:     enum.TradeStatusOpen,
		OpenedAt:   expiresAt.Add(-5 * time.Second),
		ExpiresAt:  expiresAt,
	}
	require.NoError(t, trades.Create(context.Background(), tr))
	return tr
}

func TestCycleSettlesWinWithFullPayout(t *testing.T) {
	// balance 1000, stake 100 already debited to 900; a win at rate 0.8
	// credits 100+80 for a final balance of 1080
	now := time.Date(2026, 5, 1, 12, 0, 10, 0, time.UTC)
	settler, accounts, trades, metrics := newSettleFixture(t, fixedQuoter{"btcusd": {Price: 50100, At: now}}, now)
	openTrade(t, trades, enum.DirectionCall, 50000, now.Add(-time.Second))

	settler.Cycle(context.Background())

	settled, err := trades.Trade(context.Background(), "trade-1")
	require.NoError(t, err)
	assert.Equal(t, enum.TradeStatusWin, settled.Status)
	assert.Equal(t, 50100.0, settled.ExitPrice)
	assert.Equal(t, now, settled.ClosedAt)

	account, err := accounts.Account(context.Background(), "acc-1")
	require.NoError(t, err)
	assert.True(t, account.Balance.Equal(decimal.NewFromInt(1080)), "got %s", account.Balance)
	assert.Equal(t, uint64(1), metrics.Snapshot().SettlementWins)
}

func TestCycleSettlesLossWithoutCredit(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 10, 0, time.UTC)
	settler, accounts, trades, metrics := newSettleFixture(t, fixedQuoter{"btcusd": {Price: 49900, At: now}}, now)
	openTrade(t, trades, enum.DirectionCall, 50000, now.Add(-time.Second))

	settler.Cycle(context.Background())

	settled, err := trades.Trade(context.Background(), "trade-1")
	require.NoError(t, err)
	assert.Equal(t, enum.TradeStatusLoss, settled.Status)

	account, err := accounts.Account(context.Background(), "acc-1")
	require.NoError(t, err)
	assert.True(t, account.Balance.Equal(decimal.NewFromInt(900)), "loss credits nothing, got %s", account.Balance)
	assert.Equal(t, uint64(1), metrics.Snapshot().SettlementLoss)
}

func TestCycleSettlesTieWithStakeRefund(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 10, 0, time.UTC)
	settler, accounts, trades, metrics := newSettleFixture(t, fixedQuoter{"btcusd": {Price: 50000, At: now}}, now)
	openTrade(t, trades, enum.DirectionPut, 50000, now.Add(-time.Second))

	settler.Cycle(context.Background())

	settled, err := trades.Trade(context.Background(), "trade-1")
	require.NoError(t, err)
	assert.Equal(t, enum.TradeStatusTie, settled.Status)

	account, err := accounts.Account(context.Background(), "acc-1")
	require.NoError(t, err)
	assert.True(t, account.Balance.Equal(decimal.NewFromInt(1000)), "stake returned, got %s", account.Balance)
	assert.Equal(t, uint64(1), metrics.Snapshot().SettlementTies)
}

func TestCycleSkipsTradeWithoutQuote(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 10, 0, time.UTC)
	settler, accounts, trades, metrics := newSettleFixture(t, fixedQuoter{}, now)
	openTrade(t, trades, enum.DirectionCall, 50000, now.Add(-time.Second))

	settler.Cycle(context.Background())

	stillOpen, err := trades.Trade(context.Background(), "trade-1")
	require.NoError(t, err)
	assert.Equal(t, enum.TradeStatusOpen, stillOpen.Status, "skip leaves the trade open for the next cycle")

	account, err := accounts.Account(context.Background(), "acc-1")
	require.NoError(t, err)
	assert.True(t, account.Balance.Equal(decimal.NewFromInt(900)), "no partial mutation, got %s", account.Balance)
	assert.Equal(t, uint64(1), metrics.Snapshot().SettlementSkips)
}

func TestCycleLeavesUnexpiredTradesAlone(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 10, 0, time.UTC)
	settler, _, trades, _ := newSettleFixture(t, fixedQuoter{"btcusd": {Price: 50100, At: now}}, now)
	openTrade(t, trades, enum.DirectionCall, 50000, now.Add(time.Minute))

	settler.Cycle(context.Background())

	stillOpen, err := trades.Trade(context.Background(), "trade-1")
	require.NoError(t, err)
	assert.Equal(t, enum.TradeStatusOpen, stillOpen.Status)
}

func TestDoubleSettlementCannotDoubleCredit(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 10, 0, time.UTC)
	settler, accounts, trades, _ := newSettleFixture(t, fixedQuoter{"btcusd": {Price: 50100, At: now}}, now)
	tr := openTrade(t, trades, enum.DirectionCall, 50000, now.Add(-time.Second))

	settler.Cycle(context.Background())

	// a racing pass reaching the same trade hits the closed status and
	// backs off without touching the balance
	_, err := trades.CloseAndCredit(context.Background(), tr.ID, 50100, enum.TradeStatusWin, now, tr.AccountID, tr.Payout(enum.TradeStatusWin))
	require.ErrorIs(t, err, store.ErrTradeNotOpen)

	settler.Cycle(context.Background())

	account, err := accounts.Account(context.Background(), "acc-1")
	require.NoError(t, err)
	assert.True(t, account.Balance.Equal(decimal.NewFromInt(1080)), "credited exactly once, got %s", account.Balance)
}

func TestStartAndStopAreIdempotent(t *testing.T) {
	now := time.Now()
	settler, _, _, _ := newSettleFixture(t, fixedQuoter{}, now)
	settler.Start(context.Background())
	settler.Start(context.Background()) // second start logs and no-ops
	settler.Stop()
	settler.Stop()
}
