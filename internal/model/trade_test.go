package model

import (
	"testing"
	"time"

	"main/internal/model/enum"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

const epsilon = 0.00001

func sampleTrade(direction enum.Direction) Trade {
	return Trade{
		Direction:  direction,
		Amount:     decimal.NewFromInt(100),
		EntryPrice: 50000,
		PayoutRate: decimal.NewFromFloat(0.8),
		Status:     enum.TradeStatusOpen,
	}
}

func TestResultCallBoundaries(t *testing.T) {
	trade := sampleTrade(enum.DirectionCall)

	assert.Equal(t, enum.TradeStatusLoss, trade.Result(50000-epsilon))
	assert.Equal(t, enum.TradeStatusTie, trade.Result(50000))
	assert.Equal(t, enum.TradeStatusWin, trade.Result(50000+epsilon))
}

func TestResultPutBoundaries(t *testing.T) {
	trade := sampleTrade(enum.DirectionPut)

	assert.Equal(t, enum.TradeStatusWin, trade.Result(50000-epsilon))
	assert.Equal(t, enum.TradeStatusTie, trade.Result(50000))
	assert.Equal(t, enum.TradeStatusLoss, trade.Result(50000+epsilon))
}

func TestPayoutPerStatus(t *testing.T) {
	trade := sampleTrade(enum.DirectionCall)

	assert.True(t, trade.Payout(enum.TradeStatusWin).Equal(decimal.NewFromInt(180)), "stake plus profit")
	assert.True(t, trade.Payout(enum.TradeStatusTie).Equal(decimal.NewFromInt(100)), "stake back")
	assert.True(t, trade.Payout(enum.TradeStatusLoss).Equal(decimal.Zero))
}

func TestExpired(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	trade := sampleTrade(enum.DirectionCall)

	trade.ExpiresAt = now
	assert.True(t, trade.Expired(now), "expiry boundary is inclusive")

	trade.ExpiresAt = now.Add(time.Second)
	assert.False(t, trade.Expired(now))
}
