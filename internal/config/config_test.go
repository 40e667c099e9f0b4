package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"main/internal/model"
	"main/internal/model/enum"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `{
  "instruments": [
    {
      "id": "eurusd",
      "symbol": "EUR/USD",
      "precision": 5,
      "source": "synthetic",
      "startPrice": 1.1,
      "minPrice": 1.0,
      "maxPrice": 1.2,
      "volatility": 0.002,
      "intervalMs": 250
    },
    {
      "id": "btcusd_otc",
      "symbol": "BTC/USD OTC",
      "precision": 2,
      "source": "feed",
      "pairKey": "btcusd_otc"
    }
  ],
  "timeframes": ["5s", "1m", "1h"],
  "feed": {"url": "wss://feed.example.com/stream", "backoffBaseMs": 1000},
  "trading": {"payoutRate": 0.85, "settleIntervalMs": 500},
  "accounts": [{"id": "acc-1", "userId": "user-1", "balance": 1000, "currency": "USD"}]
}`

func TestLoadResolvesSampleConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o644))

	loaded, err := Load(path)
	require.NoError(t, err)

	require.Len(t, loaded.Instruments, 2)
	assert.Equal(t, enum.SourceSynthetic, loaded.Instruments[0].Source)
	assert.Equal(t, enum.SourceFeed, loaded.Instruments[1].Source)
	assert.Equal(t, "btcusd_otc", loaded.Instruments[1].PairKey)

	// the base timeframe is implicit, only rollup targets remain
	assert.Equal(t, []model.Timeframe{"1m", "1h"}, loaded.Timeframes)

	assert.Equal(t, "wss://feed.example.com/stream", loaded.FeedURL)
	assert.Equal(t, time.Second, loaded.Backoff.Base)
	assert.Equal(t, 60*time.Second, loaded.Backoff.Max)

	assert.True(t, loaded.PayoutRate.Equal(decimal.NewFromFloat(0.85)))
	assert.Equal(t, 500*time.Millisecond, loaded.SettleInterval)
	require.Len(t, loaded.Accounts, 1)
}

func TestResolveAppliesDefaults(t *testing.T) {
	loaded, err := Resolve(FileConfig{})
	require.NoError(t, err)

	assert.Equal(t, model.DefaultHigherTimeframes(), loaded.Timeframes)
	assert.True(t, loaded.PayoutRate.Equal(decimal.NewFromFloat(0.8)))
	assert.Equal(t, time.Second, loaded.SettleInterval)
	assert.Equal(t, 2*time.Second, loaded.Backoff.Base)
}

func TestResolveSkipsBrokenInstruments(t *testing.T) {
	loaded, err := Resolve(FileConfig{
		Instruments: []InstrumentConfig{
			{ID: "bad-source", Source: "carrier-pigeon"},
			{ID: "bad-feed", Source: "feed"}, // feed without a pair key
			{
				ID: "eurusd", Symbol: "EUR/USD", Precision: 5, Source: "synthetic",
				StartPrice: 1.1, MinPrice: 1.0, MaxPrice: 1.2, Volatility: 0.002, IntervalMs: 250,
			},
		},
	})
	require.NoError(t, err, "broken entries are dropped, not fatal")
	require.Len(t, loaded.Instruments, 1)
	assert.Equal(t, "eurusd", loaded.Instruments[0].ID)
}

func TestResolveRejectsUnknownTimeframe(t *testing.T) {
	_, err := Resolve(FileConfig{Timeframes: []string{"7m"}})
	assert.Error(t, err)
}
