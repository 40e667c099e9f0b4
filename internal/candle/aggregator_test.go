package candle

import (
	"context"
	"testing"
	"time"

	"main/internal/bus"
	"main/internal/model"
	"main/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseCandle(at time.Time, open, high, low, close float64) model.Candle {
	return model.Candle{
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		At:        at,
		Timeframe: model.TimeframeBase,
	}
}

func newTestAggregator(t *testing.T, frames ...model.Timeframe) (*Aggregator, *store.MemoryActiveCandles, *store.MemorySeries) {
	t.Helper()
	b := bus.New("btcusdt", 256)
	active := store.NewMemoryActiveCandles()
	series := store.NewMemorySeries()
	t.Cleanup(b.Close)
	return NewAggregator("btcusdt", b, active, series, frames), active, series
}

func TestRollupExtendsWithinSlot(t *testing.T) {
	agg, active, _ := newTestAggregator(t, "15s")

	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	agg.Apply(baseCandle(start, 100, 103, 99, 102))
	agg.Apply(baseCandle(start.Add(5*time.Second), 102, 110, 101, 108))

	rollup, err := active.Active(context.Background(), "btcusdt", "15s")
	require.NoError(t, err)
	assert.Equal(t, 100.0, rollup.Open)
	assert.Equal(t, 110.0, rollup.High)
	assert.Equal(t, 99.0, rollup.Low)
	assert.Equal(t, 108.0, rollup.Close)
	assert.Equal(t, start, rollup.At)
}

func TestRollupClosesEagerlyOnBoundary(t *testing.T) {
	agg, _, series := newTestAggregator(t, "15s")

	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	agg.Apply(baseCandle(start, 100, 103, 99, 102))
	agg.Apply(baseCandle(start.Add(5*time.Second), 102, 105, 101, 104))

	closed, err := series.Latest(context.Background(), "btcusdt", "15s", 10)
	require.NoError(t, err)
	assert.Empty(t, closed, "rollup stays open before the boundary")

	// the base candle ending exactly on the 15s boundary closes it
	agg.Apply(baseCandle(start.Add(10*time.Second), 104, 106, 103, 105))

	closed, err = series.Latest(context.Background(), "btcusdt", "15s", 10)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, 100.0, closed[0].Open)
	assert.Equal(t, 106.0, closed[0].High)
	assert.Equal(t, 99.0, closed[0].Low)
	assert.Equal(t, 105.0, closed[0].Close)
	assert.Equal(t, start, closed[0].At)
}

func TestRollupOpenContinuesPreviousClose(t *testing.T) {
	agg, _, series := newTestAggregator(t, "15s")

	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 9; i++ {
		at := start.Add(time.Duration(i) * 5 * time.Second)
		price := 100 + float64(i)
		agg.Apply(baseCandle(at, price, price+2, price-2, price+1))
	}

	closed, err := series.Latest(context.Background(), "btcusdt", "15s", 10)
	require.NoError(t, err)
	require.Len(t, closed, 3)
	for i := 1; i < len(closed); i++ {
		assert.Equal(t, closed[i-1].Close, closed[i].Open,
			"rollup %d must open at the previous rollup's close", i)
	}

	// timestamps are strictly increasing and timeframe-aligned
	var tf model.Timeframe = "15s"
	for i, c := range closed {
		assert.Zero(t, c.At.UnixMilli()%tf.Millis())
		if i > 0 {
			assert.True(t, closed[i-1].At.Before(c.At))
		}
	}
}

func TestRollupAfterGapClosesStaleSlot(t *testing.T) {
	agg, _, series := newTestAggregator(t, "30s")

	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	agg.Apply(baseCandle(start, 100, 103, 99, 102))
	// base feed gap: next closed candle lands in a later 30s slot
	agg.Apply(baseCandle(start.Add(35*time.Second), 104, 105, 103, 104))

	closed, err := series.Latest(context.Background(), "btcusdt", "30s", 10)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, 102.0, closed[0].Close)
	assert.Equal(t, start, closed[0].At)
}

func TestAggregatorFeedsEveryTimeframe(t *testing.T) {
	agg, active, _ := newTestAggregator(t, "15s", "30s", "1m")

	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	agg.Apply(baseCandle(start, 100, 103, 99, 102))

	all, err := active.ActiveAll(context.Background(), "btcusdt")
	require.NoError(t, err)
	require.Len(t, all, 3)
	for _, rollup := range all {
		assert.Equal(t, 100.0, rollup.Open)
		assert.Equal(t, start, rollup.At)
	}
}

func TestRunConsumesOnlyBaseCloses(t *testing.T) {
	b := bus.New("btcusdt", 256)
	defer b.Close()
	active := store.NewMemoryActiveCandles()
	series := store.NewMemorySeries()
	agg := NewAggregator("btcusdt", b, active, series, []model.Timeframe{"15s"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		agg.Run(ctx)
		close(done)
	}()

	// the subscription exists since construction, so publishing right
	// away cannot race the Run goroutine
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		at := start.Add(time.Duration(i) * 5 * time.Second)
		b.Publish(bus.Event{
			Type:       bus.EventCandleClosed,
			Instrument: "btcusdt",
			Candle:     baseCandle(at, 100, 101, 99, 100.5),
			At:         at.Add(5 * time.Second),
		})
	}

	require.Eventually(t, func() bool {
		closed, err := series.Latest(context.Background(), "btcusdt", "15s", 10)
		return err == nil && len(closed) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestBaseClosesBeforeRunAreNotLost(t *testing.T) {
	b := bus.New("btcusdt", 256)
	defer b.Close()
	active := store.NewMemoryActiveCandles()
	series := store.NewMemorySeries()
	agg := NewAggregator("btcusdt", b, active, series, []model.Timeframe{"15s"})

	// a full 15s slot of base closes lands before Run is scheduled
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		at := start.Add(time.Duration(i) * 5 * time.Second)
		b.Publish(bus.Event{
			Type:       bus.EventCandleClosed,
			Instrument: "btcusdt",
			Candle:     baseCandle(at, 100, 101, 99, 100.5),
			At:         at.Add(5 * time.Second),
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		agg.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		closed, err := series.Latest(context.Background(), "btcusdt", "15s", 10)
		return err == nil && len(closed) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
