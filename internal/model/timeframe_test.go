package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotAlignsToTimeframeBoundary(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 34, 57, 300e6, time.UTC)

	assert.Equal(t, time.Date(2026, 5, 1, 12, 34, 55, 0, time.UTC), TimeframeBase.Slot(at))
	assert.Equal(t, time.Date(2026, 5, 1, 12, 34, 0, 0, time.UTC), Timeframe("1m").Slot(at))
	assert.Equal(t, time.Date(2026, 5, 1, 12, 30, 0, 0, time.UTC), Timeframe("15m").Slot(at))
	assert.Equal(t, time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC), Timeframe("1h").Slot(at))
}

func TestSlotIsIdempotentOnBoundaries(t *testing.T) {
	boundary := time.Date(2026, 5, 1, 12, 34, 55, 0, time.UTC)
	assert.Equal(t, boundary, TimeframeBase.Slot(boundary))
}

func TestSlotStartsAreTimeframeMultiples(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 34, 57, 0, time.UTC)
	for _, tf := range append([]Timeframe{TimeframeBase}, DefaultHigherTimeframes()...) {
		slot := tf.Slot(at)
		assert.Zero(t, slot.UnixMilli()%tf.Millis(), "timeframe %s", tf)
	}
}

func TestParseTimeframe(t *testing.T) {
	tf, err := ParseTimeframe("1m")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, tf.Duration())

	_, err = ParseTimeframe("7m")
	assert.Error(t, err)
}

func TestCandleApplyPrice(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	candle := NewCandle(TimeframeBase, at, 100)

	candle.ApplyPrice(106)
	candle.ApplyPrice(99)
	candle.ApplyPrice(102)

	assert.Equal(t, 100.0, candle.Open)
	assert.Equal(t, 106.0, candle.High)
	assert.Equal(t, 99.0, candle.Low)
	assert.Equal(t, 102.0, candle.Close)
	assert.Equal(t, at.Add(5*time.Second), candle.CloseTime())
}

func TestFillCandleIsFlat(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	fill := FillCandle(TimeframeBase, at, 101.5)

	assert.Equal(t, fill.Open, fill.High)
	assert.Equal(t, fill.High, fill.Low)
	assert.Equal(t, fill.Low, fill.Close)
	assert.Equal(t, 101.5, fill.Close)
}
