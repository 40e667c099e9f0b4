package model

import (
	"fmt"
	"time"
)

// Timeframe is the label of a candle interval, e.g. "5s" or "1m".
type Timeframe string

// TimeframeBase is the shortest timeframe. All higher timeframes are
// rolled up from closed base candles.
const TimeframeBase Timeframe = "5s"

var timeframeMillis = map[Timeframe]int64{
	"5s":  5_000,
	"10s": 10_000,
	"15s": 15_000,
	"30s": 30_000,
	"1m":  60_000,
	"5m":  300_000,
	"15m": 900_000,
	"30m": 1_800_000,
	"1h":  3_600_000,
	"4h":  14_400_000,
	"1d":  86_400_000,
}

// DefaultHigherTimeframes is the rollup set used when the config does
// not name one.
func DefaultHigherTimeframes() []Timeframe {
	return []Timeframe{"15s", "30s", "1m", "5m", "15m", "1h"}
}

// ParseTimeframe validates a timeframe label.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if _, ok := timeframeMillis[tf]; !ok {
		return "", fmt.Errorf("unknown timeframe: %s", s)
	}
	return tf, nil
}

// Millis returns the timeframe length in milliseconds, 0 for an
// unknown label.
func (tf Timeframe) Millis() int64 {
	return timeframeMillis[tf]
}

func (tf Timeframe) Duration() time.Duration {
	return time.Duration(tf.Millis()) * time.Millisecond
}

// Slot floors t to the start of the timeframe bucket containing it.
func (tf Timeframe) Slot(t time.Time) time.Time {
	ms := tf.Millis()
	if ms <= 0 {
		return t.UTC()
	}
	unix := t.UnixMilli()
	return time.UnixMilli(unix - unix%ms).UTC()
}
