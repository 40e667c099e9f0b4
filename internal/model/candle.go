package model

import "time"

// Candle is an OHLC aggregate over one timeframe slot. At is the slot
// start. A closed candle is immutable; there is exactly one mutable
// active candle per (instrument, timeframe).
type Candle struct {
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	At        time.Time `json:"at"`
	Timeframe Timeframe `json:"timeframe"`
}

// NewCandle opens a candle from the first price of a slot.
func NewCandle(tf Timeframe, slot time.Time, price float64) Candle {
	return Candle{
		Open:      price,
		High:      price,
		Low:       price,
		Close:     price,
		At:        slot,
		Timeframe: tf,
	}
}

// FillCandle builds a flat candle for a slot that saw no ticks,
// carrying the previous close so the series stays gapless.
func FillCandle(tf Timeframe, slot time.Time, prevClose float64) Candle {
	return NewCandle(tf, slot, prevClose)
}

// ApplyPrice folds one more tick of the same slot into the candle.
func (c *Candle) ApplyPrice(price float64) {
	if price > c.High {
		c.High = price
	}
	if price < c.Low {
		c.Low = price
	}
	c.Close = price
}

// CloseTime is the exclusive end of the candle's slot.
func (c Candle) CloseTime() time.Time {
	return c.At.Add(c.Timeframe.Duration())
}
