package candle

import (
	"context"
	"time"

	"main/internal/bus"
	"main/internal/model"
	"main/internal/store"

	"github.com/yanun0323/logs"
)

// Aggregator derives higher-timeframe candles purely from closed base
// candles. It keeps one active rollup per target timeframe and owns no
// timers; a stalled base feed is covered by the eager close on the
// slot boundary. State is confined to the Run goroutine.
type Aggregator struct {
	instrument string
	bus        *bus.Bus
	active     store.ActiveCandleStore
	series     store.CandleSeriesStore
	frames     []model.Timeframe

	sub       *bus.Subscription
	rollups   map[model.Timeframe]*model.Candle
	lastClose map[model.Timeframe]float64
}

// NewAggregator creates a rollup pipeline for the given target
// timeframes. The bus subscription is taken here, so base candles
// closed before Run is scheduled are buffered for it, not lost.
func NewAggregator(instrument string, b *bus.Bus, active store.ActiveCandleStore, series store.CandleSeriesStore, frames []model.Timeframe) *Aggregator {
	return &Aggregator{
		instrument: instrument,
		bus:        b,
		active:     active,
		series:     series,
		frames:     frames,
		sub:        b.Subscribe(bus.EventCandleClosed),
		rollups:    make(map[model.Timeframe]*model.Candle, len(frames)),
		lastClose:  make(map[model.Timeframe]float64, len(frames)),
	}
}

// Run consumes closed base candles from the bus until the context is
// done or the bus closes.
func (a *Aggregator) Run(ctx context.Context) {
	defer a.sub.Cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-a.sub.C:
			if !ok {
				return
			}
			if e.Candle.Timeframe != model.TimeframeBase {
				continue
			}
			a.Apply(e.Candle)
		}
	}
}

// Apply folds one closed base candle into every target rollup.
func (a *Aggregator) Apply(base model.Candle) {
	for _, tf := range a.frames {
		a.applyFrame(tf, base)
	}
}

func (a *Aggregator) applyFrame(tf model.Timeframe, base model.Candle) {
	slot := tf.Slot(base.At)
	cur := a.rollups[tf]

	if cur != nil && !slot.Equal(cur.At) {
		a.closeRollup(tf, *cur)
		cur = nil
	}

	if cur == nil {
		rollup := model.Candle{
			Open:      base.Open,
			High:      base.High,
			Low:       base.Low,
			Close:     base.Close,
			At:        slot,
			Timeframe: tf,
		}
		// the rollup series stays gapless: each open continues the
		// previous rollup's close, never the base candle's open
		if last, ok := a.lastClose[tf]; ok {
			rollup.Open = last
		}
		cur = &rollup
		a.rollups[tf] = cur
		a.writeActive(*cur)
		a.publish(bus.EventCandleOpened, *cur, base.CloseTime())
	} else {
		if base.High > cur.High {
			cur.High = base.High
		}
		if base.Low < cur.Low {
			cur.Low = base.Low
		}
		cur.Close = base.Close
		a.writeActive(*cur)
		a.publish(bus.EventCandleUpdated, *cur, base.CloseTime())
	}

	// eager close once the base candle touches the rollup boundary,
	// covering a base feed that stalls exactly on it
	if !base.CloseTime().Before(cur.CloseTime()) {
		a.closeRollup(tf, *cur)
		delete(a.rollups, tf)
	}
}

func (a *Aggregator) closeRollup(tf model.Timeframe, rollup model.Candle) {
	a.lastClose[tf] = rollup.Close
	if err := a.series.Append(context.Background(), a.instrument, rollup); err != nil {
		logs.Errorf("append rollup %s %s %s: %v", a.instrument, tf, rollup.At, err)
	}
	a.publish(bus.EventCandleClosed, rollup, rollup.CloseTime())
}

func (a *Aggregator) writeActive(rollup model.Candle) {
	if err := a.active.SetActive(context.Background(), a.instrument, rollup); err != nil {
		logs.Errorf("store active rollup %s %s: %v", a.instrument, rollup.Timeframe, err)
	}
}

func (a *Aggregator) publish(eventType bus.EventType, rollup model.Candle, at time.Time) {
	a.bus.Publish(bus.Event{
		Type:       eventType,
		Instrument: a.instrument,
		Candle:     rollup,
		At:         at,
	})
}
