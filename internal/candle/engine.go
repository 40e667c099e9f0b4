// Package candle builds base-timeframe candles from ticks and rolls
// closed base candles up into higher timeframes.
package candle

import (
	"context"
	"sync"
	"time"

	"main/internal/bus"
	"main/internal/model"
	"main/internal/store"

	"github.com/yanun0323/logs"
)

const defaultMaxFillGap = 24 * time.Hour

// EngineOption tweaks engine construction.
type EngineOption func(*Engine)

// WithClock replaces the wall clock. Intended for tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithMaxFillGap bounds how long the close-timer keeps emitting fill
// candles without a real tick.
func WithMaxFillGap(gap time.Duration) EngineOption {
	return func(e *Engine) { e.maxFillGap = gap }
}

// Engine owns the single active base-timeframe candle of one
// instrument. Ticks mutate it; a close-timer closes the slot when no
// tick arrives in time, then chains fill candles until a real tick
// resumes normal flow or the fill gap guard trips.
type Engine struct {
	instrument string
	bus        *bus.Bus
	active     store.ActiveCandleStore
	series     store.CandleSeriesStore
	maxFillGap time.Duration
	now        func() time.Time

	mu           sync.Mutex
	current      *model.Candle
	timer        *time.Timer
	lastRealTick time.Time
	stopped      bool
}

// NewEngine creates an engine publishing to the instrument's bus.
func NewEngine(instrument string, b *bus.Bus, active store.ActiveCandleStore, series store.CandleSeriesStore, opts ...EngineOption) *Engine {
	e := &Engine{
		instrument: instrument,
		bus:        b,
		active:     active,
		series:     series,
		maxFillGap: defaultMaxFillGap,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// HandleTick folds one tick into the candle state machine. A tick
// whose slot differs from the active one closes the active candle and
// opens a new slot; a closed candle is never rewritten.
func (e *Engine) HandleTick(tick model.PriceTick) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}

	slot := model.TimeframeBase.Slot(tick.At)
	e.lastRealTick = tick.At

	switch {
	case e.current == nil:
		e.openLocked(slot, tick.Price)
	case slot.Equal(e.current.At):
		e.current.ApplyPrice(tick.Price)
		e.writeActiveLocked()
		e.publishLocked(bus.EventCandleUpdated, *e.current, tick.At)
	default:
		e.closeLocked()
		e.openLocked(slot, tick.Price)
	}
}

// Stop cancels the pending close-timer. The engine stays stopped.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	e.stopped = true
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

func (e *Engine) openLocked(slot time.Time, price float64) {
	candle := model.NewCandle(model.TimeframeBase, slot, price)
	e.current = &candle
	e.writeActiveLocked()
	e.publishLocked(bus.EventCandleOpened, candle, e.now())
	e.armTimerLocked()
}

func (e *Engine) closeLocked() {
	if e.current == nil {
		return
	}
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	snapshot := *e.current
	e.current = nil
	if err := e.series.Append(context.Background(), e.instrument, snapshot); err != nil {
		logs.Errorf("append closed candle %s %s: %v", e.instrument, snapshot.At, err)
	}
	e.publishLocked(bus.EventCandleClosed, snapshot, snapshot.CloseTime())
}

func (e *Engine) armTimerLocked() {
	if e.timer != nil {
		e.timer.Stop()
	}
	delay := e.current.CloseTime().Sub(e.now())
	if delay < 0 {
		delay = 0
	}
	e.timer = time.AfterFunc(delay, e.onCloseTimer)
}

// onCloseTimer is the safety net for slots with no ticks: it closes
// the active candle at the slot boundary and opens the next slot as a
// flat fill candle, re-arming itself until real ticks resume or the
// fill gap guard stops the chain.
func (e *Engine) onCloseTimer() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped || e.current == nil {
		return
	}

	now := e.now()
	if now.Before(e.current.CloseTime()) {
		// a tick rolled the slot before the timer fired
		e.armTimerLocked()
		return
	}

	prevClose := e.current.Close
	nextSlot := e.current.CloseTime()
	e.closeLocked()

	if e.maxFillGap > 0 && now.Sub(e.lastRealTick) > e.maxFillGap {
		logs.Warnf("candle engine %s: fill gap guard tripped, waiting for a real tick", e.instrument)
		return
	}

	fill := model.FillCandle(model.TimeframeBase, nextSlot, prevClose)
	e.current = &fill
	e.writeActiveLocked()
	e.publishLocked(bus.EventCandleOpened, fill, now)
	e.publishLocked(bus.EventCandleUpdated, fill, now)
	e.armTimerLocked()
}

func (e *Engine) writeActiveLocked() {
	if err := e.active.SetActive(context.Background(), e.instrument, *e.current); err != nil {
		logs.Errorf("store active candle %s: %v", e.instrument, err)
	}
}

func (e *Engine) publishLocked(eventType bus.EventType, candle model.Candle, at time.Time) {
	e.bus.Publish(bus.Event{
		Type:       eventType,
		Instrument: e.instrument,
		Candle:     candle,
		At:         at,
	})
}
