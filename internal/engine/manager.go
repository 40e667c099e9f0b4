// Package engine assembles per-instrument processing pipelines and
// exposes the read surface of the market-data core.
package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"main/internal/bus"
	"main/internal/candle"
	"main/internal/feed"
	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/store"
	"main/internal/tick"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

const (
	busBufferSize      = 1024
	defaultQuoteMaxAge = 10 * time.Second
)

var ErrInstrumentNotFound = errors.New("engine: instrument not found")

// pipeline bundles everything one instrument runs.
type pipeline struct {
	instrument model.Instrument
	bus        *bus.Bus
	engine     *candle.Engine
	generator  *tick.Generator
	cancel     context.CancelFunc
	done       chan struct{}
}

// Manager owns the per-instrument pipelines. Each instrument gets its
// own bus, candle engine and rollup aggregator; synthetic instruments
// additionally get a generator while feed instruments share the hub.
type Manager struct {
	prices      store.CurrentPriceStore
	active      store.ActiveCandleStore
	series      store.CandleSeriesStore
	hub         *feed.Hub
	timeframes  []model.Timeframe
	quoteMaxAge time.Duration
	now         func() time.Time

	mu        sync.Mutex
	pipelines map[string]*pipeline
	started   bool
}

// ManagerOption tweaks manager construction.
type ManagerOption func(*Manager)

// WithQuoteMaxAge replaces the staleness bound on current-price reads.
func WithQuoteMaxAge(d time.Duration) ManagerOption {
	return func(m *Manager) { m.quoteMaxAge = d }
}

// WithManagerClock replaces the wall clock. Intended for tests.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a manager rolling up into the given higher
// timeframes.
func NewManager(prices store.CurrentPriceStore, active store.ActiveCandleStore, series store.CandleSeriesStore, hub *feed.Hub, timeframes []model.Timeframe, opts ...ManagerOption) *Manager {
	if len(timeframes) == 0 {
		timeframes = model.DefaultHigherTimeframes()
	}
	m := &Manager{
		prices:      prices,
		active:      active,
		series:      series,
		hub:         hub,
		timeframes:  timeframes,
		quoteMaxAge: defaultQuoteMaxAge,
		now:         time.Now,
		pipelines:   make(map[string]*pipeline),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start builds a pipeline per instrument and then opens the tick
// sources. Every engine is registered before the first tick can flow,
// so no source ever emits into a half-built pipeline. Invalid
// instruments are skipped with a log, not fatal. Start is a no-op when
// already running.
func (m *Manager) Start(ctx context.Context, instruments []model.Instrument) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		logs.Warnf("engine manager already running")
		return
	}
	m.started = true

	for _, instrument := range instruments {
		if err := instrument.Validate(); err != nil {
			logs.Errorf("skip instrument %s: %v", instrument.ID, err)
			continue
		}
		if _, ok := m.pipelines[instrument.ID]; ok {
			logs.Warnf("skip duplicate instrument %s", instrument.ID)
			continue
		}
		m.pipelines[instrument.ID] = m.buildPipeline(ctx, instrument)
	}

	// all consumers are wired; now let ticks flow
	for _, p := range m.pipelines {
		if p.generator != nil {
			p.generator.Start(ctx)
		}
	}
	if m.hub != nil {
		m.hub.Start(ctx)
	}
	logs.Infof("engine manager started %d instruments", len(m.pipelines))
}

func (m *Manager) buildPipeline(ctx context.Context, instrument model.Instrument) *pipeline {
	b := bus.New(instrument.ID, busBufferSize)
	engine := candle.NewEngine(instrument.ID, b, m.active, m.series)
	aggregator := candle.NewAggregator(instrument.ID, b, m.active, m.series, m.timeframes)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p := &pipeline{
		instrument: instrument,
		bus:        b,
		engine:     engine,
		cancel:     cancel,
		done:       done,
	}

	// the tick subscription is taken here, before any source starts,
	// so a tick published right after Start cannot miss its consumer;
	// the aggregator subscribed at construction for the same reason
	tickSub := b.Subscribe(bus.EventPriceTick)

	// one pump per instrument feeds ticks into the engine while the
	// aggregator consumes the closed base candles the engine publishes
	go func() {
		defer close(done)
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			aggregator.Run(runCtx)
		}()

		defer tickSub.Cancel()
		for {
			select {
			case <-runCtx.Done():
				wg.Wait()
				return
			case e, ok := <-tickSub.C:
				if !ok {
					wg.Wait()
					return
				}
				engine.HandleTick(e.Tick)
			}
		}
	}()

	switch instrument.Source {
	case enum.SourceSynthetic:
		p.generator = tick.NewGenerator(instrument, b, m.prices)
	case enum.SourceFeed:
		if m.hub != nil {
			m.hub.Subscribe(instrument, b)
		} else {
			logs.Errorf("instrument %s needs the feed hub but none is configured", instrument.ID)
		}
	}
	return p
}

// Stop tears everything down: sources first so no new ticks arrive,
// then engines and pumps, then the buses.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	pipelines := m.pipelines
	m.pipelines = make(map[string]*pipeline)
	m.mu.Unlock()

	if m.hub != nil {
		m.hub.Stop()
	}
	for _, p := range pipelines {
		if p.generator != nil {
			p.generator.Stop()
		}
	}
	for _, p := range pipelines {
		p.engine.Stop()
		p.cancel()
		<-p.done
		p.bus.Close()
	}
	logs.Infof("engine manager stopped")
}

// Bus exposes the instrument's event bus for external consumers.
func (m *Manager) Bus(instrumentID string) (*bus.Bus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pipelines[instrumentID]
	if !ok {
		return nil, ErrInstrumentNotFound
	}
	return p.bus, nil
}

// Instrument returns the instrument's static definition.
func (m *Manager) Instrument(instrumentID string) (model.Instrument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pipelines[instrumentID]
	if !ok {
		return model.Instrument{}, ErrInstrumentNotFound
	}
	return p.instrument, nil
}

// InstrumentIDs lists the running instruments in stable order.
func (m *Manager) InstrumentIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.pipelines))
	for id := range m.pipelines {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CurrentPrice returns the latest tick of the instrument. A snapshot
// older than the quote age bound reads as missing, so a stalled
// upstream surfaces as no quote instead of a frozen price.
func (m *Manager) CurrentPrice(ctx context.Context, instrumentID string) (model.PriceTick, error) {
	tick, err := m.prices.Price(ctx, instrumentID)
	if err != nil {
		return model.PriceTick{}, err
	}
	if m.quoteMaxAge > 0 && m.now().Sub(tick.At) > m.quoteMaxAge {
		return model.PriceTick{}, store.ErrNotFound
	}
	return tick, nil
}

// Candles returns up to limit most recent closed candles, ascending.
func (m *Manager) Candles(ctx context.Context, instrumentID string, tf model.Timeframe, limit int) ([]model.Candle, error) {
	return m.series.Latest(ctx, instrumentID, tf, limit)
}

// CandlesBefore pages backwards from the given slot start, ascending.
func (m *Manager) CandlesBefore(ctx context.Context, instrumentID string, tf model.Timeframe, before time.Time, limit int) ([]model.Candle, error) {
	return m.series.Before(ctx, instrumentID, tf, before, limit)
}

// ActiveCandles snapshots the in-progress candle of every timeframe.
func (m *Manager) ActiveCandles(ctx context.Context, instrumentID string) ([]model.Candle, error) {
	return m.active.ActiveAll(ctx, instrumentID)
}
