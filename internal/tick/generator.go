// Package tick produces synthetic price ticks for locally generated
// instruments.
package tick

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"main/internal/bus"
	"main/internal/model"
	"main/internal/store"

	"github.com/yanun0323/logs"
)

// Generator is a bounded random-walk tick source for one instrument.
// Every generator owns its timer and randomness source, so a slow or
// failing instrument cannot affect another.
type Generator struct {
	instrument model.Instrument
	bus        *bus.Bus
	prices     store.CurrentPriceStore
	rng        *rand.Rand
	now        func() time.Time

	mu     sync.Mutex
	last   float64
	cancel context.CancelFunc
	done   chan struct{}
}

// GeneratorOption tweaks generator construction.
type GeneratorOption func(*Generator)

// WithSeed fixes the randomness source. Intended for tests.
func WithSeed(seed int64) GeneratorOption {
	return func(g *Generator) { g.rng = rand.New(rand.NewSource(seed)) }
}

// WithGeneratorClock replaces the wall clock. Intended for tests.
func WithGeneratorClock(now func() time.Time) GeneratorOption {
	return func(g *Generator) { g.now = now }
}

// NewGenerator creates a generator seeded at the instrument's start
// price.
func NewGenerator(instrument model.Instrument, b *bus.Bus, prices store.CurrentPriceStore, opts ...GeneratorOption) *Generator {
	g := &Generator{
		instrument: instrument,
		bus:        b,
		prices:     prices,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		now:        time.Now,
		last:       instrument.StartPrice,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Start launches the generation loop. It is a no-op when already
// running.
func (g *Generator) Start(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel != nil {
		logs.Warnf("generator %s already running", g.instrument.ID)
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.done = make(chan struct{})
	go g.run(runCtx, g.done)
}

// Stop cancels the generation loop and waits for it to exit.
func (g *Generator) Stop() {
	g.mu.Lock()
	cancel, done := g.cancel, g.done
	g.cancel, g.done = nil, nil
	g.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (g *Generator) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	interval := time.Duration(g.instrument.IntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.emit(ctx)
		}
	}
}

func (g *Generator) emit(ctx context.Context) {
	price := g.nextPrice()
	tick := model.PriceTick{Price: price, At: g.now()}

	if err := g.prices.SetPrice(ctx, g.instrument.ID, tick); err != nil {
		logs.Errorf("store current price %s: %v", g.instrument.ID, err)
	}
	g.bus.Publish(bus.Event{
		Type:       bus.EventPriceTick,
		Instrument: g.instrument.ID,
		Tick:       tick,
		At:         tick.At,
	})
}

// nextPrice draws one volatility-scaled step of the random walk and
// clamps it into the instrument's price bounds.
func (g *Generator) nextPrice() float64 {
	step := (g.rng.Float64()*2 - 1) * g.instrument.Volatility * g.last
	next := g.last + step
	if next < g.instrument.MinPrice {
		next = g.instrument.MinPrice
	}
	if next > g.instrument.MaxPrice {
		next = g.instrument.MaxPrice
	}
	next = roundTo(next, g.instrument.Precision)
	g.last = next
	return next
}

func roundTo(value float64, precision int) float64 {
	if precision <= 0 {
		return math.Round(value)
	}
	scale := math.Pow10(precision)
	return math.Round(value*scale) / scale
}
