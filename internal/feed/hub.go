// Package feed maintains the shared upstream market-data connection
// and fans decoded prices out to per-instrument buses.
package feed

import (
	"context"
	"sort"
	"sync"
	"time"

	"main/internal/bus"
	"main/internal/model"
	"main/internal/obs"
	"main/internal/store"

	"github.com/yanun0323/logs"
)

const pendingQueueSize = 256

// route delivers decoded updates for one pair key to one instrument.
type route struct {
	instrumentID string
	bus          *bus.Bus
}

// Hub owns the single upstream connection. All feed-sourced
// instruments share it; the hub reconnects with backoff and redoes the
// handshake and subscription on every new session.
type Hub struct {
	dial    Dialer
	prices  store.CurrentPriceStore
	metrics *obs.Metrics
	backoff BackoffPolicy
	now     func() time.Time

	mu      sync.Mutex
	routes  map[string][]route
	conn    Conn
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// HubOption tweaks hub construction.
type HubOption func(*Hub)

// WithBackoff replaces the reconnect policy.
func WithBackoff(b BackoffPolicy) HubOption {
	return func(h *Hub) { h.backoff = b }
}

// WithHubClock replaces the wall clock. Intended for tests.
func WithHubClock(now func() time.Time) HubOption {
	return func(h *Hub) { h.now = now }
}

// WithMetrics wires counter reporting.
func WithMetrics(m *obs.Metrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

// NewHub creates a hub. Routes are registered with Subscribe before
// Start.
func NewHub(dial Dialer, prices store.CurrentPriceStore, opts ...HubOption) *Hub {
	h := &Hub{
		dial:    dial,
		prices:  prices,
		backoff: DefaultBackoff(),
		now:     time.Now,
		routes:  make(map[string][]route),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe routes updates for the instrument's pair key onto its bus.
func (h *Hub) Subscribe(instrument model.Instrument, b *bus.Bus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.routes[instrument.PairKey] = append(h.routes[instrument.PairKey], route{
		instrumentID: instrument.ID,
		bus:          b,
	})
}

// Unsubscribe removes the instrument's route. The connection stays up
// for the remaining routes.
func (h *Hub) Unsubscribe(instrumentID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for pairKey, routes := range h.routes {
		kept := routes[:0]
		for _, r := range routes {
			if r.instrumentID != instrumentID {
				kept = append(kept, r)
			}
		}
		if len(kept) == 0 {
			delete(h.routes, pairKey)
		} else {
			h.routes[pairKey] = kept
		}
	}
}

// Start launches the connect-and-read loop. It is a no-op when
// already running.
func (h *Hub) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		logs.Warnf("feed hub already running")
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.done = make(chan struct{})
	h.started = true
	go h.run(runCtx, h.done)
}

// Stop closes the current connection and waits for the loop to exit.
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return
	}
	h.started = false
	cancel, done := h.cancel, h.done
	conn := h.conn
	h.cancel, h.done, h.conn = nil, nil, nil
	h.mu.Unlock()

	cancel()
	if conn != nil {
		_ = conn.Close()
	}
	<-done
}

func (h *Hub) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := h.dial(ctx)
		if err != nil {
			attempt++
			h.metrics.IncFeedReconnect()
			wait := h.backoff.Next(attempt)
			logs.Warnf("feed dial attempt %d failed, retry in %s: %v", attempt, wait, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		attempt = 0

		h.mu.Lock()
		h.conn = conn
		h.mu.Unlock()

		if err := h.session(ctx, conn); err != nil && ctx.Err() == nil {
			logs.Warnf("feed session ended: %v", err)
		}

		h.mu.Lock()
		if h.conn == conn {
			h.conn = nil
		}
		h.mu.Unlock()
		_ = conn.Close()
	}
}

// session drives one connection from subscribe request to read error.
// Decoder state is rebuilt per session, so the time offset and field
// layout never leak across reconnects.
func (h *Hub) session(ctx context.Context, conn Conn) error {
	payload, err := encodeSubscribe(h.pairKeys())
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(payload); err != nil {
		return err
	}

	var (
		dec     *decoder
		pending [][]byte
	)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if IsHeartbeat(msg) {
			continue
		}

		if dec == nil {
			if !IsHandshake(msg) {
				// Updates racing ahead of the handshake are held back
				// and replayed once the layout is known.
				if len(pending) >= pendingQueueSize {
					h.metrics.IncFeedDrop()
					logs.Warnf("feed pending queue full, dropping: %v", ErrNoHandshake)
					continue
				}
				buffered := make([]byte, len(msg))
				copy(buffered, msg)
				pending = append(pending, buffered)
				continue
			}
			dec, err = newDecoder(msg, h.now)
			if err != nil {
				return err
			}
			for _, queued := range pending {
				h.dispatch(ctx, dec, queued)
			}
			pending = nil
			continue
		}

		h.dispatch(ctx, dec, msg)
	}
}

func (h *Hub) dispatch(ctx context.Context, dec *decoder, msg []byte) {
	update, err := dec.DecodeUpdate(msg)
	if err != nil {
		logs.Debugf("skip feed message: %v", err)
		return
	}

	h.mu.Lock()
	routes := make([]route, len(h.routes[update.PairKey]))
	copy(routes, h.routes[update.PairKey])
	h.mu.Unlock()

	tick := model.PriceTick{Price: update.Price, At: update.At}
	for _, r := range routes {
		if err := h.prices.SetPrice(ctx, r.instrumentID, tick); err != nil {
			logs.Errorf("store current price %s: %v", r.instrumentID, err)
		}
		r.bus.Publish(bus.Event{
			Type:       bus.EventPriceTick,
			Instrument: r.instrumentID,
			Tick:       tick,
			At:         tick.At,
		})
		h.metrics.IncTickIngested()
	}
}

func (h *Hub) pairKeys() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	keys := make([]string, 0, len(h.routes))
	for pairKey := range h.routes {
		keys = append(keys, pairKey)
	}
	sort.Strings(keys)
	return keys
}
