// Package notify fans platform events out to attached clients without
// letting a slow client stall the pipeline.
package notify

import (
	"context"
	"sync"
	"time"

	"main/internal/bus"
	"main/internal/obs"

	"github.com/yanun0323/logs"
)

const clientQueueSize = 128

// Kind labels a notification for client-side routing.
type Kind string

const (
	KindPriceTick     Kind = "price_tick"
	KindCandleOpened  Kind = "candle_opened"
	KindCandleUpdated Kind = "candle_updated"
	KindCandleClosed  Kind = "candle_closed"
	KindTradeOpened   Kind = "trade_opened"
	KindTradeSettled  Kind = "trade_settled"
	KindBalance       Kind = "balance"
)

// Notification is one message delivered to clients. Payload is
// kind-specific and already serialization-friendly.
type Notification struct {
	Kind       Kind      `json:"kind"`
	Instrument string    `json:"instrument,omitempty"`
	UserID     string    `json:"user_id,omitempty"`
	Payload    any       `json:"payload,omitempty"`
	At         time.Time `json:"at"`
}

// Client receives notifications on C until Close.
type Client struct {
	C chan Notification

	id       uint64
	userID   string
	registry *Registry
	once     sync.Once
}

// Close detaches the client. Safe to call more than once.
func (c *Client) Close() {
	c.once.Do(func() {
		c.registry.detach(c.id)
		close(c.C)
	})
}

// Registry tracks attached clients. Delivery is non-blocking: a client
// whose queue is full loses the notification, not the pipeline.
type Registry struct {
	metrics *obs.Metrics

	mu      sync.Mutex
	clients map[uint64]*Client
	nextID  uint64
}

// NewRegistry creates a registry. Metrics may be nil.
func NewRegistry(metrics *obs.Metrics) *Registry {
	return &Registry{
		metrics: metrics,
		clients: make(map[uint64]*Client),
	}
}

// Attach registers a client. An empty userID receives broadcast
// notifications only.
func (r *Registry) Attach(userID string) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	client := &Client{
		C:        make(chan Notification, clientQueueSize),
		id:       r.nextID,
		userID:   userID,
		registry: r,
	}
	r.clients[client.id] = client
	return client
}

func (r *Registry) detach(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, id)
}

// Broadcast delivers to every attached client.
func (r *Registry) Broadcast(n Notification) {
	r.deliver(n, func(*Client) bool { return true })
}

// Notify delivers to the clients of one user only.
func (r *Registry) Notify(userID string, n Notification) {
	n.UserID = userID
	r.deliver(n, func(c *Client) bool { return c.userID == userID })
}

func (r *Registry) deliver(n Notification, match func(*Client) bool) {
	r.mu.Lock()
	targets := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		if match(c) {
			targets = append(targets, c)
		}
	}
	r.mu.Unlock()

	for _, c := range targets {
		select {
		case c.C <- n:
		default:
			r.metrics.IncNotifyDrop()
			logs.Debugf("notify queue full, dropped %s for client %d", n.Kind, c.id)
		}
	}
}

// ForwardBus pumps one instrument bus into the registry as broadcast
// notifications until the context is done or the bus closes.
func (r *Registry) ForwardBus(ctx context.Context, instrumentID string, b *bus.Bus) {
	sub := b.Subscribe()
	defer sub.Cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.C:
			if !ok {
				return
			}
			r.Broadcast(fromBusEvent(instrumentID, e))
		}
	}
}

func fromBusEvent(instrumentID string, e bus.Event) Notification {
	n := Notification{Instrument: instrumentID, At: e.At}
	switch e.Type {
	case bus.EventPriceTick:
		n.Kind = KindPriceTick
		n.Payload = e.Tick
	case bus.EventCandleOpened:
		n.Kind = KindCandleOpened
		n.Payload = e.Candle
	case bus.EventCandleUpdated:
		n.Kind = KindCandleUpdated
		n.Payload = e.Candle
	case bus.EventCandleClosed:
		n.Kind = KindCandleClosed
		n.Payload = e.Candle
	}
	return n
}
