// Package obs collects lightweight runtime counters.
package obs

import "sync/atomic"

// Metrics aggregates counters across the pipeline. All methods are
// safe on a nil receiver so wiring them stays optional.
type Metrics struct {
	feedReconnects  atomic.Uint64
	feedDrops       atomic.Uint64
	ticksIngested   atomic.Uint64
	settlementWins  atomic.Uint64
	settlementLoss  atomic.Uint64
	settlementTies  atomic.Uint64
	settlementSkips atomic.Uint64
	notifyDrops     atomic.Uint64
}

// Snapshot is a point-in-time view of the counters.
type Snapshot struct {
	FeedReconnects  uint64
	FeedDrops       uint64
	TicksIngested   uint64
	SettlementWins  uint64
	SettlementLoss  uint64
	SettlementTies  uint64
	SettlementSkips uint64
	NotifyDrops     uint64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncFeedReconnect() {
	if m != nil {
		m.feedReconnects.Add(1)
	}
}

func (m *Metrics) IncFeedDrop() {
	if m != nil {
		m.feedDrops.Add(1)
	}
}

func (m *Metrics) IncTickIngested() {
	if m != nil {
		m.ticksIngested.Add(1)
	}
}

func (m *Metrics) IncSettlementWin() {
	if m != nil {
		m.settlementWins.Add(1)
	}
}

func (m *Metrics) IncSettlementLoss() {
	if m != nil {
		m.settlementLoss.Add(1)
	}
}

func (m *Metrics) IncSettlementTie() {
	if m != nil {
		m.settlementTies.Add(1)
	}
}

func (m *Metrics) IncSettlementSkip() {
	if m != nil {
		m.settlementSkips.Add(1)
	}
}

func (m *Metrics) IncNotifyDrop() {
	if m != nil {
		m.notifyDrops.Add(1)
	}
}

func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		FeedReconnects:  m.feedReconnects.Load(),
		FeedDrops:       m.feedDrops.Load(),
		TicksIngested:   m.ticksIngested.Load(),
		SettlementWins:  m.settlementWins.Load(),
		SettlementLoss:  m.settlementLoss.Load(),
		SettlementTies:  m.settlementTies.Load(),
		SettlementSkips: m.settlementSkips.Load(),
		NotifyDrops:     m.notifyDrops.Load(),
	}
}
